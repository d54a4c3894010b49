package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstorselius/raftcore/raft/proto"
)

func mustListen(t *testing.T, self raftpd.ReplicaID, addr string, peers map[raftpd.ReplicaID]string) *Transport {
	t.Helper()
	tr, err := Listen(self, addr, peers)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestSend_DeliversMessageAcrossConnections(t *testing.T) {
	b := mustListen(t, "B", "127.0.0.1:17601", nil)
	a := mustListen(t, "A", "127.0.0.1:17602", map[raftpd.ReplicaID]string{"B": "127.0.0.1:17601"})

	msg := raftpd.Message{MsgType: raftpd.MsgAppendEntries, From: "A", To: "B", Term: 3}
	require.NoError(t, a.Send(msg))

	select {
	case got := <-b.Messages:
		assert.Equal(t, msg, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSend_ReusesConnectionOnSecondSend(t *testing.T) {
	b := mustListen(t, "B", "127.0.0.1:17603", nil)
	a := mustListen(t, "A", "127.0.0.1:17604", map[raftpd.ReplicaID]string{"B": "127.0.0.1:17603"})

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Send(raftpd.Message{MsgType: raftpd.MsgRequestVote, From: "A", To: "B", Term: uint64(i)}))
	}
	a.mu.Lock()
	n := len(a.conns)
	a.mu.Unlock()
	assert.Equal(t, 1, n)

	for i := 0; i < 3; i++ {
		select {
		case <-b.Messages:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestSend_UnknownPeerFails(t *testing.T) {
	a := mustListen(t, "A", "127.0.0.1:17605", nil)
	err := a.Send(raftpd.Message{To: "nobody"})
	assert.Error(t, err)
}

func TestSendSnapshot_DeliversChunk(t *testing.T) {
	b := mustListen(t, "B", "127.0.0.1:17606", nil)
	a := mustListen(t, "A", "127.0.0.1:17607", map[raftpd.ReplicaID]string{"B": "127.0.0.1:17606"})

	cfg := raftpd.Configuration{Kind: raftpd.ConfigSimple, Active: []raftpd.ReplicaID{"A", "B"}}
	id, err := a.SendSnapshot("B", 42, 5, cfg, []byte("snapshot-bytes"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case chunk := <-b.SnapshotChunks:
		assert.Equal(t, id, chunk.ID)
		assert.Equal(t, uint64(42), chunk.LastIndex)
		assert.Equal(t, []byte("snapshot-bytes"), chunk.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot chunk")
	}
}
