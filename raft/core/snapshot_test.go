package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstorselius/raftcore/raft/proto"
)

func TestInstallSnapshot_RejectedWhenNotFollower(t *testing.T) {
	a := New("A", simpleConfig("A", "B"))
	a, _ = becomeLeader(a)

	na, ok, actions := InstallSnapshot(a, 3, 10, simpleConfig("A", "B"))
	assert.False(t, ok)
	assert.Nil(t, actions)
	assert.Equal(t, a, na)
}

func TestInstallSnapshot_DiscardsStaleLogWhenTermMismatched(t *testing.T) {
	b := New("B", simpleConfig("A", "B"))
	b.CurrentTerm = 1
	b.Log, _ = b.Log.Append(1, raftpd.EntryOp, []byte("stale"))

	nb, ok, _ := InstallSnapshot(b, 5, 10, simpleConfig("A", "B", "C"))
	require.True(t, ok)
	assert.Equal(t, uint64(10), nb.Log.LastIndex())
	assert.Equal(t, uint64(10), nb.Log.PrevLogIndex())
	assert.Equal(t, uint64(10), nb.CommitIndex)
	assert.Equal(t, uint64(10), nb.LastApplied)
	assert.True(t, nb.Config.MemActive("C"))
}

func TestInstallSnapshot_TrimsMatchingPrefixWithoutDroppingSuffix(t *testing.T) {
	b := New("B", simpleConfig("A", "B"))
	b.CurrentTerm = 1
	for i := 0; i < 5; i++ {
		b.Log, _ = b.Log.Append(1, raftpd.EntryOp, nil)
	}

	nb, ok, _ := InstallSnapshot(b, 1, 3, simpleConfig("A", "B"))
	require.True(t, ok)
	assert.Equal(t, uint64(5), nb.Log.LastIndex())
	assert.Equal(t, uint64(3), nb.Log.PrevLogIndex())
}

func TestSnapshotSent_ResumesReplication(t *testing.T) {
	a := New("A", simpleConfig("A", "B"))
	a, _ = becomeLeader(a)
	// The leader can only have snapshotted entries it holds.
	for a.Log.LastIndex() < 20 {
		a.Log, _ = a.Log.Append(a.CurrentTerm, raftpd.EntryOp, nil)
	}
	a.Peers["B"].BeginSnapshot(20)

	na, actions := SnapshotSent(a, "B", 20)
	require.NotEmpty(t, actions)
	assert.False(t, na.Peers["B"].InSnapshotTransfer())
	assert.Equal(t, uint64(20), na.Peers["B"].MatchIndex)
}

func TestSnapshotSendFailed_ReturnsPeerToProbe(t *testing.T) {
	a := New("A", simpleConfig("A", "B"))
	a, _ = becomeLeader(a)
	a.Peers["B"].BeginSnapshot(20)

	na, actions := SnapshotSendFailed(a, "B")
	assert.Nil(t, actions)
	assert.False(t, na.Peers["B"].InSnapshotTransfer())
}

func TestCompactLog_RefusesWhilePeerMidTransfer(t *testing.T) {
	a := New("A", simpleConfig("A", "B"))
	a, _ = becomeLeader(a)
	a.Peers["B"].BeginSnapshot(1)

	na, actions := CompactLog(a, 1)
	assert.Nil(t, actions)
	assert.Equal(t, a, na)
}

func TestCompactLog_TrimsWhenNoTransferOutstanding(t *testing.T) {
	a := New("A", simpleConfig("A"))
	a, _ = becomeLeader(a)
	a.Log, _ = a.Log.Append(a.CurrentTerm, raftpd.EntryOp, nil)

	na, _ := CompactLog(a, 1)
	assert.Equal(t, uint64(1), na.Log.PrevLogIndex())
}
