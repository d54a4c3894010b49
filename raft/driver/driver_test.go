package driver

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstorselius/raftcore/raft/core"
	"github.com/mstorselius/raftcore/raft/proto"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []raftpd.Message
	fail map[raftpd.ReplicaID]bool
}

func (f *fakeTransport) Send(msg raftpd.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[msg.To] {
		return assert.AnError
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) SendSnapshot(peer raftpd.ReplicaID, lastIndex, lastTerm uint64, config raftpd.Configuration, data []byte) (string, error) {
	if f.fail[peer] {
		return "", assert.AnError
	}
	return "snap-1", nil
}

func (f *fakeTransport) sentTo(id raftpd.ReplicaID) []raftpd.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []raftpd.Message
	for _, m := range f.sent {
		if m.To == id {
			out = append(out, m)
		}
	}
	return out
}

func newDriverPair(t *testing.T) (*Driver, *Driver, *fakeTransport, *fakeTransport) {
	t.Helper()
	cfg := raftpd.Configuration{Kind: raftpd.ConfigSimple, Active: []raftpd.ReplicaID{"A", "B"}}

	ta := &fakeTransport{fail: map[raftpd.ReplicaID]bool{}}
	tb := &fakeTransport{fail: map[raftpd.ReplicaID]bool{}}

	appA := &testApp{}
	appB := &testApp{}

	da, err := Open("A", cfg, filepath.Join(t.TempDir(), "a.db"), ta, appA, 50*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { da.Stop() })

	db, err := Open("B", cfg, filepath.Join(t.TempDir(), "b.db"), tb, appB, 50*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { db.Stop() })

	return da, db, ta, tb
}

type testApp struct {
	mu          sync.Mutex
	appliedData [][]byte
	configs     []raftpd.Configuration
	redirects   int
}

func (a *testApp) Apply(op core.AppliedOp) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appliedData = append(a.appliedData, op.Payload)
}

func (a *testApp) ReadIndexReady(index uint64, context []byte) {}

func (a *testApp) ConfigChanged(config raftpd.Configuration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configs = append(a.configs, config)
}

func (a *testApp) Redirect(leaderID raftpd.ReplicaID, hasLeader bool, op []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.redirects++
}

func (a *testApp) Snapshot(lastIndex uint64) ([]byte, uint64, error) {
	return []byte("snapshot"), 1, nil
}

func (a *testApp) ApplySnapshot(lastIndex uint64, data []byte) {}

func TestOpen_BootstrapsFreshReplica(t *testing.T) {
	cfg := raftpd.Configuration{Kind: raftpd.ConfigSimple, Active: []raftpd.ReplicaID{"A", "B", "C"}}
	tr := &fakeTransport{fail: map[raftpd.ReplicaID]bool{}}
	app := &testApp{}

	d, err := Open("A", cfg, filepath.Join(t.TempDir(), "a.db"), tr, app, 50*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	defer d.Stop()

	d.mu.Lock()
	assert.Equal(t, uint64(0), d.state.CurrentTerm)
	d.mu.Unlock()
}

func TestElectionTimeout_FansOutRequestVoteAndPersistsTerm(t *testing.T) {
	cfg := raftpd.Configuration{Kind: raftpd.ConfigSimple, Active: []raftpd.ReplicaID{"A", "B", "C"}}
	tr := &fakeTransport{fail: map[raftpd.ReplicaID]bool{}}
	app := &testApp{}

	d, err := Open("A", cfg, filepath.Join(t.TempDir(), "a.db"), tr, app, 50*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	defer d.Stop()

	d.onElectionTimeout()

	d.mu.Lock()
	term := d.state.CurrentTerm
	d.mu.Unlock()
	assert.Equal(t, uint64(1), term)

	assert.Len(t, tr.sentTo("B"), 1)
	assert.Len(t, tr.sentTo("C"), 1)

	_, votedFor, hasVoted, _, _, err := d.store.LoadAll()
	require.NoError(t, err)
	assert.True(t, hasVoted)
	assert.Equal(t, raftpd.ReplicaID("A"), votedFor)
}

func TestStep_GrantingVoteCommitsBeforeReplying(t *testing.T) {
	cfg := raftpd.Configuration{Kind: raftpd.ConfigSimple, Active: []raftpd.ReplicaID{"A", "B"}}
	tr := &fakeTransport{fail: map[raftpd.ReplicaID]bool{}}
	app := &testApp{}

	d, err := Open("A", cfg, filepath.Join(t.TempDir(), "a.db"), tr, app, 50*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	defer d.Stop()

	d.Step(raftpd.Message{MsgType: raftpd.MsgRequestVote, From: "B", To: "A", Term: 1, LastLogIndex: 0, LastLogTerm: 0})

	replies := tr.sentTo("B")
	require.Len(t, replies, 1)
	assert.Equal(t, raftpd.MsgVoteResult, replies[0].MsgType)
	assert.True(t, replies[0].VoteGranted)

	term, votedFor, hasVoted, _, _, err := d.store.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), term)
	assert.True(t, hasVoted)
	assert.Equal(t, raftpd.ReplicaID("B"), votedFor)
}

func TestPropose_RedirectsWhenNotLeader(t *testing.T) {
	cfg := raftpd.Configuration{Kind: raftpd.ConfigSimple, Active: []raftpd.ReplicaID{"A", "B"}}
	tr := &fakeTransport{fail: map[raftpd.ReplicaID]bool{}}
	app := &testApp{}

	d, err := Open("A", cfg, filepath.Join(t.TempDir(), "a.db"), tr, app, 50*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	defer d.Stop()

	d.Propose([]byte("set x=1"))

	app.mu.Lock()
	defer app.mu.Unlock()
	assert.Equal(t, 1, app.redirects)
}

func TestUnreachable_ResetsLeaderPeerProgress(t *testing.T) {
	cfg := raftpd.Configuration{Kind: raftpd.ConfigSimple, Active: []raftpd.ReplicaID{"A", "B", "C"}}
	tr := &fakeTransport{fail: map[raftpd.ReplicaID]bool{}}
	app := &testApp{}

	d, err := Open("A", cfg, filepath.Join(t.TempDir(), "a.db"), tr, app, 50*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	defer d.Stop()

	d.onElectionTimeout()
	d.Step(raftpd.Message{MsgType: raftpd.MsgVoteResult, From: "B", To: "A", Term: 1, VoteGranted: true})
	d.Step(raftpd.Message{MsgType: raftpd.MsgVoteResult, From: "C", To: "A", Term: 1, VoteGranted: true})

	d.mu.Lock()
	require.NotNil(t, d.state.Peers["B"])
	d.mu.Unlock()

	d.Unreachable("B")

	d.mu.Lock()
	paused := d.state.Peers["B"].IsPaused()
	d.mu.Unlock()
	assert.False(t, paused)
}

func TestReopen_RestoresPersistedTermAcrossDriverRestart(t *testing.T) {
	cfg := raftpd.Configuration{Kind: raftpd.ConfigSimple, Active: []raftpd.ReplicaID{"A", "B"}}
	path := filepath.Join(t.TempDir(), "a.db")
	tr := &fakeTransport{fail: map[raftpd.ReplicaID]bool{}}
	app := &testApp{}

	d, err := Open("A", cfg, path, tr, app, 50*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	d.onElectionTimeout()
	require.NoError(t, d.Stop())

	d2, err := Open("A", cfg, path, tr, app, 50*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	defer d2.Stop()

	d2.mu.Lock()
	defer d2.mu.Unlock()
	assert.Equal(t, uint64(1), d2.state.CurrentTerm)
	assert.True(t, d2.state.HasVoted)
}
