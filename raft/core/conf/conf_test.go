package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstorselius/raftcore/raft/proto"
)

func simple(active ...raftpd.ReplicaID) raftpd.Configuration {
	return raftpd.Configuration{Kind: raftpd.ConfigSimple, Active: active}
}

func TestMake_Simple(t *testing.T) {
	tr := Make("A", simple("A", "B", "C"))
	assert.Equal(t, Normal, tr.Status())
	assert.True(t, tr.MemActive("A"))
	assert.True(t, tr.MemActive("B"))
	assert.False(t, tr.MemActive("D"))
	assert.ElementsMatch(t, []raftpd.ReplicaID{"B", "C"}, tr.Peers())
}

func TestHasQuorum_Simple(t *testing.T) {
	tr := Make("A", simple("A", "B", "C"))

	assert.False(t, tr.HasQuorum(map[raftpd.ReplicaID]bool{"A": true}))
	assert.True(t, tr.HasQuorum(map[raftpd.ReplicaID]bool{"A": true, "B": true}))
}

func TestQuorumMin(t *testing.T) {
	tr := Make("A", simple("A", "B", "C"))
	values := map[raftpd.ReplicaID]uint64{"A": 10, "B": 7, "C": 3}

	n := tr.QuorumMin(func(id raftpd.ReplicaID) uint64 { return values[id] })
	assert.Equal(t, uint64(7), n)
}

func TestJoinCommitComplete_Lifecycle(t *testing.T) {
	tr := Make("A", simple("A", "B", "C"))

	tr, target := tr.Join(5, []raftpd.ReplicaID{"A", "B", "C", "D"}, nil)
	require.Equal(t, Transitional, tr.Status())
	assert.Equal(t, raftpd.ConfigJoint, target.Kind)
	assert.ElementsMatch(t, []raftpd.ReplicaID{"A", "B", "C"}, target.OldActive)

	// Quorum now requires majorities in both {A,B,C} and {A,B,C,D}.
	assert.False(t, tr.HasQuorum(map[raftpd.ReplicaID]bool{"A": true, "D": true}))
	assert.True(t, tr.HasQuorum(map[raftpd.ReplicaID]bool{"A": true, "B": true, "D": true}))

	tr, pending := tr.Commit(5)
	require.NotNil(t, pending)
	assert.Equal(t, Joint, tr.Status())
	assert.ElementsMatch(t, []raftpd.ReplicaID{"A", "B", "C", "D"}, pending.NewActive)

	tr = tr.Complete(pending.NewActive, pending.Passive)
	assert.Equal(t, Normal, tr.Status())
	assert.True(t, tr.MemActive("D"))
}

func TestJoin_NoOpWhenNotNormal(t *testing.T) {
	tr := Make("A", simple("A", "B", "C"))
	tr, _ = tr.Join(5, []raftpd.ReplicaID{"A", "B", "C", "D"}, nil)

	before := tr
	after, target := tr.Join(5, []raftpd.ReplicaID{"A", "B", "C", "D", "E"}, nil)
	assert.Equal(t, before, after)
	assert.Equal(t, raftpd.ConfigKind(raftpd.ConfigJoint), target.Kind)
}

func TestDrop_RevertsTransitional(t *testing.T) {
	tr := Make("A", simple("A", "B", "C"))
	tr, _ = tr.Join(5, []raftpd.ReplicaID{"A", "B", "C", "D"}, nil)
	require.Equal(t, Transitional, tr.Status())

	tr = tr.Drop(5)
	assert.Equal(t, Normal, tr.Status())
	assert.False(t, tr.MemActive("D"))
}

func TestEqual_OrderInsensitive(t *testing.T) {
	a := simple("A", "B", "C")
	b := simple("C", "A", "B")
	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, simple("A", "B")))
}

func TestSelfIncluded(t *testing.T) {
	tr := Make("A", simple("A", "B", "C"))
	assert.True(t, tr.SelfIncluded())

	tr = tr.Complete([]raftpd.ReplicaID{"B", "C"}, nil)
	assert.False(t, tr.SelfIncluded())
}
