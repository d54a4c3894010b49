// Package conf implements the configuration tracker of spec.md §4.1: the
// piece of replica state that knows the current cluster membership,
// understands the two-phase joint-consensus transition, and answers
// quorum queries on behalf of the transition functions in raft/core.
//
// Grounded on the teacher's raft/core/conf/conf.go (bootstrap config) and
// raft/core/core_internal.go's quorum()/poll() helpers, generalized from a
// single active set to the Normal/Transitional/Joint state machine spec.md
// requires.
package conf

import (
	"sort"

	"github.com/mstorselius/raftcore/raft/internal/assert"
	"github.com/mstorselius/raftcore/raft/proto"
)

// Status is the tracker's own phase, distinct from (but driving) the
// Configuration variant a replica reports to peers.
type Status int

const (
	Normal Status = iota
	Transitional
	Joint
)

func (s Status) String() string {
	switch s {
	case Normal:
		return "Normal"
	case Transitional:
		return "Transitional"
	case Joint:
		return "Joint"
	default:
		return "Status(?)"
	}
}

// Pending describes the Simple_config entry a leader must append once a
// Transitional tracker's join entry commits (spec.md §4.1 commit()).
type Pending struct {
	NewActive []raftpd.ReplicaID
	Passive   []raftpd.ReplicaID
}

// Tracker is the configuration tracker. The zero value is not valid;
// build one with Make.
type Tracker struct {
	self raftpd.ReplicaID

	status Status

	oldActive []raftpd.ReplicaID // meaningful in Transitional and Joint
	active    []raftpd.ReplicaID // "new_active" once in Transitional/Joint
	passive   []raftpd.ReplicaID

	joinIndex uint64 // meaningful in Transitional: index of the joint entry

	lastCommit raftpd.Configuration // last configuration known to be committed
}

// Make initializes a tracker from a Simple_config or Joint_config payload,
// as spec.md §4.1 describes. A Joint_config payload builds a tracker
// already in the Joint phase (used when restoring from a log/snapshot that
// was captured mid-transition).
func Make(self raftpd.ReplicaID, config raftpd.Configuration) Tracker {
	t := Tracker{self: self}
	switch config.Kind {
	case raftpd.ConfigSimple:
		t.status = Normal
		t.active = dup(config.Active)
		t.passive = dup(config.Passive)
		t.lastCommit = config
	case raftpd.ConfigJoint:
		t.status = Joint
		t.oldActive = dup(config.OldActive)
		t.active = dup(config.Active)
		t.passive = dup(config.Passive)
		t.lastCommit = config
	default:
		assert.That(false, "conf.Make: unknown configuration kind %v", config.Kind)
	}
	return t
}

// Status reports the tracker's current phase.
func (t Tracker) Status() Status { return t.status }

// Peers returns every member except self: the union of whichever active
// and passive sets are live right now.
func (t Tracker) Peers() []raftpd.ReplicaID {
	seen := map[raftpd.ReplicaID]bool{t.self: true}
	var out []raftpd.ReplicaID
	add := func(ids []raftpd.ReplicaID) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	add(t.oldActive)
	add(t.active)
	add(t.passive)
	return out
}

// Mem reports whether id is a member (active or passive) under any set
// currently in force.
func (t Tracker) Mem(id raftpd.ReplicaID) bool {
	if id == t.self {
		return true
	}
	return contains(t.oldActive, id) || contains(t.active, id) || contains(t.passive, id)
}

// MemActive reports whether id can vote / be elected leader right now.
func (t Tracker) MemActive(id raftpd.ReplicaID) bool {
	if id == t.self {
		return t.selfActive()
	}
	if t.status == Normal {
		return contains(t.active, id)
	}
	return contains(t.oldActive, id) || contains(t.active, id)
}

// SelfIncluded reports whether self actually appears in the membership
// lists currently in force, active or passive. Unlike Mem and MemActive
// (which always treat self as a member, for the convenience of callers
// testing other replicas' status), this is the check a leader needs to
// detect that a just-committed configuration has voted it out.
func (t Tracker) SelfIncluded() bool {
	return contains(t.oldActive, t.self) || contains(t.active, t.self) || contains(t.passive, t.self)
}

func (t Tracker) selfActive() bool {
	if t.status == Normal {
		return contains(t.active, t.self)
	}
	return contains(t.oldActive, t.self) || contains(t.active, t.self)
}

// HasQuorum reports whether voters contains a strict majority of every
// active set the current configuration requires: just the active set in
// Normal, both old and new active sets in Transitional/Joint.
func (t Tracker) HasQuorum(voters map[raftpd.ReplicaID]bool) bool {
	if t.status == Normal {
		return hasMajority(t.active, voters)
	}
	return hasMajority(t.oldActive, voters) && hasMajority(t.active, voters)
}

// QuorumMin returns N such that a quorum of active members has get(id) >=
// N: the ceil(len/2+1)-th largest value across each active set, and in
// joint phases the minimum of the two sets' results.
func (t Tracker) QuorumMin(get func(raftpd.ReplicaID) uint64) uint64 {
	if t.status == Normal {
		return quorumMinOf(t.active, get)
	}
	oldN := quorumMinOf(t.oldActive, get)
	newN := quorumMinOf(t.active, get)
	return min(oldN, newN)
}

// Join moves a Normal tracker into Transitional: the leader is starting a
// membership change to newActive (and, if passive is non-nil, to a new
// passive set). It returns the updated tracker and the Joint_config
// payload to append to the log at idx.
//
// Join is also how a non-leader replica adopts a Joint_config entry it
// sees arrive via replication: the caller passes the index the entry was
// appended at. Per spec.md's "Transitions are Normal -> Transitional",
// Join is a no-op (returns t unchanged) when t is not Normal — this can
// happen on a follower re-processing an already-applied entry.
func (t Tracker) Join(idx uint64, newActive []raftpd.ReplicaID, passive []raftpd.ReplicaID) (Tracker, raftpd.Configuration) {
	target := raftpd.Configuration{
		Kind:      raftpd.ConfigJoint,
		OldActive: dup(t.active),
		Active:    dup(newActive),
		Passive:   t.passive,
	}
	if passive != nil {
		target.Passive = dup(passive)
	} else {
		target.Passive = dup(t.passive)
	}

	if t.status != Normal {
		return t, target
	}

	nt := t
	nt.status = Transitional
	nt.oldActive = dup(t.active)
	nt.active = dup(newActive)
	nt.passive = target.Passive
	nt.joinIndex = idx
	return nt, target
}

// Drop reverts a Transitional tracker to Normal when the joint entry at
// or after idx is truncated from the log (spec.md §4.1). It is a no-op
// unless the tracker is Transitional with joinIndex >= idx.
func (t Tracker) Drop(atOrAfter uint64) Tracker {
	if t.status != Transitional || t.joinIndex < atOrAfter {
		return t
	}
	nt := t
	nt.status = Normal
	nt.active = dup(t.oldActive)
	nt.oldActive = nil
	nt.joinIndex = 0
	return nt
}

// Commit advances a Transitional tracker to Joint once its join entry has
// committed (idx >= joinIndex). It returns the updated tracker and, when
// the transition just happened, the Simple_config entry a leader must now
// append to complete the change. It is a no-op in any other status.
func (t Tracker) Commit(idx uint64) (Tracker, *Pending) {
	if t.status != Transitional || idx < t.joinIndex {
		return t, nil
	}
	nt := t
	nt.status = Joint
	nt.lastCommit = raftpd.Configuration{
		Kind:      raftpd.ConfigJoint,
		OldActive: dup(t.oldActive),
		Active:    dup(t.active),
		Passive:   dup(t.passive),
	}
	return nt, &Pending{NewActive: dup(t.active), Passive: dup(t.passive)}
}

// Complete moves a Joint (or Transitional, defensively) tracker to Normal
// once the completing Simple_config entry has been appended. Unlike Join
// and Commit, this reflects a fact observed directly from a log entry's
// payload rather than a proposed transition, so it always succeeds.
func (t Tracker) Complete(active, passive []raftpd.ReplicaID) Tracker {
	nt := t
	nt.status = Normal
	nt.oldActive = nil
	nt.active = dup(active)
	nt.passive = dup(passive)
	nt.joinIndex = 0
	nt.lastCommit = raftpd.Configuration{Kind: raftpd.ConfigSimple, Active: nt.active, Passive: nt.passive}
	return nt
}

// LastCommit returns the most recently committed configuration, for use
// as snapshot metadata.
func (t Tracker) LastCommit() raftpd.Configuration { return t.lastCommit }

// Current returns the configuration the tracker currently operates under
// — already-joint as soon as a Joint_config entry is known, whether or
// not it has committed yet.
func (t Tracker) Current() raftpd.Configuration {
	if t.status == Normal {
		return raftpd.Configuration{Kind: raftpd.ConfigSimple, Active: dup(t.active), Passive: dup(t.passive)}
	}
	return raftpd.Configuration{
		Kind:      raftpd.ConfigJoint,
		OldActive: dup(t.oldActive),
		Active:    dup(t.active),
		Passive:   dup(t.passive),
	}
}

// Equal reports whether two configurations describe the same membership,
// order-insensitively, as spec.md §4.7 requires for change_config's
// Already_changed check.
func Equal(a, b raftpd.Configuration) bool {
	return sameSet(a.Active, b.Active) && sameSet(a.Passive, b.Passive) && a.Kind == b.Kind &&
		(a.Kind != raftpd.ConfigJoint || sameSet(a.OldActive, b.OldActive))
}

func sameSet(a, b []raftpd.ReplicaID) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := dup(a), dup(b)
	sort.Slice(as, func(i, j int) bool { return as[i] < as[j] })
	sort.Slice(bs, func(i, j int) bool { return bs[i] < bs[j] })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func quorumMinOf(set []raftpd.ReplicaID, get func(raftpd.ReplicaID) uint64) uint64 {
	if len(set) == 0 {
		return 0
	}
	values := make([]uint64, len(set))
	for i, id := range set {
		values[i] = get(id)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] > values[j] })
	q := quorum(len(set))
	return values[q-1]
}

func quorum(n int) int { return n/2 + 1 }

func contains(set []raftpd.ReplicaID, id raftpd.ReplicaID) bool {
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}

func hasMajority(set []raftpd.ReplicaID, voters map[raftpd.ReplicaID]bool) bool {
	count := 0
	for _, id := range set {
		if voters[id] {
			count++
		}
	}
	return count >= quorum(len(set))
}

func dup(ids []raftpd.ReplicaID) []raftpd.ReplicaID {
	if ids == nil {
		return nil
	}
	out := make([]raftpd.ReplicaID, len(ids))
	copy(out, ids)
	return out
}
