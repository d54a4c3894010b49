// Package core implements the pure, deterministic Raft state machine of
// spec.md: leader election, log replication, commit tracking, snapshot
// installation, and joint-consensus membership changes. Every exported
// operation has the shape (State, input...) -> (State, []Action); nothing
// in this package performs I/O, blocks, or owns a clock. See doc.go.
//
// Grounded throughout on the teacher's raft/core package (core.go,
// core_handle.go, core_internal.go), adapted from its callback-driven
// design to the explicit action-list design spec.md §4.3 requires.
package core

import (
	log "github.com/sirupsen/logrus"

	"github.com/mstorselius/raftcore/raft/core/conf"
	rlog "github.com/mstorselius/raftcore/raft/core/log"
	"github.com/mstorselius/raftcore/raft/core/peer"
	"github.com/mstorselius/raftcore/raft/proto"
)

// State is the full replica state aggregate of spec.md §3: persistent
// fields the driver must durably record before acknowledging certain
// messages (CurrentTerm, VotedFor, Log; ID and Config are fixed at
// construction and change only by replicating into Log), and volatile
// fields recomputed fresh on restart.
//
// State is copied by value on every transition (see spec.md §5, "every
// transition returns a fresh state"); its map-typed fields, Peers and
// Votes, are never mutated in place by exported functions — each
// transition that touches one builds a new map.
type State struct {
	// Persistent.
	ID          raftpd.ReplicaID
	CurrentTerm uint64
	VotedFor    raftpd.ReplicaID
	HasVoted    bool
	Log         rlog.Log
	Config      conf.Tracker

	// Volatile.
	Role        Role
	CommitIndex uint64
	LastApplied uint64
	LeaderID    raftpd.ReplicaID
	HasLeader   bool

	// Leader-only, but always present (empty outside Leader) to keep
	// State a plain value rather than a variant.
	Peers map[raftpd.ReplicaID]*peer.Progress

	// Candidate-only book-keeping; also consulted by a leader that has
	// just won, purely as the record of how it won.
	Votes map[raftpd.ReplicaID]bool

	readOnly readOnlyTracker

	logger *log.Entry
}

// New builds the initial state of a freshly bootstrapped (never
// previously running) replica.
func New(id raftpd.ReplicaID, config raftpd.Configuration) State {
	return State{
		ID:     id,
		Log:    rlog.Empty(0, 0),
		Config: conf.Make(id, config),
		Role:   Follower,
	}.withLogger()
}

// Restore rebuilds replica state from durably-persisted fields, as a
// driver does on process start. entries is the persisted log suffix
// after (prevIndex, prevTerm); config is derived by the driver by
// replaying Config entries from the log (or from the last snapshot) —
// the core does not persist Config separately since it is always
// recoverable from Log.
func Restore(id raftpd.ReplicaID, currentTerm uint64, votedFor raftpd.ReplicaID, hasVoted bool,
	prevIndex, prevTerm uint64, entries []raftpd.Entry, config raftpd.Configuration) State {
	return State{
		ID:          id,
		CurrentTerm: currentTerm,
		VotedFor:    votedFor,
		HasVoted:    hasVoted,
		Log:         rlog.Restore(prevIndex, prevTerm, entries),
		Config:      conf.Make(id, config),
		Role:        Follower,
	}.withLogger()
}

func (s State) withLogger() State {
	s.logger = log.WithField("replica", string(s.ID))
	return s
}

func (s State) log() *log.Entry {
	if s.logger == nil {
		return log.WithField("replica", string(s.ID))
	}
	return s.logger
}

// clonePeers returns a shallow copy of the Peers map so a transition that
// mutates an individual *peer.Progress through its pointer methods never
// aliases the incoming State's map.
func (s State) clonePeers() map[raftpd.ReplicaID]*peer.Progress {
	out := make(map[raftpd.ReplicaID]*peer.Progress, len(s.Peers))
	for id, p := range s.Peers {
		cp := *p
		out[id] = &cp
	}
	return out
}

func (s State) cloneVotes() map[raftpd.ReplicaID]bool {
	out := make(map[raftpd.ReplicaID]bool, len(s.Votes)+1)
	for id, v := range s.Votes {
		out[id] = v
	}
	return out
}
