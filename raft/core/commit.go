package core

import (
	"github.com/mstorselius/raftcore/raft/core/conf"
	"github.com/mstorselius/raftcore/raft/proto"
)

// observeConfigEntry folds a Config entry's payload into the tracker as
// soon as the entry is known — appended to the log, not necessarily
// committed — matching spec.md §4.1's Current() semantics ("the
// configuration the tracker currently operates under" switches to a
// joint view as soon as the joint entry is known). A Joint_config
// payload drives Normal->Transitional (conf.Tracker.Join); a
// Simple_config payload completes Joint->Normal (conf.Tracker.Complete).
// Non-Config entries are a no-op.
func observeConfigEntry(t conf.Tracker, e raftpd.Entry) conf.Tracker {
	if e.Type != raftpd.EntryConfig {
		return t
	}
	cfg := decodeConfig(e.Data)
	switch cfg.Kind {
	case raftpd.ConfigJoint:
		nt, _ := t.Join(e.Index, cfg.Active, cfg.Passive)
		return nt
	case raftpd.ConfigSimple:
		return t.Complete(cfg.Active, cfg.Passive)
	default:
		return t
	}
}

// observeConfigEntries applies observeConfigEntry to every entry in
// entries whose current log content still matches e (guards against
// acting on a version of an entry that was later truncated away by
// conflict resolution).
func observeConfigEntries(s State, entries []raftpd.Entry) conf.Tracker {
	t := s.Config
	for _, e := range entries {
		if term, ok := s.Log.GetTerm(e.Index); !ok || term != e.Term {
			continue
		}
		t = observeConfigEntry(t, e)
	}
	return t
}

// updateCommitIndex implements spec.md §4.4's update_commit_index
// (leader only): advance commit_index to the quorum_min of match
// progress, but only when the entry at that index was appended in the
// leader's own current term — Raft forbids committing prior-term
// entries by counting replicas alone.
func updateCommitIndex(s State) State {
	if s.Role != Leader {
		return s
	}
	get := func(id raftpd.ReplicaID) uint64 {
		if id == s.ID {
			return s.Log.LastIndex()
		}
		if p, ok := s.Peers[id]; ok {
			return p.MatchIndex
		}
		return 0
	}
	n := s.Config.QuorumMin(get)
	if n <= s.CommitIndex {
		return s
	}
	term, ok := s.Log.GetTerm(n)
	if !ok || term != s.CurrentTerm {
		return s
	}
	ns := s
	ns.CommitIndex = n
	return ns
}

// tryCommit implements spec.md §4.4: advance last_applied to commit_index,
// emit Apply for the newly-committed Op entries, run the configuration
// tracker's Transitional->Joint transition, have a leader append the
// completing Simple_config entry when that transition just produced one,
// and emit Stop when the leader itself just dropped out of membership.
func tryCommit(s State) (State, []Action) {
	if s.CommitIndex <= s.LastApplied {
		return s, nil
	}

	ns := s
	from := s.LastApplied + 1
	to := s.CommitIndex
	entries := ns.Log.GetRange(from, to)
	ns.LastApplied = to

	var applied []AppliedOp
	configChanged := false
	for _, e := range entries {
		switch e.Type {
		case raftpd.EntryOp:
			applied = append(applied, AppliedOp{Index: e.Index, Term: e.Term, Payload: e.Data})
		case raftpd.EntryConfig:
			configChanged = true
		}
	}

	var pending *conf.Pending
	ns.Config, pending = ns.Config.Commit(ns.CommitIndex)

	var actions []Action
	if len(applied) > 0 {
		actions = append(actions, Action{Kind: ActionApply, Applied: applied})
	}

	if pending != nil && ns.Role == Leader {
		var entry raftpd.Entry
		ns.Log, entry = ns.Log.Append(ns.CurrentTerm, raftpd.EntryConfig, encodeConfig(raftpd.Configuration{
			Kind:    raftpd.ConfigSimple,
			Active:  pending.NewActive,
			Passive: pending.Passive,
		}))
		ns.Config = observeConfigEntry(ns.Config, entry)
	}

	if configChanged {
		actions = append(actions, Action{Kind: ActionChangedConfig})
	}

	if ns.Role == Leader && !ns.Config.SelfIncluded() {
		actions = append(actions, Action{Kind: ActionStop})
	}

	return ns, actions
}

// updateCommitIndexAndTryCommit chains the two halves of the leader's
// commit pipeline, as run after any event that can advance match_index
// (Append_result success) or after the election-winning blank append.
func updateCommitIndexAndTryCommit(s State) (State, []Action) {
	ns := updateCommitIndex(s)
	return tryCommit(ns)
}
