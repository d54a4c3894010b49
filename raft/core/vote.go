package core

import (
	"github.com/mstorselius/raftcore/raft/core/conf"
	"github.com/mstorselius/raftcore/raft/core/peer"
	"github.com/mstorselius/raftcore/raft/proto"
)

// handleRequestVote implements spec.md §4.3's Request_vote grant rule.
// Preflight (term bump/stale-reject/passive-filter) has already run.
func handleRequestVote(s State, m raftpd.Message) (State, []Action) {
	grant := m.Term == s.CurrentTerm &&
		(!s.HasVoted || s.VotedFor == m.From) &&
		s.Log.IsUpToDate(m.LastLogTerm, m.LastLogIndex) &&
		s.Role == Follower

	if !grant {
		return s, []Action{{
			Kind: ActionSend,
			Peer: m.From,
			Message: raftpd.Message{
				MsgType:     raftpd.MsgVoteResult,
				From:        s.ID,
				To:          m.From,
				Term:        s.CurrentTerm,
				VoteGranted: false,
			},
		}}
	}

	ns := s
	ns.VotedFor = m.From
	ns.HasVoted = true

	return ns, []Action{
		withLeader(ActionBecomeFollower, "", false),
		{
			Kind: ActionSend,
			Peer: m.From,
			Message: raftpd.Message{
				MsgType:     raftpd.MsgVoteResult,
				From:        s.ID,
				To:          m.From,
				Term:        s.CurrentTerm,
				VoteGranted: true,
			},
		},
	}
}

// handleVoteResult implements spec.md §4.3's Vote_result handling,
// including the election-winning transition to Leader.
func handleVoteResult(s State, m raftpd.Message) (State, []Action) {
	if m.Term < s.CurrentTerm || s.Role != Candidate || !m.VoteGranted {
		return s, nil
	}

	ns := s
	ns.Votes = s.cloneVotes()
	ns.Votes[m.From] = true

	if !ns.Config.HasQuorum(ns.Votes) {
		return ns, nil
	}

	return becomeLeader(ns)
}

// becomeLeader performs the election-winning transition of spec.md §4.3:
// append a blank entry before seeding per-peer progress, so the entry the
// new leader commits in its own term is the first thing every peer is
// offered. In Joint phase the blank entry is the completing Simple_config
// that finishes a membership change the prior leader already got
// committed; in every other phase (including Transitional, where a join
// entry is already in the log but has not committed) it is a plain Nop —
// a second current-term entry is all Raft's commitment rule needs to
// carry a pending prior-term entry to commit_index, so appending another
// Joint_config here would only duplicate the one already in flight (see
// DESIGN.md's "Open question resolved" note on this).
func becomeLeader(s State) (State, []Action) {
	s.log().Infof("won election for term %d", s.CurrentTerm)
	ns := s
	ns.Role = Leader
	ns.HasLeader = true
	ns.LeaderID = s.ID
	ns.Votes = nil
	ns.readOnly = readOnlyTracker{}

	if ns.Config.Status() == conf.Joint {
		target := ns.Config.Current()
		var entry raftpd.Entry
		ns.Log, entry = ns.Log.Append(ns.CurrentTerm, raftpd.EntryConfig, encodeConfig(raftpd.Configuration{
			Kind:    raftpd.ConfigSimple,
			Active:  target.Active,
			Passive: target.Passive,
		}))
		ns.Config = observeConfigEntry(ns.Config, entry)
	} else {
		ns.Log, _ = ns.Log.Append(ns.CurrentTerm, raftpd.EntryNop, nil)
	}

	newLast := ns.Log.LastIndex()
	ns.Peers = make(map[raftpd.ReplicaID]*peer.Progress)
	for _, id := range ns.Config.Peers() {
		ns.Peers[id] = peer.New(id, newLast)
	}

	actions := []Action{{Kind: ActionBecomeLeader}}
	actions = append(actions, fanOut(ns, true)...)

	var commitActions []Action
	ns, commitActions = updateCommitIndexAndTryCommit(ns)
	actions = append(actions, commitActions...)

	return ns, actions
}
