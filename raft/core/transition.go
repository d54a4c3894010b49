// Package core's top-level dispatcher. See state.go for the aggregate
// and doc.go for the package's purity contract.
package core

import "github.com/mstorselius/raftcore/raft/proto"

// HandleMessage is the single entry point for peer-to-peer RPC traffic,
// running the universal preflight of spec.md §4.3 before dispatching to
// the per-message handlers in vote.go and append.go.
func HandleMessage(s State, m raftpd.Message) (State, []Action) {
	origTerm := s.CurrentTerm
	ns := s
	var actions []Action

	s.log().Debugf("received %s from %s [term %d]", m.MsgType, m.From, m.Term)

	if m.Term > origTerm {
		s.log().Infof("[term %d] received %s from %s [term %d], bumping term",
			origTerm, m.MsgType, m.From, m.Term)
		ns.CurrentTerm = m.Term
		ns.VotedFor = ""
		ns.HasVoted = false
		ns.Role = Follower
		ns.Peers = nil
		ns.Votes = nil
		ns.HasLeader = false
		ns.LeaderID = ""
		if m.MsgType == raftpd.MsgAppendEntries {
			ns.VotedFor = m.From
			ns.HasVoted = true
		}
		actions = append(actions, withLeader(ActionBecomeFollower, "", false))
	}

	if m.Term < origTerm {
		switch m.MsgType {
		case raftpd.MsgRequestVote:
			return s, []Action{{
				Kind: ActionSend,
				Peer: m.From,
				Message: raftpd.Message{
					MsgType: raftpd.MsgVoteResult, From: s.ID, To: m.From,
					Term: s.CurrentTerm, VoteGranted: false,
				},
			}}
		case raftpd.MsgAppendEntries:
			return s, []Action{{
				Kind: ActionSend,
				Peer: m.From,
				Message: raftpd.Message{
					MsgType: raftpd.MsgAppendResult, From: s.ID, To: m.From,
					Term: s.CurrentTerm, ResultKind: raftpd.AppendFailure, ResultIndex: s.Log.LastIndex(),
				},
			}}
		default:
			return s, nil
		}
	}

	// Membership filter: voting messages require sender to be an active
	// member; replication messages merely require membership (passive
	// learners legitimately exchange Append_entries/Append_result with
	// the leader even though they never vote).
	switch m.MsgType {
	case raftpd.MsgRequestVote, raftpd.MsgVoteResult:
		if !ns.Config.MemActive(m.From) {
			return ns, actions
		}
	case raftpd.MsgAppendEntries, raftpd.MsgAppendResult:
		if !ns.Config.Mem(m.From) {
			return ns, actions
		}
	}

	var handled []Action
	switch m.MsgType {
	case raftpd.MsgRequestVote:
		ns, handled = handleRequestVote(ns, m)
	case raftpd.MsgVoteResult:
		ns, handled = handleVoteResult(ns, m)
	case raftpd.MsgAppendEntries:
		ns, handled = handleAppendEntries(ns, m)
	case raftpd.MsgAppendResult:
		ns, handled = handleAppendResult(ns, m)
	}

	return ns, append(actions, handled...)
}
