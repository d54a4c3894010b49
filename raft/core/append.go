package core

import "github.com/mstorselius/raftcore/raft/proto"

// handleAppendEntries implements the receiver side of spec.md §4.3's
// Append_entries contract. Preflight has already run.
func handleAppendEntries(s State, m raftpd.Message) (State, []Action) {
	ns := s
	var actions []Action

	if s.Role == Candidate {
		ns.Role = Follower
		ns.LeaderID = m.From
		ns.HasLeader = true
		actions = append(actions, withLeader(ActionBecomeFollower, m.From, true))
	} else {
		actions = append(actions, Action{Kind: ActionResetElectionTimeout})
	}

	prevLogIndex := m.PrevLogIndex
	prevLogTerm := m.PrevLogTerm
	entries := m.Entries

	if prevLogIndex < ns.Log.PrevLogIndex() {
		target := ns.Log.PrevLogIndex()
		found := false
		for i, e := range entries {
			if e.Index == target {
				prevLogTerm = e.Term
				entries = entries[i+1:]
				found = true
				break
			}
		}
		if found {
			prevLogIndex = target
		}
	}

	existingTerm, ok := ns.Log.GetTerm(prevLogIndex)
	if !ok {
		return rejectAppend(ns, m, ns.Log.LastIndex(), actions)
	}
	if existingTerm != prevLogTerm {
		return rejectAppend(ns, m, prevLogIndex, actions)
	}

	merged, conflict, hasConflict := ns.Log.AppendMany(entries)
	ns.Log = merged
	if hasConflict {
		ns.Config = ns.Config.Drop(conflict)
	}
	ns.Config = observeConfigEntries(ns, entries)

	if m.LeaderCommit > ns.CommitIndex {
		last := ns.Log.LastIndex()
		if m.LeaderCommit < last {
			ns.CommitIndex = m.LeaderCommit
		} else {
			ns.CommitIndex = last
		}
	}
	ns.LeaderID = m.From
	ns.HasLeader = true

	actions = append(actions, Action{
		Kind: ActionSend,
		Peer: m.From,
		Message: raftpd.Message{
			MsgType:     raftpd.MsgAppendResult,
			From:        ns.ID,
			To:          m.From,
			Term:        ns.CurrentTerm,
			ResultKind:  raftpd.AppendSuccess,
			ResultIndex: ns.Log.LastIndex(),
			ReadCtx:     m.ReadCtx,
		},
	})

	var commitActions []Action
	ns, commitActions = tryCommit(ns)
	actions = append(actions, commitActions...)

	return ns, actions
}

func rejectAppend(s State, m raftpd.Message, rewindTo uint64, prior []Action) (State, []Action) {
	return s, append(prior, Action{
		Kind: ActionSend,
		Peer: m.From,
		Message: raftpd.Message{
			MsgType:     raftpd.MsgAppendResult,
			From:        s.ID,
			To:          m.From,
			Term:        s.CurrentTerm,
			ResultKind:  raftpd.AppendFailure,
			ResultIndex: rewindTo,
			ReadCtx:     m.ReadCtx,
		},
	})
}

// handleAppendResult implements the leader side of spec.md §4.3's
// Append_result handling.
func handleAppendResult(s State, m raftpd.Message) (State, []Action) {
	if m.Term < s.CurrentTerm || s.Role != Leader {
		return s, nil
	}

	ns := s
	ns.Peers = s.clonePeers()
	p := ns.Peers[m.From]
	if p == nil {
		return s, nil
	}

	var actions []Action

	switch m.ResultKind {
	case raftpd.AppendSuccess:
		p.HandleAppendSuccess(m.ResultIndex)
		actions = append(actions, Action{Kind: ActionResetElectionTimeout})

		var commitActions []Action
		ns, commitActions = updateCommitIndexAndTryCommit(ns)
		actions = append(actions, commitActions...)

		if len(m.ReadCtx) > 0 {
			actions = append(actions, readAckActions(&ns, m.From, m.ReadCtx)...)
		}

	case raftpd.AppendFailure:
		p.HandleAppendFailure(m.ResultIndex)
		if !p.InSnapshotTransfer() {
			actions = append(actions, sendEntriesOrSnapshot(ns, p))
		}
	}

	return ns, actions
}

func readAckActions(s *State, from raftpd.ReplicaID, context []byte) []Action {
	s.readOnly = s.readOnly.clone()
	voters := s.readOnly.ack(from, s.ID, context)
	if voters == nil || !s.Config.HasQuorum(voters) {
		return nil
	}
	ready := s.readOnly.advance(context)
	actions := make([]Action, 0, len(ready))
	for _, r := range ready {
		actions = append(actions, Action{Kind: ActionReadIndexReady, ReadIndex: r.index, ReadContext: r.context})
	}
	return actions
}
