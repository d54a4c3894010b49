package core

import "github.com/mstorselius/raftcore/raft/proto"

// ElectionTimeout implements spec.md §4.5's election_timeout: valid in any
// role, it starts a new term's candidacy and votes for self. A
// single-member active set resolves the election immediately (self's own
// vote already forms a quorum), matching scenario S1.
func ElectionTimeout(s State) (State, []Action) {
	s.log().Infof("election timeout at term %d, starting campaign for term %d", s.CurrentTerm, s.CurrentTerm+1)
	ns := s
	ns.CurrentTerm++
	ns.Role = Candidate
	ns.VotedFor = s.ID
	ns.HasVoted = true
	ns.Votes = map[raftpd.ReplicaID]bool{s.ID: true}
	ns.HasLeader = false
	ns.LeaderID = ""

	actions := []Action{{Kind: ActionBecomeCandidate}}

	if ns.Config.HasQuorum(ns.Votes) {
		won, leaderActions := becomeLeader(ns)
		return won, append(actions, leaderActions...)
	}

	for _, id := range ns.Config.Peers() {
		if !ns.Config.MemActive(id) {
			continue
		}
		actions = append(actions, Action{
			Kind: ActionSend,
			Peer: id,
			Message: raftpd.Message{
				MsgType:      raftpd.MsgRequestVote,
				From:         ns.ID,
				To:           id,
				Term:         ns.CurrentTerm,
				LastLogIndex: ns.Log.LastIndex(),
				LastLogTerm:  ns.Log.LastTerm(),
			},
		})
	}
	return ns, actions
}

// HeartbeatTimeout implements spec.md §4.5's heartbeat_timeout: leader
// only, fans out a replication round (or snapshot) to every peer not
// already mid-snapshot-transfer.
func HeartbeatTimeout(s State) (State, []Action) {
	if s.Role != Leader {
		return s, nil
	}
	ns := s
	ns.Peers = s.clonePeers()
	actions := []Action{{Kind: ActionResetHeartbeat}}
	actions = append(actions, fanOut(ns, true)...)
	return ns, actions
}
