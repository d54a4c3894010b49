package core

import "github.com/mstorselius/raftcore/raft/proto"

// readOnlyTracker implements the leader-side bookkeeping for the
// supplemented ReadIndex operation (SPEC_FULL §4): a read request is safe
// to serve at the commit index captured when it arrived, once a quorum of
// peers has echoed back the heartbeat round that carried its context.
//
// Grounded on the teacher's raft/core/read/read_only.go, adapted from its
// uint64-keyed peer ids to raftpd.ReplicaID and from its standalone
// "advance" call to the Append_result integration in append.go.
type readOnlyTracker struct {
	pending map[string]*readOnlyRequest
	queue   []string
}

type readOnlyRequest struct {
	index   uint64
	context []byte
	acks    map[raftpd.ReplicaID]bool
}

func (ro readOnlyTracker) clone() readOnlyTracker {
	nro := readOnlyTracker{pending: make(map[string]*readOnlyRequest, len(ro.pending))}
	nro.queue = append([]string{}, ro.queue...)
	for k, v := range ro.pending {
		cp := &readOnlyRequest{index: v.index, context: v.context, acks: make(map[raftpd.ReplicaID]bool, len(v.acks))}
		for id := range v.acks {
			cp.acks[id] = true
		}
		nro.pending[k] = cp
	}
	return nro
}

func (ro *readOnlyTracker) add(index uint64, context []byte) {
	key := string(context)
	if _, ok := ro.pending[key]; ok {
		return
	}
	if ro.pending == nil {
		ro.pending = make(map[string]*readOnlyRequest)
	}
	ro.pending[key] = &readOnlyRequest{index: index, context: context, acks: make(map[raftpd.ReplicaID]bool)}
	ro.queue = append(ro.queue, key)
}

// ack records a peer's echoed confirmation and returns the request's
// current ack set (including the leader itself, which always confirms
// its own round), or nil if context matches no pending request.
func (ro *readOnlyTracker) ack(from raftpd.ReplicaID, self raftpd.ReplicaID, context []byte) map[raftpd.ReplicaID]bool {
	req, ok := ro.pending[string(context)]
	if !ok {
		return nil
	}
	req.acks[from] = true
	voters := make(map[raftpd.ReplicaID]bool, len(req.acks)+1)
	for id := range req.acks {
		voters[id] = true
	}
	voters[self] = true
	return voters
}

// advance dequeues every request up to and including the one matching
// context, in FIFO order, once that one has reached quorum.
func (ro *readOnlyTracker) advance(context []byte) []*readOnlyRequest {
	key := string(context)
	idx := -1
	for i, k := range ro.queue {
		if k == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	ready := make([]*readOnlyRequest, 0, idx+1)
	for _, k := range ro.queue[:idx+1] {
		ready = append(ready, ro.pending[k])
		delete(ro.pending, k)
	}
	ro.queue = ro.queue[idx+1:]
	return ready
}

// ReadIndex requests a linearizable read, per SPEC_FULL §4. A non-leader
// redirects immediately. A leader captures the current commit index and
// broadcasts a heartbeat round carrying context; the read becomes safe
// (ActionReadIndexReady) once that round is acknowledged by a quorum —
// see handleAppendResult in append.go for the other half.
func ReadIndex(s State, context []byte) (State, []Action) {
	if s.Role != Leader {
		return s, []Action{{Kind: ActionRedirect, LeaderID: s.LeaderID, HasLeaderID: s.HasLeader, RedirectOp: context}}
	}

	ns := s
	ns.readOnly = s.readOnly.clone()
	ns.readOnly.add(s.CommitIndex, context)

	var actions []Action
	for _, peerID := range s.Config.Peers() {
		if !s.Config.MemActive(peerID) {
			continue
		}
		p := ns.Peers[peerID]
		if p == nil {
			continue
		}
		prevTerm, _ := s.Log.GetTerm(p.MatchIndex)
		actions = append(actions, Action{
			Kind: ActionSend,
			Peer: peerID,
			Message: raftpd.Message{
				MsgType:      raftpd.MsgAppendEntries,
				From:         s.ID,
				To:           peerID,
				Term:         s.CurrentTerm,
				PrevLogIndex: p.MatchIndex,
				PrevLogTerm:  prevTerm,
				LeaderCommit: s.CommitIndex,
				ReadCtx:      context,
			},
		})
	}
	return ns, actions
}
