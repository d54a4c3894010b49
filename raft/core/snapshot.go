package core

import (
	"github.com/mstorselius/raftcore/raft/core/conf"
	rlog "github.com/mstorselius/raftcore/raft/core/log"
	"github.com/mstorselius/raftcore/raft/proto"
)

// InstallSnapshot implements spec.md §4.6's install_snapshot: valid only
// on a Follower. ok reports whether it was applied.
func InstallSnapshot(s State, lastTerm, lastIndex uint64, config raftpd.Configuration) (State, bool, []Action) {
	if s.Role != Follower {
		return s, false, nil
	}

	ns := s
	ns.Config = conf.Make(ns.ID, config)
	if t, ok := ns.Log.GetTerm(lastIndex); ok && t == lastTerm {
		ns.Log = ns.Log.TrimPrefix(lastIndex, lastTerm)
	} else {
		ns.Log = rlog.Empty(lastIndex, lastTerm)
	}
	ns.CommitIndex = lastIndex
	ns.LastApplied = lastIndex
	return ns, true, nil
}

// SnapshotSent implements spec.md §4.6's snapshot_sent: the leader
// resolves a completed transfer and resumes ordinary replication to that
// peer.
func SnapshotSent(s State, peerID raftpd.ReplicaID, lastIndex uint64) (State, []Action) {
	if s.Role != Leader {
		return s, nil
	}
	ns := s
	ns.Peers = s.clonePeers()
	p := ns.Peers[peerID]
	if p == nil {
		return s, nil
	}
	p.SnapshotDone(lastIndex)
	if p.IsPaused() {
		return ns, nil
	}
	return ns, []Action{sendEntriesOrSnapshot(ns, p)}
}

// SnapshotSendFailed implements spec.md §4.6's snapshot_send_failed: the
// leader resolves the failed transfer without scheduling a resend — the
// next heartbeat retries.
func SnapshotSendFailed(s State, peerID raftpd.ReplicaID) (State, []Action) {
	if s.Role != Leader {
		return s, nil
	}
	ns := s
	ns.Peers = s.clonePeers()
	p := ns.Peers[peerID]
	if p == nil {
		return s, nil
	}
	p.SnapshotFailed()
	return ns, nil
}

// PeerUnreachable implements the supplemented PeerUnreachable input
// (SPEC_FULL §4): the transport reported a send to peerID could not be
// delivered, with no protocol response to drive the usual
// Append_failure/snapshot_send_failed paths. Leader only; resets that
// peer's pacing to probe/retry state so the next heartbeat retries
// cleanly instead of waiting out a timeout.
func PeerUnreachable(s State, peerID raftpd.ReplicaID) (State, []Action) {
	if s.Role != Leader {
		return s, nil
	}
	ns := s
	ns.Peers = s.clonePeers()
	p := ns.Peers[peerID]
	if p == nil {
		return s, nil
	}
	p.HandleUnreachable()
	return ns, nil
}

// CompactLog implements spec.md §4.6's compact_log: leader only, and only
// once no snapshot transfer is outstanding, to avoid invalidating the
// prefix a follower is mid-transfer on (spec.md §9's Open Questions).
func CompactLog(s State, lastIndex uint64) (State, []Action) {
	if s.Role != Leader {
		return s, nil
	}
	for _, p := range s.Peers {
		if p.InSnapshotTransfer() {
			return s, nil
		}
	}
	term, ok := s.Log.GetTerm(lastIndex)
	if !ok {
		return s, nil
	}
	ns := s
	ns.Log = ns.Log.TrimPrefix(lastIndex, term)
	return ns, nil
}
