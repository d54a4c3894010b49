package core

import (
	"github.com/mstorselius/raftcore/raft/core/peer"
	"github.com/mstorselius/raftcore/raft/internal/codec"
	"github.com/mstorselius/raftcore/raft/proto"
)

// sendEntriesOrSnapshot builds the outbound action for replicating to one
// peer given its current progress: an Append_entries carrying whatever
// suffix the log still holds for it, or a Send_snapshot when the peer's
// required prefix has already been trimmed. It mutates p's pacing state
// (RecordSend / BeginSnapshot) to match what it decided to send.
//
// Shared by the election-winning fan-out (vote.go), heartbeat_timeout and
// client_command (timer.go, client.go), and the Append_failure rewind
// path (append.go) — all of spec.md's "try to send entries, falling back
// to a snapshot" call sites.
func sendEntriesOrSnapshot(s State, p *peer.Progress) Action {
	if p.NextIndex <= s.Log.PrevLogIndex() {
		p.BeginSnapshot(s.Log.PrevLogIndex())
		return Action{
			Kind:      ActionSendSnapshot,
			Peer:      p.ID,
			FromIndex: p.NextIndex,
			Config:    s.Config.LastCommit(),
		}
	}

	prevIndex := p.NextIndex - 1
	prevTerm, ok := s.Log.GetTerm(prevIndex)
	if !ok {
		// Reached when prevIndex lies past the log's tail (the peer has
		// acknowledged more than this log holds); fall back to a snapshot
		// rather than sending a malformed append.
		p.BeginSnapshot(s.Log.PrevLogIndex())
		return Action{
			Kind:      ActionSendSnapshot,
			Peer:      p.ID,
			FromIndex: p.NextIndex,
			Config:    s.Config.LastCommit(),
		}
	}

	entries := s.Log.GetRange(p.NextIndex, s.Log.LastIndex())
	p.RecordSend(s.Log.LastIndex(), len(entries) > 0)

	return Action{
		Kind: ActionSend,
		Peer: p.ID,
		Message: raftpd.Message{
			MsgType:      raftpd.MsgAppendEntries,
			From:         s.ID,
			To:           p.ID,
			Term:         s.CurrentTerm,
			PrevLogIndex: prevIndex,
			PrevLogTerm:  prevTerm,
			Entries:      entries,
			LeaderCommit: s.CommitIndex,
		},
	}
}

// fanOut builds one send (or snapshot) action per active-or-passive peer
// not currently paused, skipping peers with an in-flight snapshot.
func fanOut(s State, force bool) []Action {
	var actions []Action
	for _, id := range s.Config.Peers() {
		p := s.Peers[id]
		if p == nil {
			continue
		}
		if p.InSnapshotTransfer() {
			continue
		}
		if !force && p.IsPaused() {
			continue
		}
		actions = append(actions, sendEntriesOrSnapshot(s, p))
	}
	return actions
}

func encodeConfig(cfg raftpd.Configuration) []byte {
	b, err := codec.Marshal(cfg)
	if err != nil {
		panic(err)
	}
	return b
}

func decodeConfig(data []byte) raftpd.Configuration {
	var cfg raftpd.Configuration
	if err := codec.Unmarshal(data, &cfg); err != nil {
		panic(err)
	}
	return cfg
}
