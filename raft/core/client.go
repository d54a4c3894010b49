package core

import (
	"github.com/mstorselius/raftcore/raft/core/conf"
	"github.com/mstorselius/raftcore/raft/core/peer"
	"github.com/mstorselius/raftcore/raft/proto"
)

// ClientCommand implements spec.md §4.6's client_command: a non-leader
// redirects; a leader appends the opaque payload as an Op entry and fans
// it out.
func ClientCommand(s State, op []byte) (State, []Action) {
	if s.Role != Leader {
		return s, []Action{{Kind: ActionRedirect, LeaderID: s.LeaderID, HasLeaderID: s.HasLeader, RedirectOp: op}}
	}

	ns := s
	ns.Peers = s.clonePeers()
	ns.Log, _ = ns.Log.Append(ns.CurrentTerm, raftpd.EntryOp, op)

	sends := fanOut(ns, false)
	if len(sends) == 0 {
		return ns, nil
	}
	return ns, append([]Action{{Kind: ActionResetHeartbeat}}, sends...)
}

// ChangeConfigOutcome is the tagged result of ChangeConfig, per spec.md
// §4.7.
type ChangeConfigOutcome int

const (
	ChangeRedirect ChangeConfigOutcome = iota
	ChangeInProcess
	ChangeAlreadyChanged
	ChangeStarted
)

func (o ChangeConfigOutcome) String() string {
	switch o {
	case ChangeRedirect:
		return "Redirect"
	case ChangeInProcess:
		return "ChangeInProcess"
	case ChangeAlreadyChanged:
		return "AlreadyChanged"
	case ChangeStarted:
		return "StartChange"
	default:
		return "ChangeConfigOutcome(?)"
	}
}

// ChangeConfig implements spec.md §4.7's change_config: propose a
// membership change to newActive (and, if hasPassive, to a new passive
// set). hasPassive distinguishes "no passive members" from "leave the
// passive set unchanged," since spec.md's passive parameter is optional.
func ChangeConfig(s State, newActive []raftpd.ReplicaID, passive []raftpd.ReplicaID, hasPassive bool) (State, ChangeConfigOutcome, []Action) {
	if s.Role != Leader {
		return s, ChangeRedirect, nil
	}
	if s.Config.Status() != conf.Normal {
		return s, ChangeInProcess, nil
	}

	current := s.Config.Current()
	wantPassive := current.Passive
	if hasPassive {
		wantPassive = passive
	}
	target := raftpd.Configuration{Kind: raftpd.ConfigSimple, Active: newActive, Passive: wantPassive}
	if conf.Equal(current, target) {
		return s, ChangeAlreadyChanged, nil
	}

	ns := s
	var joinPassive []raftpd.ReplicaID
	if hasPassive {
		joinPassive = passive
		if joinPassive == nil {
			// Join reads a nil passive set as "unchanged".
			joinPassive = []raftpd.ReplicaID{}
		}
	}
	nt, payload := ns.Config.Join(ns.Log.LastIndex()+1, newActive, joinPassive)
	ns.Log, _ = ns.Log.Append(ns.CurrentTerm, raftpd.EntryConfig, encodeConfig(payload))
	ns.Config = nt

	ns.Peers = s.clonePeers()
	for _, id := range ns.Config.Peers() {
		if _, ok := ns.Peers[id]; !ok {
			ns.Peers[id] = peer.New(id, ns.Log.PrevLogIndex()+1)
		}
	}

	sends := fanOut(ns, true)
	return ns, ChangeStarted, append([]Action{{Kind: ActionResetHeartbeat}}, sends...)
}
