package core

import "github.com/mstorselius/raftcore/raft/proto"

// ActionKind tags the action vocabulary of spec.md §4.3: everything a
// transition function asks the outer driver to do. As with raftpd.Message,
// this module renders Raft's tagged variants as a flat struct with a kind
// discriminant rather than an interface hierarchy, following the
// teacher's style and spec.md §9's preference for exhaustive case
// analysis over polymorphism.
type ActionKind int

const (
	ActionApply ActionKind = iota
	ActionBecomeCandidate
	ActionBecomeFollower
	ActionBecomeLeader
	ActionChangedConfig
	ActionRedirect
	ActionResetElectionTimeout
	ActionResetHeartbeat
	ActionSend
	ActionSendSnapshot
	ActionStop
	ActionReadIndexReady // SPEC_FULL §4 supplemented read-index reads
)

func (k ActionKind) String() string {
	switch k {
	case ActionApply:
		return "Apply"
	case ActionBecomeCandidate:
		return "BecomeCandidate"
	case ActionBecomeFollower:
		return "BecomeFollower"
	case ActionBecomeLeader:
		return "BecomeLeader"
	case ActionChangedConfig:
		return "ChangedConfig"
	case ActionRedirect:
		return "Redirect"
	case ActionResetElectionTimeout:
		return "ResetElectionTimeout"
	case ActionResetHeartbeat:
		return "ResetHeartbeat"
	case ActionSend:
		return "Send"
	case ActionSendSnapshot:
		return "SendSnapshot"
	case ActionStop:
		return "Stop"
	case ActionReadIndexReady:
		return "ReadIndexReady"
	default:
		return "ActionKind(?)"
	}
}

// AppliedOp is one committed Op entry handed up via ActionApply, in
// ascending index order.
type AppliedOp struct {
	Index   uint64
	Term    uint64
	Payload []byte
}

// Action is a single instruction for the driver to execute. Only the
// fields relevant to Kind are populated.
type Action struct {
	Kind ActionKind

	// ActionApply
	Applied []AppliedOp

	// ActionBecomeFollower, ActionRedirect: optional known leader.
	LeaderID    raftpd.ReplicaID
	HasLeaderID bool

	// ActionRedirect
	RedirectOp []byte

	// ActionSend
	Peer    raftpd.ReplicaID
	Message raftpd.Message

	// ActionSendSnapshot
	FromIndex uint64
	Config    raftpd.Configuration

	// ActionReadIndexReady
	ReadContext []byte
	ReadIndex   uint64
}

func withLeader(kind ActionKind, leader raftpd.ReplicaID, known bool) Action {
	return Action{Kind: kind, LeaderID: leader, HasLeaderID: known}
}
