// Package raftpd defines the wire-level vocabulary exchanged between
// replicas: log entries, cluster configurations, and the Raft RPC
// messages. Every type here is a plain, gob-encodable struct; binary
// encoding is an external concern (see raft/transport) and any
// serializer preserving these field semantics is acceptable.
package raftpd

import (
	"encoding/gob"
	"fmt"
)

// ReplicaID is opaque to the core; it only needs to be comparable and
// globally unique within a cluster.
type ReplicaID string

// EntryType tags the three kinds of log entry spec.md's data model defines.
type EntryType int

const (
	EntryNop EntryType = iota
	EntryOp
	EntryConfig
)

var entryTypeString = [...]string{"Nop", "Op", "Config"}

func (t EntryType) String() string {
	if int(t) < len(entryTypeString) {
		return entryTypeString[t]
	}
	return fmt.Sprintf("EntryType(%d)", int(t))
}

// Entry is a single log record. Data carries the opaque client payload
// for EntryOp, or the gob-encoded Configuration for EntryConfig; it is
// unused for EntryNop.
type Entry struct {
	Index uint64
	Term  uint64
	Type  EntryType
	Data  []byte
}

func (e Entry) String() string {
	return fmt.Sprintf("Entry{idx:%d term:%d type:%v len(data):%d}",
		e.Index, e.Term, e.Type, len(e.Data))
}

// ConfigKind distinguishes steady-state from joint (transitional)
// configurations, per spec.md §3.
type ConfigKind int

const (
	ConfigSimple ConfigKind = iota
	ConfigJoint
)

// Configuration is the tagged variant spec.md §3 describes. For
// ConfigSimple, OldActive is unused. For ConfigJoint, Active and
// OldActive both matter: a quorum requires a majority of each.
type Configuration struct {
	Kind      ConfigKind
	OldActive []ReplicaID // only meaningful when Kind == ConfigJoint
	Active    []ReplicaID // "new_active" in the joint case
	Passive   []ReplicaID
}

func (c Configuration) String() string {
	if c.Kind == ConfigJoint {
		return fmt.Sprintf("Joint{old:%v new:%v passive:%v}", c.OldActive, c.Active, c.Passive)
	}
	return fmt.Sprintf("Simple{active:%v passive:%v}", c.Active, c.Passive)
}

// MessageType enumerates the Raft RPC surface of spec.md §4.3/§6.
type MessageType int

const (
	MsgRequestVote MessageType = iota
	MsgVoteResult
	MsgAppendEntries
	MsgAppendResult
)

var messageTypeString = [...]string{
	"RequestVote", "VoteResult", "AppendEntries", "AppendResult",
}

func (t MessageType) String() string {
	if int(t) < len(messageTypeString) {
		return messageTypeString[t]
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// AppendResultKind distinguishes the two payload shapes Append_result
// can carry, per spec.md §4.3.
type AppendResultKind int

const (
	AppendSuccess AppendResultKind = iota
	AppendFailure
)

// Message is the single wire envelope for all four RPC kinds. Only the
// fields relevant to MsgType are populated; the rest are zero.
type Message struct {
	MsgType MessageType
	From    ReplicaID
	To      ReplicaID
	Term    uint64

	// Request_vote
	LastLogIndex uint64
	LastLogTerm  uint64

	// Vote_result
	VoteGranted bool

	// Append_entries
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []Entry
	LeaderCommit uint64

	// Append_result
	ResultKind AppendResultKind
	// for AppendSuccess: last log index accepted.
	// for AppendFailure: prev_log_index the leader should rewind to.
	ResultIndex uint64

	// ReadCtx piggybacks a pending read-index confirmation on a heartbeat
	// round (SPEC_FULL §4 supplemented linearizable reads): set by the
	// leader on Append_entries, echoed back unchanged by the receiver on
	// Append_result so the leader can correlate the ack.
	ReadCtx []byte
}

func (m Message) String() string {
	return fmt.Sprintf("Message{%v from:%s to:%s term:%d}", m.MsgType, m.From, m.To, m.Term)
}

func init() {
	gob.Register(Entry{})
	gob.Register(Configuration{})
	gob.Register(Message{})
}
