// Package peer tracks, from a leader's perspective, what each other
// replica is believed to have: the next_index/match_index pair spec.md
// §3 requires, plus the probe/replicate/snapshot pacing state the
// teacher's raft/core/peer package layers on top (SPEC_FULL §4,
// "Probe/Replicate/Snapshot per-peer progress state machine").
package peer

import "github.com/mstorselius/raftcore/raft/proto"

// State is the pacing mode used to decide how eagerly to pipeline
// entries to this peer.
type State int

const (
	// StateProbe sends at most one append per heartbeat and waits for an
	// acknowledgment before advancing — used while the peer's true match
	// point is unknown.
	StateProbe State = iota
	// StateReplicate optimistically pipelines sends once the peer has
	// confirmed a matching prefix.
	StateReplicate
	// StateSnapshot means a snapshot transfer is outstanding; no
	// replication messages are sent until it resolves.
	StateSnapshot
)

func (s State) String() string {
	switch s {
	case StateProbe:
		return "Probe"
	case StateReplicate:
		return "Replicate"
	case StateSnapshot:
		return "Snapshot"
	default:
		return "State(?)"
	}
}

const inFlightWindow = 10

// Progress is a leader's view of one peer's replication state.
type Progress struct {
	ID raftpd.ReplicaID

	NextIndex  uint64
	MatchIndex uint64

	state  State
	paused bool

	pendingSnapshot uint64

	inflight inFlights
}

// New creates progress for a peer the leader has never heard from,
// seeded with the next index to offer it.
func New(id raftpd.ReplicaID, nextIndex uint64) *Progress {
	return &Progress{
		ID:        id,
		NextIndex: nextIndex,
		state:     StateProbe,
		inflight:  newInFlights(inFlightWindow),
	}
}

// IsPaused reports whether the leader should skip sending to this peer on
// the current heartbeat/append round.
func (p *Progress) IsPaused() bool {
	switch p.state {
	case StateProbe:
		return p.paused
	case StateReplicate:
		return p.inflight.full()
	case StateSnapshot:
		return true
	default:
		return false
	}
}

// RecordSend notes that entries up to lastIndex were just sent, advancing
// the optimistic pipeline in Replicate state and pausing Probe state
// until the next acknowledgment.
func (p *Progress) RecordSend(lastIndex uint64, sentEntries bool) {
	switch p.state {
	case StateProbe:
		if sentEntries {
			p.paused = true
		}
	case StateReplicate:
		if sentEntries {
			p.NextIndex = lastIndex + 1
			p.inflight.add(lastIndex)
		}
	}
}

// HandleAppendSuccess applies the Append_success(last_idx) rule of
// spec.md §4.3: next_index <- max(next_index, last_idx+1), match_index
// <- max(match_index, last_idx). It additionally drives the
// probe->replicate pacing transition.
func (p *Progress) HandleAppendSuccess(lastIdx uint64) {
	if lastIdx+1 > p.NextIndex {
		p.NextIndex = lastIdx + 1
	}
	if lastIdx > p.MatchIndex {
		p.MatchIndex = lastIdx
	}
	switch p.state {
	case StateProbe:
		p.paused = false
		p.becomeReplicate()
	case StateReplicate:
		p.inflight.freeTo(lastIdx)
	case StateSnapshot:
		p.becomeReplicate()
	}
}

// HandleAppendFailure applies the Append_failure(prev_log_index) rule of
// spec.md §4.3: next_index <- min(next_index, prev_log_index). It resets
// pacing to Probe so the leader re-probes before pipelining again.
func (p *Progress) HandleAppendFailure(prevLogIndex uint64) {
	if prevLogIndex < p.NextIndex {
		p.NextIndex = prevLogIndex
	}
	if p.NextIndex == 0 {
		p.NextIndex = 1
	}
	p.becomeProbe()
}

// HandleUnreachable resets pacing when the transport reports a send could
// not be delivered, so the next heartbeat retries cleanly instead of
// waiting out a protocol-level timeout (SPEC_FULL §4).
func (p *Progress) HandleUnreachable() {
	switch p.state {
	case StateReplicate:
		p.NextIndex = p.MatchIndex + 1
		p.becomeProbe()
	case StateProbe:
		p.paused = false
	case StateSnapshot:
		p.becomeProbe()
		p.NextIndex = p.pendingSnapshot
	}
}

// BeginSnapshot transitions to StateSnapshot, pausing replication sends
// until SnapshotDone/SnapshotFailed resolves it.
func (p *Progress) BeginSnapshot(lastIndex uint64) {
	p.pendingSnapshot = lastIndex
	p.state = StateSnapshot
}

// SnapshotDone resolves a completed snapshot transfer, advancing
// match/next and returning to Probe pacing (spec.md §4.6 snapshot_sent).
func (p *Progress) SnapshotDone(lastIndex uint64) {
	if lastIndex > p.MatchIndex {
		p.MatchIndex = lastIndex
	}
	if lastIndex+1 > p.NextIndex {
		p.NextIndex = lastIndex + 1
	}
	p.becomeProbe()
}

// SnapshotFailed resolves a failed snapshot transfer without advancing
// anything; the next heartbeat retries (spec.md §4.6 snapshot_send_failed).
func (p *Progress) SnapshotFailed() {
	p.becomeProbe()
}

// InSnapshotTransfer reports whether a snapshot transfer to this peer is
// outstanding.
func (p *Progress) InSnapshotTransfer() bool { return p.state == StateSnapshot }

// Reset reseeds progress for a freshly elected leader, per spec.md §4.3's
// Vote_result handling: next_index set to the post-election log tail,
// match_index to zero, pacing back to Probe.
func (p *Progress) Reset(nextIndex uint64) {
	p.NextIndex = nextIndex
	p.MatchIndex = 0
	p.becomeProbe()
}

func (p *Progress) becomeProbe() {
	p.state = StateProbe
	p.paused = false
}

func (p *Progress) becomeReplicate() {
	p.state = StateReplicate
	p.inflight.reset()
}
