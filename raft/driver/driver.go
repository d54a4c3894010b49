// Package driver is the reference glue binding raft/core's pure state
// machine to raft/store's durable persistence and raft/transport's wire
// transport, plus the timers the core itself never owns (spec.md §2.1's
// "no built-in clock").
//
// Grounded on the teacher's raft/raft.go Raft struct: one mutex guarding
// the replica, a periodic timer service, an Application callback
// interface, and a handleRaftReady-style pass over the actions a
// transition produces — persist first, then send, then apply, exactly
// the teacher's save-then-sync-then-callback ordering.
package driver

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/mstorselius/raftcore/raft/core"
	"github.com/mstorselius/raftcore/raft/internal/codec"
	"github.com/mstorselius/raftcore/raft/proto"
	"github.com/mstorselius/raftcore/raft/store"
)

// Application is the state machine callback interface, mirroring the
// teacher's Application (ApplyEntry/ReadStateNotice/ApplySnapshot/
// ReadSnapshot) adapted to the core's Action vocabulary.
type Application interface {
	Apply(op core.AppliedOp)
	ReadIndexReady(index uint64, context []byte)
	ConfigChanged(config raftpd.Configuration)
	Redirect(leaderID raftpd.ReplicaID, hasLeader bool, op []byte)

	// Snapshot returns the application's own state as of lastIndex,
	// together with the term that entry was committed in, for a leader
	// that must fall back to ActionSendSnapshot.
	Snapshot(lastIndex uint64) (data []byte, lastTerm uint64, err error)

	// ApplySnapshot installs an application snapshot a follower received
	// via install_snapshot, replacing whatever state it held below index.
	ApplySnapshot(lastIndex uint64, data []byte)
}

// Transport is the narrow send surface the driver needs; raft/transport's
// *Transport satisfies it, and tests use a fake.
type Transport interface {
	Send(msg raftpd.Message) error
	SendSnapshot(peer raftpd.ReplicaID, lastIndex, lastTerm uint64, config raftpd.Configuration, data []byte) (string, error)
}

// InboundSnapshot is one received snapshot transfer, matching
// raft/transport's snapshotFrame shape closely enough that a caller can
// translate directly from a Transport.SnapshotChunks read.
type InboundSnapshot struct {
	From      raftpd.ReplicaID
	LastIndex uint64
	LastTerm  uint64
	Config    raftpd.Configuration
	Data      []byte
}

// Driver runs one replica: it owns the mutex-protected core.State, the
// durable store, the transport, and the election/heartbeat timers.
type Driver struct {
	mu sync.Mutex

	state State
	store *store.Store
	app   Application
	trans Transport

	electionTimeout  time.Duration
	heartbeatTimeout time.Duration

	electionTimer  *time.Timer
	heartbeatTimer *time.Timer

	stopped bool
}

// State is an alias for core.State so callers outside this package never
// need to import raft/core directly just to hold a Driver.
type State = core.State

// Open restores a replica from its store (or bootstraps one, if the store
// is empty) and starts its timers. The caller is responsible for pumping
// inbound messages from a Transport into Driver.Step.
func Open(id raftpd.ReplicaID, initial raftpd.Configuration, storePath string,
	trans Transport, app Application, electionTimeout, heartbeatTimeout time.Duration) (*Driver, error) {

	st, err := store.Open(storePath)
	if err != nil {
		return nil, err
	}

	term, votedFor, hasVoted, config, entries, err := st.LoadAll()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("driver: load persisted state: %w", err)
	}

	var s core.State
	if len(entries) == 0 && config.Active == nil {
		// No log or configuration yet: bootstrap from initial, but keep any
		// term and vote already recorded (e.g. after a lost election).
		s = core.Restore(id, term, votedFor, hasVoted, 0, 0, nil, initial)
	} else {
		// core.Restore does not itself replay Config entries (see its doc
		// comment) — the driver must fold the persisted snapshot-boundary
		// config forward through any Config entry still in the recovered
		// suffix before handing the result to Restore.
		effective := replayConfig(config, entries)
		prevIndex, prevTerm := uint64(0), uint64(0)
		if len(entries) > 0 {
			prevIndex, prevTerm = entries[0].Index-1, 0
		}
		s = core.Restore(id, term, votedFor, hasVoted, prevIndex, prevTerm, entries, effective)
	}

	d := &Driver{
		state:            s,
		store:            st,
		app:              app,
		trans:            trans,
		electionTimeout:  electionTimeout,
		heartbeatTimeout: heartbeatTimeout,
	}
	d.electionTimer = time.AfterFunc(jitter(electionTimeout), d.onElectionTimeout)
	return d, nil
}

// replayConfig folds the latest EntryConfig payload in entries, if any,
// over base, matching the "config (or from the last snapshot)" recovery
// path core.Restore's doc comment describes.
func replayConfig(base raftpd.Configuration, entries []raftpd.Entry) raftpd.Configuration {
	cfg := base
	for _, e := range entries {
		if e.Type != raftpd.EntryConfig {
			continue
		}
		var c raftpd.Configuration
		if err := codec.Unmarshal(e.Data, &c); err != nil {
			log.WithError(err).Warn("driver: skip malformed config entry on restore")
			continue
		}
		cfg = c
	}
	return cfg
}

// jitter spreads election timeouts per spec.md §4.5's note that a fixed
// timeout invites split votes; grounded on the same randomized-timeout
// idiom the teacher's ElectionTick config comment describes.
func jitter(base time.Duration) time.Duration {
	return base + time.Duration(time.Now().UnixNano()%int64(base))
}

func (d *Driver) onElectionTimeout() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	ns, actions := core.ElectionTimeout(d.state)
	d.commit(ns, actions)
}

func (d *Driver) onHeartbeatTimeout() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	ns, actions := core.HeartbeatTimeout(d.state)
	d.commit(ns, actions)
}

// Step feeds one inbound message through the core, the driver's single
// entry point for network input.
func (d *Driver) Step(msg raftpd.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	ns, actions := core.HandleMessage(d.state, msg)
	d.commit(ns, actions)
}

// Propose submits a client command; see core.ClientCommand.
func (d *Driver) Propose(op []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	ns, actions := core.ClientCommand(d.state, op)
	d.commit(ns, actions)
}

// ReadIndex requests a linearizable read; see core.ReadIndex.
func (d *Driver) ReadIndex(context []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	ns, actions := core.ReadIndex(d.state, context)
	d.commit(ns, actions)
}

// ChangeConfig proposes a membership change; see core.ChangeConfig.
func (d *Driver) ChangeConfig(active, passive []raftpd.ReplicaID, hasPassive bool) core.ChangeConfigOutcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return core.ChangeRedirect
	}
	ns, outcome, actions := core.ChangeConfig(d.state, active, passive, hasPassive)
	d.commit(ns, actions)
	return outcome
}

// HandleSnapshot installs a received snapshot transfer: the application
// payload first (so ApplySnapshot sees a state machine still matching the
// metadata about to replace the log prefix), then the core's bookkeeping.
func (d *Driver) HandleSnapshot(in InboundSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	ns, ok, actions := core.InstallSnapshot(d.state, in.LastTerm, in.LastIndex, in.Config)
	if !ok {
		return
	}
	d.app.ApplySnapshot(in.LastIndex, in.Data)
	d.commit(ns, actions)
}

// Unreachable reports a transport-level send failure for peer, letting
// the per-peer progress tracker reset to probe state (SPEC_FULL §4's
// supplemented unreachable-peer hinting).
func (d *Driver) Unreachable(peer raftpd.ReplicaID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	ns, actions := core.PeerUnreachable(d.state, peer)
	d.commit(ns, actions)
}

// Stop halts the timers and closes the store. It does not close the
// transport, which the caller may share across replicas in a test.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil
	}
	d.stopped = true
	if d.electionTimer != nil {
		d.electionTimer.Stop()
	}
	if d.heartbeatTimer != nil {
		d.heartbeatTimer.Stop()
	}
	return d.store.Close()
}

// commit implements the persist-before-send discipline of spec.md §5/§6:
// durably record the new hard state and any freshly appended log suffix
// before executing a single action in the returned list, exactly the
// teacher's handleRaftReady ordering (wal.save + wal.sync before
// transport.Send).
func (d *Driver) commit(ns core.State, actions []core.Action) {
	prev := d.state
	d.state = ns

	if err := d.persist(prev, ns); err != nil {
		log.WithError(err).WithField("replica", string(ns.ID)).Error("driver: persist failed")
		return
	}

	d.rearmTimers(prev, ns)

	for _, a := range actions {
		d.apply(a)
	}
}

// persist diffs the log raft/core just produced against the log it
// replaced (always exactly what is already on disk, by this function's
// own invariant) rather than trusting a separately tracked watermark, so
// a mid-log conflict rewrite that happens not to change LastIndex is
// still caught.
func (d *Driver) persist(prev, ns core.State) error {
	var errs error
	if prev.CurrentTerm != ns.CurrentTerm || prev.VotedFor != ns.VotedFor || prev.HasVoted != ns.HasVoted {
		if err := d.store.SaveHardState(ns.CurrentTerm, ns.VotedFor, ns.HasVoted); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if ns.Log.PrevLogIndex() > prev.Log.PrevLogIndex() {
		// install_snapshot moved the compaction boundary forward; whatever
		// survived the trim is, by construction, already on disk under its
		// original index.
		if err := d.store.TrimPrefixBefore(ns.Log.PrevLogIndex()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	conflictAt := d.findConflict(prev, ns)
	if conflictAt > 0 {
		if err := d.store.TrimSuffixFrom(conflictAt); err != nil {
			errs = multierr.Append(errs, err)
		}
		if entries := ns.Log.GetRange(conflictAt, ns.Log.LastIndex()); len(entries) > 0 {
			if err := d.store.AppendEntries(entries); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	} else if ns.Log.LastIndex() < prev.Log.LastIndex() {
		if err := d.store.TrimSuffixFrom(ns.Log.LastIndex() + 1); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// findConflict returns the lowest index from which ns's log diverges from
// prev's (and so must be rewritten), or 0 if ns is just prev with entries
// appended to the tail (or unchanged).
func (d *Driver) findConflict(prev, ns core.State) uint64 {
	from := prev.Log.PrevLogIndex()
	if ns.Log.PrevLogIndex() > from {
		from = ns.Log.PrevLogIndex()
	}
	upto := prev.Log.LastIndex()
	if ns.Log.LastIndex() < upto {
		upto = ns.Log.LastIndex()
	}
	for idx := from + 1; idx <= upto; idx++ {
		pt, _ := prev.Log.GetTerm(idx)
		nt, _ := ns.Log.GetTerm(idx)
		if pt != nt {
			return idx
		}
	}
	if ns.Log.LastIndex() > prev.Log.LastIndex() {
		return prev.Log.LastIndex() + 1
	}
	return 0
}

func (d *Driver) rearmTimers(prev, ns core.State) {
	if ns.Role != core.Leader && prev.Role == core.Leader && d.heartbeatTimer != nil {
		d.heartbeatTimer.Stop()
		d.heartbeatTimer = nil
	}
	if ns.Role == core.Leader && d.heartbeatTimer == nil {
		d.heartbeatTimer = time.AfterFunc(d.heartbeatTimeout, d.onHeartbeatTimeout)
	}
}

func (d *Driver) apply(a core.Action) {
	switch a.Kind {
	case core.ActionSend:
		if err := d.trans.Send(a.Message); err != nil {
			log.WithError(err).WithField("peer", string(a.Peer)).Debug("driver: send failed")
			d.unreachableLocked(a.Peer)
		}
	case core.ActionSendSnapshot:
		d.sendSnapshot(a)
	case core.ActionApply:
		for _, op := range a.Applied {
			d.app.Apply(op)
		}
	case core.ActionChangedConfig:
		d.app.ConfigChanged(d.state.Config.Current())
		d.store.SaveConfig(d.state.Config.Current())
	case core.ActionRedirect:
		d.app.Redirect(a.LeaderID, a.HasLeaderID, a.RedirectOp)
	case core.ActionReadIndexReady:
		d.app.ReadIndexReady(a.ReadIndex, a.ReadContext)
	case core.ActionResetElectionTimeout:
		if d.electionTimer != nil {
			d.electionTimer.Reset(jitter(d.electionTimeout))
		}
	case core.ActionResetHeartbeat:
		// Heartbeat cadence is armed/disarmed in rearmTimers on role
		// change; a mid-term reset just restarts the existing ticker.
		if d.heartbeatTimer != nil {
			d.heartbeatTimer.Reset(d.heartbeatTimeout)
		}
	case core.ActionBecomeCandidate, core.ActionBecomeFollower, core.ActionBecomeLeader:
		if d.electionTimer != nil {
			d.electionTimer.Reset(jitter(d.electionTimeout))
		}
	case core.ActionStop:
		go d.Stop()
	}
}

// sendSnapshot resolves an ActionSendSnapshot: it asks the application for
// a snapshot covering FromIndex onward, ships it over the transport, and
// feeds the outcome straight back through SnapshotSent/SnapshotSendFailed
// so the peer's progress tracker leaves snapshot-transfer state without
// waiting for a separate driver tick.
func (d *Driver) sendSnapshot(a core.Action) {
	lastIndex := d.state.Log.LastIndex()
	data, lastTerm, err := d.app.Snapshot(lastIndex)
	if err != nil {
		log.WithError(err).WithField("peer", string(a.Peer)).Warn("driver: application snapshot failed")
		ns, actions := core.SnapshotSendFailed(d.state, a.Peer)
		d.state = ns
		for _, act := range actions {
			d.apply(act)
		}
		return
	}

	if _, err := d.trans.SendSnapshot(a.Peer, lastIndex, lastTerm, a.Config, data); err != nil {
		log.WithError(err).WithField("peer", string(a.Peer)).Debug("driver: snapshot send failed")
		ns, actions := core.SnapshotSendFailed(d.state, a.Peer)
		d.state = ns
		for _, act := range actions {
			d.apply(act)
		}
		return
	}

	ns, actions := core.SnapshotSent(d.state, a.Peer, lastIndex)
	d.state = ns
	for _, act := range actions {
		d.apply(act)
	}
}

// unreachableLocked resets a peer's progress after a failed Send, without
// re-acquiring d.mu (the caller already holds it via commit/apply). It
// updates d.state directly rather than through commit, since it runs from
// inside apply's own action loop (called mid-commit, on the state commit
// already installed).
func (d *Driver) unreachableLocked(peer raftpd.ReplicaID) {
	ns, actions := core.PeerUnreachable(d.state, peer)
	d.state = ns
	for _, a := range actions {
		d.apply(a)
	}
}
