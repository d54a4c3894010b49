// Package log implements the log store of spec.md §4.2: an ordered,
// append-oriented sequence of entries keyed by a monotonically increasing
// index, with conflict-resolving append and prefix trimming for snapshots.
//
// Grounded on the teacher's raft/core/holder/log.go, stripped of the
// commit/apply/stable bookkeeping that package conflates with storage —
// that bookkeeping belongs to the replica state aggregate (raft/core),
// not the log store itself.
package log

import "github.com/mstorselius/raftcore/raft/proto"

// Log is an immutable-by-convention value: every operation returns a new
// Log rather than mutating the receiver, matching spec.md §5's "every
// transition returns a fresh state." Callers that commit to single-
// threaded use may still mutate entries in place for performance; nothing
// here assumes otherwise.
type Log struct {
	prevIndex uint64
	prevTerm  uint64
	entries   []raftpd.Entry // entries[i].Index == prevIndex+1+i, contiguous
}

// Empty returns the empty log whose virtual "prev" entry is
// (initIndex, initTerm) — the sentinel spec.md §3 calls "before the log."
func Empty(initIndex, initTerm uint64) Log {
	return Log{prevIndex: initIndex, prevTerm: initTerm}
}

// Restore rebuilds a log from a persisted entry slice plus the prev
// sentinel that preceded it (used by the driver on replica restart).
func Restore(prevIndex, prevTerm uint64, entries []raftpd.Entry) Log {
	out := make([]raftpd.Entry, len(entries))
	copy(out, entries)
	return Log{prevIndex: prevIndex, prevTerm: prevTerm, entries: out}
}

// Append assigns the entry the next index and appends it, returning both
// the new log and the stamped entry.
func (l Log) Append(term uint64, typ raftpd.EntryType, data []byte) (Log, raftpd.Entry) {
	entry := raftpd.Entry{
		Index: l.LastIndex() + 1,
		Term:  term,
		Type:  typ,
		Data:  data,
	}
	nl := l
	nl.entries = append(append([]raftpd.Entry{}, l.entries...), entry)
	return nl, entry
}

// LastIndex returns the index of the last stored entry, or PrevLogIndex
// when the log holds no entries beyond the sentinel.
func (l Log) LastIndex() uint64 {
	if len(l.entries) == 0 {
		return l.prevIndex
	}
	return l.entries[len(l.entries)-1].Index
}

// LastTerm returns the term of the last stored entry, or PrevLogTerm.
func (l Log) LastTerm() uint64 {
	if len(l.entries) == 0 {
		return l.prevTerm
	}
	return l.entries[len(l.entries)-1].Term
}

// Last returns (term, index) of the log's tail in one call.
func (l Log) Last() (term, index uint64) { return l.LastTerm(), l.LastIndex() }

// PrevLogIndex returns the index of the sentinel before the first
// physically stored entry. It advances only via TrimPrefix.
func (l Log) PrevLogIndex() uint64 { return l.prevIndex }

// PrevLogTerm returns the term of the sentinel before the first
// physically stored entry.
func (l Log) PrevLogTerm() uint64 { return l.prevTerm }

// GetTerm returns the term of the entry at idx. It is defined for
// idx == PrevLogIndex() (returns PrevLogTerm) and for every stored entry;
// ok is false otherwise.
func (l Log) GetTerm(idx uint64) (term uint64, ok bool) {
	if idx == l.prevIndex {
		return l.prevTerm, true
	}
	if idx < l.prevIndex || idx > l.LastIndex() {
		return 0, false
	}
	return l.entries[idx-l.prevIndex-1].Term, true
}

// GetRange returns the stored entries with index in
// [fromInclusive, toInclusive]. An empty or out-of-range request returns
// nil rather than erroring, per spec.md §4.2's conservative edge-case
// handling.
func (l Log) GetRange(fromInclusive, toInclusive uint64) []raftpd.Entry {
	if fromInclusive > toInclusive || toInclusive <= l.prevIndex || fromInclusive > l.LastIndex() {
		return nil
	}
	if fromInclusive <= l.prevIndex {
		fromInclusive = l.prevIndex + 1
	}
	if toInclusive > l.LastIndex() {
		toInclusive = l.LastIndex()
	}
	lo := fromInclusive - l.prevIndex - 1
	hi := toInclusive - l.prevIndex
	out := make([]raftpd.Entry, hi-lo)
	copy(out, l.entries[lo:hi])
	return out
}

// AppendMany merges an incoming entry batch, as spec.md §4.2 describes:
// an entry whose index already holds a same-term entry is left alone; an
// entry whose index holds a different-term entry causes truncation at
// (and including) that index before the incoming batch from there on is
// installed; an entry past the current tail simply extends the log.
//
// It returns the merged log and, when a conflict was detected, the index
// of the first one (so the caller can conf.Tracker.Drop(atOrAfter=idx)).
func (l Log) AppendMany(entries []raftpd.Entry) (merged Log, conflict uint64, hasConflict bool) {
	if len(entries) == 0 {
		return l, 0, false
	}

	merged = l
	for i, e := range entries {
		if e.Index <= merged.prevIndex {
			continue
		}
		existingTerm, ok := merged.GetTerm(e.Index)
		if ok && existingTerm == e.Term {
			continue // already present, preserve
		}
		if ok && existingTerm != e.Term {
			// conflict: truncate at e.Index (inclusive), install the rest.
			merged = merged.truncateAt(e.Index)
			merged.entries = append(merged.entries, entries[i:]...)
			return merged, e.Index, true
		}
		// e.Index > LastIndex(): extends the log.
		merged.entries = append(append([]raftpd.Entry{}, merged.entries...), e)
	}
	return merged, 0, false
}

// truncateAt drops every stored entry with index >= idx.
func (l Log) truncateAt(idx uint64) Log {
	nl := l
	if idx <= l.prevIndex {
		nl.entries = nil
		return nl
	}
	keep := idx - l.prevIndex - 1
	if keep > uint64(len(l.entries)) {
		keep = uint64(len(l.entries))
	}
	nl.entries = append([]raftpd.Entry{}, l.entries[:keep]...)
	return nl
}

// TrimPrefix discards every entry with index <= lastIndex; PrevLogIndex
// and PrevLogTerm advance to (lastIndex, lastTerm). Used after the driver
// has taken a snapshot covering that prefix.
func (l Log) TrimPrefix(lastIndex, lastTerm uint64) Log {
	if lastIndex >= l.LastIndex() {
		return Empty(lastIndex, lastTerm)
	}
	if lastIndex <= l.prevIndex {
		return l
	}
	drop := lastIndex - l.prevIndex
	nl := Log{prevIndex: lastIndex, prevTerm: lastTerm}
	nl.entries = append([]raftpd.Entry{}, l.entries[drop:]...)
	return nl
}

// IsUpToDate reports whether (term, index) is at least as up-to-date as
// this log's tail, lexicographically on (term, index), per spec.md §4.3's
// Request_vote rule.
func (l Log) IsUpToDate(term, index uint64) bool {
	myTerm, myIndex := l.Last()
	if term != myTerm {
		return term > myTerm
	}
	return index >= myIndex
}
