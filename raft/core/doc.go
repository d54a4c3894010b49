// Package core is the pure, deterministic Raft state machine: leader
// election, log replication, commit tracking, snapshot installation, and
// joint-consensus membership changes. Every exported operation has the
// shape func(State, input...) (State, []Action) — no goroutines, no
// locks, no clock, no network or disk access anywhere in this package.
// An outer driver owns all of that; see raft/driver.
//
// State is copied by value on every call. Callers that want to inspect
// state between transitions (e.g. in tests) can do so freely since
// nothing here mutates a State a caller still holds a reference to,
// aside from the *peer.Progress pointers inside State.Peers, which a
// transition replaces with fresh copies (via clonePeers) rather than
// mutating in place whenever it changes one.
package core
