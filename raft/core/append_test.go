package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstorselius/raftcore/raft/proto"
)

func TestHandleAppendEntries_RejectsOnLogGap(t *testing.T) {
	b := New("B", simpleConfig("A", "B"))
	b.CurrentTerm = 1

	msg := raftpd.Message{
		MsgType: raftpd.MsgAppendEntries, From: "A", Term: 1,
		PrevLogIndex: 5, PrevLogTerm: 1,
	}

	nb, actions := HandleMessage(b, msg)

	reply, ok := findAction(actions, ActionSend)
	require.True(t, ok)
	assert.Equal(t, raftpd.AppendFailure, reply.Message.ResultKind)
	assert.Equal(t, uint64(0), reply.Message.ResultIndex)
	assert.Equal(t, b.Log, nb.Log)
}

func TestHandleAppendEntries_RejectsOnTermMismatch(t *testing.T) {
	b := New("B", simpleConfig("A", "B"))
	b.CurrentTerm = 2
	b.Log, _ = b.Log.Append(1, raftpd.EntryOp, nil)

	msg := raftpd.Message{
		MsgType: raftpd.MsgAppendEntries, From: "A", Term: 2,
		PrevLogIndex: 1, PrevLogTerm: 2, // B actually has term 1 at index 1
	}

	_, actions := HandleMessage(b, msg)

	reply, ok := findAction(actions, ActionSend)
	require.True(t, ok)
	assert.Equal(t, raftpd.AppendFailure, reply.Message.ResultKind)
	assert.Equal(t, uint64(1), reply.Message.ResultIndex)
}

func TestHandleAppendEntries_SnapshotBoundary(t *testing.T) {
	b := New("B", simpleConfig("A", "B"))
	b.CurrentTerm = 1
	b.Log = b.Log.TrimPrefix(5, 1) // PrevLogIndex=5 now, nothing stored locally

	msg := raftpd.Message{
		MsgType: raftpd.MsgAppendEntries, From: "A", Term: 1,
		PrevLogIndex: 3, PrevLogTerm: 1,
		Entries: []raftpd.Entry{
			{Index: 4, Term: 1},
			{Index: 5, Term: 1},
			{Index: 6, Term: 1, Type: raftpd.EntryOp, Data: []byte("x")},
		},
		LeaderCommit: 6,
	}

	nb, actions := HandleMessage(b, msg)

	success, ok := findAction(actions, ActionSend)
	require.True(t, ok)
	assert.Equal(t, raftpd.AppendSuccess, success.Message.ResultKind)
	assert.Equal(t, uint64(6), success.Message.ResultIndex)
	assert.Equal(t, uint64(6), nb.Log.LastIndex())
}

func TestHandleAppendResult_IgnoredIfNotLeader(t *testing.T) {
	a := New("A", simpleConfig("A", "B"))
	a.CurrentTerm = 1

	na, actions := HandleMessage(a, raftpd.Message{
		MsgType: raftpd.MsgAppendResult, From: "B", Term: 1,
		ResultKind: raftpd.AppendSuccess, ResultIndex: 3,
	})

	assert.Equal(t, a, na)
	assert.Empty(t, actions)
}

func TestHandleAppendResult_FailureTriggersRewindAndResend(t *testing.T) {
	a := New("A", simpleConfig("A", "B", "C"))
	a, _ = becomeLeader(a)

	na, actions := HandleMessage(a, raftpd.Message{
		MsgType: raftpd.MsgAppendResult, From: "B", Term: a.CurrentTerm,
		ResultKind: raftpd.AppendFailure, ResultIndex: 0,
	})

	resend, ok := findAction(actions, ActionSend)
	require.True(t, ok)
	assert.Equal(t, raftpd.MsgAppendEntries, resend.Message.MsgType)
	assert.Equal(t, uint64(1), na.Peers["B"].NextIndex)
}
