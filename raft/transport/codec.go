// Package transport is the reference network driver: plain net.Conn
// streams carrying length-prefixed gob frames, per spec.md §6's own
// suggestion ("length-prefixed tagged-union encoding") and the teacher's
// Transport interface shape (raft/transport.go: Send(msg) error).
package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mstorselius/raftcore/raft/internal/codec"
	"github.com/mstorselius/raftcore/raft/proto"
)

// frameKind tags the two payload shapes multiplexed on one connection:
// ordinary Raft messages, and the out-of-band snapshot transfer the core
// only references by lastIndex/lastTerm (spec.md §4.6 deliberately leaves
// the transfer mechanism external).
type frameKind uint8

const (
	frameMessage frameKind = iota
	frameSnapshot
)

// snapshotFrame is the wire envelope for a snapshot transfer. id
// correlates the transfer with the SnapshotSent/SnapshotSendFailed core
// inputs the driver raises once the transfer resolves.
type snapshotFrame struct {
	ID        string
	LastIndex uint64
	LastTerm  uint64
	Config    raftpd.Configuration
	Data      []byte
}

const maxFrameSize = 64 << 20 // 64MiB, generous for a snapshot chunk

func writeFrame(w io.Writer, kind frameKind, payload []byte) error {
	header := make([]byte, 5)
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("transport: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) (frameKind, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	kind := frameKind(header[0])
	size := binary.BigEndian.Uint32(header[1:])
	if size > maxFrameSize {
		return 0, nil, fmt.Errorf("transport: frame size %d exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("transport: read frame body: %w", err)
	}
	return kind, payload, nil
}

func writeMessage(w io.Writer, msg raftpd.Message) error {
	data, err := codec.Marshal(msg)
	if err != nil {
		return err
	}
	return writeFrame(w, frameMessage, data)
}

func writeSnapshot(w io.Writer, f snapshotFrame) error {
	data, err := codec.Marshal(f)
	if err != nil {
		return err
	}
	return writeFrame(w, frameSnapshot, data)
}
