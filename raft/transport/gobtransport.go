package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mstorselius/raftcore/raft/internal/codec"
	"github.com/mstorselius/raftcore/raft/proto"
)

// SnapshotResult is the element type of SnapshotResults: a correlation id
// SendSnapshot returned, the peer, and the outcome. Transport itself never
// sends on SnapshotResults; SendSnapshot reports its outcome through its
// returned error.
type SnapshotResult struct {
	ID   string
	Peer raftpd.ReplicaID
	Err  error
}

// Transport is a gob-over-TCP driver for one replica: it accepts inbound
// connections from every peer and keeps one outbound connection per peer,
// redialing lazily on send failure. It has no knowledge of Raft terms or
// roles — it is purely a message pipe, matching the teacher's
// raft/transport.go Transport interface (Send(msg) error).
type Transport struct {
	self      raftpd.ReplicaID
	addresses map[raftpd.ReplicaID]string

	listener net.Listener

	mu    sync.Mutex
	conns map[raftpd.ReplicaID]net.Conn

	Messages        chan raftpd.Message
	SnapshotChunks  chan snapshotChunk
	SnapshotResults chan SnapshotResult

	closed chan struct{}
}

type snapshotChunk = snapshotFrame

// Listen starts accepting inbound connections on addr and returns a
// Transport ready to Send to the peers named in addresses (self excluded).
func Listen(self raftpd.ReplicaID, addr string, addresses map[raftpd.ReplicaID]string) (*Transport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	t := &Transport{
		self:            self,
		addresses:       addresses,
		listener:        ln,
		conns:           make(map[raftpd.ReplicaID]net.Conn),
		Messages:        make(chan raftpd.Message, 256),
		SnapshotChunks:  make(chan snapshotChunk, 16),
		SnapshotResults: make(chan SnapshotResult, 16),
		closed:          make(chan struct{}),
	}
	go t.acceptLoop()
	return t, nil
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				log.WithError(err).Warn("transport: accept failed")
				continue
			}
		}
		go t.readLoop(conn)
	}
}

func (t *Transport) readLoop(conn net.Conn) {
	defer conn.Close()
	for {
		kind, payload, err := readFrame(conn)
		if err != nil {
			return
		}
		switch kind {
		case frameMessage:
			var msg raftpd.Message
			if err := codec.Unmarshal(payload, &msg); err != nil {
				log.WithError(err).Warn("transport: drop malformed message frame")
				continue
			}
			t.Messages <- msg
		case frameSnapshot:
			var f snapshotFrame
			if err := codec.Unmarshal(payload, &f); err != nil {
				log.WithError(err).Warn("transport: drop malformed snapshot frame")
				continue
			}
			t.SnapshotChunks <- snapshotChunk(f)
		}
	}
}

// Send implements the teacher's Transport.Send(msg) error: best-effort,
// fire-and-forget. A failure here is exactly the PeerUnreachable signal
// spec.md's SUPPLEMENTED §4 hinting mechanism expects the driver to raise.
func (t *Transport) Send(msg raftpd.Message) error {
	conn, err := t.dial(msg.To)
	if err != nil {
		return err
	}
	if err := writeMessage(conn, msg); err != nil {
		t.dropConn(msg.To)
		return err
	}
	return nil
}

// SendSnapshot writes one snapshot frame to peer and returns a
// correlation id together with any dial or write error. A nil error means
// the frame was written to the connection, not that the peer installed it.
func (t *Transport) SendSnapshot(peer raftpd.ReplicaID, lastIndex, lastTerm uint64, config raftpd.Configuration, data []byte) (string, error) {
	id := uuid.NewString()
	conn, err := t.dial(peer)
	if err != nil {
		return id, err
	}
	f := snapshotFrame{ID: id, LastIndex: lastIndex, LastTerm: lastTerm, Config: config, Data: data}
	if err := writeSnapshot(conn, f); err != nil {
		t.dropConn(peer)
		return id, err
	}
	return id, nil
}

func (t *Transport) dial(peer raftpd.ReplicaID) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[peer]; ok {
		return conn, nil
	}
	addr, ok := t.addresses[peer]
	if !ok {
		return nil, fmt.Errorf("transport: unknown peer %s", peer)
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s (%s): %w", peer, addr, err)
	}
	t.conns[peer] = conn
	return conn, nil
}

func (t *Transport) dropConn(peer raftpd.ReplicaID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[peer]; ok {
		conn.Close()
		delete(t.conns, peer)
	}
}

// Close shuts down the listener and every outbound connection.
func (t *Transport) Close() error {
	close(t.closed)
	err := t.listener.Close()
	t.mu.Lock()
	defer t.mu.Unlock()
	for peer, conn := range t.conns {
		conn.Close()
		delete(t.conns, peer)
	}
	return err
}
