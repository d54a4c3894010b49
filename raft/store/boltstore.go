// Package store provides the durable persistence driver: current_term,
// voted_for, and the log suffix, backed by a single bbolt file. This is
// explicitly outside raft/core's purity guarantees — it is the "disk"
// half of the persist-before-send contract spec.md §5/§6 describes.
//
// Grounded on IvanObreshkov-aubg-cos-senior-project's
// internal/raft/storage/bbolt_storage.go and
// sushantsondhi-raft-col733/persistent/persistentstore.go, adapted from
// their int64-keyed kv log entries to raftpd.Entry and gob encoding via
// raft/internal/codec.
package store

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/mstorselius/raftcore/raft/internal/codec"
	"github.com/mstorselius/raftcore/raft/proto"
)

var (
	metaBucket    = []byte("meta")
	entriesBucket = []byte("entries")

	keyCurrentTerm = []byte("current_term")
	keyVotedFor    = []byte("voted_for")
	keyHasVoted    = []byte("has_voted")
	keyConfig      = []byte("config")
)

// Store persists one replica's hard state and log suffix across restarts.
type Store struct {
	db *bbolt.DB
}

// Open creates or reopens the bbolt file at path, ensuring both buckets
// exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveHardState persists current_term and voted_for, per spec.md §5's
// persist-before-send rule: the driver must call this before sending any
// message derived from the state it protects.
func (s *Store) SaveHardState(currentTerm uint64, votedFor raftpd.ReplicaID, hasVoted bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metaBucket)
		if err := b.Put(keyCurrentTerm, encodeUint64(currentTerm)); err != nil {
			return err
		}
		if err := b.Put(keyVotedFor, []byte(votedFor)); err != nil {
			return err
		}
		return b.Put(keyHasVoted, encodeBool(hasVoted))
	})
}

// SaveConfig persists the last-known configuration, so a restart can seed
// core.New / core.Restore without re-running membership discovery.
func (s *Store) SaveConfig(config raftpd.Configuration) error {
	data, err := codec.Marshal(config)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).Put(keyConfig, data)
	})
}

// AppendEntries stores entries, overwriting any existing entry at the
// same index — the caller (raft/driver) is responsible for truncating
// the in-memory log on conflict before calling this, but on-disk
// overwrite-by-key makes a redundant resend harmless.
func (s *Store) AppendEntries(entries []raftpd.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		for _, e := range entries {
			data, err := codec.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put(encodeUint64(e.Index), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// TrimSuffixFrom deletes every stored entry at index >= from, used when
// the in-memory log truncates a conflicting suffix (spec.md §4.2's
// append_many) or after a snapshot replaces the prefix.
func (s *Store) TrimSuffixFrom(from uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek(encodeUint64(from)); k != nil; k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte{}, k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// TrimPrefixBefore deletes every stored entry at index < upto, used after
// a snapshot compacts the log (spec.md §4.6's compact_log).
func (s *Store) TrimPrefixBefore(upto uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.First(); k != nil && decodeUint64(k) < upto; k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte{}, k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAll reads back everything persisted: hard state, configuration, and
// every stored entry in ascending index order, for feeding core.Restore
// at startup.
func (s *Store) LoadAll() (currentTerm uint64, votedFor raftpd.ReplicaID, hasVoted bool,
	config raftpd.Configuration, entries []raftpd.Entry, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if v := meta.Get(keyCurrentTerm); v != nil {
			currentTerm = decodeUint64(v)
		}
		if v := meta.Get(keyVotedFor); v != nil {
			votedFor = raftpd.ReplicaID(v)
		}
		if v := meta.Get(keyHasVoted); v != nil {
			hasVoted = decodeBool(v)
		}
		if v := meta.Get(keyConfig); v != nil {
			if err := codec.Unmarshal(v, &config); err != nil {
				return err
			}
		}

		entriesBkt := tx.Bucket(entriesBucket)
		return entriesBkt.ForEach(func(_, v []byte) error {
			var e raftpd.Entry
			if err := codec.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	return
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func encodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func decodeBool(b []byte) bool {
	return len(b) > 0 && b[0] == 1
}
