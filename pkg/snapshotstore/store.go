// Package snapshotstore persists chunked state-machine snapshots,
// addressable by state-machine id, log index, and chunk number (§6:
// "Snapshot store ... chunked state-machine snapshots addressable by
// state-machine identifier and index"). It is backed by bbolt, following
// Warren's bucket-per-entity storage pattern in pkg/storage.
package snapshotstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta   = []byte("snapshot_meta")
	bucketChunks = []byte("snapshot_chunks")
)

// Meta is the snapshot header persisted alongside its chunks (§6:
// "header (id, index, timestamp, locked)"). A snapshot without Locked
// set is incomplete and is discarded on open, since it may have been
// interrupted mid-write.
type Meta struct {
	ID        string    `json:"id"`
	Index     uint64    `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Locked    bool      `json:"locked"`
	Chunks    int       `json:"chunks"`
}

// Store is a bbolt-backed chunked snapshot store.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the snapshot database at path, then
// discards any unlocked snapshot left behind by a prior crash mid-write.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketChunks); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshotstore: init buckets: %w", err)
	}
	s := &Store{db: db}
	if err := s.discardUnlocked(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func metaKey(id string, index uint64) []byte {
	return []byte(fmt.Sprintf("%s/%020d", id, index))
}

func chunkKey(id string, index uint64, chunk int) []byte {
	buf := make([]byte, 0, len(id)+1+8+4)
	buf = append(buf, []byte(id)...)
	buf = append(buf, '/')
	var idxBuf [8]byte
	binary.BigEndian.PutUint64(idxBuf[:], index)
	buf = append(buf, idxBuf[:]...)
	var chunkBuf [4]byte
	binary.BigEndian.PutUint32(chunkBuf[:], uint32(chunk))
	return append(buf, chunkBuf[:]...)
}

// Begin starts a new snapshot for the given state machine id and index.
// The caller writes chunks via WriteChunk and finishes with Commit; if
// the process crashes before Commit, the partial snapshot is discarded
// on the next Open.
func (s *Store) Begin(id string, index uint64) error {
	meta := Meta{ID: id, Index: index, Timestamp: time.Now(), Locked: false}
	return s.putMeta(meta)
}

// WriteChunk stores one chunk of opaque state-machine bytes for an
// in-progress (unlocked) snapshot.
func (s *Store) WriteChunk(id string, index uint64, chunk int, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		cp := make([]byte, len(data))
		copy(cp, data)
		return b.Put(chunkKey(id, index, chunk), cp)
	})
}

// Commit marks a snapshot complete and locked, recording its chunk
// count. Unlocked snapshots are invisible to readers and deleted on the
// next Open (§5 shared-resource policy: "only completed (locked)
// snapshots are visible to readers").
func (s *Store) Commit(id string, index uint64, chunks int) error {
	meta, ok, err := s.getMeta(id, index)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("snapshotstore: commit: no snapshot %s@%d in progress", id, index)
	}
	meta.Locked = true
	meta.Chunks = chunks
	meta.Timestamp = time.Now()
	return s.putMeta(meta)
}

func (s *Store) putMeta(m Meta) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("snapshotstore: encode meta: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(metaKey(m.ID, m.Index), raw)
	})
}

func (s *Store) getMeta(id string, index uint64) (Meta, bool, error) {
	var meta Meta
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(metaKey(id, index))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &meta)
	})
	if err != nil {
		return Meta{}, false, fmt.Errorf("snapshotstore: decode meta: %w", err)
	}
	return meta, found, nil
}

// Latest returns the most recent locked snapshot's metadata for id, if any.
func (s *Store) Latest(id string) (Meta, bool, error) {
	var best Meta
	var found bool
	prefix := []byte(id + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMeta).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var m Meta
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.Locked && (!found || m.Index > best.Index) {
				best = m
				found = true
			}
		}
		return nil
	})
	if err != nil {
		return Meta{}, false, fmt.Errorf("snapshotstore: scan latest: %w", err)
	}
	return best, found, nil
}

// ReadChunk returns one chunk of a committed snapshot.
func (s *Store) ReadChunk(id string, index uint64, chunk int) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketChunks).Get(chunkKey(id, index, chunk))
		if raw == nil {
			return fmt.Errorf("snapshotstore: chunk %s@%d#%d not found", id, index, chunk)
		}
		data = append([]byte(nil), raw...)
		return nil
	})
	return data, err
}

// Delete removes a snapshot's metadata and all of its chunks.
func (s *Store) Delete(id string, index uint64) error {
	meta, ok, err := s.getMeta(id, index)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketMeta).Delete(metaKey(id, index)); err != nil {
			return err
		}
		chunks := tx.Bucket(bucketChunks)
		n := 0
		if ok {
			n = meta.Chunks
		}
		for i := 0; i < n; i++ {
			if err := chunks.Delete(chunkKey(id, index, i)); err != nil {
				return err
			}
		}
		return nil
	})
}

// discardUnlocked deletes every snapshot left incomplete by a prior
// crash, per §6's "snapshots without a set locked flag are deleted on
// open".
func (s *Store) discardUnlocked() error {
	var stale []Meta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			var m Meta
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if !m.Locked {
				stale = append(stale, m)
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("snapshotstore: scan unlocked: %w", err)
	}
	for _, m := range stale {
		if err := s.Delete(m.ID, m.Index); err != nil {
			return fmt.Errorf("snapshotstore: discard %s@%d: %w", m.ID, m.Index, err)
		}
	}
	return nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
