// Package logstore implements catalog's segmented, append-only replicated
// log: immutable segments addressed by a monotonic log index, per-entry
// "clean" marks, and the minor/major compaction passes that reclaim
// space while preserving tombstone safety (§4.1–4.3 of the spec).
package logstore

import (
	"fmt"
	"sync"

	"github.com/atomix/catalog/pkg/types"
)

// Descriptor is a segment's identity and sizing envelope (§3, §6).
type Descriptor struct {
	ID         uint64
	Version    uint64
	BaseIndex  types.Index
	MaxSize    uint64
	MaxEntries uint32
	Locked     bool
}

// Segment is a contiguous, densely-offset-addressed run of log entries.
// A nil entry at an offset is a hole reserved by Skip. Segments are
// append-only until Lock is called; after that they are only ever
// replaced wholesale by compaction.
type Segment struct {
	mu      sync.RWMutex
	desc    Descriptor
	entries []types.Entry
	clean   []bool
	bytes   uint64
}

// NewSegment creates an empty, writable segment.
func NewSegment(desc Descriptor) *Segment {
	return &Segment{desc: desc}
}

// Descriptor returns a copy of the segment's current descriptor.
func (s *Segment) Descriptor() Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desc
}

// Offset returns the in-segment offset of index, or -1 if index predates
// this segment or has not been written/reserved yet.
func (s *Segment) Offset(index types.Index) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offsetLocked(index)
}

func (s *Segment) offsetLocked(index types.Index) int {
	if index < s.desc.BaseIndex {
		return -1
	}
	o := int(index - s.desc.BaseIndex)
	if o >= len(s.entries) {
		return -1
	}
	return o
}

// Append adds e to the next free offset. The caller must have already
// set e's index via types.SetHeader to base+len(entries); this is
// checked rather than inferred so misordered appends fail loudly.
func (s *Segment) Append(e types.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.desc.Locked {
		return fmt.Errorf("logstore: segment %d is locked", s.desc.ID)
	}
	want := s.desc.BaseIndex + types.Index(len(s.entries))
	if e.EntryHeader().Index != want {
		return fmt.Errorf("logstore: append index %d out of sequence, want %d", e.EntryHeader().Index, want)
	}
	s.entries = append(s.entries, e)
	s.clean = append(s.clean, false)
	s.bytes += entryApproxSize(e)
	return nil
}

// Skip reserves n offsets as holes without assigning entries.
func (s *Segment) Skip(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.desc.Locked {
		return fmt.Errorf("logstore: segment %d is locked", s.desc.ID)
	}
	for i := 0; i < n; i++ {
		s.entries = append(s.entries, nil)
		s.clean = append(s.clean, false)
	}
	return nil
}

// Get returns the entry at index, or (nil, false) if absent (a hole or
// out of range).
func (s *Segment) Get(index types.Index) (types.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o := s.offsetLocked(index)
	if o < 0 {
		return nil, false
	}
	e := s.entries[o]
	return e, e != nil
}

// Truncate removes every entry with index > index, shrinking this
// segment in place. It is a no-op if index is at or beyond the
// segment's last index.
func (s *Segment) Truncate(index types.Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keep := int(index-s.desc.BaseIndex) + 1
	if keep < 0 {
		keep = 0
	}
	if keep >= len(s.entries) {
		return
	}
	s.entries = s.entries[:keep]
	s.clean = s.clean[:keep]
	s.recomputeBytesLocked()
}

func (s *Segment) recomputeBytesLocked() {
	var total uint64
	for _, e := range s.entries {
		if e != nil {
			total += entryApproxSize(e)
		}
	}
	s.bytes = total
}

// Clean marks the offset owning index as clean. Returns false if the
// index has no entry.
func (s *Segment) Clean(index types.Index) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.offsetLocked(index)
	if o < 0 || s.entries[o] == nil {
		return false
	}
	s.clean[o] = true
	return true
}

// CleanPredicate captures a point-in-time snapshot of the clean bitmap.
// Compaction must call this before rewriting any entry, so that cleans
// which arrive mid-compaction do not affect the run in progress (§4.3
// step 1).
func (s *Segment) CleanPredicate() func(offset int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make([]bool, len(s.clean))
	copy(snap, s.clean)
	return func(offset int) bool {
		if offset < 0 || offset >= len(snap) {
			return false
		}
		return snap[offset]
	}
}

// Snapshot returns copies of the entries and clean bitmap for read-only
// iteration (used by compaction).
func (s *Segment) Snapshot() ([]types.Entry, []bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]types.Entry, len(s.entries))
	copy(entries, s.entries)
	clean := make([]bool, len(s.clean))
	copy(clean, s.clean)
	return entries, clean
}

// appendRaw appends an entry (or a hole, if e is nil) with an explicit
// clean flag, bypassing the sequencing check in Append. Used only by
// compaction, which rebuilds a segment's contents directly.
func (s *Segment) appendRaw(e types.Entry, cleaned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	s.clean = append(s.clean, cleaned)
	if e != nil {
		s.bytes += entryApproxSize(e)
	}
}

// Lock freezes the segment: no further Append/Skip calls will succeed.
func (s *Segment) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.desc.Locked = true
}

// FirstIndex returns the index of the first entry, or 0 if empty.
func (s *Segment) FirstIndex() types.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return 0
	}
	return s.desc.BaseIndex
}

// LastIndex returns the index of the last reserved offset (hole or not),
// or 0 if empty.
func (s *Segment) LastIndex() types.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return 0
	}
	return s.desc.BaseIndex + types.Index(len(s.entries)) - 1
}

// Len returns the number of offsets (entries + holes) reserved.
func (s *Segment) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Bytes returns the approximate size in bytes of all non-hole entries.
func (s *Segment) Bytes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

func entryApproxSize(e types.Entry) uint64 {
	b, err := EncodeEntry(e)
	if err != nil {
		return 0
	}
	return uint64(len(b))
}
