package logstore

import (
	"fmt"

	"github.com/atomix/catalog/pkg/types"
)

// MinorCompact rewrites one segment in place (§4.2): a replacement
// segment is built with the same id and base index at version+1,
// dropping any offset that is cleaned and (not a tombstone, or at/below
// majorCompactIndex). Cleaned offsets that are retained keep their clean
// bit in the replacement so replay still skips them.
func (l *Log) MinorCompact(segmentID uint64, majorCompactIndex types.Index) error {
	l.mu.Lock()
	target, ok := l.segmentByID(segmentID)
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("logstore: minor compact: segment %d not found", segmentID)
	}

	predicate := target.CleanPredicate()
	entries, _ := target.Snapshot()
	desc := target.Descriptor()

	replacement := NewSegment(Descriptor{
		ID:         desc.ID,
		Version:    desc.Version + 1,
		BaseIndex:  desc.BaseIndex,
		MaxSize:    desc.MaxSize,
		MaxEntries: desc.MaxEntries,
	})

	for offset, e := range entries {
		if e == nil {
			replacement.appendRaw(nil, false)
			continue
		}
		idx := desc.BaseIndex + types.Index(offset)
		cleaned := predicate(offset)
		drop := cleaned && (!e.IsTombstone() || idx <= majorCompactIndex)
		if drop {
			replacement.appendRaw(nil, false)
			continue
		}
		replacement.appendRaw(e, cleaned)
	}

	replacement.Lock()
	return l.ReplaceSegments([]uint64{segmentID}, replacement)
}

// MajorCompact merges a contiguous, ascending run of segments (groupIDs)
// into a single replacement segment, discarding snapshotted entries and
// safely-cleaned non-tombstones while retaining every tombstone whose
// index is still above majorCompactIndex (§4.3). Clean predicates for
// every segment in the group are snapshotted before any entry is
// rewritten, so cleans that land mid-run cannot affect this pass.
func (l *Log) MajorCompact(groupIDs []uint64, snapshotIndex, majorCompactIndex types.Index) error {
	if len(groupIDs) == 0 {
		return fmt.Errorf("logstore: major compact: empty group")
	}

	l.mu.Lock()
	segs := make([]*Segment, 0, len(groupIDs))
	for _, id := range groupIDs {
		s, ok := l.segmentByID(id)
		if !ok {
			l.mu.Unlock()
			return fmt.Errorf("logstore: major compact: segment %d not found", id)
		}
		segs = append(segs, s)
	}
	l.mu.Unlock()

	// Step 1: snapshot every group member's clean predicate and contents
	// before rewriting anything.
	predicates := make([]func(int) bool, len(segs))
	entriesPerSeg := make([][]types.Entry, len(segs))
	descs := make([]Descriptor, len(segs))
	for i, s := range segs {
		predicates[i] = s.CleanPredicate()
		entriesPerSeg[i], _ = s.Snapshot()
		descs[i] = s.Descriptor()
	}

	first := descs[0]
	var maxSize uint64
	var maxEntries uint32
	for _, d := range descs {
		if d.MaxSize > maxSize {
			maxSize = d.MaxSize
		}
		if d.MaxEntries > maxEntries {
			maxEntries = d.MaxEntries
		}
	}

	replacement := NewSegment(Descriptor{
		ID:         first.ID,
		Version:    first.Version + 1,
		BaseIndex:  first.BaseIndex,
		MaxSize:    maxSize,
		MaxEntries: maxEntries,
	})

	// Step 2/3: process groups (here, segments within the group) in
	// strict ascending log order.
	for i, entries := range entriesPerSeg {
		base := descs[i].BaseIndex
		predicate := predicates[i]
		for offset, e := range entries {
			if e == nil {
				replacement.appendRaw(nil, false)
				continue
			}
			idx := base + types.Index(offset)
			if e.IsSnapshottable() && idx <= snapshotIndex {
				replacement.appendRaw(nil, false)
				continue
			}
			if !e.IsTombstone() || idx <= majorCompactIndex {
				if predicate(offset) {
					replacement.appendRaw(nil, false)
				} else {
					replacement.appendRaw(e, false)
				}
				continue
			}
			// Tombstone above majorCompactIndex: must be retained.
			// Step 4: replay its clean bit if it was already cleaned.
			replacement.appendRaw(e, predicate(offset))
		}
	}

	replacement.Lock()

	ids := make([]uint64, len(segs))
	for i, s := range segs {
		ids[i] = s.Descriptor().ID
	}
	// Step 5: atomically replace inputs with the output and drop inputs.
	return l.ReplaceSegments(ids, replacement)
}
