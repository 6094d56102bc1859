package logstore

import (
	"fmt"
	"sync"

	"github.com/atomix/catalog/pkg/types"
)

// Log is the segmented, append-only replicated log manager (§4.1). It
// owns an ordered list of segments and is the single point of truth for
// append/truncate/skip/get across segment boundaries.
type Log struct {
	mu                sync.Mutex
	segments          []*Segment
	nextSegmentID     uint64
	maxSegmentSize    uint64
	maxSegmentEntries uint32
	commitIndex       types.Index
}

// New creates a log with one empty writable segment starting at index 1.
func New(maxSegmentSize uint64, maxSegmentEntries uint32) *Log {
	l := &Log{
		maxSegmentSize:    maxSegmentSize,
		maxSegmentEntries: maxSegmentEntries,
	}
	l.segments = []*Segment{l.newSegmentLocked(1)}
	return l
}

func (l *Log) newSegmentLocked(base types.Index) *Segment {
	id := l.nextSegmentID
	l.nextSegmentID++
	return NewSegment(Descriptor{
		ID:         id,
		Version:    1,
		BaseIndex:  base,
		MaxSize:    l.maxSegmentSize,
		MaxEntries: l.maxSegmentEntries,
	})
}

func (l *Log) currentSegmentLocked() *Segment {
	return l.segments[len(l.segments)-1]
}

func (l *Log) lastIndexLocked() types.Index {
	for i := len(l.segments) - 1; i >= 0; i-- {
		if idx := l.segments[i].LastIndex(); idx != 0 {
			return idx
		}
	}
	return 0
}

// Append assigns the next index and term to e and appends it, rolling
// over to a new segment first if the current one is full. Returns the
// assigned index.
func (l *Log) Append(e types.Entry, term types.Term) (types.Index, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.lastIndexLocked() + 1
	types.SetHeader(e, types.Header{Index: idx, Term: term})

	size := entryApproxSize(e)
	cur := l.currentSegmentLocked()
	d := cur.Descriptor()
	if (d.MaxEntries > 0 && uint32(cur.Len()) >= d.MaxEntries) ||
		(d.MaxSize > 0 && cur.Bytes()+size > d.MaxSize) {
		cur = l.newSegmentLocked(idx)
		l.segments = append(l.segments, cur)
	}
	if err := cur.Append(e); err != nil {
		return 0, err
	}
	return idx, nil
}

// Skip reserves n indices as holes in the log, rolling over to a fresh
// segment if the current one would overflow its entry budget.
func (l *Log) Skip(n uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.lastIndexLocked() + 1
	cur := l.currentSegmentLocked()
	d := cur.Descriptor()
	if d.MaxEntries > 0 && uint64(cur.Len())+n > uint64(d.MaxEntries) {
		cur = l.newSegmentLocked(idx)
		l.segments = append(l.segments, cur)
	}
	return cur.Skip(int(n))
}

// Truncate removes every entry with index greater than the given index.
// Per §4.1, truncating below the commit index is a programming error and
// must abort the process rather than silently corrupt committed state.
func (l *Log) Truncate(index types.Index) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < l.commitIndex {
		panic(fmt.Sprintf("logstore: truncate(%d) below commit index %d", index, l.commitIndex))
	}

	kept := make([]*Segment, 0, len(l.segments))
	for _, seg := range l.segments {
		if seg.Descriptor().BaseIndex > index {
			continue
		}
		seg.Truncate(index)
		kept = append(kept, seg)
	}
	if len(kept) == 0 {
		kept = append(kept, l.newSegmentLocked(1))
	}
	l.segments = kept
}

// Get returns the entry at index, if present.
func (l *Log) Get(index types.Index) (types.Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, seg := range l.segments {
		if o := seg.Offset(index); o >= 0 {
			return seg.Get(index)
		}
	}
	return nil, false
}

// FirstIndex returns the lowest index still held by the log, or 0 if empty.
func (l *Log) FirstIndex() types.Index {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, seg := range l.segments {
		if idx := seg.FirstIndex(); idx != 0 {
			return idx
		}
	}
	return 0
}

// LastIndex returns the highest index reserved in the log, or 0 if empty.
func (l *Log) LastIndex() types.Index {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastIndexLocked()
}

// IsEmpty reports whether the log holds no entries at all.
func (l *Log) IsEmpty() bool {
	return l.LastIndex() == 0
}

// Clean marks index's offset clean in its owning segment. Called by the
// state machine once an entry has been applied (§4.1).
func (l *Log) Clean(index types.Index) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, seg := range l.segments {
		if o := seg.Offset(index); o >= 0 {
			return seg.Clean(index)
		}
	}
	return false
}

// Commit advances the log's commit index. Monotonic: lower values are
// ignored.
func (l *Log) Commit(index types.Index) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index > l.commitIndex {
		l.commitIndex = index
	}
}

// CommitIndex returns the last committed index recorded by this log.
func (l *Log) CommitIndex() types.Index {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commitIndex
}

// Segments returns a shallow copy of the current segment list, ordered
// by ascending base index.
func (l *Log) Segments() []*Segment {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Segment, len(l.segments))
	copy(out, l.segments)
	return out
}

func (l *Log) segmentByID(id uint64) (*Segment, bool) {
	for _, s := range l.segments {
		if s.Descriptor().ID == id {
			return s, true
		}
	}
	return nil, false
}

// ReplaceSegments atomically swaps a contiguous run of segments
// (identified by oldIDs, in current order) for a single replacement
// segment, then drops the originals. It is the sole mutation primitive
// both minor and major compaction use to install their output (§4.2
// step 3, §4.3 step 5).
func (l *Log) ReplaceSegments(oldIDs []uint64, replacement *Segment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(oldIDs) == 0 {
		return fmt.Errorf("logstore: empty replacement group")
	}
	start := -1
	for i, s := range l.segments {
		if s.Descriptor().ID == oldIDs[0] {
			start = i
			break
		}
	}
	if start < 0 {
		return fmt.Errorf("logstore: segment %d not found", oldIDs[0])
	}
	if start+len(oldIDs) > len(l.segments) {
		return fmt.Errorf("logstore: replacement group runs past end of segment list")
	}
	for i, id := range oldIDs {
		if l.segments[start+i].Descriptor().ID != id {
			return fmt.Errorf("logstore: segment group not contiguous at id %d", id)
		}
	}

	next := make([]*Segment, 0, len(l.segments)-len(oldIDs)+1)
	next = append(next, l.segments[:start]...)
	next = append(next, replacement)
	next = append(next, l.segments[start+len(oldIDs):]...)
	l.segments = next
	return nil
}
