package session

import (
	"sort"

	"github.com/atomix/catalog/pkg/types"
)

// Event is one state-machine-published notification destined for a
// session's current connection, ordered by (Version, Sequence) per
// §5's event-ordering guarantee.
type Event struct {
	Version  uint64
	Sequence uint64
	Payload  []byte
}

// eventQueue buffers undelivered events for one session in ascending
// (Version, Sequence) order. Grounded on Warren's
// pkg/events/events.go Broker — generalized from a fan-out broadcast
// channel to a single ordered, ack-trimmed per-session queue, since
// catalog delivers events to exactly one recipient (the session's
// current connection) rather than broadcasting to all subscribers.
type eventQueue struct {
	pending []Event
	nextSeq uint64
}

func newEventQueue() *eventQueue {
	return &eventQueue{nextSeq: 1}
}

// publish appends an event produced during command apply at the given
// index, assigning it the queue's next sequence number; one counter
// runs across all versions.
func (q *eventQueue) publish(version uint64, payload []byte) Event {
	e := Event{Version: version, Sequence: q.nextSeq, Payload: payload}
	q.nextSeq++
	q.pending = append(q.pending, e)
	sort.Slice(q.pending, func(i, j int) bool {
		if q.pending[i].Version != q.pending[j].Version {
			return q.pending[i].Version < q.pending[j].Version
		}
		return q.pending[i].Sequence < q.pending[j].Sequence
	})
	return e
}

// ack drops every event at or below the acknowledged version, per
// §4.5's keep-alive trimming rule.
func (q *eventQueue) ack(version uint64) {
	kept := q.pending[:0]
	for _, e := range q.pending {
		if e.Version > version {
			kept = append(kept, e)
		}
	}
	q.pending = kept
}

// undelivered returns every event still owed to the session, in order.
func (q *eventQueue) undelivered() []Event {
	out := make([]Event, len(q.pending))
	copy(out, q.pending)
	return out
}

// Events returns the events still owed to this session, in
// (version, sequence) order.
func (s *Session) Events() []Event {
	return s.events.undelivered()
}

// PublishEvent records an event produced while applying the command at
// index (used as the event's version) and returns it for delivery.
func (s *Session) PublishEvent(index types.Index, payload []byte) Event {
	return s.events.publish(uint64(index), payload)
}
