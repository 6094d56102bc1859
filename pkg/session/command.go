package session

import (
	"fmt"

	"github.com/atomix/catalog/pkg/types"
)

// CommandOutcome is what ApplyCommand reports back to the caller.
type CommandOutcome struct {
	// Applied is false only when the command was queued (out of order).
	// A duplicate served from cache reports true, though it does not
	// reach the state machine again.
	Applied bool
	Result  Result
	// AwaitEvents lists events produced by this apply that the caller
	// must see acknowledged before the response may be released to the
	// client, per §4.5's linearizable-event-blocking rule.
	AwaitEvents []Event
}

// ApplyCommand applies a committed CommandEntry against the bound state
// machine per §4.5 "Command application": duplicates are served from
// cache, out-of-order sequences are queued and reach the state machine
// only once the gap before them fills, and in-order commands are
// applied and cached.
func (r *Registry) ApplyCommand(e *types.CommandEntry) (CommandOutcome, error) {
	r.advanceClock(e.Timestamp)
	s, ok := r.sessions[e.Session]
	if !ok {
		return CommandOutcome{}, fmt.Errorf("session: command: unknown session %d", e.Session)
	}
	s.LastTimestamp = r.clock.Now()
	if s.State == types.SessionSuspect {
		s.State = types.SessionOpen
	}

	switch {
	case e.Sequence < s.NextSequence:
		cached, ok := s.ResponseCache[e.Sequence]
		if !ok {
			// Already trimmed by a later keep-alive ack; nothing to
			// replay, and the original response is no longer owed.
			return CommandOutcome{Applied: true}, nil
		}
		return CommandOutcome{
			Applied: true,
			Result:  Result{Payload: cached.Result, Err: cached.Err},
		}, nil

	case e.Sequence > s.NextSequence:
		s.pending[e.Sequence] = &pendingCommand{
			index:       e.Header.Index,
			timestamp:   e.Timestamp,
			payload:     e.Payload,
			consistency: e.Consistency,
			tombstone:   e.Tombstone,
		}
		return CommandOutcome{Applied: false}, nil

	default:
		return r.applyInOrder(s, e.Header.Index, e.Sequence, e.Payload, e.Consistency)
	}
}

// applyInOrder invokes the state machine for sequence, caches the
// result, advances NextSequence, and drains any now-contiguous pending
// commands queued behind it.
func (r *Registry) applyInOrder(s *Session, index types.Index, sequence uint64, payload []byte, consistency types.ConsistencyLevel) (CommandOutcome, error) {
	result := r.sm.Apply(index, payload)
	s.ResponseCache[sequence] = types.CachedResponse{Sequence: sequence, Result: result.Payload, Err: result.Err}
	s.NextSequence = sequence + 1
	s.LastAppliedVersion = uint64(index)

	var awaited []Event
	for _, payload := range result.Events {
		ev := s.PublishEvent(index, payload)
		if consistency == types.ConsistencyLinearizable {
			awaited = append(awaited, ev)
		}
	}

	outcome := CommandOutcome{Applied: true, Result: Result(result), AwaitEvents: awaited}

	for {
		next, ok := s.pending[s.NextSequence]
		if !ok {
			break
		}
		delete(s.pending, s.NextSequence)
		nr := r.sm.Apply(next.index, next.payload)
		s.ResponseCache[s.NextSequence] = types.CachedResponse{Sequence: s.NextSequence, Result: nr.Payload, Err: nr.Err}
		s.LastAppliedVersion = uint64(next.index)
		for _, payload := range nr.Events {
			s.PublishEvent(next.index, payload)
		}
		s.NextSequence++
	}

	return outcome, nil
}

// QueryOutcome is what ApplyQuery reports back to the caller.
type QueryOutcome struct {
	// Ready is false when the query must be retried once its dependency
	// (a pending command, or a not-yet-applied version) resolves.
	Ready   bool
	Result  Result
	Version uint64
}

// ApplyQuery evaluates a QueryRequest per §4.5 "Query application" and
// its consistency table. It never mutates the log or advances any
// index; LINEARIZABLE/BOUNDED_LINEARIZABLE readiness (the leader's
// no-op round / majority-contact check) is the caller's responsibility
// to arrange before calling this with the resulting lastApplied value.
func (r *Registry) ApplyQuery(q types.QueryRequest, lastApplied uint64, majorityContactedRecently bool) (QueryOutcome, error) {
	s, ok := r.sessions[q.Session]
	if !ok {
		return QueryOutcome{}, fmt.Errorf("session: query: unknown session %d", q.Session)
	}

	if q.Sequence > s.NextSequence-1 {
		return QueryOutcome{Ready: false}, nil
	}

	switch q.Consistency {
	case types.ConsistencyCausal:
		res := r.sm.Query(q.Payload)
		return QueryOutcome{Ready: true, Result: Result(res), Version: lastApplied}, nil

	case types.ConsistencySequential:
		if q.Version > s.LastAppliedVersion {
			return QueryOutcome{Ready: false}, nil
		}
		res := r.sm.Query(q.Payload)
		version := q.Version
		if lastApplied > version {
			version = lastApplied
		}
		return QueryOutcome{Ready: true, Result: Result(res), Version: version}, nil

	case types.ConsistencyBoundedLinearizable:
		if !majorityContactedRecently {
			return QueryOutcome{Ready: false}, nil
		}
		res := r.sm.Query(q.Payload)
		return QueryOutcome{Ready: true, Result: Result(res), Version: lastApplied}, nil

	case types.ConsistencyLinearizable:
		// Caller must have already driven a no-op round to a majority;
		// by the time this is invoked that round has completed, so it's
		// equivalent to the bounded case.
		res := r.sm.Query(q.Payload)
		return QueryOutcome{Ready: true, Result: Result(res), Version: lastApplied}, nil

	default:
		return QueryOutcome{}, fmt.Errorf("session: query: unknown consistency level %v", q.Consistency)
	}
}
