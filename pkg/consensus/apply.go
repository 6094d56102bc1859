package consensus

import (
	"github.com/atomix/catalog/pkg/types"
)

// ApplyCommitted applies every entry between last_applied+1 and
// commit_index, in ascending order, to the session registry and this
// server's own state-machine-adjacent bookkeeping (§5 ordering
// guarantee: "Entries are applied to the user state machine in strictly
// ascending index order"). It is safe to call repeatedly; entries
// already applied are skipped.
func (s *Server) ApplyCommitted() error {
	s.mu.Lock()
	from := s.lastApplied + 1
	to := s.commitIndex
	s.mu.Unlock()

	for idx := from; idx <= to; idx++ {
		entry, ok := s.log.Get(idx)
		if !ok {
			continue // held in a skipped hole, nothing to apply
		}
		outcome, err := s.applyEntry(idx, entry)
		if err != nil {
			s.logger.Error().Err(err).Uint64("index", uint64(idx)).Msg("failed to apply entry")
			s.failWaiter(idx, err)
			return err
		}
		s.mu.Lock()
		s.lastApplied = idx
		s.mu.Unlock()

		if len(outcome.Command.AwaitEvents) > 0 {
			cmd := entry.(*types.CommandEntry)
			s.deferWaiter(idx, cmd.Session, outcome)
			continue
		}
		s.resolveWaiter(idx, outcome)
	}
	return nil
}

// applyEntry applies one committed entry, cleans whatever index the
// entry's type makes reclaimable, and returns the typed outcome a pending
// client proposal (if any) is waiting on.
//
// Cleaning is differentiated by entry type (§4.1, §4.5 "Keep-alive"),
// not a blanket clean(idx) on every apply:
//
//   - CommandEntry and UnregisterEntry clean themselves immediately: a
//     command's effect is fully captured by the state it produced, and an
//     unregister is a tombstone, so minor compaction already withholds it
//     until major_compact_index passes its index.
//   - HeartbeatEntry cleans itself immediately: once applied it has
//     already updated member status, and a superseded heartbeat carries
//     no further meaning, so leaving it uncleaned would let the log grow
//     without bound on every heartbeat tick.
//   - ConnectEntry and KeepAliveEntry clean the *previous* entry of the
//     same kind for that session, tracked via Session.LastConnectIndex /
//     LastKeepAliveIndex (§3) — the current entry stays dirty until a
//     later one supersedes it.
//   - NoOpEntry, ConfigurationEntry, and RegisterEntry are never cleaned
//     here: they are snapshottable but not superseded by any later
//     entry, so their only path to reclamation is major compaction
//     honoring snapshot_index once a snapshot covers them.
func (s *Server) applyEntry(idx types.Index, entry types.Entry) (ProposeOutcome, error) {
	switch e := entry.(type) {
	case *types.NoOpEntry:
		return ProposeOutcome{}, nil
	case *types.ConfigurationEntry:
		return ProposeOutcome{}, s.ApplyConfigurationEntry(e)
	case *types.RegisterEntry:
		return ProposeOutcome{Session: s.sessions.Register(e)}, nil
	case *types.ConnectEntry:
		prev, err := s.sessions.Connect(e)
		if err != nil {
			return ProposeOutcome{}, err
		}
		if prev != 0 {
			s.log.Clean(prev)
		}
		return ProposeOutcome{}, nil
	case *types.KeepAliveEntry:
		prev, err := s.sessions.KeepAlive(e)
		if err != nil {
			return ProposeOutcome{}, err
		}
		if prev != 0 {
			s.log.Clean(prev)
		}
		s.releaseDeferred(e.Session, e.EventVersionAck)
		return ProposeOutcome{}, nil
	case *types.UnregisterEntry:
		if err := s.sessions.Unregister(e); err != nil {
			return ProposeOutcome{}, err
		}
		s.log.Clean(idx)
		return ProposeOutcome{}, nil
	case *types.CommandEntry:
		outcome, err := s.sessions.ApplyCommand(e)
		if err != nil {
			return ProposeOutcome{Command: outcome}, err
		}
		s.log.Clean(idx)
		return ProposeOutcome{Command: outcome}, nil
	case *types.HeartbeatEntry:
		s.ApplyHeartbeatEntry(e)
		s.log.Clean(idx)
		return ProposeOutcome{}, nil
	default:
		return ProposeOutcome{}, nil
	}
}

// deferredCommand is a LINEARIZABLE command's outcome held back from its
// waiter until the events it published have been acknowledged (§4.5
// "Events"). session lets releaseDeferred scope an acknowledgement to
// the commands belonging to the session that sent it.
type deferredCommand struct {
	session types.Index
	outcome ProposeOutcome
}

// deferWaiter withholds idx's outcome from resolveWaiter until
// releaseDeferred sees an acknowledgement covering it.
func (s *Server) deferWaiter(idx types.Index, sessionID types.Index, outcome ProposeOutcome) {
	s.mu.Lock()
	s.deferred[idx] = deferredCommand{session: sessionID, outcome: outcome}
	s.mu.Unlock()
}

// releaseDeferred resolves every command deferred for sessionID whose
// event version is now covered by ack, once a KeepAliveEntry applies
// carrying that acknowledgement (§4.5 "Events"). Matching entries are
// collected before any are deleted from s.deferred, since deleting
// mid-range would invalidate the map iteration.
func (s *Server) releaseDeferred(sessionID types.Index, ack uint64) {
	s.mu.Lock()
	type ready struct {
		idx     types.Index
		outcome ProposeOutcome
	}
	var toRelease []ready
	for idx, d := range s.deferred {
		if d.session != sessionID || uint64(idx) > ack {
			continue
		}
		toRelease = append(toRelease, ready{idx: idx, outcome: d.outcome})
	}
	for _, r := range toRelease {
		delete(s.deferred, r.idx)
	}
	s.mu.Unlock()

	for _, r := range toRelease {
		s.resolveWaiter(r.idx, r.outcome)
	}
}

func (s *Server) resolveWaiter(idx types.Index, outcome ProposeOutcome) {
	s.mu.Lock()
	w, ok := s.waiters[idx]
	if ok {
		delete(s.waiters, idx)
	}
	s.mu.Unlock()
	if ok {
		w.ch <- proposeResult{outcome: outcome}
	}
}

func (s *Server) failWaiter(idx types.Index, err error) {
	s.mu.Lock()
	w, ok := s.waiters[idx]
	if ok {
		delete(s.waiters, idx)
	}
	s.mu.Unlock()
	if ok {
		w.ch <- proposeResult{err: err}
	}
}
