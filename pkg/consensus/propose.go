package consensus

import (
	"context"
	"fmt"
	"time"

	"github.com/atomix/catalog/pkg/session"
	"github.com/atomix/catalog/pkg/types"
)

// ProposeOutcome is what a client-facing proposal resolves to once its
// log entry has been applied. Exactly one of the typed fields is
// populated, matching the entry kind that was proposed.
type ProposeOutcome struct {
	Session *session.Session
	Command session.CommandOutcome
}

type waiter struct {
	ch chan proposeResult
}

type proposeResult struct {
	outcome ProposeOutcome
	err     error
}

// proposeLocked appends e to the log under the current term and
// registers a waiter that ApplyCommitted will signal once e's index is
// applied. Callers must hold s.mu and release it before calling await.
func (s *Server) proposeLocked(e types.Entry) (types.Index, chan proposeResult, error) {
	if s.role != RoleLeader {
		return 0, nil, fmt.Errorf("consensus: propose: not leader")
	}
	idx, err := s.log.Append(e, s.term)
	if err != nil {
		return 0, nil, err
	}
	ch := make(chan proposeResult, 1)
	s.waiters[idx] = &waiter{ch: ch}
	return idx, ch, nil
}

// await blocks until the proposal at idx is applied or the context
// expires. Stepping down from leadership does not release the wait; only
// ctx bounds it.
func (s *Server) await(ctx context.Context, idx types.Index, ch chan proposeResult) (ProposeOutcome, error) {
	select {
	case r := <-ch:
		return r.outcome, r.err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.waiters, idx)
		s.mu.Unlock()
		return ProposeOutcome{}, ctx.Err()
	}
}

// ProposeRegister opens a new session. The returned Session's ID equals
// the RegisterEntry's committed log index (§4.5 "Session lifecycle").
func (s *Server) ProposeRegister(ctx context.Context, clientID string, timeout time.Duration) (*session.Session, error) {
	s.mu.Lock()
	idx, ch, err := s.proposeLocked(&types.RegisterEntry{
		ClientID:      clientID,
		Timestamp:     time.Now(),
		TimeoutMillis: timeout.Milliseconds(),
	})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out, err := s.await(ctx, idx, ch)
	if err != nil {
		return nil, err
	}
	return out.Session, nil
}

// ProposeConnect pins a session to the server address it is currently
// talking to, so that published events route to the right connection.
func (s *Server) ProposeConnect(ctx context.Context, sessionID types.Index, address string) error {
	s.mu.Lock()
	idx, ch, err := s.proposeLocked(&types.ConnectEntry{
		Session: sessionID, Address: address, Timestamp: time.Now(),
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = s.await(ctx, idx, ch)
	return err
}

// ProposeKeepAlive refreshes session liveness and trims acknowledged
// state (§4.5 "Keep-alive").
func (s *Server) ProposeKeepAlive(ctx context.Context, sessionID types.Index, commandSeqAck, eventVersionAck uint64) error {
	s.mu.Lock()
	idx, ch, err := s.proposeLocked(&types.KeepAliveEntry{
		Session: sessionID, CommandSeqAck: commandSeqAck, EventVersionAck: eventVersionAck, Timestamp: time.Now(),
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = s.await(ctx, idx, ch)
	return err
}

// ProposeUnregister closes a session by client request.
func (s *Server) ProposeUnregister(ctx context.Context, sessionID types.Index) error {
	s.mu.Lock()
	idx, ch, err := s.proposeLocked(&types.UnregisterEntry{
		Session: sessionID, Timestamp: time.Now(), Expired: false,
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = s.await(ctx, idx, ch)
	return err
}

// ProposeCommand logs and applies a state-changing command under a
// session's sequence discipline (§4.5 "At-most-once semantics").
func (s *Server) ProposeCommand(ctx context.Context, sessionID types.Index, sequence uint64, payload []byte, consistency types.ConsistencyLevel, tombstone bool) (session.CommandOutcome, error) {
	s.mu.Lock()
	idx, ch, err := s.proposeLocked(&types.CommandEntry{
		Session: sessionID, Sequence: sequence, Payload: payload, Consistency: consistency, Timestamp: time.Now(), Tombstone: tombstone,
	})
	s.mu.Unlock()
	if err != nil {
		return session.CommandOutcome{}, err
	}
	out, err := s.await(ctx, idx, ch)
	if err != nil {
		return session.CommandOutcome{}, err
	}
	return out.Command, nil
}

// Query evaluates a read-only request at the requested consistency level
// against already-applied state, without logging anything (§3, §4.5).
func (s *Server) Query(q types.QueryRequest) (session.QueryOutcome, error) {
	s.mu.Lock()
	lastApplied := s.lastApplied
	recent := s.leaderContactedMajorityRecently()
	s.mu.Unlock()
	return s.sessions.ApplyQuery(q, uint64(lastApplied), recent)
}

// leaderContactedMajorityRecently reports whether the leader has heard
// from a voting quorum within the last heartbeat window, the gate
// BOUNDED_LINEARIZABLE queries require. Callers must hold s.mu.
func (s *Server) leaderContactedMajorityRecently() bool {
	if s.role != RoleLeader {
		return false
	}
	voters := s.configuration.VotingMembers()
	if len(voters) <= 1 {
		return true
	}
	fresh := 1 // self
	now := time.Now()
	for _, m := range voters {
		if m.ID == s.id {
			continue
		}
		if p, ok := s.peers[m.ID]; ok && !p.CommitTime.IsZero() && now.Sub(p.CommitTime) <= s.heartbeatTimeout*2 {
			fresh++
		}
	}
	return fresh >= s.configuration.Quorum()
}
