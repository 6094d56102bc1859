// Package session implements catalog's linearizability layer (§4.5): a
// registry of client sessions over the replicated log, at-most-once
// command application via a response cache, monotonic query semantics
// across consistency levels, and ordered event delivery. It is applied
// exclusively on the single-threaded "state-machine context" (§5) — the
// registry itself does no locking, since the apply path is already
// serialized by the log.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/atomix/catalog/pkg/types"
)

// Session tracks one client's registration over the log, grounded on
// Warren's pkg/manager/token.go TokenManager entry shape (an id, a
// creation/expiry clock, and per-entry bookkeeping) generalized from a
// flat token map to the ordering state §4.5 requires.
type Session struct {
	ID            types.Index
	ClientID      string
	State         types.SessionState
	Address       string
	Timeout       time.Duration
	LastTimestamp time.Time

	// NextSequence is the next command sequence this session is expecting;
	// sequences below it have already been applied or are duplicates.
	NextSequence uint64
	// ResponseCache holds at-most-once results for sequences already
	// applied, keyed by sequence, until a keep-alive acks past them.
	ResponseCache map[uint64]types.CachedResponse
	// pending holds out-of-order commands waiting for the sequence gap to
	// fill, keyed by sequence.
	pending map[uint64]*pendingCommand

	// LastAppliedVersion is the highest apply-index this session has
	// observed, used to gate SEQUENTIAL query replies.
	LastAppliedVersion uint64

	// LastConnectIndex and LastKeepAliveIndex hold the log index of this
	// session's most recently applied Connect/KeepAlive entry (§3). Each
	// is superseded, never accumulated: a new Connect or KeepAlive makes
	// the previous one safe to clean from the log.
	LastConnectIndex   types.Index
	LastKeepAliveIndex types.Index

	events *eventQueue
}

type pendingCommand struct {
	index       types.Index
	timestamp   time.Time
	payload     []byte
	consistency types.ConsistencyLevel
	tombstone   bool
}

func newSession(id types.Index, clientID string, timeout time.Duration, now time.Time) *Session {
	return &Session{
		ID:            id,
		ClientID:      clientID,
		State:         types.SessionOpen,
		Timeout:       timeout,
		LastTimestamp: now,
		NextSequence:  1,
		ResponseCache: make(map[uint64]types.CachedResponse),
		pending:       make(map[uint64]*pendingCommand),
		events:        newEventQueue(),
	}
}

// Expired reports whether now has advanced far enough past the
// session's last observed timestamp to exceed its timeout (§4.5:
// "sessions whose now - last_timestamp > timeout are marked Suspect").
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.LastTimestamp) > s.Timeout
}

// StateMachine is the narrow slice of statemachine.StateMachine the
// registry drives; declared locally to avoid a dependency cycle between
// pkg/session and pkg/statemachine (both are leaves consumed by
// pkg/consensus).
type StateMachine interface {
	Apply(index types.Index, payload []byte) Result
	Query(payload []byte) Result
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// Result mirrors statemachine.Result; duplicated to keep this package's
// public surface self-contained (see StateMachine above).
type Result struct {
	Payload []byte
	Err     error
	// Events are opaque notifications produced while applying this
	// command, queued for delivery to the originating session (§4.5
	// "Events").
	Events [][]byte
}

// Registry owns every session for one server. It is driven entirely
// from the apply path and so needs no internal locking of its own.
type Registry struct {
	sm       StateMachine
	sessions map[types.Index]*Session
	byClient map[string]types.Index
	clock    types.Clock
}

// NewRegistry creates a session registry bound to sm.
func NewRegistry(sm StateMachine) *Registry {
	return &Registry{
		sm:       sm,
		sessions: make(map[types.Index]*Session),
		byClient: make(map[string]types.Index),
	}
}

// advanceClock implements §9's deterministic-time rule: the clock moves
// only when an entry carrying a timestamp is applied.
func (r *Registry) advanceClock(ts time.Time) time.Time {
	return r.clock.Advance(ts)
}

// Register creates a session from a committed RegisterEntry. The
// entry's own index becomes the session id (§3).
func (r *Registry) Register(e *types.RegisterEntry) *Session {
	now := r.advanceClock(e.Timestamp)
	s := newSession(e.Header.Index, e.ClientID, time.Duration(e.TimeoutMillis)*time.Millisecond, now)
	r.sessions[s.ID] = s
	r.byClient[e.ClientID] = s.ID
	return s
}

// Connect pins a session to the server address the client is currently
// talking to, used to route event delivery (§4.5 "Events"). It returns
// the index of this session's previous ConnectEntry, if any (0 if none),
// so the caller can clean it from the log now that it is superseded (§3
// last_connect_index).
func (r *Registry) Connect(e *types.ConnectEntry) (types.Index, error) {
	r.advanceClock(e.Timestamp)
	s, ok := r.sessions[e.Session]
	if !ok {
		return 0, fmt.Errorf("session: connect: unknown session %d", e.Session)
	}
	s.Address = e.Address
	s.LastTimestamp = r.clock.Now()
	if s.State == types.SessionSuspect {
		s.State = types.SessionOpen
	}
	prev := s.LastConnectIndex
	s.LastConnectIndex = e.Header.Index
	return prev, nil
}

// Get returns the session with the given id, if present.
func (r *Registry) Get(id types.Index) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Sessions returns every currently tracked session.
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Unregister removes a session from a committed UnregisterEntry, closing
// or expiring it depending on how it ended.
func (r *Registry) Unregister(e *types.UnregisterEntry) error {
	r.advanceClock(e.Timestamp)
	s, ok := r.sessions[e.Session]
	if !ok {
		return fmt.Errorf("session: unregister: unknown session %d", e.Session)
	}
	if e.Expired {
		s.State = types.SessionExpired
	} else {
		s.State = types.SessionClosed
	}
	delete(r.sessions, e.Session)
	delete(r.byClient, s.ClientID)
	return nil
}

// KeepAlive applies a committed KeepAliveEntry: acks trim the response
// cache and event queue, and the session is marked trusted again
// (§4.5 "Keep-alive"). It returns the index of this session's previous
// KeepAliveEntry, if any (0 if none), so the caller can clean it from
// the log now that it is superseded (§3 last_keep_alive_index, §4.5:
// "clean the previous keep-alive entry from the log").
func (r *Registry) KeepAlive(e *types.KeepAliveEntry) (types.Index, error) {
	r.advanceClock(e.Timestamp)
	s, ok := r.sessions[e.Session]
	if !ok {
		return 0, fmt.Errorf("session: keepalive: unknown session %d", e.Session)
	}
	for seq := range s.ResponseCache {
		if seq <= e.CommandSeqAck {
			delete(s.ResponseCache, seq)
		}
	}
	s.events.ack(e.EventVersionAck)
	s.LastTimestamp = r.clock.Now()
	s.State = types.SessionOpen
	prev := s.LastKeepAliveIndex
	s.LastKeepAliveIndex = e.Header.Index
	return prev, nil
}

// sessionSnapshot is the JSON-serializable form of one Session captured
// for a snapshot (§4.3 "Snapshotting"). pending commands and undelivered
// events are deliberately excluded: a server restoring from a snapshot
// never saw the client requests that produced them, so there is nothing
// faithful to reconstruct — a client behind them will simply retry.
type sessionSnapshot struct {
	ID                 types.Index
	ClientID           string
	State              types.SessionState
	Address            string
	Timeout            time.Duration
	LastTimestamp      time.Time
	NextSequence       uint64
	ResponseCache      map[uint64]types.CachedResponse
	LastAppliedVersion uint64
	LastConnectIndex   types.Index
	LastKeepAliveIndex types.Index
}

// registrySnapshot is the on-disk shape handed to pkg/snapshotstore:
// every session's bookkeeping plus the bound state machine's own
// opaque snapshot.
type registrySnapshot struct {
	Sessions     []sessionSnapshot
	StateMachine []byte
}

// Snapshot captures every session and the bound state machine's state
// as of the last applied index (§4.3 "Snapshotting").
func (r *Registry) Snapshot() ([]byte, error) {
	smSnap, err := r.sm.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("session: snapshot: state machine: %w", err)
	}
	snap := registrySnapshot{StateMachine: smSnap}
	for _, s := range r.sessions {
		snap.Sessions = append(snap.Sessions, sessionSnapshot{
			ID: s.ID, ClientID: s.ClientID, State: s.State, Address: s.Address,
			Timeout: s.Timeout, LastTimestamp: s.LastTimestamp,
			NextSequence: s.NextSequence, ResponseCache: s.ResponseCache,
			LastAppliedVersion: s.LastAppliedVersion,
			LastConnectIndex:   s.LastConnectIndex, LastKeepAliveIndex: s.LastKeepAliveIndex,
		})
	}
	return json.Marshal(snap)
}

// Restore replaces the registry's sessions and the bound state
// machine's state with a previously captured snapshot (§4.3
// "Snapshotting"). Existing sessions not present in the snapshot are
// discarded; their clients will see session-not-found on next contact
// and re-register.
func (r *Registry) Restore(data []byte) error {
	var snap registrySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("session: restore: decode: %w", err)
	}
	if err := r.sm.Restore(snap.StateMachine); err != nil {
		return fmt.Errorf("session: restore: state machine: %w", err)
	}

	sessions := make(map[types.Index]*Session, len(snap.Sessions))
	byClient := make(map[string]types.Index, len(snap.Sessions))
	for _, ss := range snap.Sessions {
		cache := ss.ResponseCache
		if cache == nil {
			cache = make(map[uint64]types.CachedResponse)
		}
		s := &Session{
			ID: ss.ID, ClientID: ss.ClientID, State: ss.State, Address: ss.Address,
			Timeout: ss.Timeout, LastTimestamp: ss.LastTimestamp,
			NextSequence: ss.NextSequence, ResponseCache: cache,
			LastAppliedVersion: ss.LastAppliedVersion,
			LastConnectIndex:   ss.LastConnectIndex, LastKeepAliveIndex: ss.LastKeepAliveIndex,
			pending: make(map[uint64]*pendingCommand),
			events:  newEventQueue(),
		}
		sessions[s.ID] = s
		byClient[s.ClientID] = s.ID
	}
	r.sessions = sessions
	r.byClient = byClient
	return nil
}

// SweepSuspects marks every open session whose last timestamp is older
// than its timeout as Suspect, and returns the sessions that were
// already Suspect before this call — those are eligible for the
// leader-driven expiration commit (§4.5).
func (r *Registry) SweepSuspects() (newlySuspect, alreadySuspect []*Session) {
	now := r.clock.Now()
	for _, s := range r.sessions {
		if s.State == types.SessionClosed || s.State == types.SessionExpired {
			continue
		}
		if !s.Expired(now) {
			continue
		}
		if s.State == types.SessionSuspect {
			alreadySuspect = append(alreadySuspect, s)
			continue
		}
		s.State = types.SessionSuspect
		newlySuspect = append(newlySuspect, s)
	}
	return newlySuspect, alreadySuspect
}
