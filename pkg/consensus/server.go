// Package consensus implements catalog's role state machine, leader
// election, replication, membership reconfiguration, and the heartbeat
// pipeline that drives the global index (§4.4). It is grounded on
// Warren's pkg/manager/manager.go — the same "one mutex-guarded struct
// owns all cluster-lifecycle state" shape — but implements its own
// Raft-derived algorithm directly instead of wrapping hashicorp/raft,
// since the spec's three-tier membership model and session layer do not
// map onto that library's API.
package consensus

import (
	"fmt"
	"sync"
	"time"

	catalog_log "github.com/atomix/catalog/pkg/log"
	"github.com/atomix/catalog/pkg/logstore"
	"github.com/atomix/catalog/pkg/meta"
	"github.com/atomix/catalog/pkg/session"
	"github.com/atomix/catalog/pkg/snapshotstore"
	"github.com/atomix/catalog/pkg/types"
	"github.com/rs/zerolog"
)

// Transport is the peer-RPC surface the replicator and election logic
// drive. pkg/transport supplies the production (gRPC) implementation;
// tests supply an in-memory fake.
type Transport interface {
	SendVote(addr string, req VoteRequest) (VoteResponse, error)
	SendPoll(addr string, req PollRequest) (PollResponse, error)
	SendAppendEntries(addr string, req AppendEntriesRequest) (AppendEntriesResponse, error)
	SendInstallSnapshot(addr string, req InstallSnapshotRequest) (InstallSnapshotResponse, error)
}

// Server is one catalog cluster member's consensus state.
type Server struct {
	mu sync.Mutex

	id        string
	log       *logstore.Log
	meta      *meta.Store
	sessions  *session.Registry
	snapshots *snapshotstore.Store
	transport Transport
	logger    zerolog.Logger

	role     Role
	term     types.Term
	votedFor string
	leaderID string

	configuration types.Configuration
	peers         map[string]*PeerState

	commitIndex        types.Index
	lastApplied        types.Index
	globalIndex        types.Index
	snapshotIndex      types.Index
	majorCompactIndex  types.Index

	leaderInitialNoopIndex types.Index
	configChangePending    bool

	memberCommitIndex map[string]types.Index
	memberLastSeen    map[string]time.Time

	// waiters lets a client-facing proposal (pkg/consensus/propose.go)
	// block until its log index has been applied.
	waiters map[types.Index]*waiter

	// deferred holds LINEARIZABLE command outcomes withheld from their
	// waiters pending event acknowledgement (§4.5 "Events").
	deferred map[types.Index]deferredCommand

	electionTimeout  time.Duration
	heartbeatTimeout time.Duration

	// lastContact is the last time this server heard from a leader it
	// recognizes, the clock the node driver's election timer reads.
	lastContact time.Time
}

// New constructs a Server loading its initial state from the meta store.
// snapshots may be nil, in which case snapshotting and InstallSnapshot
// are disabled and a lagging peer can only catch up by replaying the
// log (the driver and client tests build their servers this way).
func New(id string, l *logstore.Log, m *meta.Store, sessions *session.Registry, snapshots *snapshotstore.Store, transport Transport) (*Server, error) {
	logger := catalog_log.WithComponent("consensus").With().Str("server_id", id).Logger()
	term, err := m.Term()
	if err != nil {
		return nil, fmt.Errorf("consensus: load term: %w", err)
	}
	votedFor, _, err := m.VotedFor()
	if err != nil {
		return nil, fmt.Errorf("consensus: load vote: %w", err)
	}
	cfg, err := m.Configuration()
	if err != nil {
		return nil, fmt.Errorf("consensus: load configuration: %w", err)
	}

	s := &Server{
		id:                id,
		log:               l,
		meta:              m,
		sessions:          sessions,
		snapshots:         snapshots,
		transport:         transport,
		logger:            logger,
		role:              RoleFollower,
		term:              term,
		votedFor:          votedFor,
		configuration:     cfg,
		peers:             make(map[string]*PeerState),
		memberCommitIndex: make(map[string]types.Index),
		memberLastSeen:    make(map[string]time.Time),
		waiters:           make(map[types.Index]*waiter),
		deferred:          make(map[types.Index]deferredCommand),
		electionTimeout:   150 * time.Millisecond,
		heartbeatTimeout:  50 * time.Millisecond,
		lastContact:       time.Now(),
	}
	for _, member := range cfg.StatefulMembers() {
		if member.ID != id {
			s.peers[member.ID] = &PeerState{MemberID: member.ID}
		}
	}
	return s, nil
}

// Bootstrap initializes a brand-new single-node cluster with this server
// as the sole Active member, then immediately becomes leader.
func (s *Server) Bootstrap() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configuration = types.Configuration{
		Version: 1,
		Members: []types.Member{{ID: s.id, Type: types.MemberActive}},
	}
	if err := s.meta.SetConfiguration(s.configuration); err != nil {
		return fmt.Errorf("consensus: bootstrap: %w", err)
	}
	s.becomeLeaderLocked()
	return nil
}

// Role returns the server's current role.
func (s *Server) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Term returns the server's current term.
func (s *Server) Term() types.Term {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term
}

// Leader returns the last known leader id, if any.
func (s *Server) Leader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderID
}

// CommitIndex returns the highest committed log index.
func (s *Server) CommitIndex() types.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitIndex
}

// GlobalIndex returns the minimum commit index across all stateful
// members (§4.4), which bounds tombstone removal.
func (s *Server) GlobalIndex() types.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalIndex
}

// Status is a point-in-time inspection snapshot, a supplemented feature
// (status/inspection RPC) grounded on Warren's GetRaftStats.
type Status struct {
	ID          string
	Role        string
	Term        types.Term
	Leader      string
	CommitIndex types.Index
	LastApplied types.Index
	GlobalIndex types.Index
	Members     int
}

// Status returns a snapshot of the server's consensus state, grounded on
// Warren's Manager.GetRaftStats.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:          s.id,
		Role:        s.role.String(),
		Term:        s.term,
		Leader:      s.leaderID,
		CommitIndex: s.commitIndex,
		LastApplied: s.lastApplied,
		GlobalIndex: s.globalIndex,
		Members:     len(s.configuration.Members),
	}
}

// SetTimeouts overrides the default election and heartbeat timeouts,
// for nodes configured with non-default values (pkg/config).
func (s *Server) SetTimeouts(election, heartbeat time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.electionTimeout = election
	s.heartbeatTimeout = heartbeat
}

// MemberCounts returns the number of configured members by type, for
// metrics reporting.
func (s *Server) MemberCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, m := range s.configuration.Members {
		counts[m.Type.String()]++
	}
	return counts
}

// LastContact returns the last time this server heard from a leader it
// recognizes, read by the node driver's election timer to decide when a
// follower should start an election.
func (s *Server) LastContact() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastContact
}

// PeerIDs returns the ids of every other stateful member, for the node
// driver to schedule replication against.
func (s *Server) PeerIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	return ids
}

// SessionEvents returns the events still owed to sessionID's current
// connection, for the RPC layer to attach to a Command or KeepAlive
// response (§4.5 "Events"). Returns nil if the session is unknown.
func (s *Server) SessionEvents(sessionID types.Index) []session.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	return sess.Events()
}

func (s *Server) lastLogIndexAndTerm() (types.Index, types.Term) {
	idx := s.log.LastIndex()
	if idx == 0 {
		return 0, 0
	}
	e, ok := s.log.Get(idx)
	if !ok {
		return idx, 0
	}
	return idx, e.EntryHeader().Term
}

// logUpToDate implements the up-to-date comparison shared by vote and
// poll acceptance (§4.4 "Election").
func logUpToDate(candidateLastTerm types.Term, candidateLastIndex types.Index, localLastTerm types.Term, localLastIndex types.Index) bool {
	if candidateLastTerm != localLastTerm {
		return candidateLastTerm > localLastTerm
	}
	return candidateLastIndex >= localLastIndex
}
