package consensus

import (
	"fmt"
	"time"

	"github.com/atomix/catalog/pkg/types"
)

// HandleHeartbeat is the leader-side RPC handler for a stateful member's
// periodic liveness report (§4.4 "Heartbeats & availability"). The
// leader logs a Heartbeat entry; its effect on member status and the
// global index takes place on apply via ApplyHeartbeatEntry.
func (s *Server) HandleHeartbeat(req HeartbeatRequest) (HeartbeatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleLeader {
		return HeartbeatResponse{Status: StatusError}, fmt.Errorf("consensus: heartbeat: not leader")
	}
	_, err := s.log.Append(&types.HeartbeatEntry{
		Member:      req.MemberID,
		CommitIndex: req.CommitIndex,
		Timestamp:   time.Now(),
	}, s.term)
	if err != nil {
		return HeartbeatResponse{Status: StatusError}, err
	}
	return HeartbeatResponse{Status: StatusOK}, nil
}

// ApplyHeartbeatEntry updates the reporting member's availability and
// commit-index bookkeeping, recomputes the global index, and triggers a
// rebalance pass (§4.4).
func (s *Server) ApplyHeartbeatEntry(e *types.HeartbeatEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memberLastSeen[e.Member] = e.Timestamp
	if e.CommitIndex > s.memberCommitIndex[e.Member] {
		s.memberCommitIndex[e.Member] = e.CommitIndex
	}
	s.recomputeGlobalIndexLocked()
	s.rebalanceLocked()
}

// recomputeGlobalIndexLocked sets global_index to the minimum commit
// index across all stateful (Active+Passive) members, including this
// leader's own commit index. Callers must hold s.mu.
func (s *Server) recomputeGlobalIndexLocked() {
	stateful := s.configuration.StatefulMembers()
	if len(stateful) == 0 {
		return
	}
	min := s.commitIndex
	for _, m := range stateful {
		if m.ID == s.id {
			continue
		}
		idx, known := s.memberCommitIndex[m.ID]
		if !known {
			return // haven't heard from every stateful member yet
		}
		if idx < min {
			min = idx
		}
	}
	if min > s.globalIndex {
		s.globalIndex = min
	}
}
