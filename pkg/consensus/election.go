package consensus

import (
	"time"

	"github.com/atomix/catalog/pkg/types"
)

// HandlePoll answers a pre-vote probe without mutating any persistent
// state (§4.4 "Election": "Pre-vote ... is used by followers before
// transitioning to candidate").
func (s *Server) HandlePoll(req PollRequest) PollResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Term < s.term {
		return PollResponse{Term: s.term, Accepted: false}
	}
	lastIdx, lastTerm := s.lastLogIndexAndTerm()
	accepted := logUpToDate(req.LastLogTerm, req.LastLogIndex, lastTerm, lastIdx)
	return PollResponse{Term: s.term, Accepted: accepted}
}

// HandleVote answers a VoteRequest, persisting any granted vote before
// returning (§4.4: "writes voted_for to meta store BEFORE issuing
// VoteRequests" — the same durability discipline applies symmetrically
// to the follower granting the vote).
func (s *Server) HandleVote(req VoteRequest) (VoteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Term < s.term {
		return VoteResponse{Term: s.term, Granted: false}, nil
	}
	if req.Term > s.term {
		if err := s.stepDownLocked(req.Term); err != nil {
			return VoteResponse{}, err
		}
	}

	if s.votedFor != "" && s.votedFor != req.CandidateID {
		return VoteResponse{Term: s.term, Granted: false}, nil
	}

	lastIdx, lastTerm := s.lastLogIndexAndTerm()
	if !logUpToDate(req.LastLogTerm, req.LastLogIndex, lastTerm, lastIdx) {
		return VoteResponse{Term: s.term, Granted: false}, nil
	}

	s.votedFor = req.CandidateID
	if err := s.meta.SetVotedFor(req.CandidateID); err != nil {
		return VoteResponse{}, err
	}
	return VoteResponse{Term: s.term, Granted: true}, nil
}

// stepDownLocked adopts a higher observed term, clears the vote, and
// reverts to Follower. Callers must hold s.mu.
func (s *Server) stepDownLocked(term types.Term) error {
	s.term = term
	s.votedFor = ""
	s.role = RoleFollower
	if err := s.meta.SetTerm(term); err != nil {
		return err
	}
	return s.meta.ClearVote()
}

// StartElection runs a pre-vote round followed, on majority acceptance,
// by one full candidacy: increment term, vote for self, persist the
// vote, then request votes from every voting peer. Returns true if a
// quorum was won and this server became leader.
func (s *Server) StartElection() (bool, error) {
	s.mu.Lock()
	if s.role == RoleInactive || s.role == RolePassive || s.role == RoleReserve {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	if !s.runPreVote() {
		return false, nil
	}

	s.mu.Lock()
	if s.role == RoleInactive || s.role == RolePassive || s.role == RoleReserve {
		s.mu.Unlock()
		return false, nil
	}
	s.term++
	s.votedFor = s.id
	s.role = RoleCandidate
	term := s.term
	if err := s.meta.SetTerm(term); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if err := s.meta.SetVotedFor(s.id); err != nil {
		s.mu.Unlock()
		return false, err
	}
	lastIdx, lastTerm := s.lastLogIndexAndTerm()
	voters := s.configuration.VotingMembers()
	quorum := s.configuration.Quorum()
	peerAddrs := make(map[string]string, len(voters))
	for _, m := range voters {
		if m.ID != s.id {
			peerAddrs[m.ID] = m.ServerAddress
		}
	}
	s.mu.Unlock()

	req := VoteRequest{Term: term, CandidateID: s.id, LastLogIndex: lastIdx, LastLogTerm: lastTerm}
	granted := 1 // vote for self
	for id, addr := range peerAddrs {
		resp, err := s.transport.SendVote(addr, req)
		if err != nil {
			s.logger.Warn().Err(err).Str("peer", id).Msg("vote request failed")
			continue
		}
		s.mu.Lock()
		if resp.Term > s.term {
			_ = s.stepDownLocked(resp.Term)
			s.mu.Unlock()
			return false, nil
		}
		s.mu.Unlock()
		if resp.Granted {
			granted++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleCandidate || s.term != term {
		return false, nil // a concurrent event already moved us on
	}
	if granted >= quorum {
		s.becomeLeaderLocked()
		return true, nil
	}
	return false, nil
}

// runPreVote polls the voting set at the term this server would
// campaign for, without mutating any persistent state, and reports
// whether a majority accepted (§4.4 "Election": "Pre-vote ... is used
// by followers before transitioning to candidate: the follower polls
// the voting set; on majority acceptance it transitions to
// candidate"). A follower that fails pre-vote stays a follower, never
// bumping its term, so a partitioned node cannot force needless
// re-elections on the rest of the cluster.
func (s *Server) runPreVote() bool {
	s.mu.Lock()
	term := s.term + 1
	lastIdx, lastTerm := s.lastLogIndexAndTerm()
	voters := s.configuration.VotingMembers()
	quorum := s.configuration.Quorum()
	peerAddrs := make(map[string]string, len(voters))
	for _, m := range voters {
		if m.ID != s.id {
			peerAddrs[m.ID] = m.ServerAddress
		}
	}
	s.mu.Unlock()

	req := PollRequest{Term: term, CandidateID: s.id, LastLogIndex: lastIdx, LastLogTerm: lastTerm}
	accepted := 1 // this server accepts its own poll
	for id, addr := range peerAddrs {
		resp, err := s.transport.SendPoll(addr, req)
		if err != nil {
			s.logger.Warn().Err(err).Str("peer", id).Msg("pre-vote poll failed")
			continue
		}
		if resp.Accepted {
			accepted++
		}
	}
	return accepted >= quorum
}

// becomeLeaderLocked performs leader initialization (§4.4 "Leader
// initialization"). Callers must hold s.mu.
func (s *Server) becomeLeaderLocked() {
	s.role = RoleLeader
	s.leaderID = s.id

	lastIdx := s.log.LastIndex()
	for _, p := range s.peers {
		p.MatchIndex = 0
		p.NextIndex = lastIdx + 1
		p.FailureCount = 0
	}

	s.appendNoOpAndConfigurationLocked()
}

func (s *Server) appendNoOpAndConfigurationLocked() {
	noopIdx, err := s.log.Append(&types.NoOpEntry{Timestamp: time.Now()}, s.term)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to append leader no-op entry")
		return
	}
	s.leaderInitialNoopIndex = noopIdx
	s.configChangePending = true

	cfgIdx, err := s.log.Append(&types.ConfigurationEntry{
		ConfigVersion: s.configuration.Version,
		Members:       s.configuration.Members,
	}, s.term)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to append leader configuration entry")
		return
	}
	_ = cfgIdx
}

// becomeFollowerLocked reverts to Follower under a new leader. Callers
// must hold s.mu.
func (s *Server) becomeFollowerLocked(term types.Term, leaderID string) error {
	if term > s.term {
		if err := s.stepDownLocked(term); err != nil {
			return err
		}
	} else {
		s.role = RoleFollower
	}
	s.leaderID = leaderID
	return nil
}
