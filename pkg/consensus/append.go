package consensus

import (
	"time"

	"github.com/atomix/catalog/pkg/types"
)

// HandleAppendEntries implements the follower side of replication
// (§4.4 "Follower append"), including the AppendEntries-as-heartbeat
// case when Entries is empty.
func (s *Server) HandleAppendEntries(req AppendEntriesRequest) (AppendEntriesResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Term < s.term {
		return AppendEntriesResponse{Term: s.term, Success: false}, nil
	}
	s.lastContact = time.Now()
	if req.Term > s.term || s.role == RoleCandidate {
		if err := s.becomeFollowerLocked(req.Term, req.LeaderID); err != nil {
			return AppendEntriesResponse{}, err
		}
	} else {
		s.leaderID = req.LeaderID
		s.role = RoleFollower
	}

	lastIndex := s.log.LastIndex()
	if req.PrevLogIndex > 0 {
		entry, ok := s.log.Get(req.PrevLogIndex)
		if !ok || entry.EntryHeader().Term != req.PrevLogTerm {
			divergeAt := lastIndex
			if req.PrevLogIndex-1 < divergeAt {
				divergeAt = req.PrevLogIndex - 1
			}
			return AppendEntriesResponse{Term: s.term, Success: false, LogIndex: divergeAt}, nil
		}
	}

	for _, incoming := range req.Entries {
		idx := incoming.EntryHeader().Index
		local, ok := s.log.Get(idx)
		switch {
		case !ok && idx > s.log.LastIndex():
			if gap := idx - s.log.LastIndex() - 1; gap > 0 {
				if err := s.log.Skip(uint64(gap)); err != nil {
					return AppendEntriesResponse{}, err
				}
			}
			if _, err := s.log.Append(incoming, incoming.EntryHeader().Term); err != nil {
				return AppendEntriesResponse{}, err
			}
		case ok && local.EntryHeader().Term == incoming.EntryHeader().Term:
			// Already present and matching; leave alone.
		default:
			s.log.Truncate(idx - 1)
			if _, err := s.log.Append(incoming, incoming.EntryHeader().Term); err != nil {
				return AppendEntriesResponse{}, err
			}
		}

		if cfg, ok := incoming.(*types.ConfigurationEntry); ok {
			s.applyConfigurationAtAppendLocked(cfg)
		}
	}

	applyUpTo := req.CommitIndex
	if last := s.log.LastIndex(); last < applyUpTo {
		applyUpTo = last
	}
	if applyUpTo > s.commitIndex {
		s.commitIndex = applyUpTo
		s.log.Commit(applyUpTo)
	}
	if req.GlobalIndex > s.globalIndex {
		s.globalIndex = req.GlobalIndex
	}

	return AppendEntriesResponse{Term: s.term, Success: true, LogIndex: s.log.LastIndex()}, nil
}

// applyConfigurationAtAppendLocked installs a configuration entry's
// membership the moment it is appended, not when it commits — required
// for configuration changes to converge across minority splits (§4.4).
func (s *Server) applyConfigurationAtAppendLocked(e *types.ConfigurationEntry) {
	s.configuration = types.Configuration{Version: e.ConfigVersion, Members: e.Members}
	s.peers = rebuildPeerStates(s.peers, s.configuration, s.id)
}

// rebuildPeerStates replicates to every stateful member (Active and
// Passive), not only voters: Passive members hold replicated log state
// too and count toward the global index (§9).
func rebuildPeerStates(existing map[string]*PeerState, cfg types.Configuration, selfID string) map[string]*PeerState {
	next := make(map[string]*PeerState, len(cfg.Members))
	for _, m := range cfg.StatefulMembers() {
		if m.ID == selfID {
			continue
		}
		if p, ok := existing[m.ID]; ok {
			next[m.ID] = p
		} else {
			next[m.ID] = &PeerState{MemberID: m.ID}
		}
	}
	return next
}
