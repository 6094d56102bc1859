package consensus

import (
	"fmt"
	"time"

	"github.com/atomix/catalog/pkg/types"
)

// ProposeJoin adds a new member to the cluster as Reserve (§4.4
// "Membership": "Join adds the new member as Reserve"). Enforces the
// single-change discipline: no new configuration entry may be logged
// while an earlier one is uncommitted, and none may be logged before
// this leader's own no-op has committed.
func (s *Server) ProposeJoin(member types.Member) (types.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleLeader {
		return 0, fmt.Errorf("consensus: propose join: not leader")
	}
	if s.configChangePending {
		return 0, fmt.Errorf("consensus: propose join: a configuration change is already pending")
	}
	if _, exists := s.configuration.Get(member.ID); exists {
		return 0, fmt.Errorf("consensus: propose join: member %s already present", member.ID)
	}

	member.Type = types.MemberReserve
	next := s.configuration.WithMember(member)
	return s.logConfigurationLocked(next)
}

// ProposeLeave removes a member from the cluster (§4.4 "Leave removes").
func (s *Server) ProposeLeave(memberID string) (types.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleLeader {
		return 0, fmt.Errorf("consensus: propose leave: not leader")
	}
	if s.configChangePending {
		return 0, fmt.Errorf("consensus: propose leave: a configuration change is already pending")
	}
	if _, exists := s.configuration.Get(memberID); !exists {
		return 0, fmt.Errorf("consensus: propose leave: member %s not present", memberID)
	}

	next := s.configuration.WithoutMember(memberID)
	return s.logConfigurationLocked(next)
}

func (s *Server) logConfigurationLocked(next types.Configuration) (types.Index, error) {
	idx, err := s.log.Append(&types.ConfigurationEntry{
		ConfigVersion: next.Version,
		Members:       next.Members,
	}, s.term)
	if err != nil {
		return 0, err
	}
	s.configChangePending = true
	s.applyConfigurationAtAppendLocked(&types.ConfigurationEntry{ConfigVersion: next.Version, Members: next.Members})
	return idx, nil
}

// ApplyConfigurationEntry is called on commit (in addition to the
// at-append-time effect already applied by applyConfigurationAtAppendLocked)
// to persist the now-durable configuration to the meta store and clear
// the single-change gate.
func (s *Server) ApplyConfigurationEntry(e *types.ConfigurationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := types.Configuration{Version: e.ConfigVersion, Members: e.Members}
	if err := s.meta.SetConfiguration(cfg); err != nil {
		return err
	}
	s.configChangePending = false
	s.rebalanceLocked()
	return nil
}

// rebalanceLocked promotes Reserve -> Passive -> Active members as their
// replication catches up, per §4.4's rebalancer: triggered after each
// heartbeat-induced availability change and after each configuration
// commit. Only a leader rebalances; it does so by proposing the next
// configuration change once the single-change gate is clear.
func (s *Server) rebalanceLocked() {
	if s.role != RoleLeader || s.configChangePending {
		return
	}
	promoted, ok := s.nextPromotionLocked()
	if !ok {
		return
	}
	next := s.configuration.WithMember(promoted)
	if _, err := s.logConfigurationLocked(next); err != nil {
		s.logger.Warn().Err(err).Str("member", promoted.ID).Msg("rebalance promotion failed")
	}
}

// nextPromotionLocked finds the first member eligible to advance one
// tier (Reserve -> Passive -> Active), based on whether its replication
// has caught up to the leader's committed index and it has been heard
// from recently.
func (s *Server) nextPromotionLocked() (types.Member, bool) {
	for _, m := range s.configuration.Members {
		if m.Type != types.MemberReserve && m.Type != types.MemberPassive {
			continue
		}
		lastSeen, seen := s.memberLastSeen[m.ID]
		if !seen || time.Since(lastSeen) > 2*s.heartbeatTimeout {
			continue
		}
		caughtUp := s.memberCommitIndex[m.ID] >= s.commitIndex
		if !caughtUp {
			continue
		}
		promoted := m
		if m.Type == types.MemberReserve {
			promoted.Type = types.MemberPassive
		} else {
			promoted.Type = types.MemberActive
		}
		return promoted, true
	}
	return types.Member{}, false
}
