package consensus

import (
	"time"

	"github.com/atomix/catalog/pkg/types"
)

// SweepExpiredSessions runs a leader-only expiration pass (§4.5 "Session
// expiration"): every open session whose last timestamp has exceeded its
// timeout is marked Suspect locally, and every session that was already
// Suspect on a previous pass — having gone a full sweep interval without
// a keep-alive or reconnect clearing the Suspect mark — has its
// expiration committed via UnregisterEntry{Expired: true}. Followers
// never call this; expiration is only ever leader-proposed.
func (s *Server) SweepExpiredSessions() error {
	s.mu.Lock()
	if s.role != RoleLeader {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_, alreadySuspect := s.sessions.SweepSuspects()
	for _, sess := range alreadySuspect {
		s.mu.Lock()
		_, _, err := s.proposeLocked(&types.UnregisterEntry{
			Session: sess.ID, Timestamp: time.Now(), Expired: true,
		})
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}
