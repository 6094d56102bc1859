package consensus

import (
	"sort"
	"time"

	"github.com/atomix/catalog/pkg/types"
)

// MaxBatchBytes bounds how much log data one AppendEntries carries
// (§4.4: "Batch up to MAX_BATCH_SIZE bytes").
const MaxBatchBytes = 256 * 1024

// ReplicateToPeer sends one AppendEntries to peerID and folds the
// response into that peer's state, stepping down if a higher term is
// observed (§4.4 "Replication (leader side)").
func (s *Server) ReplicateToPeer(peerID string) error {
	s.mu.Lock()
	if s.role != RoleLeader {
		s.mu.Unlock()
		return nil
	}
	peer, ok := s.peers[peerID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	member, ok := s.configuration.Get(peerID)
	if !ok {
		s.mu.Unlock()
		return nil
	}

	if first := s.log.FirstIndex(); first != 0 && peer.NextIndex < first {
		s.mu.Unlock()
		return s.sendSnapshotToPeer(peerID, member)
	}

	prevIndex := peer.NextIndex - 1
	var prevTerm types.Term
	if prevIndex > 0 {
		if e, ok := s.log.Get(prevIndex); ok {
			prevTerm = e.EntryHeader().Term
		}
	}

	entries := s.collectEntriesLocked(peer.NextIndex)
	req := AppendEntriesRequest{
		Term:         s.term,
		LeaderID:     s.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		CommitIndex:  s.commitIndex,
		GlobalIndex:  s.globalIndex,
	}
	peer.CommitStartTime = time.Now()
	term := s.term
	s.mu.Unlock()

	resp, err := s.transport.SendAppendEntries(member.ServerAddress, req)
	if err != nil {
		s.mu.Lock()
		peer.FailureCount++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleLeader || s.term != term {
		return nil
	}
	if resp.Term > s.term {
		return s.stepDownLocked(resp.Term)
	}
	if resp.Success {
		peer.recordSuccess(resp.LogIndex, time.Now())
		s.advanceCommitIndexLocked()
	} else {
		peer.recordRejection(resp.LogIndex)
	}
	return nil
}

// AdvanceCommitIndex recomputes commit_index against the current peer
// state, for the node driver to call on every heartbeat tick. A
// single-member cluster has no peer RPCs to trigger this from, since
// ReplicateToPeer only runs per configured peer, so the leader's own
// no-op and configuration entries would otherwise never commit.
func (s *Server) AdvanceCommitIndex() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceCommitIndexLocked()
}

// collectEntriesLocked gathers entries from fromIndex up to the log's
// end, bounded by MaxBatchBytes. Callers must hold s.mu.
func (s *Server) collectEntriesLocked(fromIndex types.Index) []types.Entry {
	last := s.log.LastIndex()
	if fromIndex > last {
		return nil
	}
	var entries []types.Entry
	var size int
	for idx := fromIndex; idx <= last; idx++ {
		e, ok := s.log.Get(idx)
		if !ok {
			continue
		}
		entries = append(entries, e)
		size += entryApproxSize(e)
		if size >= MaxBatchBytes {
			break
		}
	}
	return entries
}

func entryApproxSize(e types.Entry) int {
	// A rough, allocation-free stand-in for the exact wire size; good
	// enough to bound a batch without re-encoding every candidate entry.
	return 128
}

// advanceCommitIndexLocked recomputes commit_index as the median
// match_index over the voting quorum (the lower middle value when the
// voter count is even, so a majority of voters holds it), and never
// advances it below the leader's own initial no-op (§4.4
// leader-completeness). Callers must hold s.mu.
func (s *Server) advanceCommitIndexLocked() {
	if s.role != RoleLeader {
		return
	}
	voters := s.configuration.VotingMembers()
	matches := make([]types.Index, 0, len(voters))
	for _, m := range voters {
		if m.ID == s.id {
			matches = append(matches, s.log.LastIndex())
			continue
		}
		if p, ok := s.peers[m.ID]; ok {
			matches = append(matches, p.MatchIndex)
		} else {
			matches = append(matches, 0)
		}
	}
	if len(matches) == 0 {
		return
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })
	median := matches[(len(matches)-1)/2]

	if median < s.leaderInitialNoopIndex {
		return
	}
	if median > s.commitIndex {
		s.commitIndex = median
		s.log.Commit(median)
		if s.leaderInitialNoopIndex != 0 && median >= s.leaderInitialNoopIndex {
			s.configChangePending = false
		}
	}
}
