package consensus

import (
	"fmt"
	"time"

	"github.com/atomix/catalog/pkg/types"
)

// snapshotStateMachineID is the state-machine identifier snapshots are
// filed under in pkg/snapshotstore. catalog drives exactly one state
// machine per server, so a constant id is enough to address it (§6).
const snapshotStateMachineID = "sessions"

// snapshotChunkSize bounds how much of a snapshot one InstallSnapshot
// RPC carries, mirroring MaxBatchBytes's role for AppendEntries.
const snapshotChunkSize = 64 * 1024

// TakeSnapshot captures the session registry (and the state machine
// bound to it) at the current apply index and commits it to the local
// snapshot store, advancing snapshot_index so major compaction can
// reclaim everything it covers (§4.3 "Snapshotting"). A no-op if no
// snapshot store is configured or nothing has applied since the last
// snapshot.
func (s *Server) TakeSnapshot() error {
	s.mu.Lock()
	if s.snapshots == nil {
		s.mu.Unlock()
		return nil
	}
	index := s.lastApplied
	if index == 0 || index <= s.snapshotIndex {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	data, err := s.sessions.Snapshot()
	if err != nil {
		return fmt.Errorf("consensus: snapshot: %w", err)
	}

	if err := s.snapshots.Begin(snapshotStateMachineID, uint64(index)); err != nil {
		return fmt.Errorf("consensus: snapshot: begin: %w", err)
	}
	chunks := chunkify(data, snapshotChunkSize)
	for i, chunk := range chunks {
		if err := s.snapshots.WriteChunk(snapshotStateMachineID, uint64(index), i, chunk); err != nil {
			return fmt.Errorf("consensus: snapshot: write chunk %d: %w", i, err)
		}
	}
	if err := s.snapshots.Commit(snapshotStateMachineID, uint64(index), len(chunks)); err != nil {
		return fmt.Errorf("consensus: snapshot: commit: %w", err)
	}

	s.mu.Lock()
	s.snapshotIndex = index
	s.mu.Unlock()
	s.logger.Info().Uint64("index", uint64(index)).Int("chunks", len(chunks)).Msg("snapshot complete")
	return nil
}

// sendSnapshotToPeer streams the most recent local snapshot to member
// chunk by chunk, called when a peer has fallen far enough behind that
// ReplicateToPeer can no longer serve it from the log (§6 "Install
// (snapshot chunks)").
func (s *Server) sendSnapshotToPeer(peerID string, member types.Member) error {
	if s.snapshots == nil {
		return fmt.Errorf("consensus: send snapshot: no local snapshot store configured")
	}
	meta, ok, err := s.snapshots.Latest(snapshotStateMachineID)
	if err != nil {
		return fmt.Errorf("consensus: send snapshot: %w", err)
	}
	if !ok {
		return fmt.Errorf("consensus: send snapshot: no local snapshot available for %s", peerID)
	}

	for chunk := 0; chunk < meta.Chunks; chunk++ {
		data, err := s.snapshots.ReadChunk(snapshotStateMachineID, meta.Index, chunk)
		if err != nil {
			return fmt.Errorf("consensus: send snapshot: read chunk %d: %w", chunk, err)
		}

		s.mu.Lock()
		if s.role != RoleLeader {
			s.mu.Unlock()
			return nil
		}
		term := s.term
		s.mu.Unlock()

		resp, err := s.transport.SendInstallSnapshot(member.ServerAddress, InstallSnapshotRequest{
			Term:     term,
			LeaderID: s.id,
			ID:       snapshotStateMachineID,
			Index:    types.Index(meta.Index),
			Chunk:    chunk,
			Data:     data,
			Done:     chunk == meta.Chunks-1,
		})
		if err != nil {
			return fmt.Errorf("consensus: send snapshot: chunk %d: %w", chunk, err)
		}

		s.mu.Lock()
		if resp.Term > s.term {
			err := s.stepDownLocked(resp.Term)
			s.mu.Unlock()
			return err
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	if peer, ok := s.peers[peerID]; ok {
		peer.MatchIndex = types.Index(meta.Index)
		peer.NextIndex = types.Index(meta.Index) + 1
		peer.CommitTime = time.Now()
		peer.SnapshotIndex = 0
		peer.SnapshotOffset = 0
	}
	s.mu.Unlock()
	s.logger.Info().Str("peer", peerID).Uint64("index", meta.Index).Msg("sent snapshot to peer")
	return nil
}

// HandleInstallSnapshot receives one chunk of a leader-sent snapshot
// (§6 "Install (snapshot chunks)"). On the final chunk it commits the
// chunk set, restores the session registry and state machine from it,
// and fast-forwards the local log past the gap the snapshot covers via
// Skip, so ApplyCommitted's "held in a skipped hole" path treats those
// indices as already applied.
func (s *Server) HandleInstallSnapshot(req InstallSnapshotRequest) (InstallSnapshotResponse, error) {
	s.mu.Lock()
	if req.Term < s.term {
		term := s.term
		s.mu.Unlock()
		return InstallSnapshotResponse{Term: term, Status: StatusError}, nil
	}
	if req.Term > s.term {
		if err := s.stepDownLocked(req.Term); err != nil {
			s.mu.Unlock()
			return InstallSnapshotResponse{}, err
		}
	}
	s.leaderID = req.LeaderID
	s.lastContact = time.Now()
	term := s.term
	s.mu.Unlock()

	if s.snapshots == nil {
		return InstallSnapshotResponse{Term: term, Status: StatusError},
			fmt.Errorf("consensus: install snapshot: no local snapshot store configured")
	}

	if req.Chunk == 0 {
		if err := s.snapshots.Begin(req.ID, uint64(req.Index)); err != nil {
			return InstallSnapshotResponse{Term: term, Status: StatusError}, err
		}
	}
	if err := s.snapshots.WriteChunk(req.ID, uint64(req.Index), req.Chunk, req.Data); err != nil {
		return InstallSnapshotResponse{Term: term, Status: StatusError}, err
	}
	if !req.Done {
		return InstallSnapshotResponse{Term: term, Status: StatusOK}, nil
	}

	if err := s.snapshots.Commit(req.ID, uint64(req.Index), req.Chunk+1); err != nil {
		return InstallSnapshotResponse{Term: term, Status: StatusError}, err
	}
	data, err := s.readFullSnapshot(req.ID, uint64(req.Index), req.Chunk+1)
	if err != nil {
		return InstallSnapshotResponse{Term: term, Status: StatusError}, err
	}
	if err := s.sessions.Restore(data); err != nil {
		return InstallSnapshotResponse{Term: term, Status: StatusError}, err
	}

	s.mu.Lock()
	if s.log.LastIndex() < req.Index {
		if err := s.log.Skip(uint64(req.Index) - uint64(s.log.LastIndex())); err != nil {
			s.mu.Unlock()
			return InstallSnapshotResponse{Term: term, Status: StatusError}, err
		}
	}
	if req.Index > s.lastApplied {
		s.lastApplied = req.Index
	}
	if req.Index > s.commitIndex {
		s.commitIndex = req.Index
		s.log.Commit(req.Index)
	}
	if req.Index > s.snapshotIndex {
		s.snapshotIndex = req.Index
	}
	s.mu.Unlock()

	s.logger.Info().Uint64("index", uint64(req.Index)).Msg("installed snapshot from leader")
	return InstallSnapshotResponse{Term: term, Status: StatusOK}, nil
}

// readFullSnapshot reassembles a committed snapshot's chunks in order.
func (s *Server) readFullSnapshot(id string, index uint64, chunks int) ([]byte, error) {
	var buf []byte
	for i := 0; i < chunks; i++ {
		chunk, err := s.snapshots.ReadChunk(id, index, i)
		if err != nil {
			return nil, fmt.Errorf("consensus: read snapshot: chunk %d: %w", i, err)
		}
		buf = append(buf, chunk...)
	}
	return buf, nil
}

// chunkify splits data into pieces of at most size bytes each, always
// returning at least one (possibly empty) chunk so an empty snapshot
// still has something to commit and transfer.
func chunkify(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
