package consensus

// RunCompaction advances major_compact_index to the current global index
// (§4.3: "major_compact_index equals the global_index — the minimum
// match index over all members — since only entries replicated
// everywhere can be safely discarded"), then runs one compaction pass
// over every sealed segment: segments are merged with MajorCompact when
// two or more are sealed, or rewritten in place with MinorCompact when
// only one is. The current (writable) segment, always last in
// Log.Segments, is never touched. Safe to call repeatedly; a pass with
// nothing sealed is a no-op.
func (s *Server) RunCompaction() error {
	s.mu.Lock()
	s.majorCompactIndex = s.globalIndex
	majorCompactIndex := s.majorCompactIndex
	snapshotIndex := s.snapshotIndex
	s.mu.Unlock()

	segments := s.log.Segments()
	if len(segments) < 2 {
		return nil // only the writable segment exists; nothing sealed yet
	}
	sealed := segments[:len(segments)-1]

	if len(sealed) == 1 {
		id := sealed[0].Descriptor().ID
		if err := s.log.MinorCompact(id, majorCompactIndex); err != nil {
			return err
		}
		s.logger.Info().Uint64("segment", id).Msg("minor compaction complete")
		return nil
	}

	ids := make([]uint64, len(sealed))
	for i, seg := range sealed {
		ids[i] = seg.Descriptor().ID
	}
	if err := s.log.MajorCompact(ids, snapshotIndex, majorCompactIndex); err != nil {
		return err
	}
	s.logger.Info().Int("segments", len(ids)).Msg("major compaction complete")
	return nil
}
