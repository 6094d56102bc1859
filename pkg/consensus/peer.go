package consensus

import (
	"time"

	"github.com/atomix/catalog/pkg/types"
)

// PeerState is the leader's per-peer replication bookkeeping (§3 "Per-
// Peer Replication State").
type PeerState struct {
	MemberID        string
	MatchIndex      types.Index
	NextIndex       types.Index
	CommitTime      time.Time
	CommitStartTime time.Time
	FailureCount    int
	SnapshotIndex   types.Index
	SnapshotOffset  int64
}

// recordSuccess updates match/next index after a successful AppendEntries
// response (§4.4 "Replication (leader side)").
func (p *PeerState) recordSuccess(logIndex types.Index, now time.Time) {
	if logIndex > p.MatchIndex {
		p.MatchIndex = logIndex
	}
	if p.MatchIndex+1 > p.NextIndex {
		p.NextIndex = p.MatchIndex + 1
	}
	p.CommitTime = now
	p.FailureCount = 0
}

// recordRejection resets match/next index after a consistency rejection
// to the divergence point the follower reported (§4.4: "reset
// match_index := response.log_index, next_index := match_index+1").
func (p *PeerState) recordRejection(logIndex types.Index) {
	p.MatchIndex = logIndex
	p.NextIndex = logIndex + 1
	p.FailureCount++
}
