package consensus

import (
	"github.com/atomix/catalog/pkg/types"
)

// Status is the outcome carried by every response, per §6: "Every
// response carries {status, error?}".
type Status uint8

const (
	StatusOK Status = iota
	StatusError
)

// VoteRequest is a candidate's request for a vote in an election.
type VoteRequest struct {
	Term         types.Term
	CandidateID  string
	LastLogIndex types.Index
	LastLogTerm  types.Term
}

// VoteResponse answers a VoteRequest.
type VoteResponse struct {
	Term    types.Term
	Granted bool
}

// PollRequest is the pre-vote probe a follower sends before becoming a
// candidate (§4.4 "Election"), so a partitioned node cannot disrupt a
// healthy leader by bumping the term on every timeout.
type PollRequest struct {
	Term         types.Term
	CandidateID  string
	LastLogIndex types.Index
	LastLogTerm  types.Term
}

// PollResponse answers a PollRequest.
type PollResponse struct {
	Term     types.Term
	Accepted bool
}

// AppendEntriesRequest replicates log entries (or serves as a heartbeat
// when Entries is empty).
type AppendEntriesRequest struct {
	Term          types.Term
	LeaderID      string
	PrevLogIndex  types.Index
	PrevLogTerm   types.Term
	Entries       []types.Entry
	CommitIndex   types.Index
	GlobalIndex   types.Index
}

// AppendEntriesResponse answers an AppendEntriesRequest.
type AppendEntriesResponse struct {
	Term    types.Term
	Success bool
	// LogIndex is the divergence point on rejection, per §4.4:
	// "log_index = min(prev_log_index - 1, local.last_index)".
	LogIndex types.Index
}

// HeartbeatRequest is a stateful member's periodic liveness report to
// the leader (§4.4 "Heartbeats & availability").
type HeartbeatRequest struct {
	MemberID    string
	CommitIndex types.Index
}

// HeartbeatResponse acknowledges a HeartbeatRequest.
type HeartbeatResponse struct {
	Status Status
}

// ConfigureRequest proposes a membership change (Join or Leave).
type ConfigureRequest struct {
	Join   *types.Member
	Leave  string
}

// ConfigureResponse answers a ConfigureRequest.
type ConfigureResponse struct {
	Status Status
	Error  types.ErrorKind
}

// InstallSnapshotRequest transfers one chunk of a snapshot to a lagging
// peer (§6 "Install (snapshot chunks)").
type InstallSnapshotRequest struct {
	Term      types.Term
	LeaderID  string
	ID        string
	Index     types.Index
	Chunk     int
	Data      []byte
	Done      bool
}

// InstallSnapshotResponse answers an InstallSnapshotRequest.
type InstallSnapshotResponse struct {
	Term   types.Term
	Status Status
}
