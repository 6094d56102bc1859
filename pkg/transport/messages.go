package transport

import (
	"github.com/atomix/catalog/pkg/consensus"
	"github.com/atomix/catalog/pkg/logstore"
	"github.com/atomix/catalog/pkg/session"
	"github.com/atomix/catalog/pkg/types"
)

// WireEvent mirrors session.Event for JSON transport.
type WireEvent struct {
	Version  uint64
	Sequence uint64
	Payload  []byte
}

func toWireEvents(events []session.Event) []WireEvent {
	if len(events) == 0 {
		return nil
	}
	out := make([]WireEvent, len(events))
	for i, e := range events {
		out[i] = WireEvent{Version: e.Version, Sequence: e.Sequence, Payload: e.Payload}
	}
	return out
}

// appendEntriesRequestWire mirrors consensus.AppendEntriesRequest but
// carries its entries as §6 wire records (logstore.EncodeEntry output)
// instead of the bare types.Entry interface, which encoding/json cannot
// round-trip without a concrete type to unmarshal into.
type appendEntriesRequestWire struct {
	Term         types.Term
	LeaderID     string
	PrevLogIndex types.Index
	PrevLogTerm  types.Term
	Entries      [][]byte
	CommitIndex  types.Index
	GlobalIndex  types.Index
}

func toWireAppendEntries(req consensus.AppendEntriesRequest) (appendEntriesRequestWire, error) {
	encoded := make([][]byte, len(req.Entries))
	for i, e := range req.Entries {
		b, err := logstore.EncodeEntry(e)
		if err != nil {
			return appendEntriesRequestWire{}, err
		}
		encoded[i] = b
	}
	return appendEntriesRequestWire{
		Term:         req.Term,
		LeaderID:     req.LeaderID,
		PrevLogIndex: req.PrevLogIndex,
		PrevLogTerm:  req.PrevLogTerm,
		Entries:      encoded,
		CommitIndex:  req.CommitIndex,
		GlobalIndex:  req.GlobalIndex,
	}, nil
}

func fromWireAppendEntries(req appendEntriesRequestWire) (consensus.AppendEntriesRequest, error) {
	entries := make([]types.Entry, len(req.Entries))
	for i, b := range req.Entries {
		e, _, err := logstore.DecodeEntry(b)
		if err != nil {
			return consensus.AppendEntriesRequest{}, err
		}
		entries[i] = e
	}
	return consensus.AppendEntriesRequest{
		Term:         req.Term,
		LeaderID:     req.LeaderID,
		PrevLogIndex: req.PrevLogIndex,
		PrevLogTerm:  req.PrevLogTerm,
		Entries:      entries,
		CommitIndex:  req.CommitIndex,
		GlobalIndex:  req.GlobalIndex,
	}, nil
}

// RegisterRequest opens a new client session (§6 "Register").
type RegisterRequest struct {
	ClientID      string
	TimeoutMillis int64
}

// RegisterResponse answers a RegisterRequest.
type RegisterResponse struct {
	Status    consensus.Status
	Error     types.ErrorKind
	SessionID types.Index
}

// ConnectRequest pins a session to the member the client is currently
// talking to (§6 "Connect").
type ConnectRequest struct {
	SessionID types.Index
	Address   string
}

// ConnectResponse answers a ConnectRequest.
type ConnectResponse struct {
	Status consensus.Status
	Error  types.ErrorKind
}

// KeepAliveRequest refreshes session liveness (§6 "KeepAlive").
type KeepAliveRequest struct {
	SessionID       types.Index
	CommandSeqAck   uint64
	EventVersionAck uint64
}

// KeepAliveResponse answers a KeepAliveRequest, including any events
// still owed to the session after the ack trims delivered ones (§4.5
// "Events").
type KeepAliveResponse struct {
	Status consensus.Status
	Error  types.ErrorKind
	Events []WireEvent
}

// UnregisterRequest closes a session by client request (§6 "Unregister").
type UnregisterRequest struct {
	SessionID types.Index
}

// UnregisterResponse answers an UnregisterRequest.
type UnregisterResponse struct {
	Status consensus.Status
	Error  types.ErrorKind
}

// CommandRequest submits a state-changing operation (§6 "Command").
type CommandRequest struct {
	SessionID   types.Index
	Sequence    uint64
	Payload     []byte
	Consistency types.ConsistencyLevel
	Tombstone   bool
}

// CommandResponse answers a CommandRequest. Events carries any
// notifications the apply produced for this session, released to the
// client alongside the command result (§4.5 "Events").
type CommandResponse struct {
	Status    consensus.Status
	Error     types.ErrorKind
	Result    []byte
	ResultErr string
	Events    []WireEvent
}

// StatusRequest asks a member for a point-in-time inspection snapshot,
// the supplemented status/inspection surface (§9 decisions) used by
// catalogd's "status" subcommand.
type StatusRequest struct{}

// StatusResponse mirrors consensus.Status over the wire.
type StatusResponse struct {
	ID          string
	Role        string
	Term        types.Term
	Leader      string
	CommitIndex types.Index
	LastApplied types.Index
	GlobalIndex types.Index
	Members     int
}

// QueryResponse answers a types.QueryRequest.
type QueryResponse struct {
	Status    consensus.Status
	Error     types.ErrorKind
	Ready     bool
	Result    []byte
	ResultErr string
	Version   uint64
}
