package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/atomix/catalog/pkg/consensus"
	"github.com/atomix/catalog/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// stubHandler answers every RPC deterministically, letting the wire test
// exercise encode/decode without standing up a full consensus.Server.
type stubHandler struct{}

func (stubHandler) Vote(_ context.Context, req consensus.VoteRequest) (consensus.VoteResponse, error) {
	return consensus.VoteResponse{Term: req.Term, Granted: true}, nil
}
func (stubHandler) Poll(_ context.Context, req consensus.PollRequest) (consensus.PollResponse, error) {
	return consensus.PollResponse{Term: req.Term, Accepted: true}, nil
}
func (stubHandler) AppendEntries(_ context.Context, req consensus.AppendEntriesRequest) (consensus.AppendEntriesResponse, error) {
	return consensus.AppendEntriesResponse{Term: req.Term, Success: true, LogIndex: types.Index(len(req.Entries))}, nil
}
func (stubHandler) InstallSnapshot(_ context.Context, req consensus.InstallSnapshotRequest) (consensus.InstallSnapshotResponse, error) {
	return consensus.InstallSnapshotResponse{Term: req.Term, Status: consensus.StatusOK}, nil
}
func (stubHandler) Heartbeat(_ context.Context, req consensus.HeartbeatRequest) (consensus.HeartbeatResponse, error) {
	return consensus.HeartbeatResponse{Status: consensus.StatusOK}, nil
}
func (stubHandler) Configure(_ context.Context, req consensus.ConfigureRequest) (consensus.ConfigureResponse, error) {
	return consensus.ConfigureResponse{Status: consensus.StatusOK}, nil
}
func (stubHandler) Register(_ context.Context, req RegisterRequest) (RegisterResponse, error) {
	return RegisterResponse{Status: consensus.StatusOK, SessionID: 7}, nil
}
func (stubHandler) Connect(_ context.Context, req ConnectRequest) (ConnectResponse, error) {
	return ConnectResponse{Status: consensus.StatusOK}, nil
}
func (stubHandler) KeepAlive(_ context.Context, req KeepAliveRequest) (KeepAliveResponse, error) {
	return KeepAliveResponse{Status: consensus.StatusOK}, nil
}
func (stubHandler) Unregister(_ context.Context, req UnregisterRequest) (UnregisterResponse, error) {
	return UnregisterResponse{Status: consensus.StatusOK}, nil
}
func (stubHandler) Command(_ context.Context, req CommandRequest) (CommandResponse, error) {
	return CommandResponse{Status: consensus.StatusOK, Result: req.Payload}, nil
}
func (stubHandler) Query(_ context.Context, req types.QueryRequest) (QueryResponse, error) {
	return QueryResponse{Status: consensus.StatusOK, Ready: true, Result: req.Payload, Version: q_version}, nil
}
func (stubHandler) Status(_ context.Context, _ StatusRequest) (StatusResponse, error) {
	return StatusResponse{ID: "n1", Role: "leader", Term: 3, CommitIndex: 4}, nil
}

const q_version = 9

func startStubServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	g := grpc.NewServer()
	g.RegisterService(&ServiceDesc, stubHandler{})
	go g.Serve(lis)
	return lis.Addr().String(), g.Stop
}

func dialClient(t *testing.T, addr string) *Client {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	return &Client{conn: conn}
}

func TestVoteRPCRoundTripsOverRealConnection(t *testing.T) {
	addr, stop := startStubServer(t)
	defer stop()
	c := dialClient(t, addr)
	defer c.Close()

	resp, err := c.SendVote(addr, consensus.VoteRequest{Term: 3, CandidateID: "n1"})
	require.NoError(t, err)
	assert.Equal(t, types.Term(3), resp.Term)
	assert.True(t, resp.Granted)
}

func TestAppendEntriesRPCRoundTripsEntriesThroughWireCodec(t *testing.T) {
	addr, stop := startStubServer(t)
	defer stop()
	c := dialClient(t, addr)
	defer c.Close()

	entries := []types.Entry{
		&types.NoOpEntry{Header: types.Header{Index: 1, Term: 1}, Timestamp: time.Now()},
		&types.CommandEntry{Header: types.Header{Index: 2, Term: 1}, Session: 5, Sequence: 1, Payload: []byte("x")},
	}
	resp, err := c.SendAppendEntries(addr, consensus.AppendEntriesRequest{Term: 1, LeaderID: "n1", Entries: entries})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, types.Index(2), resp.LogIndex)
}

func TestCommandRPCRoundTripsPayload(t *testing.T) {
	addr, stop := startStubServer(t)
	defer stop()
	c := dialClient(t, addr)
	defer c.Close()

	resp, err := c.Command(context.Background(), 7, 1, []byte("payload"), types.ConsistencyCausal, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), resp.Result)
}

func TestQueryRPCRoundTrips(t *testing.T) {
	addr, stop := startStubServer(t)
	defer stop()
	c := dialClient(t, addr)
	defer c.Close()

	resp, err := c.Query(context.Background(), types.QueryRequest{Session: 7, Payload: []byte("q")})
	require.NoError(t, err)
	assert.True(t, resp.Ready)
	assert.Equal(t, []byte("q"), resp.Result)
	assert.Equal(t, uint64(9), resp.Version)
}

func TestStatusRPCRoundTrips(t *testing.T) {
	addr, stop := startStubServer(t)
	defer stop()
	c := dialClient(t, addr)
	defer c.Close()

	resp, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "n1", resp.ID)
	assert.Equal(t, "leader", resp.Role)
	assert.Equal(t, types.Term(3), resp.Term)
}
