package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/atomix/catalog/pkg/consensus"
	"github.com/atomix/catalog/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps one peer connection and exposes both the consensus.Transport
// surface (vote/poll/append/install, for pkg/consensus to drive directly)
// and the client-facing session RPCs, grounded on Warren's
// pkg/client.Client wrapper-with-typed-methods shape.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens an insecure connection to a peer at addr. catalog's RPC
// surface is an internal cluster protocol between configured members;
// unlike Warren's CLI-facing API, it carries no end-user
// credentials, so plaintext transport credentials are sufficient here.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp, grpc.CallContentSubtype(codecName))
}

// SendVote implements consensus.Transport.
func (c *Client) SendVote(addr string, req consensus.VoteRequest) (consensus.VoteResponse, error) {
	var resp consensus.VoteResponse
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.invoke(ctx, "Vote", &req, &resp)
	return resp, err
}

// SendPoll implements consensus.Transport.
func (c *Client) SendPoll(addr string, req consensus.PollRequest) (consensus.PollResponse, error) {
	var resp consensus.PollResponse
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.invoke(ctx, "Poll", &req, &resp)
	return resp, err
}

// SendAppendEntries implements consensus.Transport.
func (c *Client) SendAppendEntries(addr string, req consensus.AppendEntriesRequest) (consensus.AppendEntriesResponse, error) {
	wire, err := toWireAppendEntries(req)
	if err != nil {
		return consensus.AppendEntriesResponse{}, err
	}
	var resp consensus.AppendEntriesResponse
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = c.invoke(ctx, "AppendEntries", &wire, &resp)
	return resp, err
}

// SendInstallSnapshot implements consensus.Transport.
func (c *Client) SendInstallSnapshot(addr string, req consensus.InstallSnapshotRequest) (consensus.InstallSnapshotResponse, error) {
	var resp consensus.InstallSnapshotResponse
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := c.invoke(ctx, "InstallSnapshot", &req, &resp)
	return resp, err
}

// SendHeartbeat reports this stateful member's commit index to the leader.
func (c *Client) SendHeartbeat(ctx context.Context, req consensus.HeartbeatRequest) (consensus.HeartbeatResponse, error) {
	var resp consensus.HeartbeatResponse
	err := c.invoke(ctx, "Heartbeat", &req, &resp)
	return resp, err
}

// SendConfigure proposes a membership change to the leader.
func (c *Client) SendConfigure(ctx context.Context, req consensus.ConfigureRequest) (consensus.ConfigureResponse, error) {
	var resp consensus.ConfigureResponse
	err := c.invoke(ctx, "Configure", &req, &resp)
	return resp, err
}

// Register opens a new client session against the leader.
func (c *Client) Register(ctx context.Context, clientID string, timeout time.Duration) (RegisterResponse, error) {
	var resp RegisterResponse
	err := c.invoke(ctx, "Register", &RegisterRequest{ClientID: clientID, TimeoutMillis: timeout.Milliseconds()}, &resp)
	return resp, err
}

// Connect pins an open session to this connection's address.
func (c *Client) Connect(ctx context.Context, sessionID types.Index, address string) (ConnectResponse, error) {
	var resp ConnectResponse
	err := c.invoke(ctx, "Connect", &ConnectRequest{SessionID: sessionID, Address: address}, &resp)
	return resp, err
}

// KeepAlive refreshes session liveness and acknowledges delivered state.
func (c *Client) KeepAlive(ctx context.Context, sessionID types.Index, commandSeqAck, eventVersionAck uint64) (KeepAliveResponse, error) {
	var resp KeepAliveResponse
	err := c.invoke(ctx, "KeepAlive", &KeepAliveRequest{SessionID: sessionID, CommandSeqAck: commandSeqAck, EventVersionAck: eventVersionAck}, &resp)
	return resp, err
}

// Unregister closes a session.
func (c *Client) Unregister(ctx context.Context, sessionID types.Index) (UnregisterResponse, error) {
	var resp UnregisterResponse
	err := c.invoke(ctx, "Unregister", &UnregisterRequest{SessionID: sessionID}, &resp)
	return resp, err
}

// Command submits a state-changing operation under a session's sequence
// discipline.
func (c *Client) Command(ctx context.Context, sessionID types.Index, sequence uint64, payload []byte, consistency types.ConsistencyLevel, tombstone bool) (CommandResponse, error) {
	var resp CommandResponse
	err := c.invoke(ctx, "Command", &CommandRequest{
		SessionID: sessionID, Sequence: sequence, Payload: payload, Consistency: consistency, Tombstone: tombstone,
	}, &resp)
	return resp, err
}

// Query evaluates a read-only request at the requested consistency level.
func (c *Client) Query(ctx context.Context, req types.QueryRequest) (QueryResponse, error) {
	var resp QueryResponse
	err := c.invoke(ctx, "Query", &req, &resp)
	return resp, err
}

// Status fetches a point-in-time inspection snapshot from the dialed
// member.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.invoke(ctx, "Status", &StatusRequest{}, &resp)
	return resp, err
}
