package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	catalog_log "github.com/atomix/catalog/pkg/log"
	"github.com/atomix/catalog/pkg/consensus"
	"github.com/atomix/catalog/pkg/types"
	"google.golang.org/grpc"
)

// Server hosts catalog's RPC surface over gRPC with the JSON codec
// registered in codec.go, grounded on Warren's api.Server (mTLS
// setup aside — internal cluster RPCs here run on a private network and
// authenticate members by configuration membership, not certificates).
type Server struct {
	grpc *grpc.Server
}

// NewServer wraps consensus for RPC dispatch and registers it against
// the service descriptor.
func NewServer(consensusServer *consensus.Server) *Server {
	g := grpc.NewServer()
	g.RegisterService(&ServiceDesc, &serverHandler{consensusServer: consensusServer})
	return &Server{grpc: g}
}

// Serve blocks accepting connections on addr until the listener closes.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}
	catalog_log.WithComponent("transport").Info().Str("addr", addr).Msg("rpc server listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs before returning.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

// serverHandler implements Handler by delegating to a *consensus.Server,
// translating its domain errors into the {status, error} envelope §6
// specifies for every response.
type serverHandler struct {
	consensusServer *consensus.Server
}

func (h *serverHandler) Vote(_ context.Context, req consensus.VoteRequest) (consensus.VoteResponse, error) {
	return h.consensusServer.HandleVote(req)
}

func (h *serverHandler) Poll(_ context.Context, req consensus.PollRequest) (consensus.PollResponse, error) {
	return h.consensusServer.HandlePoll(req), nil
}

func (h *serverHandler) AppendEntries(_ context.Context, req consensus.AppendEntriesRequest) (consensus.AppendEntriesResponse, error) {
	return h.consensusServer.HandleAppendEntries(req)
}

func (h *serverHandler) InstallSnapshot(_ context.Context, req consensus.InstallSnapshotRequest) (consensus.InstallSnapshotResponse, error) {
	return h.consensusServer.HandleInstallSnapshot(req)
}

func (h *serverHandler) Heartbeat(_ context.Context, req consensus.HeartbeatRequest) (consensus.HeartbeatResponse, error) {
	return h.consensusServer.HandleHeartbeat(req)
}

func (h *serverHandler) Configure(_ context.Context, req consensus.ConfigureRequest) (consensus.ConfigureResponse, error) {
	if req.Join != nil {
		if _, err := h.consensusServer.ProposeJoin(*req.Join); err != nil {
			return consensus.ConfigureResponse{Status: consensus.StatusError, Error: types.ErrorInternalError}, err
		}
		return consensus.ConfigureResponse{Status: consensus.StatusOK}, nil
	}
	if req.Leave != "" {
		if _, err := h.consensusServer.ProposeLeave(req.Leave); err != nil {
			return consensus.ConfigureResponse{Status: consensus.StatusError, Error: types.ErrorInternalError}, err
		}
		return consensus.ConfigureResponse{Status: consensus.StatusOK}, nil
	}
	return consensus.ConfigureResponse{Status: consensus.StatusError, Error: types.ErrorInternalError}, fmt.Errorf("transport: configure: neither join nor leave set")
}

func (h *serverHandler) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	sess, err := h.consensusServer.ProposeRegister(ctx, req.ClientID, time.Duration(req.TimeoutMillis)*time.Millisecond)
	if err != nil {
		return RegisterResponse{Status: consensus.StatusError, Error: types.ErrorNoLeader}, err
	}
	return RegisterResponse{Status: consensus.StatusOK, SessionID: sess.ID}, nil
}

func (h *serverHandler) Connect(ctx context.Context, req ConnectRequest) (ConnectResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := h.consensusServer.ProposeConnect(ctx, req.SessionID, req.Address); err != nil {
		return ConnectResponse{Status: consensus.StatusError, Error: types.ErrorUnknownSession}, err
	}
	return ConnectResponse{Status: consensus.StatusOK}, nil
}

func (h *serverHandler) KeepAlive(ctx context.Context, req KeepAliveRequest) (KeepAliveResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := h.consensusServer.ProposeKeepAlive(ctx, req.SessionID, req.CommandSeqAck, req.EventVersionAck); err != nil {
		return KeepAliveResponse{Status: consensus.StatusError, Error: types.ErrorUnknownSession}, err
	}
	events := toWireEvents(h.consensusServer.SessionEvents(req.SessionID))
	return KeepAliveResponse{Status: consensus.StatusOK, Events: events}, nil
}

func (h *serverHandler) Unregister(ctx context.Context, req UnregisterRequest) (UnregisterResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := h.consensusServer.ProposeUnregister(ctx, req.SessionID); err != nil {
		return UnregisterResponse{Status: consensus.StatusError, Error: types.ErrorUnknownSession}, err
	}
	return UnregisterResponse{Status: consensus.StatusOK}, nil
}

func (h *serverHandler) Command(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	outcome, err := h.consensusServer.ProposeCommand(ctx, req.SessionID, req.Sequence, req.Payload, req.Consistency, req.Tombstone)
	if err != nil {
		return CommandResponse{Status: consensus.StatusError, Error: types.ErrorInternalError}, err
	}
	resp := CommandResponse{Status: consensus.StatusOK, Result: outcome.Result.Payload, Events: toWireEvents(outcome.AwaitEvents)}
	if outcome.Result.Err != nil {
		resp.Status = consensus.StatusError
		resp.Error = types.ErrorApplicationError
		resp.ResultErr = outcome.Result.Err.Error()
	}
	return resp, nil
}

func (h *serverHandler) Status(_ context.Context, _ StatusRequest) (StatusResponse, error) {
	s := h.consensusServer.Status()
	return StatusResponse{
		ID:          s.ID,
		Role:        s.Role,
		Term:        s.Term,
		Leader:      s.Leader,
		CommitIndex: s.CommitIndex,
		LastApplied: s.LastApplied,
		GlobalIndex: s.GlobalIndex,
		Members:     s.Members,
	}, nil
}

func (h *serverHandler) Query(_ context.Context, req types.QueryRequest) (QueryResponse, error) {
	outcome, err := h.consensusServer.Query(req)
	if err != nil {
		return QueryResponse{Status: consensus.StatusError, Error: types.ErrorUnknownSession}, err
	}
	if !outcome.Ready {
		return QueryResponse{Status: consensus.StatusOK, Ready: false}, nil
	}
	resp := QueryResponse{Status: consensus.StatusOK, Ready: true, Result: outcome.Result.Payload, Version: outcome.Version}
	if outcome.Result.Err != nil {
		resp.Status = consensus.StatusError
		resp.Error = types.ErrorApplicationError
		resp.ResultErr = outcome.Result.Err.Error()
	}
	return resp, nil
}
