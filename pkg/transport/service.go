package transport

import (
	"context"

	"github.com/atomix/catalog/pkg/consensus"
	"github.com/atomix/catalog/pkg/types"
	"google.golang.org/grpc"
)

// serviceName is the gRPC service path every RPC in this package is
// registered under: "/catalog.Consensus/<Method>".
const serviceName = "catalog.Consensus"

// Handler is the server-side contract serverHandler (server.go)
// satisfies by delegating to pkg/consensus.Server, grounded on the same
// request-in/response-out shape as every handler method on
// Warren's api.Server.
type Handler interface {
	Vote(ctx context.Context, req consensus.VoteRequest) (consensus.VoteResponse, error)
	Poll(ctx context.Context, req consensus.PollRequest) (consensus.PollResponse, error)
	AppendEntries(ctx context.Context, req consensus.AppendEntriesRequest) (consensus.AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, req consensus.InstallSnapshotRequest) (consensus.InstallSnapshotResponse, error)
	Heartbeat(ctx context.Context, req consensus.HeartbeatRequest) (consensus.HeartbeatResponse, error)
	Configure(ctx context.Context, req consensus.ConfigureRequest) (consensus.ConfigureResponse, error)
	Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error)
	Connect(ctx context.Context, req ConnectRequest) (ConnectResponse, error)
	KeepAlive(ctx context.Context, req KeepAliveRequest) (KeepAliveResponse, error)
	Unregister(ctx context.Context, req UnregisterRequest) (UnregisterResponse, error)
	Command(ctx context.Context, req CommandRequest) (CommandResponse, error)
	Query(ctx context.Context, req types.QueryRequest) (QueryResponse, error)
	Status(ctx context.Context, req StatusRequest) (StatusResponse, error)
}

// unaryHandler adapts a typed Handler method into the untyped signature
// grpc.MethodDesc.Handler requires, the same role protoc-gen-go-grpc's
// generated _Handler funcs play for a proto service.
func unaryHandler[Req any, Resp any](method string, call func(h Handler, ctx context.Context, req Req) (Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		h := srv.(Handler)
		if interceptor == nil {
			return call(h, ctx, *in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		wrapped := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(h, ctx, *req.(*Req))
		}
		return interceptor(ctx, in, info, wrapped)
	}
}

// appendEntriesHandler special-cases the wire<->domain entry conversion
// that every other RPC's plain-data request doesn't need.
func appendEntriesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(appendEntriesRequestWire)
	if err := dec(in); err != nil {
		return nil, err
	}
	h := srv.(Handler)
	call := func(ctx context.Context) (interface{}, error) {
		req, err := fromWireAppendEntries(*in)
		if err != nil {
			return nil, err
		}
		return h.AppendEntries(ctx, req)
	}
	if interceptor == nil {
		return call(ctx)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/AppendEntries"}
	wrapped := func(ctx context.Context, _ interface{}) (interface{}, error) {
		return call(ctx)
	}
	return interceptor(ctx, in, info, wrapped)
}

// ServiceDesc is registered with a *grpc.Server via grpc.RegisterService
// to expose a Handler, and used by Client to address individual RPCs by
// the same method names.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Vote", Handler: unaryHandler("/"+serviceName+"/Vote", func(h Handler, ctx context.Context, req consensus.VoteRequest) (consensus.VoteResponse, error) {
			return h.Vote(ctx, req)
		})},
		{MethodName: "Poll", Handler: unaryHandler("/"+serviceName+"/Poll", func(h Handler, ctx context.Context, req consensus.PollRequest) (consensus.PollResponse, error) {
			return h.Poll(ctx, req)
		})},
		{MethodName: "AppendEntries", Handler: appendEntriesHandler},
		{MethodName: "InstallSnapshot", Handler: unaryHandler("/"+serviceName+"/InstallSnapshot", func(h Handler, ctx context.Context, req consensus.InstallSnapshotRequest) (consensus.InstallSnapshotResponse, error) {
			return h.InstallSnapshot(ctx, req)
		})},
		{MethodName: "Heartbeat", Handler: unaryHandler("/"+serviceName+"/Heartbeat", func(h Handler, ctx context.Context, req consensus.HeartbeatRequest) (consensus.HeartbeatResponse, error) {
			return h.Heartbeat(ctx, req)
		})},
		{MethodName: "Configure", Handler: unaryHandler("/"+serviceName+"/Configure", func(h Handler, ctx context.Context, req consensus.ConfigureRequest) (consensus.ConfigureResponse, error) {
			return h.Configure(ctx, req)
		})},
		{MethodName: "Register", Handler: unaryHandler("/"+serviceName+"/Register", func(h Handler, ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
			return h.Register(ctx, req)
		})},
		{MethodName: "Connect", Handler: unaryHandler("/"+serviceName+"/Connect", func(h Handler, ctx context.Context, req ConnectRequest) (ConnectResponse, error) {
			return h.Connect(ctx, req)
		})},
		{MethodName: "KeepAlive", Handler: unaryHandler("/"+serviceName+"/KeepAlive", func(h Handler, ctx context.Context, req KeepAliveRequest) (KeepAliveResponse, error) {
			return h.KeepAlive(ctx, req)
		})},
		{MethodName: "Unregister", Handler: unaryHandler("/"+serviceName+"/Unregister", func(h Handler, ctx context.Context, req UnregisterRequest) (UnregisterResponse, error) {
			return h.Unregister(ctx, req)
		})},
		{MethodName: "Command", Handler: unaryHandler("/"+serviceName+"/Command", func(h Handler, ctx context.Context, req CommandRequest) (CommandResponse, error) {
			return h.Command(ctx, req)
		})},
		{MethodName: "Query", Handler: unaryHandler("/"+serviceName+"/Query", func(h Handler, ctx context.Context, req types.QueryRequest) (QueryResponse, error) {
			return h.Query(ctx, req)
		})},
		{MethodName: "Status", Handler: unaryHandler("/"+serviceName+"/Status", func(h Handler, ctx context.Context, req StatusRequest) (StatusResponse, error) {
			return h.Status(ctx, req)
		})},
	},
	Metadata: "catalog/consensus.proto",
}
