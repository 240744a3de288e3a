package transport

import (
	"context"

	"google.golang.org/grpc"

	"raftcore/raft"
)

// serviceName and the three method names form the full gRPC method
// strings a hand-written client must match exactly against what
// serviceDesc registers on the server, standing in for the proto file
// a protoc-generated stub would normally fix in place.
const (
	serviceName         = "raft.RaftService"
	methodRequestVote   = "/raft.RaftService/RequestVote"
	methodAppendEntries = "/raft.RaftService/AppendEntries"
	methodClientRequest = "/raft.RaftService/ClientRequest"
)

// serviceDesc is the artifact protoc-gen-go-grpc would otherwise
// generate from a .proto file. Handed to grpc.Server.RegisterService
// with a concrete Handler as srv; the unary handlers below type-assert
// srv back to Handler so registration stays decoupled from raft/server
// (which itself depends on this package for Bus) and avoids an import
// cycle.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: requestVoteHandler},
		{MethodName: "AppendEntries", Handler: appendEntriesHandler},
		{MethodName: "ClientRequest", Handler: clientRequestHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raft.proto",
}

func requestVoteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(raft.RequestVoteReq)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return callRequestVote(ctx, srv, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRequestVote}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return callRequestVote(ctx, srv, req.(*raft.RequestVoteReq))
	})
}

func callRequestVote(_ context.Context, srv any, req *raft.RequestVoteReq) (any, error) {
	resp, err := srv.(Handler).RequestVote(*req)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func appendEntriesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(raft.AppendEntriesReq)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return callAppendEntries(ctx, srv, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodAppendEntries}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return callAppendEntries(ctx, srv, req.(*raft.AppendEntriesReq))
	})
}

func callAppendEntries(_ context.Context, srv any, req *raft.AppendEntriesReq) (any, error) {
	resp, err := srv.(Handler).AppendEntries(*req)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func clientRequestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(raft.ClientRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return callClientRequest(ctx, srv, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodClientRequest}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return callClientRequest(ctx, srv, req.(*raft.ClientRequest))
	})
}

func callClientRequest(_ context.Context, srv any, req *raft.ClientRequest) (any, error) {
	resp := srv.(Handler).ClientRequest(*req)
	return &resp, nil
}

// NewServer wraps handler in a *grpc.Server ready to Serve a
// net.Listener. Callers that also want reflection, TLS, or
// interceptors should build their own grpc.Server and call
// RegisterHandler instead.
func NewServer(handler Handler, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	RegisterHandler(s, handler)
	return s
}

// RegisterHandler attaches handler to s under the raft.RaftService
// service descriptor.
func RegisterHandler(s *grpc.Server, handler Handler) {
	s.RegisterService(&serviceDesc, handler)
}
