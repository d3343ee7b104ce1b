package derpb

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the fully-qualified gRPC service name a real .proto
// build would derive from `package derpb; service AgentLink`.
const serviceName = "derpb.AgentLink"

// AgentLinkServer is the service implementation contract; a transport
// package wires a concrete type satisfying this into
// RegisterAgentLinkServer.
type AgentLinkServer interface {
	// Stream is the bidirectional agent connection: one goroutine per
	// accepted stream, for the lifetime of the TCP connection.
	Stream(AgentLink_StreamServer) error
	// Bootstrap answers a one-shot snapshot request outside the stream,
	// for callers that want it without holding a connection open.
	Bootstrap(context.Context, *BootstrapRequest) (*BootstrapResponse, error)
}

// AgentLinkClient is the generated-style client stub.
type AgentLinkClient interface {
	Stream(ctx context.Context, opts ...grpc.CallOption) (AgentLink_StreamClient, error)
	Bootstrap(ctx context.Context, in *BootstrapRequest, opts ...grpc.CallOption) (*BootstrapResponse, error)
}

type agentLinkClient struct {
	cc grpc.ClientConnInterface
}

// NewAgentLinkClient wraps a ClientConn as an AgentLinkClient, applying
// the package's JSON codec to every call.
func NewAgentLinkClient(cc grpc.ClientConnInterface) AgentLinkClient {
	return &agentLinkClient{cc: cc}
}

func (c *agentLinkClient) Bootstrap(ctx context.Context, in *BootstrapRequest, opts ...grpc.CallOption) (*BootstrapResponse, error) {
	opts = append(opts, grpc.CallContentSubtype(codecName))
	out := new(BootstrapResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Bootstrap", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentLinkClient) Stream(ctx context.Context, opts ...grpc.CallOption) (AgentLink_StreamClient, error) {
	opts = append(opts, grpc.CallContentSubtype(codecName))
	stream, err := c.cc.NewStream(ctx, &AgentLink_ServiceDesc.Streams[0], "/"+serviceName+"/Stream", opts...)
	if err != nil {
		return nil, err
	}
	return &agentLinkStreamClient{stream}, nil
}

// AgentLink_StreamClient is the client side of the bidirectional
// connection: one frame sent per call, one frame received per call,
// independently of each other.
type AgentLink_StreamClient interface {
	Send(*AgentToHeadend) error
	Recv() (*HeadendToAgent, error)
	grpc.ClientStream
}

type agentLinkStreamClient struct {
	grpc.ClientStream
}

func (s *agentLinkStreamClient) Send(m *AgentToHeadend) error {
	return s.ClientStream.SendMsg(m)
}

func (s *agentLinkStreamClient) Recv() (*HeadendToAgent, error) {
	m := new(HeadendToAgent)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// AgentLink_StreamServer is the server side of the bidirectional
// connection, passed to AgentLinkServer.Stream.
type AgentLink_StreamServer interface {
	Send(*HeadendToAgent) error
	Recv() (*AgentToHeadend, error)
	grpc.ServerStream
}

type agentLinkStreamServer struct {
	grpc.ServerStream
}

func (s *agentLinkStreamServer) Send(m *HeadendToAgent) error {
	return s.ServerStream.SendMsg(m)
}

func (s *agentLinkStreamServer) Recv() (*AgentToHeadend, error) {
	m := new(AgentToHeadend)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _AgentLink_Stream_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(AgentLinkServer).Stream(&agentLinkStreamServer{stream})
}

func _AgentLink_Bootstrap_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(BootstrapRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentLinkServer).Bootstrap(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Bootstrap"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentLinkServer).Bootstrap(ctx, req.(*BootstrapRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// AgentLink_ServiceDesc is the ServiceDesc a protoc-gen-go-grpc build
// would emit for `service AgentLink { rpc Stream(stream AgentToHeadend)
// returns (stream HeadendToAgent); rpc Bootstrap(BootstrapRequest)
// returns (BootstrapResponse); }`.
var AgentLink_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AgentLinkServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Bootstrap", Handler: _AgentLink_Bootstrap_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Stream", Handler: _AgentLink_Stream_Handler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "derpb/service.go",
}

// RegisterAgentLinkServer registers srv against s the way generated
// code would call it from a main package.
func RegisterAgentLinkServer(s grpc.ServiceRegistrar, srv AgentLinkServer) {
	s.RegisterService(&AgentLink_ServiceDesc, srv)
}
