package catalogpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	DefinitionEngine_SyncCatalog_FullMethodName = "/avap.catalog.DefinitionEngine/SyncCatalog"
	DefinitionEngine_GetCommand_FullMethodName  = "/avap.catalog.DefinitionEngine/GetCommand"
)

// DefinitionEngineClient is the client API for the Definition Engine
// catalog service (spec §6).
type DefinitionEngineClient interface {
	SyncCatalog(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*CatalogResponse, error)
	GetCommand(ctx context.Context, in *CommandRequest, opts ...grpc.CallOption) (*CommandResponse, error)
}

type definitionEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewDefinitionEngineClient wraps an existing connection with the
// catalog service's typed RPC methods.
func NewDefinitionEngineClient(cc grpc.ClientConnInterface) DefinitionEngineClient {
	return &definitionEngineClient{cc}
}

func (c *definitionEngineClient) SyncCatalog(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*CatalogResponse, error) {
	out := new(CatalogResponse)
	if err := c.cc.Invoke(ctx, DefinitionEngine_SyncCatalog_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *definitionEngineClient) GetCommand(ctx context.Context, in *CommandRequest, opts ...grpc.CallOption) (*CommandResponse, error) {
	out := new(CommandResponse)
	if err := c.cc.Invoke(ctx, DefinitionEngine_GetCommand_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// DefinitionEngineServer is the server API for the Definition Engine
// catalog service. Implemented by test doubles (see catalog package
// tests); the real Definition Engine is an external collaborator
// (spec §1 Out of Scope).
type DefinitionEngineServer interface {
	SyncCatalog(context.Context, *Empty) (*CatalogResponse, error)
	GetCommand(context.Context, *CommandRequest) (*CommandResponse, error)
}

// UnimplementedDefinitionEngineServer may be embedded to satisfy the
// interface for servers that only implement a subset of methods.
type UnimplementedDefinitionEngineServer struct{}

func (UnimplementedDefinitionEngineServer) SyncCatalog(context.Context, *Empty) (*CatalogResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SyncCatalog not implemented")
}

func (UnimplementedDefinitionEngineServer) GetCommand(context.Context, *CommandRequest) (*CommandResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetCommand not implemented")
}

// RegisterDefinitionEngineServer attaches srv's implementation to s
// under the catalog service descriptor.
func RegisterDefinitionEngineServer(s grpc.ServiceRegistrar, srv DefinitionEngineServer) {
	s.RegisterService(&DefinitionEngine_ServiceDesc, srv)
}

func _DefinitionEngine_SyncCatalog_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DefinitionEngineServer).SyncCatalog(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DefinitionEngine_SyncCatalog_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DefinitionEngineServer).SyncCatalog(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _DefinitionEngine_GetCommand_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CommandRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DefinitionEngineServer).GetCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DefinitionEngine_GetCommand_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DefinitionEngineServer).GetCommand(ctx, req.(*CommandRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// DefinitionEngine_ServiceDesc is the grpc.ServiceDesc for the catalog
// service, mirroring what protoc-gen-go-grpc would emit.
var DefinitionEngine_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "avap.catalog.DefinitionEngine",
	HandlerType: (*DefinitionEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SyncCatalog", Handler: _DefinitionEngine_SyncCatalog_Handler},
		{MethodName: "GetCommand", Handler: _DefinitionEngine_GetCommand_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "catalog.proto",
}
