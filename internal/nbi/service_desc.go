package nbi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// NavigationServiceName is the fully qualified gRPC service name.
const NavigationServiceName = "astrogator.nav.v1.NavigationService"

// Full method names.
const (
	MethodHealth          = "/" + NavigationServiceName + "/Health"
	MethodGetStars        = "/" + NavigationServiceName + "/GetStars"
	MethodGetLiveOrrery   = "/" + NavigationServiceName + "/GetLiveOrrery"
	MethodGetStaticOrrery = "/" + NavigationServiceName + "/GetStaticOrrery"
	MethodGetNavState     = "/" + NavigationServiceName + "/GetNavState"
	MethodExecuteBurn     = "/" + NavigationServiceName + "/ExecuteBurn"
	MethodGetFleet        = "/" + NavigationServiceName + "/GetFleet"
	MethodGetTruth        = "/" + NavigationServiceName + "/GetTruth"
	MethodSetClock        = "/" + NavigationServiceName + "/SetClock"
)

// NavigationServer is the server API for NavigationService. Requests and
// responses are google.protobuf.Struct documents; the field names of each
// are documented on NavigationService.
type NavigationServer interface {
	Health(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetStars(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetLiveOrrery(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStaticOrrery(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNavState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExecuteBurn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetFleet(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetTruth(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetClock(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterNavigationServer registers srv on s.
func RegisterNavigationServer(s grpc.ServiceRegistrar, srv NavigationServer) {
	s.RegisterService(&navigationServiceDesc, srv)
}

var navigationServiceDesc = grpc.ServiceDesc{
	ServiceName: NavigationServiceName,
	HandlerType: (*NavigationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Health", Handler: emptyHandler(MethodHealth, NavigationServer.Health)},
		{MethodName: "GetStars", Handler: emptyHandler(MethodGetStars, NavigationServer.GetStars)},
		{MethodName: "GetLiveOrrery", Handler: structHandler(MethodGetLiveOrrery, NavigationServer.GetLiveOrrery)},
		{MethodName: "GetStaticOrrery", Handler: structHandler(MethodGetStaticOrrery, NavigationServer.GetStaticOrrery)},
		{MethodName: "GetNavState", Handler: structHandler(MethodGetNavState, NavigationServer.GetNavState)},
		{MethodName: "ExecuteBurn", Handler: structHandler(MethodExecuteBurn, NavigationServer.ExecuteBurn)},
		{MethodName: "GetFleet", Handler: emptyHandler(MethodGetFleet, NavigationServer.GetFleet)},
		{MethodName: "GetTruth", Handler: structHandler(MethodGetTruth, NavigationServer.GetTruth)},
		{MethodName: "SetClock", Handler: structHandler(MethodSetClock, NavigationServer.SetClock)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "astrogator/nav/v1/navigation.proto",
}

func structHandler(fullMethod string, call func(NavigationServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(NavigationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(NavigationServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func emptyHandler(fullMethod string, call func(NavigationServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(NavigationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(NavigationServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// NavigationClient calls NavigationService.
type NavigationClient struct {
	cc grpc.ClientConnInterface
}

// NewNavigationClient wraps cc.
func NewNavigationClient(cc grpc.ClientConnInterface) *NavigationClient {
	return &NavigationClient{cc: cc}
}

func (c *NavigationClient) invoke(ctx context.Context, method string, in interface{}, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Health reports server status.
func (c *NavigationClient) Health(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodHealth, &emptypb.Empty{}, opts...)
}

// GetStars returns the star catalog.
func (c *NavigationClient) GetStars(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetStars, &emptypb.Empty{}, opts...)
}

// GetLiveOrrery returns heliocentric planet positions.
func (c *NavigationClient) GetLiveOrrery(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetLiveOrrery, &structpb.Struct{}, opts...)
}

// GetStaticOrrery returns one sampled orbit path per planet. points <= 0
// uses the server default.
func (c *NavigationClient) GetStaticOrrery(ctx context.Context, points int, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if points > 0 {
		req.Fields[fieldPoints] = structpb.NewNumberValue(float64(points))
	}
	return c.invoke(ctx, MethodGetStaticOrrery, req, opts...)
}

// GetNavState propagates craft id to now and returns its sensor view.
func (c *NavigationClient) GetNavState(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetNavState, idRequest(id), opts...)
}

// ExecuteBurn applies an impulsive delta-v (km/s) to craft id.
func (c *NavigationClient) ExecuteBurn(ctx context.Context, id string, dv [3]float64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req := idRequest(id)
	req.Fields[fieldDeltaV] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"x": structpb.NewNumberValue(dv[0]),
		"y": structpb.NewNumberValue(dv[1]),
		"z": structpb.NewNumberValue(dv[2]),
	}})
	return c.invoke(ctx, MethodExecuteBurn, req, opts...)
}

// GetFleet returns every non-admin craft position. Requires the admin token.
func (c *NavigationClient) GetFleet(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetFleet, &emptypb.Empty{}, opts...)
}

// GetTruth returns the full state of craft id. Requires the admin token.
func (c *NavigationClient) GetTruth(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetTruth, idRequest(id), opts...)
}

// SetClock jumps the simulation clock to utc when it is non-empty and sets
// the rate when rate is non-nil. Requires the admin token.
func (c *NavigationClient) SetClock(ctx context.Context, utc string, rate *float64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if utc != "" {
		req.Fields[fieldUTC] = structpb.NewStringValue(utc)
	}
	if rate != nil {
		req.Fields[fieldRate] = structpb.NewNumberValue(*rate)
	}
	return c.invoke(ctx, MethodSetClock, req, opts...)
}

func idRequest(id string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{fieldID: structpb.NewStringValue(id)}}
}
