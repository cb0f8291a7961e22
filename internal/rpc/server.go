package rpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
	"github.com/laudzakusuma/TriUnity/internal/router"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "triunity.router.v1.RouterService"

// MaxWindow caps LedgerWindow requests.
const MaxWindow = 1024

// #region service
// RouterView is the read side of a Router.
type RouterView interface {
	ActivePath() consensus.Path
	Report() router.Report
	Window(n int) []ledger.DecisionRecord
}

// RouterServiceServer is the server API of RouterService.
type RouterServiceServer interface {
	ActivePath(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	LedgerWindow(context.Context, *wrapperspb.UInt32Value) (*structpb.ListValue, error)
	Report(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// ServiceDesc describes RouterService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RouterServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ActivePath", Handler: activePathHandler},
		{MethodName: "LedgerWindow", Handler: ledgerWindowHandler},
		{MethodName: "Report", Handler: reportHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "triunity/router/v1/router.proto",
}

func activePathHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RouterServiceServer).ActivePath(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ActivePath"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(RouterServiceServer).ActivePath(ctx, req.(*emptypb.Empty))
	})
}

func ledgerWindowHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.UInt32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RouterServiceServer).LedgerWindow(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/LedgerWindow"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(RouterServiceServer).LedgerWindow(ctx, req.(*wrapperspb.UInt32Value))
	})
}

func reportHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RouterServiceServer).Report(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Report"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(RouterServiceServer).Report(ctx, req.(*emptypb.Empty))
	})
}

// #endregion service

// #region server
// Server serves RouterService from a RouterView.
type Server struct {
	view RouterView
}

// NewServer creates a Server over view.
func NewServer(view RouterView) *Server {
	return &Server{view: view}
}

// Register attaches the service to s.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&ServiceDesc, s)
}

// ActivePath returns the path in force.
func (s *Server) ActivePath(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := toStruct(s.view.ActivePath())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "active path: %v", err)
	}
	return out, nil
}

// LedgerWindow returns up to n recent decisions, oldest first.
func (s *Server) LedgerWindow(_ context.Context, in *wrapperspb.UInt32Value) (*structpb.ListValue, error) {
	n := in.GetValue()
	if n == 0 {
		return nil, status.Error(codes.InvalidArgument, "window size must be positive")
	}
	if n > MaxWindow {
		n = MaxWindow
	}
	out, err := toList(s.view.Window(int(n)))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "ledger window: %v", err)
	}
	return out, nil
}

// Report returns the latest status snapshot.
func (s *Server) Report(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := toStruct(s.view.Report())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "report: %v", err)
	}
	return out, nil
}

// #endregion server

// #region interceptor
// LoggingInterceptor logs every unary call with its duration and status code.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("rpc",
			zap.String("method", info.FullMethod),
			zap.Duration("took", time.Since(start)),
			zap.Stringer("code", status.Code(err)))
		return resp, err
	}
}

// #endregion interceptor
