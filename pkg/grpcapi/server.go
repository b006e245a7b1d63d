// Package grpcapi exposes the engine as the gRPC service bfjit.Runner.
//
// The service is declared by hand with a grpc.ServiceDesc and carries JSON
// messages through a registered codec, so clients must call with the "json"
// content-subtype. Client wraps that for Go callers.
package grpcapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/fortiblox/bfjit/pkg/engine"
	"github.com/fortiblox/bfjit/pkg/interp"
	"github.com/fortiblox/bfjit/pkg/jit"
	"github.com/fortiblox/bfjit/pkg/parser"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "bfjit.Runner"

// Full method names.
const (
	RunMethod     = "/" + ServiceName + "/Run"
	CompileMethod = "/" + ServiceName + "/Compile"
)

// RunnerServer is the server API for bfjit.Runner.
type RunnerServer interface {
	Run(context.Context, *RunRequest) (*RunResponse, error)
	Compile(context.Context, *CompileRequest) (*CompileResponse, error)
}

// RunnerServiceDesc describes bfjit.Runner for grpc.Server.RegisterService.
var RunnerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RunnerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
		{MethodName: "Compile", Handler: compileHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bfjit/runner",
}

func runHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunnerServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RunnerServer).Run(ctx, req.(*RunRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func compileHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CompileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunnerServer).Compile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CompileMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RunnerServer).Compile(ctx, req.(*CompileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Service implements RunnerServer on top of an engine.
type Service struct {
	engine *engine.Engine
}

// NewService creates the Runner implementation.
func NewService(eng *engine.Engine) *Service {
	return &Service{engine: eng}
}

// Run compiles and runs a program.
func (s *Service) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	res, err := s.engine.Run(req.Source)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &RunResponse{
		Hash:      res.Hash.String(),
		Output:    res.Output,
		Text:      jit.RenderText(res.Output),
		CacheHit:  res.CacheHit,
		Backend:   string(res.Backend),
		CodeSize:  res.CodeSize,
		ElapsedUs: res.Elapsed.Microseconds(),
	}, nil
}

// Compile compiles a program and reports its hash and code size.
func (s *Service) Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error) {
	c, err := s.engine.Compile(req.Source)
	if err != nil {
		return nil, statusFromError(err)
	}
	defer c.Close()

	return &CompileResponse{
		Hash:     c.Hash.String(),
		CodeSize: c.CodeSize(),
		Emits:    c.Emits,
		CacheHit: c.CacheHit,
		Backend:  string(s.engine.Backend()),
	}, nil
}

// statusFromError maps engine errors to gRPC status codes.
func statusFromError(err error) error {
	var perr *parser.ParseError
	switch {
	case errors.As(err, &perr):
		return status.Error(codes.InvalidArgument, perr.Error())
	case errors.Is(err, engine.ErrOutputOverflow), errors.Is(err, interp.ErrStepBudgetExceeded):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, engine.ErrTapeOutOfBounds):
		return status.Error(codes.OutOfRange, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Server hosts the Runner service.
type Server struct {
	config ServerConfig
	srv    *grpc.Server
}

// NewServer creates a gRPC server with the Runner service registered.
func NewServer(config ServerConfig, eng *engine.Engine) *Server {
	s := &Server{config: config}

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.logInterceptor, s.authInterceptor),
	}
	if config.MaxMessageSize > 0 {
		opts = append(opts,
			grpc.MaxRecvMsgSize(config.MaxMessageSize),
			grpc.MaxSendMsgSize(config.MaxMessageSize),
		)
	}

	s.srv = grpc.NewServer(opts...)
	s.srv.RegisterService(&RunnerServiceDesc, NewService(eng))
	return s
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		s.srv.GracefulStop()
	}()

	log.Printf("[gRPC] Server starting on %s", ln.Addr())
	return s.srv.Serve(ln)
}

// Stop stops the server immediately.
func (s *Server) Stop() {
	s.srv.Stop()
}

func (s *Server) authInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	want := s.config.ExpandedToken()
	if want == "" {
		return handler(ctx, req)
	}

	md, _ := metadata.FromIncomingContext(ctx)
	tokens := md.Get("x-token")
	if len(tokens) == 0 || subtle.ConstantTimeCompare([]byte(tokens[0]), []byte(want)) != 1 {
		return nil, status.Error(codes.Unauthenticated, "invalid or missing x-token")
	}
	return handler(ctx, req)
}

func (s *Server) logInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if s.config.LogRequests {
		log.Printf("[gRPC] %s code=%s", info.FullMethod, status.Code(err))
	}
	return resp, err
}
