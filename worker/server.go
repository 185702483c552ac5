package worker

import (
	"context"
	stderrors "errors"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/kbukum/runflow/component"
	"github.com/kbukum/runflow/errors"
	grpccfg "github.com/kbukum/runflow/grpc"
	"github.com/kbukum/runflow/grpc/interceptor"
	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/repository"
)

// Server serves the worker service and its health endpoint.
type Server struct {
	cfg       grpccfg.Config
	registry  *Registry
	workspace *repository.Workspace
	log       *logger.Logger

	mu     sync.Mutex
	srv    *grpc.Server
	health *health.Server
	lis    net.Listener
	addr   grpccfg.Address
	done   chan struct{}
	err    error
}

var (
	_ WorkerServer        = (*Server)(nil)
	_ component.Component = (*Server)(nil)
)

// NewServer creates a worker server. workspace may be nil when the worker
// only executes steps.
func NewServer(cfg grpccfg.Config, registry *Registry, workspace *repository.Workspace, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if workspace == nil {
		workspace = repository.NewWorkspace()
	}
	return &Server{
		cfg:       cfg,
		registry:  registry,
		workspace: workspace,
		log:       log.WithComponent("worker-server"),
	}
}

func (s *Server) Name() string { return "worker-server" }

// Start listens on the configured address and serves in the background.
// A stale unix socket file left by a previous process is removed first.
func (s *Server) Start(ctx context.Context) error {
	s.cfg.ApplyDefaults()
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	network, address := s.cfg.Listen()
	if network == "unix" {
		if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
			return errors.InvalidConfig("socket", err.Error()).WithCause(err)
		}
	}
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, network, address)
	if err != nil {
		return errors.ServiceUnavailable("worker listener").WithCause(err)
	}

	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(s.cfg.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(s.cfg.MaxSendMsgSize),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             s.cfg.Keepalive.Time / 2,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			interceptor.UnaryServerRecoveryInterceptor(s.log),
			interceptor.UnaryServerLoggingInterceptor(s.log),
		),
	)
	hs := health.NewServer()
	RegisterWorkerServer(srv, s)
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	s.mu.Lock()
	s.srv, s.health, s.lis = srv, hs, lis
	s.addr = addressOf(lis, s.cfg.Address)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		if err := srv.Serve(lis); err != nil && !stderrors.Is(err, grpc.ErrServerStopped) {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			s.log.Error("worker server stopped", map[string]interface{}{logger.FieldError: err.Error()})
		}
	}()

	s.log.Info("worker listening", map[string]interface{}{
		logger.FieldAddress: s.addr.String(),
		"functions":         s.registry.Names(),
	})
	return nil
}

// addressOf reports the bound address, resolving port 0.
func addressOf(lis net.Listener, configured grpccfg.Address) grpccfg.Address {
	if configured.Socket != "" {
		return configured
	}
	if tcp, ok := lis.Addr().(*net.TCPAddr); ok {
		return grpccfg.Address{Host: configured.Host, Port: tcp.Port}
	}
	host, port, err := net.SplitHostPort(lis.Addr().String())
	if err != nil {
		return configured
	}
	p, _ := strconv.Atoi(port)
	return grpccfg.Address{Host: host, Port: p}
}

// Stop drains in-flight calls, forcing shutdown when ctx ends first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, hs, done := s.srv, s.health, s.done
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	hs.Shutdown()

	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		srv.Stop()
	}
	<-done
	if s.cfg.Socket != "" {
		_ = os.Remove(s.cfg.Socket)
	}
	s.log.Info("worker stopped", nil)
	return nil
}

func (s *Server) Health(ctx context.Context) component.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := component.Health{Name: s.Name(), Status: component.StatusHealthy}
	switch {
	case s.err != nil:
		h.Status, h.Message = component.StatusUnhealthy, s.err.Error()
	case s.srv == nil:
		h.Status, h.Message = component.StatusUnhealthy, "not serving"
	}
	return h
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() grpccfg.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Done is closed when the server stops serving.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Execute runs the requested function. Step failures are reported in the
// result; a gRPC error means the worker itself could not serve the call.
func (s *Server) Execute(ctx context.Context, req *StepRequest) (*StepResult, error) {
	fields := logger.StepFields(req.RunID, req.StepID, req.Attempt)
	fields["fn"] = req.Fn
	start := time.Now()
	out, err := s.registry.Call(ctx, req.Fn, req.Input())
	fields[logger.FieldDuration] = time.Since(start).Milliseconds()
	if err != nil {
		if ctx.Err() != nil {
			return nil, grpccfg.ToGRPCStatus(ctx.Err())
		}
		fields[logger.FieldError] = err.Error()
		s.log.Warn("step failed", fields)
		return ResultFor(out, err), nil
	}
	s.log.Debug("step succeeded", fields)
	return ResultFor(out, nil), nil
}

// ListRepositories answers from the worker's workspace.
func (s *Server) ListRepositories(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	sel := repository.Selector{Repository: req.Repository, Location: req.Location}
	if sel.Location != "" && sel.Location == s.Addr().String() {
		sel.Location = ""
	}
	listing, err := s.workspace.List(sel)
	if err != nil {
		return nil, grpccfg.ToGRPCStatus(err)
	}
	return &ListResponse{Repositories: listing}, nil
}
