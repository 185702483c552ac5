package worker

import (
	"context"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kbukum/runflow/errors"
	grpccfg "github.com/kbukum/runflow/grpc"
	"github.com/kbukum/runflow/grpc/client"
	"github.com/kbukum/runflow/logger"
)

// Conn is a client connection to one worker.
type Conn struct {
	addr   grpccfg.Address
	cc     *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial connects to the worker at cfg's address. The address is validated
// before dialing; the connection itself is established in the background.
func Dial(ctx context.Context, cfg grpccfg.Config, log *logger.Logger) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	cc, err := client.NewClient(cfg, log.WithComponent("worker-client"))
	if err != nil {
		if errors.IsAppError(err) {
			return nil, err
		}
		return nil, errors.ServiceUnavailable("worker "+cfg.Address.String()).WithCause(err)
	}
	cc.Connect()
	return &Conn{addr: cfg.Address, cc: cc, health: healthpb.NewHealthClient(cc)}, nil
}

// Address returns the worker address.
func (c *Conn) Address() grpccfg.Address { return c.addr }

// Probe checks that the worker answers its health service as SERVING.
func (c *Conn) Probe(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return errors.WorkerUnavailable(c.addr.String(), err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return errors.WorkerUnavailable(c.addr.String(), errors.New(errors.ErrCodeServiceUnavailable,
			"worker reports "+resp.GetStatus().String(), 503))
	}
	return nil
}

// Execute sends one step attempt to the worker.
func (c *Conn) Execute(ctx context.Context, req *StepRequest) (*StepResult, error) {
	out := new(StepResult)
	if err := c.cc.Invoke(ctx, executeMethod, req, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, grpccfg.FromGRPC(err, "worker "+c.addr.String())
	}
	return out, nil
}

// ListRepositories asks the worker for its repositories.
func (c *Conn) ListRepositories(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	out := new(ListResponse)
	if err := c.cc.Invoke(ctx, listMethod, req, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, grpccfg.FromGRPC(err, "worker "+c.addr.String())
	}
	return out, nil
}

// Close closes the connection.
func (c *Conn) Close() error { return c.cc.Close() }
