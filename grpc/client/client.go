// Package client creates gRPC client connections from grpc.Config.
package client

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	grpccfg "github.com/kbukum/runflow/grpc"
	"github.com/kbukum/runflow/grpc/interceptor"
	"github.com/kbukum/runflow/logger"
)

// NewClient creates a lazily connecting client for cfg. The address is
// validated before any dial.
func NewClient(cfg grpccfg.Config, log *logger.Logger, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	target := cfg.Target()
	opts := append(buildDialOptions(cfg, log), extra...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc: failed to create client for %s: %w", target, err)
	}
	log.Debug("gRPC client created", map[string]interface{}{"target": target})
	return conn, nil
}

// buildDialOptions assembles dial options from config. Workers run on the
// same host or inside a trusted network, so transport is plaintext.
func buildDialOptions(cfg grpccfg.Config, log *logger.Logger) []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.Keepalive.Time,
			Timeout:             cfg.Keepalive.Timeout,
			PermitWithoutStream: cfg.Keepalive.PermitWithoutStream,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(cfg.MaxRecvMsgSize),
			grpc.MaxCallSendMsgSize(cfg.MaxSendMsgSize),
		),
	}

	var unary []grpc.UnaryClientInterceptor
	if cfg.CallTimeout > 0 {
		unary = append(unary, interceptor.UnaryClientTimeoutInterceptor(cfg.CallTimeout))
	}
	unary = append(unary, interceptor.UnaryClientLoggingInterceptor(log))
	return append(opts, grpc.WithChainUnaryInterceptor(unary...))
}
