package interceptor

import (
	"context"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/kbukum/runflow/logger"
)

func callFields(method string, start time.Time, err error) map[string]interface{} {
	fields := map[string]interface{}{
		"service":             path.Dir(method)[1:],
		"method":              path.Base(method),
		logger.FieldDuration: time.Since(start).Milliseconds(),
	}
	if err != nil {
		st := status.Convert(err)
		fields[logger.FieldStatus] = st.Code().String()
		fields[logger.FieldError] = st.Message()
	} else {
		fields[logger.FieldStatus] = "OK"
	}
	return fields
}

// UnaryClientLoggingInterceptor logs each outgoing call with method,
// duration and status. Failures are logged at warn: the caller decides
// whether they matter.
func UnaryClientLoggingInterceptor(log *logger.Logger) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		fields := callFields(method, start, err)
		fields["target"] = cc.Target()
		if err != nil {
			log.Warn("gRPC call failed", fields)
		} else {
			log.Debug("gRPC call completed", fields)
		}
		return err
	}
}

// UnaryServerLoggingInterceptor logs each handled call.
func UnaryServerLoggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := callFields(info.FullMethod, start, err)
		if err != nil {
			log.Error("gRPC request failed", fields)
		} else {
			log.Debug("gRPC request served", fields)
		}
		return resp, err
	}
}
