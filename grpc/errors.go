package grpc

import (
	"context"
	stderrors "errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kbukum/runflow/errors"
)

// FromGRPC converts a gRPC error to an AppError.
func FromGRPC(err error, serviceName string) *errors.AppError {
	if err == nil {
		return nil
	}
	if app, ok := errors.AsAppError(err); ok {
		return app
	}
	if IsConnectionError(err) {
		return errors.ServiceUnavailable(serviceName).WithCause(err)
	}

	st, ok := status.FromError(err)
	if !ok {
		switch {
		case stderrors.Is(err, context.DeadlineExceeded):
			return errors.Timeout(serviceName).WithCause(err)
		case stderrors.Is(err, context.Canceled):
			return errors.New(errors.ErrCodeCanceled, "The request was canceled.", 499).WithCause(err)
		}
		return errors.Internal(err)
	}

	switch st.Code() {
	case codes.Unavailable:
		return errors.ServiceUnavailable(serviceName).WithCause(err)
	case codes.DeadlineExceeded:
		return errors.Timeout(serviceName).WithCause(err)
	case codes.NotFound:
		return errors.New(errors.ErrCodeNotFound, st.Message(), 404).WithCause(err)
	case codes.InvalidArgument:
		return errors.New(errors.ErrCodeInvalidInput, st.Message(), 400).WithCause(err)
	case codes.AlreadyExists:
		return errors.New(errors.ErrCodeAlreadyExists, st.Message(), 409).WithCause(err)
	case codes.Unauthenticated:
		return errors.Unauthorized(st.Message()).WithCause(err)
	case codes.FailedPrecondition, codes.Aborted:
		return errors.Conflict(st.Message()).WithCause(err)
	case codes.Canceled:
		return errors.New(errors.ErrCodeCanceled, "The request was canceled.", 499).WithCause(err)
	default:
		return errors.Internal(err)
	}
}

// ToGRPCStatus converts an error to a gRPC status error.
func ToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	appErr, ok := errors.AsAppError(err)
	if !ok {
		switch {
		case stderrors.Is(err, context.Canceled):
			return status.Error(codes.Canceled, err.Error())
		case stderrors.Is(err, context.DeadlineExceeded):
			return status.Error(codes.DeadlineExceeded, err.Error())
		}
		return status.Error(codes.Internal, err.Error())
	}

	var code codes.Code
	switch appErr.Code {
	case errors.ErrCodeNotFound:
		code = codes.NotFound
	case errors.ErrCodeAlreadyExists:
		code = codes.AlreadyExists
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidConfig:
		code = codes.InvalidArgument
	case errors.ErrCodeUnauthorized, errors.ErrCodeInvalidToken:
		code = codes.Unauthenticated
	case errors.ErrCodeConflict, errors.ErrCodeInvalidTransition:
		code = codes.FailedPrecondition
	case errors.ErrCodeTimeout:
		code = codes.DeadlineExceeded
	case errors.ErrCodeCanceled:
		code = codes.Canceled
	case errors.ErrCodeServiceUnavailable, errors.ErrCodeWorkerUnavailable, errors.ErrCodeWorkerStartup:
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, appErr.Message)
}

// IsConnectionError checks if a gRPC error is a connection-level failure.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.Unavailable {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"no such file or directory",
		"transport is closing",
		"connection closed",
		"error reading from server: eof",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
