package nbi

import (
	"context"
	"errors"

	"github.com/signalsfoundry/astrogator/internal/ephem"
	"github.com/signalsfoundry/astrogator/internal/sim/state"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrUnauthorized reports a missing or mismatched bearer token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden reports a valid caller without access to the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidRequest reports a request document missing required fields.
	ErrInvalidRequest = errors.New("invalid request")
)

// ToStatusError maps navigation errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, state.ErrSpacecraftNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, state.ErrMalformedCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, state.ErrEpochRegression):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ephem.ErrUnavailable),
		errors.Is(err, ephem.ErrKernelDirUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
