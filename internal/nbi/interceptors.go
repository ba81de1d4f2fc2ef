package nbi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/astrogator/internal/logging"
)

const requestIDMetadataKey = "x-request-id"

// RequestIDUnaryServerInterceptor puts a request id on the context, taken
// from the x-request-id header when the caller sent one, and attaches a
// request logger carrying it, the method and the target spacecraft.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(requestIDMetadataKey); len(vals) > 0 && vals[0] != "" {
				ctx = logging.ContextWithRequestID(ctx, vals[0])
			}
		}

		fields := []logging.Field{logging.String("method", info.FullMethod)}
		if id := spacecraftID(req); id != "" {
			fields = append(fields, logging.String("spacecraft", id))
		}
		ctx, reqLog := logging.WithRequestLogger(ctx, base.With(fields...))
		ctx = logging.ContextWithLogger(ctx, reqLog)

		return handler(ctx, req)
	}
}

// AccessLogUnaryServerInterceptor logs one line per call with its status
// code and duration. Failures other than client errors log at warn level.
func AccessLogUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		log := logging.FromContext(ctx, base)
		fields := []logging.Field{
			logging.String("code", code.String()),
			logging.Duration("duration", time.Since(start)),
		}
		if isServerFault(err) {
			log.Warn(ctx, "rpc failed", append(fields, logging.Err(err))...)
		} else {
			log.Debug(ctx, "rpc completed", fields...)
		}
		return resp, err
	}
}

func isServerFault(err error) bool {
	if err == nil {
		return false
	}
	switch status.Code(err) {
	case codes.Internal, codes.Unavailable, codes.Unknown, codes.DataLoss:
		return true
	}
	return false
}

// spacecraftID returns the "id" field of a Struct request, if any.
func spacecraftID(req interface{}) string {
	s, ok := req.(*structpb.Struct)
	if !ok {
		return ""
	}
	return s.GetFields()[fieldID].GetStringValue()
}
