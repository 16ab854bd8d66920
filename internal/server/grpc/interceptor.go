package grpc

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// loggingInterceptor logs every unary call with its status code. Health
// checks are frequent, so they go to debug.
func (s *GRPCServer) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()

	resp, err := handler(ctx, req)

	args := []any{"method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start).String()}
	switch {
	case err != nil:
		s.logger.Warn(ctx, "gRPC call failed", append(args, "error", err)...)
	case strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/"):
		s.logger.Debug(ctx, "gRPC call", args...)
	default:
		s.logger.Info(ctx, "gRPC call", args...)
	}
	return resp, err
}
