package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor 記錄每個 RPC 的耗時與結果，並把 panic 轉成 Internal
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc panic", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				err = status.Error(codes.Internal, fmt.Sprintf("panic: %v", r))
			}
			code := status.Code(err)
			attrs := []any{"method", info.FullMethod, "code", code.String(), "elapsed", time.Since(start)}
			switch code {
			case codes.OK:
				logger.Debug("grpc call", attrs...)
			case codes.Internal, codes.Unknown:
				logger.Error("grpc call", append(attrs, "error", err)...)
			default:
				logger.Info("grpc call", append(attrs, "error", err)...)
			}
		}()
		return handler(ctx, req)
	}
}

// TimeoutInterceptor 沒有 deadline 的呼叫補上預設逾時 (client 端)
func TimeoutInterceptor(timeout time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, ok := ctx.Deadline(); !ok && timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
