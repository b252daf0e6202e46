package interceptors

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/proto"
)

// NewLoggingInterceptor logs start and completion of each RPC with payload
// sizes.
func NewLoggingInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()

			requestSize := payloadSize(req.Any())

			logger.InfoContext(ctx, "RPC started", appendLoggerFields(ctx,
				"procedure", req.Spec().Procedure,
				"peer", req.Peer().Addr,
				"request_size_bytes", requestSize,
			)...)

			resp, err := next(ctx, req)

			duration := time.Since(start)

			responseSize := 0
			if resp != nil {
				responseSize = payloadSize(resp.Any())
			}

			if err != nil {
				logger.ErrorContext(ctx, "RPC failed", appendLoggerFields(ctx,
					"procedure", req.Spec().Procedure,
					"duration", duration.String(),
					"duration_ms", duration.Milliseconds(),
					"request_size_bytes", requestSize,
					"response_size_bytes", responseSize,
					"code", connect.CodeOf(err).String(),
					"error", err,
				)...)
			} else {
				logger.InfoContext(ctx, "RPC completed", appendLoggerFields(ctx,
					"procedure", req.Spec().Procedure,
					"duration", duration.String(),
					"duration_ms", duration.Milliseconds(),
					"request_size_bytes", requestSize,
					"response_size_bytes", responseSize,
				)...)
			}

			return resp, err
		}
	}
}

// payloadSize measures protobuf messages on the wire and everything else as
// its JSON encoding.
func payloadSize(msg any) int {
	if msg == nil {
		return 0
	}
	if m, ok := msg.(proto.Message); ok {
		return proto.Size(m)
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return 0
	}
	return len(b)
}

func appendLoggerFields(ctx context.Context, base ...any) []any {
	if requestID, ok := RequestIDFromContext(ctx); ok && requestID != "" {
		base = append(base, "request_id", requestID)
	}
	if userID, ok := UserIDFromContext(ctx); ok {
		base = append(base, "user_id", userID)
	}
	return base
}
