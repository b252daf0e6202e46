package interceptors

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/oklog/ulid/v2"
)

type requestIDKey struct{}

// RequestIDFromContext returns the request id set by the request id
// interceptor.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok
}

// NewRequestIDInterceptor propagates the caller's request id from header,
// or mints a ULID, and echoes it on the response.
func NewRequestIDInterceptor(header string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			id := req.Header().Get(header)
			if id == "" {
				id = ulid.Make().String()
			}
			resp, err := next(context.WithValue(ctx, requestIDKey{}, id), req)
			if resp != nil {
				resp.Header().Set(header, id)
			}
			if err != nil {
				var connectErr *connect.Error
				if errors.As(err, &connectErr) {
					connectErr.Meta().Set(header, id)
				}
			}
			return resp, err
		}
	}
}
