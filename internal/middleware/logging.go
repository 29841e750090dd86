package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"

	"github.com/ikimina/circles/pkg/api"
)

// LoggingInterceptor returns a Connect interceptor that logs every RPC with
// its procedure, target collection, caller, duration and error code.
// Client errors log at Warn and internal ones at Error.
func LoggingInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			attrs := []any{"procedure", req.Spec().Procedure}
			if c := collectionOf(req.Any()); c != "" {
				attrs = append(attrs, "collection", c)
			}
			// Empty when anonymous
			attrs = append(attrs, "user_id", GetUserID(ctx), "duration_ms", time.Since(start).Milliseconds())

			var connectErr *connect.Error
			switch {
			case err == nil:
				logger.Debug("RPC ok", attrs...)
			case errors.As(err, &connectErr) && connectErr.Code() != connect.CodeInternal:
				logger.Warn("RPC rejected", append(attrs, "code", connectErr.Code(), "error", connectErr.Message())...)
			default:
				logger.Error("RPC failed", append(attrs, "error", err)...)
			}
			return resp, err
		}
	}
}

func collectionOf(msg any) string {
	switch m := msg.(type) {
	case *api.QueryRequest:
		return m.Query.Collection
	case *api.InsertRequest:
		return m.Collection
	case *api.UpdateRequest:
		return m.Collection
	case *api.DeleteRequest:
		return m.Collection
	case *api.AdjustRequest:
		return m.Collection
	}
	return ""
}
