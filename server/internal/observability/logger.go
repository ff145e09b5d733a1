// Package observability provides structured logging context and metrics
// for the server.
package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type ctxKey string

const requestContextKey ctxKey = "request_context"

// RequestContext carries per-request identifiers through the call chain.
type RequestContext struct {
	RequestID string
	UserID    string
	Operation string
	StartTime time.Time
}

// NewRequestContext attaches a fresh request context.
func NewRequestContext(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, requestContextKey, &RequestContext{
		RequestID: uuid.NewString(),
		Operation: operation,
		StartTime: time.Now(),
	})
}

// WithUserID records the authenticated user on the request context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if rc := GetRequestContext(ctx); rc != nil {
		rc.UserID = userID
	}
	return ctx
}

// GetRequestContext returns the request context, or nil.
func GetRequestContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey).(*RequestContext)
	return rc
}

// LogAttrs returns standard slog attributes for the request.
func LogAttrs(ctx context.Context) []any {
	rc := GetRequestContext(ctx)
	if rc == nil {
		return nil
	}
	attrs := []any{
		slog.String("request_id", rc.RequestID),
		slog.String("operation", rc.Operation),
	}
	if rc.UserID != "" {
		attrs = append(attrs, slog.String("user_id", rc.UserID))
	}
	return attrs
}

// Elapsed returns the time since the request started, in milliseconds.
func Elapsed(ctx context.Context) int64 {
	rc := GetRequestContext(ctx)
	if rc == nil {
		return 0
	}
	return time.Since(rc.StartTime).Milliseconds()
}
