// Package contextkeys carries per-request security values through
// context.Context. Transport layers set them after authentication; anything
// downstream reads them through the typed accessors instead of re-deriving
// identity.
package contextkeys

import (
	"context"

	"github.com/aegiskit/aegis/pkg/authz"
)

// key is unexported so no other package can collide with our context values.
type key int

const (
	authContextKey key = iota
	requestIDKey
)

// WithAuthContext attaches the resolved authorization context.
func WithAuthContext(ctx context.Context, authCtx *authz.Context) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

// AuthContext returns the authorization context set by the transport layer,
// or nil when the request is unauthenticated.
func AuthContext(ctx context.Context) *authz.Context {
	authCtx, _ := ctx.Value(authContextKey).(*authz.Context)
	return authCtx
}

// WithRequestID attaches the request correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request correlation ID, or "" when unset.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
