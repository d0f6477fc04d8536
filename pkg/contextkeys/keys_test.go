package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aegiskit/aegis/pkg/authz"
)

func TestAuthContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, AuthContext(ctx))

	authCtx := &authz.Context{UserID: "u1", Username: "alice"}
	ctx = WithAuthContext(ctx, authCtx)
	assert.Same(t, authCtx, AuthContext(ctx))
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "req-42")
	assert.Equal(t, "req-42", RequestID(ctx))
}
