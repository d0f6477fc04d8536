package aegis

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegiskit/aegis/pkg/audit"
	"github.com/aegiskit/aegis/pkg/authz"
	"github.com/aegiskit/aegis/pkg/config"
	"github.com/aegiskit/aegis/pkg/contextkeys"
	"github.com/aegiskit/aegis/pkg/identity"
	"github.com/aegiskit/aegis/pkg/provider"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Identity.SigningSecret = "test-secret"
	cfg.Identity.BcryptCost = 4
	cfg.Audit.Dir = t.TempDir()

	core, err := New(cfg, WithLogOutput(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = core.Close(ctx)
	})
	return core
}

func TestCore_EndToEnd(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	user, err := core.Identity.CreateUser(ctx, "alice", "alice@example.com", "pw-alice", nil, nil)
	require.NoError(t, err)

	pair, err := core.Identity.Authenticate(ctx, "alice", "pw-alice", identity.RequestMeta{IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	authCtx, err := core.Identity.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, authCtx.UserID)

	// The system "user" role may read the profile but not delete it.
	ev := core.Authorize(authCtx, "user.profile", "read", nil)
	assert.True(t, ev.Allowed)
	ev = core.Authorize(authCtx, "user.profile", "delete", nil)
	assert.False(t, ev.Allowed)
	assert.Equal(t, "No matching permissions found", ev.Reason)

	// Everything above left an audit trail via the event bus.
	results, total := core.Audit.Search(audit.Query{UserID: user.ID})
	assert.NotEmpty(t, results)
	assert.GreaterOrEqual(t, total, 3)
}

func TestCore_DenyPolicyWinsOverAdminRole(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	_, err := core.Identity.CreateUser(ctx, "root", "root@example.com", "pw-root", []string{identity.RoleAdmin}, nil)
	require.NoError(t, err)

	pair, err := core.Identity.Authenticate(ctx, "root", "pw-root", identity.RequestMeta{})
	require.NoError(t, err)
	authCtx, err := core.Identity.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)

	assert.True(t, core.Guard.CheckPermission(authCtx, "billing.invoices", "delete", nil))

	require.NoError(t, core.Guard.AddPolicy(&authz.PolicyRule{
		Name:     "freeze-billing",
		Resource: "billing.*",
		Action:   "delete",
		Effect:   authz.EffectDeny,
		Active:   true,
	}))

	ev := core.Authorize(authCtx, "billing.invoices", "delete", nil)
	assert.False(t, ev.Allowed)
	assert.Contains(t, ev.Reason, "freeze-billing")
}

func TestCore_AuthorizeContext(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	_, err := core.Identity.CreateUser(ctx, "alice", "alice@example.com", "pw-alice", nil, nil)
	require.NoError(t, err)
	pair, err := core.Identity.Authenticate(ctx, "alice", "pw-alice", identity.RequestMeta{})
	require.NoError(t, err)
	authCtx, err := core.Identity.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)

	reqCtx := contextkeys.WithAuthContext(ctx, authCtx)
	ev := core.AuthorizeContext(reqCtx, "user.profile", "read", nil)
	assert.True(t, ev.Allowed)

	// A request that never went through authentication carries no identity.
	ev = core.AuthorizeContext(ctx, "user.profile", "read", nil)
	assert.False(t, ev.Allowed)
	assert.Equal(t, "No authentication context", ev.Reason)
}

func TestCore_SecurityMetricsCountSuspiciousPatterns(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	_, err := core.Identity.CreateUser(ctx, "alice", "alice@example.com", "pw-alice", nil, nil)
	require.NoError(t, err)
	pair, err := core.Identity.Authenticate(ctx, "alice", "pw-alice", identity.RequestMeta{})
	require.NoError(t, err)
	authCtx, err := core.Identity.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)

	assert.Zero(t, core.Identity.SecurityMetrics().SuspiciousPatterns)

	// A burst of checks against one resource trips the access-pattern
	// tracker, and the snapshot reflects it.
	for i := 0; i < 150; i++ {
		core.Guard.CheckPermission(authCtx, "user.profile", "read", nil)
	}
	require.NotEmpty(t, core.Guard.GetSuspiciousPatterns())
	assert.GreaterOrEqual(t, core.Identity.SecurityMetrics().SuspiciousPatterns, 1)
}

func TestCore_ProviderRegistryHasLocal(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	_, err := core.Identity.CreateUser(ctx, "alice", "alice@example.com", "pw-alice", nil, nil)
	require.NoError(t, err)

	p, err := core.Providers.Get(provider.LocalName)
	require.NoError(t, err)

	pair, err := p.Authenticate(ctx, provider.Credentials{Username: "alice", Password: "pw-alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestCore_MetricsRegistry(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Identity.BcryptCost = 4
	core, err := New(cfg, WithLogOutput(io.Discard))
	require.NoError(t, err)
	defer core.Close(context.Background())

	require.NotNil(t, core.MetricsRegistry())
	families, err := core.MetricsRegistry().Gather()
	require.NoError(t, err)
	_ = families

	cfg2 := config.DefaultConfig()
	cfg2.Observability.MetricsEnabled = false
	core2, err := New(cfg2, WithLogOutput(io.Discard))
	require.NoError(t, err)
	defer core2.Close(context.Background())
	assert.Nil(t, core2.MetricsRegistry())
}

func TestCore_CloseIsIdempotent(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Identity.BcryptCost = 4
	core, err := New(cfg, WithLogOutput(io.Discard))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, core.Close(ctx))
	require.NoError(t, core.Close(ctx))
}
