package identity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegiskit/aegis/pkg/authz"
	"github.com/aegiskit/aegis/pkg/events"
)

// denyAfter allows the first n calls and denies the rest.
type denyAfter struct {
	n     int
	calls int
}

func (d *denyAfter) Allow(_ context.Context, _ string, _ int) (bool, error) {
	d.calls++
	return d.calls <= d.n, nil
}

func TestAPIKey_RawShownOnceRoundTrip(t *testing.T) {
	f := newFixture(t, Config{})
	user := f.createUser(t, "alice")
	ctx := context.Background()

	key, raw, err := f.m.CreateAPIKey(ctx, user.ID, APIKeyRequest{
		Name:        "ci-deploy",
		Permissions: []authz.Permission{{Resource: "deploy", Action: "run"}},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "aegis_"))
	assert.True(t, strings.HasPrefix(raw, key.Prefix))

	// The stored record never carries the raw key.
	assert.NotContains(t, key.KeyHash, raw)
	assert.NotEqual(t, raw, key.KeyHash)
	stored, err := f.m.GetAPIKey(key.ID)
	require.NoError(t, err)
	assert.NotEqual(t, raw, stored.KeyHash)

	authCtx, err := f.m.AuthenticateWithAPIKey(ctx, raw, RequestMeta{IPAddress: "10.0.0.9"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, authCtx.UserID)
	assert.True(t, authCtx.HasAPIKey)
	require.Len(t, authCtx.KeyPermissions, 1)
	assert.Equal(t, "deploy:run", authCtx.KeyPermissions[0].String())

	stored, err = f.m.GetAPIKey(key.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.UsageCount)
	require.NotNil(t, stored.LastUsedAt)
}

func TestAPIKey_InvalidAndRevoked(t *testing.T) {
	f := newFixture(t, Config{})
	user := f.createUser(t, "alice")
	ctx := context.Background()

	_, err := f.m.AuthenticateWithAPIKey(ctx, "aegis_not-a-real-key", RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	key, raw, err := f.m.CreateAPIKey(ctx, user.ID, APIKeyRequest{Name: "ci"})
	require.NoError(t, err)
	require.NoError(t, f.m.RevokeAPIKey(ctx, key.ID))

	_, err = f.m.AuthenticateWithAPIKey(ctx, raw, RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	// Revoked keys are retained for audit.
	stored, err := f.m.GetAPIKey(key.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	assert.ErrorIs(t, f.m.RevokeAPIKey(ctx, "missing"), ErrAPIKeyNotFound)
}

func TestAPIKey_Expiry(t *testing.T) {
	f := newFixture(t, Config{})
	user := f.createUser(t, "alice")
	ctx := context.Background()

	_, raw, err := f.m.CreateAPIKey(ctx, user.ID, APIKeyRequest{Name: "short", ExpiresIn: time.Hour})
	require.NoError(t, err)

	_, err = f.m.AuthenticateWithAPIKey(ctx, raw, RequestMeta{})
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	_, err = f.m.AuthenticateWithAPIKey(ctx, raw, RequestMeta{})
	assert.ErrorIs(t, err, ErrAPIKeyExpired)
}

func TestAPIKey_NoExpiry(t *testing.T) {
	f := newFixture(t, Config{})
	user := f.createUser(t, "alice")

	key, _, err := f.m.CreateAPIKey(context.Background(), user.ID, APIKeyRequest{Name: "forever", ExpiresIn: -1})
	require.NoError(t, err)
	assert.Nil(t, key.ExpiresAt)
}

func TestAPIKey_RateLimit(t *testing.T) {
	limiter := &denyAfter{n: 2}
	now := time.Now()
	m := NewManager(Config{BcryptCost: 4},
		WithRateLimiter(limiter),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()
	user, err := m.CreateUser(ctx, "svc", "svc@example.com", "pw-svc", nil, nil)
	require.NoError(t, err)

	_, raw, err := m.CreateAPIKey(ctx, user.ID, APIKeyRequest{Name: "limited", RateLimitPerHour: 2})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := m.AuthenticateWithAPIKey(ctx, raw, RequestMeta{})
		require.NoError(t, err)
	}
	_, err = m.AuthenticateWithAPIKey(ctx, raw, RequestMeta{})
	assert.ErrorIs(t, err, ErrRateLimited)

	// Unlimited keys never consult the limiter.
	calls := limiter.calls
	_, rawFree, err := m.CreateAPIKey(ctx, user.ID, APIKeyRequest{Name: "free"})
	require.NoError(t, err)
	_, err = m.AuthenticateWithAPIKey(ctx, rawFree, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, calls, limiter.calls)
}

func TestAPIKey_UsagePublishedOffRequestPath(t *testing.T) {
	f := newFixture(t, Config{})
	user := f.createUser(t, "alice")
	ctx := context.Background()

	var mu sync.Mutex
	var used []events.Event
	f.bus.Subscribe(func(ev events.Event) {
		if ev.Type == events.TypeAPIKeyUsed {
			mu.Lock()
			used = append(used, ev)
			mu.Unlock()
		}
	})

	key, raw, err := f.m.CreateAPIKey(ctx, user.ID, APIKeyRequest{Name: "ci"})
	require.NoError(t, err)
	_, err = f.m.AuthenticateWithAPIKey(ctx, raw, RequestMeta{})
	require.NoError(t, err)

	// The usage event is emitted asynchronously.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(used) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, used, 1)
	assert.Equal(t, user.ID, used[0].UserID)
	assert.Equal(t, key.ID, used[0].Details["keyId"])
}

func TestAPIKey_ListByUser(t *testing.T) {
	f := newFixture(t, Config{})
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	ctx := context.Background()

	_, _, err := f.m.CreateAPIKey(ctx, alice.ID, APIKeyRequest{Name: "a1"})
	require.NoError(t, err)
	_, _, err = f.m.CreateAPIKey(ctx, alice.ID, APIKeyRequest{Name: "a2"})
	require.NoError(t, err)
	_, _, err = f.m.CreateAPIKey(ctx, bob.ID, APIKeyRequest{Name: "b1"})
	require.NoError(t, err)

	assert.Len(t, f.m.ListAPIKeys(alice.ID), 2)
	assert.Len(t, f.m.ListAPIKeys(bob.ID), 1)
}
