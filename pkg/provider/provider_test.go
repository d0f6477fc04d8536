package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aegiskit/aegis/pkg/identity"
)

func TestLocalProvider_FullCycle(t *testing.T) {
	manager := identity.NewManager(identity.Config{BcryptCost: bcrypt.MinCost})
	ctx := context.Background()

	user, err := manager.CreateUser(ctx, "alice", "alice@example.com", "pw-alice", nil, nil)
	require.NoError(t, err)

	local := NewLocal(manager)
	assert.Equal(t, LocalName, local.Name())

	pair, err := local.Authenticate(ctx, Credentials{Username: "alice", Password: "pw-alice"})
	require.NoError(t, err)

	authCtx, err := local.ValidateToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, authCtx.UserID)

	next, err := local.RefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	local.Logout(ctx, next.RefreshToken)
	_, err = local.RefreshToken(ctx, next.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrInvalidRefreshToken)

	got, err := local.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestRegistry(t *testing.T) {
	manager := identity.NewManager(identity.Config{BcryptCost: bcrypt.MinCost, AccessTokenTTL: time.Minute})
	reg := NewRegistry()

	_, err := reg.Get(LocalName)
	assert.Error(t, err)

	reg.Register(NewLocal(manager))

	p, err := reg.Get(LocalName)
	require.NoError(t, err)
	assert.Equal(t, LocalName, p.Name())
	assert.Equal(t, []string{LocalName}, reg.Names())
}
