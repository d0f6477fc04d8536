package provider

import (
	"context"

	"github.com/aegiskit/aegis/pkg/authz"
	"github.com/aegiskit/aegis/pkg/identity"
)

// LocalName is the registry name of the built-in password provider.
const LocalName = "local"

// Local adapts the identity manager's password path to the AuthProvider
// interface.
type Local struct {
	manager *identity.Manager
}

// NewLocal wraps the identity manager as an AuthProvider.
func NewLocal(manager *identity.Manager) *Local {
	return &Local{manager: manager}
}

// Name implements AuthProvider.
func (l *Local) Name() string { return LocalName }

// Authenticate implements AuthProvider.
func (l *Local) Authenticate(ctx context.Context, creds Credentials) (*identity.TokenPair, error) {
	return l.manager.Authenticate(ctx, creds.Username, creds.Password, creds.Meta)
}

// ValidateToken implements AuthProvider.
func (l *Local) ValidateToken(_ context.Context, token string) (*authz.Context, error) {
	return l.manager.ValidateAccessToken(token)
}

// RefreshToken implements AuthProvider.
func (l *Local) RefreshToken(ctx context.Context, token string) (*identity.TokenPair, error) {
	return l.manager.RefreshAuthToken(ctx, token)
}

// Logout implements AuthProvider.
func (l *Local) Logout(ctx context.Context, token string) {
	l.manager.Logout(ctx, token)
}

// GetUser implements AuthProvider.
func (l *Local) GetUser(_ context.Context, id string) (*identity.User, error) {
	return l.manager.GetUser(id)
}
