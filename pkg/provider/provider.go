// Package provider defines the pluggable credential-source boundary. External
// sources (OAuth, LDAP, SAML) implement AuthProvider; the built-in local
// password path is one implementation backed by the identity manager.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/aegiskit/aegis/pkg/authz"
	"github.com/aegiskit/aegis/pkg/identity"
)

// Credentials is what a caller presents to an AuthProvider.
type Credentials struct {
	Username string
	Password string
	Meta     identity.RequestMeta
}

// AuthProvider is a pluggable credential source.
type AuthProvider interface {
	// Name returns the provider's registry name.
	Name() string

	// Authenticate verifies credentials and issues a token pair.
	Authenticate(ctx context.Context, creds Credentials) (*identity.TokenPair, error)

	// ValidateToken resolves an access token to an authorization context.
	ValidateToken(ctx context.Context, token string) (*authz.Context, error)

	// RefreshToken exchanges a refresh token for a new pair.
	RefreshToken(ctx context.Context, token string) (*identity.TokenPair, error)

	// Logout revokes a refresh token; best-effort.
	Logout(ctx context.Context, token string)

	// GetUser resolves a user by ID.
	GetUser(ctx context.Context, id string) (*identity.User, error)
}

// MFAProvider is the optional second-factor capability, consumed by
// transport-layer middleware rather than by the core itself.
type MFAProvider interface {
	GenerateSecret(ctx context.Context, user *identity.User) (string, error)
	VerifyToken(ctx context.Context, user *identity.User, token string) (bool, error)
	GenerateBackupCodes(ctx context.Context, user *identity.User) ([]string, error)
	VerifyBackupCode(ctx context.Context, user *identity.User, code string) (bool, error)
}

// Registry holds named AuthProviders.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]AuthProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]AuthProvider)}
}

// Register adds a provider under its name, replacing any previous one.
func (r *Registry) Register(p AuthProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (AuthProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider: unknown provider %q", name)
	}
	return p, nil
}

// Names returns all registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
