package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aegiskit/aegis/pkg/events"
)

// UserUpdate carries the mutable user fields for UpdateUser. Nil pointers
// leave the field unchanged.
type UserUpdate struct {
	Email    *string
	Roles    []string
	Active   *bool
	Metadata map[string]interface{}
}

// CreateUser registers a new user. Role names must exist in the registry;
// when none are given the user gets the system "user" role.
func (m *Manager) CreateUser(ctx context.Context, username, email, password string, roleNames []string, metadata map[string]interface{}) (*User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))
	if username == "" || email == "" {
		return nil, fmt.Errorf("identity: username and email are required")
	}
	if password == "" {
		return nil, fmt.Errorf("identity: password is required")
	}
	if len(roleNames) == 0 {
		roleNames = []string{RoleUser}
	}

	hash, err := hashPassword(password, m.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	now := m.now()

	m.mu.Lock()
	if _, exists := m.byUsername[username]; exists {
		m.mu.Unlock()
		return nil, ErrDuplicateUsername
	}
	if _, exists := m.byEmail[email]; exists {
		m.mu.Unlock()
		return nil, ErrDuplicateEmail
	}
	for _, name := range roleNames {
		if _, ok := m.roles[name]; !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %q", ErrRoleNotFound, name)
		}
	}

	user := &User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Roles:        append([]string(nil), roleNames...),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
		Metadata:     metadata,
	}
	m.users[user.ID] = user
	m.byUsername[username] = user.ID
	m.byEmail[email] = user.ID
	m.refreshGaugesLocked()
	m.mu.Unlock()

	m.publish(events.TypeUserCreated, user.ID, username, RequestMeta{}, map[string]interface{}{
		"email": email,
		"roles": roleNames,
	})
	return user.clone(), nil
}

// GetUser returns a copy of the user by ID.
func (m *Manager) GetUser(id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user.clone(), nil
}

// GetUserByUsername returns a copy of the user by username.
func (m *Manager) GetUserByUsername(username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return m.users[id].clone(), nil
}

// ListUsers returns copies of all users, active and deactivated.
func (m *Manager) ListUsers() []*User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0, len(m.users))
	for _, user := range m.users {
		out = append(out, user.clone())
	}
	return out
}

// UpdateUser applies the given field updates.
func (m *Manager) UpdateUser(ctx context.Context, id string, update UserUpdate) (*User, error) {
	now := m.now()

	m.mu.Lock()
	user, ok := m.users[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrUserNotFound
	}

	if update.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*update.Email))
		if other, exists := m.byEmail[email]; exists && other != id {
			m.mu.Unlock()
			return nil, ErrDuplicateEmail
		}
		delete(m.byEmail, user.Email)
		user.Email = email
		m.byEmail[email] = id
	}
	if update.Roles != nil {
		for _, name := range update.Roles {
			if _, ok := m.roles[name]; !ok {
				m.mu.Unlock()
				return nil, fmt.Errorf("%w: %q", ErrRoleNotFound, name)
			}
		}
		user.Roles = append([]string(nil), update.Roles...)
	}
	if update.Active != nil {
		user.Active = *update.Active
	}
	if update.Metadata != nil {
		user.Metadata = update.Metadata
	}
	user.UpdatedAt = now
	cp := user.clone()
	m.refreshGaugesLocked()
	m.mu.Unlock()

	m.publish(events.TypeUserUpdated, id, cp.Username, RequestMeta{}, nil)
	return cp, nil
}

// DeleteUser soft-deletes: the user is deactivated, never removed, and all
// their API keys and refresh tokens are revoked.
func (m *Manager) DeleteUser(ctx context.Context, id string) error {
	now := m.now()

	m.mu.Lock()
	user, ok := m.users[id]
	if !ok {
		m.mu.Unlock()
		return ErrUserNotFound
	}
	user.Active = false
	user.UpdatedAt = now

	revokedKeys := 0
	for _, key := range m.apiKeys {
		if key.UserID == id && key.IsActive {
			key.IsActive = false
			revokedKeys++
		}
	}
	revokedTokens := m.revokeUserTokensLocked(id)
	username := user.Username
	m.refreshGaugesLocked()
	m.mu.Unlock()

	m.publish(events.TypeUserDeactivated, id, username, RequestMeta{}, map[string]interface{}{
		"revokedApiKeys":       revokedKeys,
		"revokedRefreshTokens": revokedTokens,
	})
	return nil
}

// UnlockUser clears the lockout state ahead of its natural expiry.
func (m *Manager) UnlockUser(ctx context.Context, id string) error {
	m.mu.Lock()
	user, ok := m.users[id]
	if !ok {
		m.mu.Unlock()
		return ErrUserNotFound
	}
	user.LockedUntil = nil
	user.FailedLoginAttempts = 0
	user.UpdatedAt = m.now()
	username := user.Username
	m.refreshGaugesLocked()
	m.mu.Unlock()

	m.publish(events.TypeUserUnlocked, id, username, RequestMeta{}, nil)
	return nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes all outstanding refresh tokens for the user.
func (m *Manager) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("identity: password is required")
	}

	m.mu.RLock()
	user, ok := m.users[id]
	if !ok {
		m.mu.RUnlock()
		return ErrUserNotFound
	}
	currentHash := user.PasswordHash
	m.mu.RUnlock()

	if !verifyPassword(currentHash, oldPassword) {
		return ErrInvalidCredentials
	}
	hash, err := hashPassword(newPassword, m.cfg.BcryptCost)
	if err != nil {
		return err
	}

	m.mu.Lock()
	user, ok = m.users[id]
	if !ok {
		m.mu.Unlock()
		return ErrUserNotFound
	}
	user.PasswordHash = hash
	user.UpdatedAt = m.now()
	m.revokeUserTokensLocked(id)
	username := user.Username
	m.mu.Unlock()

	m.publish(events.TypePasswordChanged, id, username, RequestMeta{}, nil)
	return nil
}

// revokeUserTokensLocked deletes all refresh tokens belonging to userID and
// returns the number removed. Caller holds m.mu.
func (m *Manager) revokeUserTokensLocked(userID string) int {
	removed := 0
	for hash, rec := range m.refreshTokens {
		if rec.userID == userID {
			delete(m.refreshTokens, hash)
			removed++
		}
	}
	return removed
}
