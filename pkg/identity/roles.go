package identity

import (
	"context"
	"fmt"

	"github.com/aegiskit/aegis/pkg/authz"
	"github.com/aegiskit/aegis/pkg/events"
)

// System role names seeded at construction. These are immutable.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

func (m *Manager) seedSystemRoles() {
	now := m.now()
	m.roles[RoleAdmin] = &authz.Role{
		Name:        RoleAdmin,
		Description: "Full access to every resource and action",
		Permissions: []authz.Permission{{Resource: "*", Action: "*"}},
		System:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.roles[RoleUser] = &authz.Role{
		Name:        RoleUser,
		Description: "Read access to the user's own profile",
		Permissions: []authz.Permission{{Resource: "user.profile", Action: "read"}},
		System:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CreateRole registers a custom role.
func (m *Manager) CreateRole(ctx context.Context, name, description string, permissions []authz.Permission) (*authz.Role, error) {
	if name == "" {
		return nil, fmt.Errorf("identity: role name is required")
	}
	now := m.now()

	m.mu.Lock()
	if _, exists := m.roles[name]; exists {
		m.mu.Unlock()
		return nil, ErrDuplicateRole
	}
	role := &authz.Role{
		Name:        name,
		Description: description,
		Permissions: append([]authz.Permission(nil), permissions...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.roles[name] = role
	m.mu.Unlock()

	m.publish(events.TypeRoleCreated, "", "", RequestMeta{}, map[string]interface{}{
		"role": name,
	})
	return role, nil
}

// UpdateRole replaces a custom role's description and permission set. System
// roles cannot be changed.
func (m *Manager) UpdateRole(ctx context.Context, name, description string, permissions []authz.Permission) (*authz.Role, error) {
	m.mu.Lock()
	role, ok := m.roles[name]
	if !ok {
		m.mu.Unlock()
		return nil, ErrRoleNotFound
	}
	if role.System {
		m.mu.Unlock()
		return nil, ErrSystemRole
	}
	role.Description = description
	role.Permissions = append([]authz.Permission(nil), permissions...)
	role.UpdatedAt = m.now()
	m.mu.Unlock()

	m.publish(events.TypeRoleUpdated, "", "", RequestMeta{}, map[string]interface{}{
		"role": name,
	})
	return role, nil
}

// DeleteRole removes a custom role and detaches it from every user holding
// it. System roles cannot be deleted.
func (m *Manager) DeleteRole(ctx context.Context, name string) error {
	m.mu.Lock()
	role, ok := m.roles[name]
	if !ok {
		m.mu.Unlock()
		return ErrRoleNotFound
	}
	if role.System {
		m.mu.Unlock()
		return ErrSystemRole
	}
	delete(m.roles, name)
	for _, user := range m.users {
		for i, rn := range user.Roles {
			if rn == name {
				user.Roles = append(user.Roles[:i], user.Roles[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	m.publish(events.TypeRoleDeleted, "", "", RequestMeta{}, map[string]interface{}{
		"role": name,
	})
	return nil
}

// GetRole returns the authoritative role definition.
func (m *Manager) GetRole(name string) (*authz.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[name]
	if !ok {
		return nil, ErrRoleNotFound
	}
	return role, nil
}

// ListRoles returns all registered roles.
func (m *Manager) ListRoles() []*authz.Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*authz.Role, 0, len(m.roles))
	for _, role := range m.roles {
		out = append(out, role)
	}
	return out
}
