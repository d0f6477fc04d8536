package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aegiskit/aegis/pkg/authz"
	"github.com/aegiskit/aegis/pkg/events"
)

// rawKeyPrefix marks keys issued by this module so they are recognizable in
// config files and secret scanners.
const rawKeyPrefix = "aegis_"

// APIKeyRequest describes a key to create. ExpiresIn zero falls back to the
// configured default; negative means no expiry. RateLimitPerHour zero means
// unlimited.
type APIKeyRequest struct {
	Name             string
	Permissions      []authz.Permission
	ExpiresIn        time.Duration
	RateLimitPerHour int
}

// CreateAPIKey mints a key for the user and returns the record plus the raw
// key. The raw key is shown exactly once; only its hash is kept.
func (m *Manager) CreateAPIKey(ctx context.Context, userID string, req APIKeyRequest) (*APIKey, string, error) {
	if req.Name == "" {
		return nil, "", fmt.Errorf("identity: api key name is required")
	}

	raw, err := generateRawKey()
	if err != nil {
		return nil, "", err
	}
	now := m.now()

	var expiresAt *time.Time
	switch {
	case req.ExpiresIn > 0:
		t := now.Add(req.ExpiresIn)
		expiresAt = &t
	case req.ExpiresIn == 0:
		t := now.Add(m.cfg.APIKeyDefaultTTL)
		expiresAt = &t
	}

	key := &APIKey{
		ID:               uuid.New().String(),
		UserID:           userID,
		Name:             req.Name,
		KeyHash:          hashSecret(raw),
		Prefix:           raw[:len(rawKeyPrefix)+6],
		Permissions:      append([]authz.Permission(nil), req.Permissions...),
		RateLimitPerHour: req.RateLimitPerHour,
		ExpiresAt:        expiresAt,
		IsActive:         true,
		CreatedAt:        now,
	}

	m.mu.Lock()
	user, ok := m.users[userID]
	if !ok {
		m.mu.Unlock()
		return nil, "", ErrUserNotFound
	}
	if !user.Active {
		m.mu.Unlock()
		return nil, "", ErrUserInactive
	}
	m.apiKeys[key.KeyHash] = key
	m.apiKeyByID[key.ID] = key.KeyHash
	username := user.Username
	m.refreshGaugesLocked()
	m.mu.Unlock()

	m.publish(events.TypeAPIKeyCreated, userID, username, RequestMeta{}, map[string]interface{}{
		"keyId":   key.ID,
		"keyName": key.Name,
	})
	return key.clone(), raw, nil
}

// RevokeAPIKey deactivates a key. The record is retained for audit.
func (m *Manager) RevokeAPIKey(ctx context.Context, keyID string) error {
	m.mu.Lock()
	hash, ok := m.apiKeyByID[keyID]
	if !ok {
		m.mu.Unlock()
		return ErrAPIKeyNotFound
	}
	key := m.apiKeys[hash]
	key.IsActive = false
	userID := key.UserID
	username := ""
	if user, ok := m.users[userID]; ok {
		username = user.Username
	}
	m.refreshGaugesLocked()
	m.mu.Unlock()

	m.metrics.TokensRevokedTotal.Inc()
	m.publish(events.TypeAPIKeyRevoked, userID, username, RequestMeta{}, map[string]interface{}{
		"keyId": keyID,
	})
	return nil
}

// GetAPIKey returns a copy of the key record by ID.
func (m *Manager) GetAPIKey(keyID string) (*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hash, ok := m.apiKeyByID[keyID]
	if !ok {
		return nil, ErrAPIKeyNotFound
	}
	return m.apiKeys[hash].clone(), nil
}

// ListAPIKeys returns copies of all keys owned by userID, revoked included.
func (m *Manager) ListAPIKeys(userID string) []*APIKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*APIKey, 0)
	for _, key := range m.apiKeys {
		if key.UserID == userID {
			out = append(out, key.clone())
		}
	}
	return out
}

func generateRawKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("identity: generate api key: %w", err)
	}
	return rawKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
