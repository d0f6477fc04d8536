package identity

import (
	"time"

	"github.com/aegiskit/aegis/pkg/authz"
)

// User is an identity record. Users are soft-deleted by deactivation and
// never removed, so audit trails stay resolvable.
type User struct {
	ID                  string                 `json:"id"`
	Username            string                 `json:"username"`
	Email               string                 `json:"email"`
	PasswordHash        string                 `json:"-"`
	Roles               []string               `json:"roles"`
	Active              bool                   `json:"active"`
	FailedLoginAttempts int                    `json:"failedLoginAttempts"`
	LockedUntil         *time.Time             `json:"lockedUntil,omitempty"`
	LastLogin           *time.Time             `json:"lastLogin,omitempty"`
	CreatedAt           time.Time              `json:"createdAt"`
	UpdatedAt           time.Time              `json:"updatedAt"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
}

func (u *User) clone() *User {
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	if u.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(u.Metadata))
		for k, v := range u.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// TokenPair is the result of a successful authentication or refresh: a signed
// access token plus a single-use opaque refresh token.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	TokenType    string    `json:"tokenType"`
}

// APIKey is a long-lived credential with its own permission scope. Only the
// hash of the raw key is stored; the raw key is shown once at creation.
type APIKey struct {
	ID               string             `json:"id"`
	UserID           string             `json:"userId"`
	Name             string             `json:"name"`
	KeyHash          string             `json:"-"`
	Prefix           string             `json:"prefix"`
	Permissions      []authz.Permission `json:"permissions"`
	RateLimitPerHour int                `json:"rateLimitPerHour,omitempty"`
	UsageCount       int64              `json:"usageCount"`
	LastUsedAt       *time.Time         `json:"lastUsedAt,omitempty"`
	ExpiresAt        *time.Time         `json:"expiresAt,omitempty"`
	IsActive         bool               `json:"isActive"`
	CreatedAt        time.Time          `json:"createdAt"`
}

func (k *APIKey) clone() *APIKey {
	cp := *k
	cp.Permissions = append([]authz.Permission(nil), k.Permissions...)
	return &cp
}

// RequestMeta carries per-request transport details attached to login
// attempts and audit events.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	SessionID string
}

// LoginAttempt records one authentication attempt, success or failure.
type LoginAttempt struct {
	Username  string    `json:"username"`
	UserID    string    `json:"userId,omitempty"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// refreshRecord is the server-side state for an outstanding refresh token,
// keyed by the token's hash.
type refreshRecord struct {
	userID    string
	expiresAt time.Time
	createdAt time.Time
}

// SecuritySnapshot is a point-in-time read-only aggregate of security state.
// It is informational and never feeds back into access decisions.
type SecuritySnapshot struct {
	ActiveUsers         int       `json:"activeUsers"`
	LockedUsers         int       `json:"lockedUsers"`
	ActiveAPIKeys       int       `json:"activeApiKeys"`
	RefreshTokensLive   int       `json:"refreshTokensLive"`
	LoginsLast24h       int       `json:"loginsLast24h"`
	FailedLoginsLast24h int       `json:"failedLoginsLast24h"`
	SuspiciousPatterns  int       `json:"suspiciousPatterns"`
	GeneratedAt         time.Time `json:"generatedAt"`
}
