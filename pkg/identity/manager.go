package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/aegiskit/aegis/pkg/async"
	"github.com/aegiskit/aegis/pkg/authz"
	"github.com/aegiskit/aegis/pkg/events"
	"github.com/aegiskit/aegis/pkg/observability"
	"github.com/aegiskit/aegis/pkg/ratelimit"
)

const (
	defaultAccessTokenTTL    = 15 * time.Minute
	defaultRefreshTokenTTL   = 30 * 24 * time.Hour
	defaultMaxFailedAttempts = 5
	defaultLockoutDuration   = 15 * time.Minute
	defaultAPIKeyTTL         = 90 * 24 * time.Hour

	// maxAttemptHistory bounds the in-memory login-attempt record.
	maxAttemptHistory = 10000
)

// Config holds the identity manager tunables. Zero values fall back to
// defaults.
type Config struct {
	SigningSecret     string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	BcryptCost        int
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	APIKeyDefaultTTL  time.Duration
}

func (c Config) withDefaults() Config {
	if c.SigningSecret == "" {
		// Ephemeral secret: tokens do not survive a restart. Deployments
		// should always configure one.
		buf := make([]byte, 32)
		_, _ = rand.Read(buf)
		c.SigningSecret = hex.EncodeToString(buf)
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = defaultAccessTokenTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	if c.MaxFailedAttempts <= 0 {
		c.MaxFailedAttempts = defaultMaxFailedAttempts
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = defaultLockoutDuration
	}
	if c.APIKeyDefaultTTL <= 0 {
		c.APIKeyDefaultTTL = defaultAPIKeyTTL
	}
	return c
}

// Manager owns all identity state: users, roles, API keys, refresh tokens and
// the login-attempt history. Every table is guarded by a single RWMutex;
// reads dominate and take the read lock only.
type Manager struct {
	cfg     Config
	log     *observability.Logger
	metrics *observability.Metrics
	bus        *events.Bus
	limiter    ratelimit.Limiter
	issuer     *tokenIssuer
	now        func() time.Time
	suspicious func() int

	mu            sync.RWMutex
	users         map[string]*User
	byUsername    map[string]string
	byEmail       map[string]string
	roles         map[string]*authz.Role
	apiKeys       map[string]*APIKey // keyed by hash
	apiKeyByID    map[string]string  // id -> hash
	refreshTokens map[string]*refreshRecord
	attempts      []LoginAttempt
}

// Option configures the Manager.
type Option func(*Manager)

// WithObservability sets the logger and metrics set.
func WithObservability(log *observability.Logger, metrics *observability.Metrics) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithEventBus sets the bus domain events are published to.
func WithEventBus(bus *events.Bus) Option {
	return func(m *Manager) {
		if bus != nil {
			m.bus = bus
		}
	}
}

// WithRateLimiter sets the limiter enforcing per-key API rate limits.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(m *Manager) {
		if l != nil {
			m.limiter = l
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithSuspiciousCounter supplies the count of flagged access patterns for the
// security snapshot. The permission guard owns that data; hosts wire its
// counter in here.
func WithSuspiciousCounter(fn func() int) Option {
	return func(m *Manager) {
		if fn != nil {
			m.suspicious = fn
		}
	}
}

// NewManager creates an identity manager with the system roles seeded.
func NewManager(cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:           cfg,
		log:           observability.NopLogger(),
		metrics:       observability.NopMetrics(),
		bus:           events.NewBus(),
		limiter:       ratelimit.NewWindowLimiter(time.Hour),
		now:           time.Now,
		users:         make(map[string]*User),
		byUsername:    make(map[string]string),
		byEmail:       make(map[string]string),
		roles:         make(map[string]*authz.Role),
		apiKeys:       make(map[string]*APIKey),
		apiKeyByID:    make(map[string]string),
		refreshTokens: make(map[string]*refreshRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.issuer = newTokenIssuer(cfg.SigningSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, m.now)
	m.seedSystemRoles()
	return m
}

// Authenticate verifies username/password and returns a fresh token pair.
// Unknown user and wrong password return the same ErrInvalidCredentials.
// Failed attempts count toward lockout; the threshold check and the lock are
// applied under one critical section so concurrent failures cannot both slip
// past it. Bus events are published only after the lock is released, so
// subscribers may freely call back into the manager.
func (m *Manager) Authenticate(ctx context.Context, username, password string, meta RequestMeta) (*TokenPair, error) {
	now := m.now()

	m.mu.Lock()

	id, ok := m.byUsername[username]
	if !ok {
		m.recordAttemptLocked(username, "", false, "unknown user", meta)
		m.mu.Unlock()
		m.finishAuth(username, "", false, "invalid credentials", meta)
		return nil, ErrInvalidCredentials
	}
	user := m.users[id]
	userID := user.ID

	if !user.Active {
		m.recordAttemptLocked(username, userID, false, "account inactive", meta)
		m.mu.Unlock()
		m.finishAuth(username, userID, false, "account inactive", meta)
		return nil, ErrAccountInactive
	}

	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		m.recordAttemptLocked(username, userID, false, "account locked", meta)
		m.mu.Unlock()
		m.finishAuth(username, userID, false, "account locked", meta)
		return nil, ErrAccountLocked
	}

	if !verifyPassword(user.PasswordHash, password) {
		user.FailedLoginAttempts++
		user.UpdatedAt = now
		locked := false
		attempts := user.FailedLoginAttempts
		var lockedUntil time.Time
		if user.FailedLoginAttempts >= m.cfg.MaxFailedAttempts {
			until := now.Add(m.cfg.LockoutDuration)
			user.LockedUntil = &until
			locked = true
			lockedUntil = until
		}
		m.recordAttemptLocked(username, userID, false, "wrong password", meta)
		m.refreshGaugesLocked()
		m.mu.Unlock()

		m.finishAuth(username, userID, false, "invalid credentials", meta)
		if locked {
			m.metrics.AccountLockouts.Inc()
			m.log.WithFields(map[string]interface{}{
				"user_id":  userID,
				"username": username,
				"attempts": attempts,
			}).Warn("account locked after repeated failed logins")
			m.publish(events.TypeUserLocked, userID, username, meta, map[string]interface{}{
				"failedAttempts": attempts,
				"lockedUntil":    lockedUntil.UTC(),
			})
		}
		return nil, ErrInvalidCredentials
	}

	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLogin = &now
	user.UpdatedAt = now

	pair, err := m.issueTokensLocked(user)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	m.recordAttemptLocked(username, userID, true, "", meta)
	m.refreshGaugesLocked()
	m.mu.Unlock()

	m.finishAuth(username, userID, true, "", meta)
	m.metrics.TokensIssuedTotal.WithLabelValues("password").Inc()
	return pair, nil
}

// finishAuth emits the per-attempt metric and domain event. Must be called
// without m.mu held: subscribers may call back into the manager.
func (m *Manager) finishAuth(username, userID string, success bool, reason string, meta RequestMeta) {
	outcome := "failure"
	eventType := events.TypeLoginFailed
	var details map[string]interface{}
	if success {
		outcome = "success"
		eventType = events.TypeLoginSucceeded
	} else {
		details = map[string]interface{}{"reason": reason}
	}
	m.metrics.AuthAttemptsTotal.WithLabelValues("password", outcome).Inc()
	m.publishEvent(events.Event{
		Type:      eventType,
		UserID:    userID,
		Username:  username,
		Success:   success,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   details,
	})
}

// AuthenticateWithAPIKey resolves a raw API key to an authorization context
// carrying the key's own permission set. Usage counters are bumped and the
// per-key hourly rate limit is enforced.
func (m *Manager) AuthenticateWithAPIKey(ctx context.Context, rawKey string, meta RequestMeta) (*authz.Context, error) {
	now := m.now()
	hash := hashSecret(rawKey)

	m.mu.RLock()
	key, ok := m.apiKeys[hash]
	if !ok || !key.IsActive {
		m.mu.RUnlock()
		m.metrics.APIKeyChecksTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidAPIKey
	}
	if key.ExpiresAt != nil && now.After(*key.ExpiresAt) {
		m.mu.RUnlock()
		m.metrics.APIKeyChecksTotal.WithLabelValues("expired").Inc()
		return nil, ErrAPIKeyExpired
	}
	owner, ok := m.users[key.UserID]
	if !ok || !owner.Active {
		m.mu.RUnlock()
		m.metrics.APIKeyChecksTotal.WithLabelValues("inactive_user").Inc()
		return nil, ErrUserInactive
	}
	keyID := key.ID
	rateLimit := key.RateLimitPerHour
	m.mu.RUnlock()

	if rateLimit > 0 {
		allowed, err := m.limiter.Allow(ctx, "apikey:"+keyID, rateLimit)
		if err != nil {
			m.log.WithError(err).Warn("api key rate limiter unavailable; allowing request")
		}
		if !allowed {
			m.metrics.APIKeyChecksTotal.WithLabelValues("rate_limited").Inc()
			return nil, ErrRateLimited
		}
	}

	m.mu.Lock()
	key.UsageCount++
	key.LastUsedAt = &now
	roles := m.resolveRolesLocked(owner.Roles)
	userID, username := owner.ID, owner.Username
	keyPerms := append([]authz.Permission(nil), key.Permissions...)
	m.mu.Unlock()

	m.metrics.APIKeyChecksTotal.WithLabelValues("ok").Inc()
	// Usage tracking is fire-and-forget; it must not add latency to the
	// request path.
	async.SafeGoNoError(context.Background(), 5*time.Second, m.log, "api key usage event", func(context.Context) {
		m.publish(events.TypeAPIKeyUsed, userID, username, meta, map[string]interface{}{
			"keyId": keyID,
		})
	})

	return &authz.Context{
		UserID:         userID,
		Username:       username,
		Roles:          roles,
		KeyPermissions: keyPerms,
		HasAPIKey:      true,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
		SessionID:      meta.SessionID,
		Timestamp:      now,
	}, nil
}

// RefreshAuthToken exchanges a refresh token for a new pair. The old token is
// deleted before the new pair is returned, under one critical section, so
// concurrent refreshes of the same token yield exactly one success.
func (m *Manager) RefreshAuthToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	now := m.now()
	hash := hashSecret(refreshToken)

	m.mu.Lock()
	rec, ok := m.refreshTokens[hash]
	if !ok {
		m.mu.Unlock()
		return nil, ErrInvalidRefreshToken
	}
	if now.After(rec.expiresAt) {
		delete(m.refreshTokens, hash)
		m.mu.Unlock()
		return nil, ErrInvalidRefreshToken
	}
	user, ok := m.users[rec.userID]
	if !ok || !user.Active {
		delete(m.refreshTokens, hash)
		m.mu.Unlock()
		return nil, ErrAccountInactive
	}

	delete(m.refreshTokens, hash)
	pair, err := m.issueTokensLocked(user)
	userID, username := user.ID, user.Username
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.metrics.TokensIssuedTotal.WithLabelValues("refresh").Inc()
	m.publish(events.TypeTokenRefreshed, userID, username, RequestMeta{}, nil)
	return pair, nil
}

// Logout revokes a refresh token. Unknown or already-expired tokens are not
// an error; logout is best-effort.
func (m *Manager) Logout(ctx context.Context, refreshToken string) {
	hash := hashSecret(refreshToken)

	m.mu.Lock()
	rec, ok := m.refreshTokens[hash]
	if ok {
		delete(m.refreshTokens, hash)
	}
	m.mu.Unlock()

	if ok {
		m.metrics.TokensRevokedTotal.Inc()
		user := m.getUserInternal(rec.userID)
		username := ""
		if user != nil {
			username = user.Username
		}
		m.publish(events.TypeLogout, rec.userID, username, RequestMeta{}, nil)
	}
}

// ValidateAccessToken verifies a signed access token and assembles an
// authorization context. Role definitions are re-fetched from the registry so
// the context never carries stale permission sets.
func (m *Manager) ValidateAccessToken(tokenString string) (*authz.Context, error) {
	claims, err := m.issuer.parseAccess(tokenString)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	user, ok := m.users[claims.UserID]
	if !ok {
		m.mu.RUnlock()
		return nil, ErrUserNotFound
	}
	if !user.Active {
		m.mu.RUnlock()
		return nil, ErrUserInactive
	}
	roles := m.resolveRolesLocked(user.Roles)
	username := user.Username
	m.mu.RUnlock()

	return &authz.Context{
		UserID:    claims.UserID,
		Username:  username,
		Roles:     roles,
		Timestamp: m.now(),
	}, nil
}

// issueTokensLocked mints a token pair for user. Caller holds m.mu.
func (m *Manager) issueTokensLocked(user *User) (*TokenPair, error) {
	roles := m.resolveRolesLocked(user.Roles)
	perms := flattenPermissions(roles)

	access, expiresAt, err := m.issuer.signAccess(user.ID, user.Username, user.Roles, perms)
	if err != nil {
		return nil, err
	}
	refresh, refreshHash, err := m.issuer.newRefreshToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	m.refreshTokens[refreshHash] = &refreshRecord{
		userID:    user.ID,
		expiresAt: now.Add(m.cfg.RefreshTokenTTL),
		createdAt: now,
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		TokenType:    "Bearer",
	}, nil
}

// resolveRolesLocked maps role names to live registry definitions. Unknown
// names are skipped. Caller holds m.mu (read or write).
func (m *Manager) resolveRolesLocked(names []string) []*authz.Role {
	roles := make([]*authz.Role, 0, len(names))
	for _, name := range names {
		if role, ok := m.roles[name]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}

func flattenPermissions(roles []*authz.Role) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, role := range roles {
		for _, perm := range role.Permissions {
			s := perm.String()
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// recordAttemptLocked appends to the bounded login-attempt history. Caller
// holds m.mu.
func (m *Manager) recordAttemptLocked(username, userID string, success bool, reason string, meta RequestMeta) {
	m.attempts = append(m.attempts, LoginAttempt{
		Username:  username,
		UserID:    userID,
		Success:   success,
		Reason:    reason,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Timestamp: m.now(),
	})
	if len(m.attempts) > maxAttemptHistory {
		m.attempts = m.attempts[len(m.attempts)-maxAttemptHistory:]
	}
}

// RecentLoginAttempts returns the newest attempts, optionally filtered by
// username, newest first.
func (m *Manager) RecentLoginAttempts(username string, limit int) []LoginAttempt {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]LoginAttempt, 0)
	for i := len(m.attempts) - 1; i >= 0; i-- {
		if username != "" && m.attempts[i].Username != username {
			continue
		}
		out = append(out, m.attempts[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// SecurityMetrics returns a point-in-time aggregate of security state.
func (m *Manager) SecurityMetrics() SecuritySnapshot {
	now := m.now()
	dayAgo := now.Add(-24 * time.Hour)

	suspicious := 0
	if m.suspicious != nil {
		suspicious = m.suspicious()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := SecuritySnapshot{GeneratedAt: now, SuspiciousPatterns: suspicious}
	for _, u := range m.users {
		if u.Active {
			snap.ActiveUsers++
		}
		if u.LockedUntil != nil && now.Before(*u.LockedUntil) {
			snap.LockedUsers++
		}
	}
	for _, k := range m.apiKeys {
		if k.IsActive {
			snap.ActiveAPIKeys++
		}
	}
	snap.RefreshTokensLive = len(m.refreshTokens)
	for _, a := range m.attempts {
		if a.Timestamp.Before(dayAgo) {
			continue
		}
		if a.Success {
			snap.LoginsLast24h++
		} else {
			snap.FailedLoginsLast24h++
		}
	}
	return snap
}

// PruneExpiredTokens drops refresh tokens past expiry and returns the number
// removed. The janitor calls this periodically.
func (m *Manager) PruneExpiredTokens() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for hash, rec := range m.refreshTokens {
		if now.After(rec.expiresAt) {
			delete(m.refreshTokens, hash)
			removed++
		}
	}
	if removed > 0 {
		m.refreshGaugesLocked()
	}
	return removed
}

// PruneLoginAttempts drops attempt records older than maxAge and returns the
// number removed.
func (m *Manager) PruneLoginAttempts(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Attempts are appended in time order; find the first one to keep.
	keep := 0
	for keep < len(m.attempts) && m.attempts[keep].Timestamp.Before(cutoff) {
		keep++
	}
	if keep == 0 {
		return 0
	}
	m.attempts = append([]LoginAttempt(nil), m.attempts[keep:]...)
	return keep
}

// refreshGaugesLocked recomputes the state gauges. Caller holds m.mu.
func (m *Manager) refreshGaugesLocked() {
	now := m.now()
	active, locked, keys := 0, 0, 0
	for _, u := range m.users {
		if u.Active {
			active++
		}
		if u.LockedUntil != nil && now.Before(*u.LockedUntil) {
			locked++
		}
	}
	for _, k := range m.apiKeys {
		if k.IsActive {
			keys++
		}
	}
	m.metrics.ActiveUsersTotal.Set(float64(active))
	m.metrics.LockedUsersTotal.Set(float64(locked))
	m.metrics.ActiveAPIKeys.Set(float64(keys))
	m.metrics.RefreshTokensLive.Set(float64(len(m.refreshTokens)))
}

func (m *Manager) getUserInternal(id string) *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[id]
}

// publish emits a domain event on the bus.
func (m *Manager) publish(t events.Type, userID, username string, meta RequestMeta, details map[string]interface{}) {
	m.publishEvent(events.Event{
		Type:      t,
		UserID:    userID,
		Username:  username,
		Success:   true,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   details,
	})
}

func (m *Manager) publishEvent(ev events.Event) {
	m.bus.Publish(ev)
}
