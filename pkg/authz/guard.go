package authz

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/aegiskit/aegis/pkg/observability"
)

// ErrPolicyNotFound is returned when updating or removing an unknown policy.
var ErrPolicyNotFound = errors.New("authz: policy not found")

const (
	defaultCacheTTL  = 5 * time.Minute
	defaultCacheSize = 4096

	// suspiciousCount and suspiciousInterval define the anomaly threshold:
	// more than suspiciousCount accesses with a sub-second average interval.
	suspiciousCount    = 100
	suspiciousInterval = time.Second
)

// Guard is the policy and RBAC evaluation engine. Evaluation itself is
// stateless over the data passed in; the guard only owns the policy registry,
// the decision cache and the access-pattern tracker.
type Guard struct {
	log     *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	policies map[string]*PolicyRule

	cache *lru.LRU[string, Evaluation]
	group singleflight.Group

	pmu      sync.Mutex
	patterns map[string]*AccessPattern

	apiKeyFallthrough sync.Once
}

// GuardOption configures the Guard.
type GuardOption func(*guardConfig)

type guardConfig struct {
	cacheTTL  time.Duration
	cacheSize int
	log       *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// WithCacheTTL sets the decision cache TTL.
func WithCacheTTL(ttl time.Duration) GuardOption {
	return func(c *guardConfig) {
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(n int) GuardOption {
	return func(c *guardConfig) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// WithObservability sets the logger and metrics set.
func WithObservability(log *observability.Logger, metrics *observability.Metrics) GuardOption {
	return func(c *guardConfig) {
		if log != nil {
			c.log = log
		}
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) GuardOption {
	return func(c *guardConfig) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewGuard creates a permission guard with an empty policy registry.
func NewGuard(opts ...GuardOption) *Guard {
	cfg := guardConfig{
		cacheTTL:  defaultCacheTTL,
		cacheSize: defaultCacheSize,
		log:       observability.NopLogger(),
		metrics:   observability.NopMetrics(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Guard{
		log:      cfg.log,
		metrics:  cfg.metrics,
		now:      cfg.now,
		policies: make(map[string]*PolicyRule),
		cache:    lru.NewLRU[string, Evaluation](cfg.cacheSize, nil, cfg.cacheTTL),
		patterns: make(map[string]*AccessPattern),
	}
}

// CheckPermission reports whether the context may perform action on resource.
func (g *Guard) CheckPermission(ctx *Context, resource, action string, data map[string]interface{}) bool {
	return g.EvaluatePermissions(ctx, resource, action, data).Allowed
}

// EvaluatePermissions runs the full evaluation and returns the verbose
// result. Decisions are cached per (user, resource, action, resource-data)
// with the configured TTL; concurrent identical evaluations are collapsed.
// Access-pattern tracking happens on every call, cached or not.
func (g *Guard) EvaluatePermissions(ctx *Context, resource, action string, data map[string]interface{}) Evaluation {
	start := g.now()
	g.trackAccess(ctx.UserID, resource, action)

	key := cacheKey(ctx.UserID, resource, action, data)
	if ev, ok := g.cache.Get(key); ok {
		g.metrics.CacheHitsTotal.Inc()
		g.observe(ev, start)
		return ev
	}
	g.metrics.CacheMissesTotal.Inc()

	v, _, _ := g.group.Do(key, func() (interface{}, error) {
		ev := g.evaluate(ctx, resource, action, data)
		g.cache.Add(key, ev)
		return ev, nil
	})
	ev := v.(Evaluation)
	g.observe(ev, start)
	return ev
}

func (g *Guard) observe(ev Evaluation, start time.Time) {
	decision := "deny"
	if ev.Allowed {
		decision = "allow"
	}
	g.metrics.PermissionChecksTotal.WithLabelValues(decision).Inc()
	g.metrics.PermissionCheckDuration.Observe(g.now().Sub(start).Seconds())
}

// evaluate applies the precedence rules: deny policies, then API-key scoped
// permissions, then role permissions, then allow policies. The first decisive
// outcome wins; a matching active deny is always final.
func (g *Guard) evaluate(ctx *Context, resource, action string, data map[string]interface{}) Evaluation {
	if denied, rule := g.matchPolicies(EffectDeny, ctx, resource, action, data); denied {
		g.metrics.PolicyDenialsTotal.Inc()
		return Evaluation{
			Allowed:  false,
			Reason:   fmt.Sprintf("Denied by policy %q", rule.Name),
			DeniedBy: rule.ID,
		}
	}

	if ctx.HasAPIKey {
		for _, perm := range ctx.KeyPermissions {
			if perm.Matches(resource, action) && conditionsHold(perm.Conditions, data) {
				return Evaluation{
					Allowed:            true,
					Reason:             "Granted by API key permission",
					MatchedPermissions: []string{perm.String()},
				}
			}
		}
		// An API key whose own permission set does not cover the request is
		// treated as non-decisive: role and allow-policy paths are still
		// evaluated. This mirrors the long-standing behavior; warn once so
		// operators can judge whether it is intended permissiveness.
		g.apiKeyFallthrough.Do(func() {
			g.log.Warn("api key permissions did not match; continuing with role and policy evaluation")
		})
	}

	for _, role := range ctx.Roles {
		if role == nil {
			continue
		}
		for _, perm := range role.Permissions {
			if perm.Matches(resource, action) && conditionsHold(perm.Conditions, data) {
				return Evaluation{
					Allowed:            true,
					Reason:             fmt.Sprintf("Granted by role %q", role.Name),
					MatchedPermissions: []string{perm.String()},
				}
			}
		}
	}

	if allowed, rule := g.matchPolicies(EffectAllow, ctx, resource, action, data); allowed {
		return Evaluation{
			Allowed:            true,
			Reason:             fmt.Sprintf("Granted by policy %q", rule.Name),
			MatchedPermissions: []string{rule.Resource + ":" + rule.Action},
		}
	}

	return Evaluation{
		Allowed: false,
		Reason:  "No matching permissions found",
	}
}

func conditionsHold(conditions []Condition, data map[string]interface{}) bool {
	for _, c := range conditions {
		if !evalCondition(c, data) {
			return false
		}
	}
	return true
}

// matchPolicies returns the first active matching rule of the given effect
// whose conditions all hold, scanning by priority descending.
func (g *Guard) matchPolicies(effect Effect, ctx *Context, resource, action string, data map[string]interface{}) (bool, *PolicyRule) {
	g.mu.RLock()
	candidates := make([]*PolicyRule, 0)
	for _, rule := range g.policies {
		if rule.Active && rule.Effect == effect && rule.Matches(resource, action) {
			candidates = append(candidates, rule)
		}
	}
	g.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})

	for _, rule := range candidates {
		holds := true
		for _, c := range rule.Conditions {
			if !evalPolicyCondition(c, ctx, data) {
				holds = false
				break
			}
		}
		if holds {
			return true, rule
		}
	}
	return false, nil
}

// AddPolicy registers a policy rule, assigning an ID when absent, and purges
// the decision cache.
func (g *Guard) AddPolicy(rule *PolicyRule) error {
	if rule == nil {
		return errors.New("authz: nil policy")
	}
	if rule.Effect != EffectAllow && rule.Effect != EffectDeny {
		return fmt.Errorf("authz: invalid policy effect %q", rule.Effect)
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := g.now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	g.mu.Lock()
	g.policies[rule.ID] = rule
	g.mu.Unlock()

	g.purgeCache()
	return nil
}

// UpdatePolicy replaces an existing policy rule and purges the decision
// cache.
func (g *Guard) UpdatePolicy(rule *PolicyRule) error {
	if rule == nil || rule.ID == "" {
		return ErrPolicyNotFound
	}

	g.mu.Lock()
	existing, ok := g.policies[rule.ID]
	if !ok {
		g.mu.Unlock()
		return ErrPolicyNotFound
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = g.now().UTC()
	g.policies[rule.ID] = rule
	g.mu.Unlock()

	g.purgeCache()
	return nil
}

// RemovePolicy deletes a policy rule and purges the decision cache.
func (g *Guard) RemovePolicy(id string) error {
	g.mu.Lock()
	_, ok := g.policies[id]
	if !ok {
		g.mu.Unlock()
		return ErrPolicyNotFound
	}
	delete(g.policies, id)
	g.mu.Unlock()

	g.purgeCache()
	return nil
}

// GetPolicy returns a policy rule by ID.
func (g *Guard) GetPolicy(id string) (*PolicyRule, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rule, ok := g.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return rule, nil
}

// Policies returns all registered policy rules.
func (g *Guard) Policies() []*PolicyRule {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*PolicyRule, 0, len(g.policies))
	for _, rule := range g.policies {
		out = append(out, rule)
	}
	return out
}

// purgeCache drops every cached decision. Policy mutation invalidates the
// whole cache rather than attempting selective invalidation.
func (g *Guard) purgeCache() {
	g.cache.Purge()
	g.metrics.CachePurgesTotal.Inc()
}

// cacheKey builds the decision cache key from the user, request and a stable
// hash of the resource data.
func cacheKey(userID, resource, action string, data map[string]interface{}) string {
	return fmt.Sprintf("%s\x1f%s\x1f%s\x1f%x", userID, resource, action, hashData(data))
}

// hashData produces a stable FNV-1a hash of arbitrary resource data by
// serializing maps with sorted keys.
func hashData(data map[string]interface{}) uint64 {
	h := fnv.New64a()
	writeCanonical(h, data)
	return h.Sum64()
}

func writeCanonical(h io.Writer, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		h.Write([]byte{'{'})
		for _, k := range keys {
			h.Write([]byte(k))
			h.Write([]byte{'='})
			writeCanonical(h, val[k])
			h.Write([]byte{';'})
		}
		h.Write([]byte{'}'})
	case []interface{}:
		h.Write([]byte{'['})
		for _, item := range val {
			writeCanonical(h, item)
			h.Write([]byte{','})
		}
		h.Write([]byte{']'})
	default:
		fmt.Fprintf(h, "%T:%v", v, v)
	}
}
