// Package aegis wires the identity manager, permission guard and audit
// logger into one embeddable security core.
package aegis

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aegiskit/aegis/pkg/async"
	"github.com/aegiskit/aegis/pkg/audit"
	"github.com/aegiskit/aegis/pkg/authz"
	"github.com/aegiskit/aegis/pkg/config"
	"github.com/aegiskit/aegis/pkg/contextkeys"
	"github.com/aegiskit/aegis/pkg/events"
	"github.com/aegiskit/aegis/pkg/identity"
	"github.com/aegiskit/aegis/pkg/observability"
	"github.com/aegiskit/aegis/pkg/provider"
	"github.com/aegiskit/aegis/pkg/ratelimit"
)

// Core is the assembled security module. Construct one per process with New,
// use the exported components directly, and Close it at shutdown.
type Core struct {
	Config    *config.Config
	Log       *observability.Logger
	Metrics   *observability.Metrics
	Bus       *events.Bus
	Audit     *audit.Logger
	Guard     *authz.Guard
	Identity  *identity.Manager
	Providers *provider.Registry

	registry *prometheus.Registry
	redis    *redis.Client
	janitor  *async.Janitor
	shutdown *observability.ShutdownManager
}

// CoreOption configures Core construction.
type CoreOption func(*coreOptions)

type coreOptions struct {
	logOutput io.Writer
	clock     func() time.Time
}

// WithLogOutput redirects the structured log stream (default os.Stdout).
func WithLogOutput(w io.Writer) CoreOption {
	return func(o *coreOptions) {
		if w != nil {
			o.logOutput = w
		}
	}
}

// WithClock overrides the time source of every component (useful for tests).
func WithClock(fn func() time.Time) CoreOption {
	return func(o *coreOptions) {
		if fn != nil {
			o.clock = fn
		}
	}
}

// New assembles the core from configuration: logger and metrics, the event
// bus, the audit pipeline subscribed to it, the permission guard, the
// identity manager, and the background janitor.
func New(cfg *config.Config, opts ...CoreOption) (*Core, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := coreOptions{logOutput: os.Stdout, clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	log := observability.NewLogger(cfg.LogLevel(), o.logOutput)

	var registry *prometheus.Registry
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
	}
	metrics := observability.NewMetrics(registry)

	bus := events.NewBus()

	auditLogger, err := audit.NewLogger(audit.Config{
		Dir:             cfg.Audit.Dir,
		MaxMemoryEvents: cfg.Audit.MaxMemoryEvents,
		BufferSize:      cfg.Audit.BufferSize,
		FlushInterval:   cfg.Audit.FlushInterval,
		RetentionWindow: cfg.Audit.RetentionWindow,
		MaxFileSize:     cfg.Audit.MaxFileSize,
		MaxFiles:        cfg.Audit.MaxFiles,
	},
		audit.WithObservability(log.WithField("component", "audit"), metrics),
		audit.WithClock(o.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("aegis: audit logger: %w", err)
	}
	auditLogger.Subscribe(bus)

	guard := authz.NewGuard(
		authz.WithCacheTTL(cfg.Authz.CacheTTL),
		authz.WithCacheSize(cfg.Authz.CacheSize),
		authz.WithObservability(log.WithField("component", "authz"), metrics),
		authz.WithClock(o.clock),
	)

	var redisClient *redis.Client
	var limiter ratelimit.Limiter
	windowLimiter := ratelimit.NewWindowLimiter(time.Hour)
	limiter = windowLimiter
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("aegis: redis url: %w", err)
		}
		if cfg.Redis.Password != "" {
			redisOpts.Password = cfg.Redis.Password
		}
		if cfg.Redis.DB != 0 {
			redisOpts.DB = cfg.Redis.DB
		}
		redisClient = redis.NewClient(redisOpts)
		limiter = ratelimit.NewRedisLimiter(redisClient, "aegis:apikey", time.Hour)
	}

	manager := identity.NewManager(identity.Config{
		SigningSecret:     cfg.Identity.SigningSecret,
		AccessTokenTTL:    cfg.Identity.AccessTokenTTL,
		RefreshTokenTTL:   cfg.Identity.RefreshTokenTTL,
		BcryptCost:        cfg.Identity.BcryptCost,
		MaxFailedAttempts: cfg.Identity.MaxFailedAttempts,
		LockoutDuration:   cfg.Identity.LockoutDuration,
		APIKeyDefaultTTL:  cfg.Identity.APIKeyDefaultTTL,
	},
		identity.WithObservability(log.WithField("component", "identity"), metrics),
		identity.WithEventBus(bus),
		identity.WithRateLimiter(limiter),
		identity.WithClock(o.clock),
		identity.WithSuspiciousCounter(func() int {
			return len(guard.GetSuspiciousPatterns())
		}),
	)

	providers := provider.NewRegistry()
	providers.Register(provider.NewLocal(manager))

	core := &Core{
		Config:    cfg,
		Log:       log,
		Metrics:   metrics,
		Bus:       bus,
		Audit:     auditLogger,
		Guard:     guard,
		Identity:  manager,
		Providers: providers,
		registry:  registry,
		redis:     redisClient,
		shutdown:  observability.NewShutdownManager(log, 30*time.Second),
	}

	if err := core.startJanitor(windowLimiter); err != nil {
		return nil, err
	}
	core.registerShutdown()
	return core, nil
}

// startJanitor schedules the two maintenance loops: state pruning and the
// audit flush/rotation check.
func (c *Core) startJanitor(windowLimiter *ratelimit.WindowLimiter) error {
	j := async.NewJanitor(c.Log.WithField("component", "janitor"))

	err := j.Every(c.Config.Janitor.PruneInterval, "state-prune", func() error {
		tokens := c.Identity.PruneExpiredTokens()
		attempts := c.Identity.PruneLoginAttempts(c.Config.Janitor.AttemptMaxAge)
		patterns := c.Guard.PrunePatterns(c.Config.Janitor.PatternMaxAge)
		purged := c.Audit.PurgeOldLogs()
		if c.redis == nil {
			windowLimiter.Prune()
		}
		if tokens+attempts+patterns+purged > 0 {
			c.Log.WithFields(map[string]interface{}{
				"expiredTokens":  tokens,
				"staleAttempts":  attempts,
				"stalePatterns":  patterns,
				"purgedAuditLog": purged,
			}).Debug("state prune completed")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := j.Every(c.Audit.FlushInterval(), "audit-flush", func() error {
		c.Audit.Flush()
		return nil
	}); err != nil {
		return err
	}

	j.Start()
	c.janitor = j
	return nil
}

func (c *Core) registerShutdown() {
	c.shutdown.Register(func(ctx context.Context) error {
		c.janitor.Stop()
		return nil
	})
	c.shutdown.Register(func(ctx context.Context) error {
		return c.Audit.Close()
	})
	if c.redis != nil {
		c.shutdown.Register(func(ctx context.Context) error {
			return c.redis.Close()
		})
	}
}

// MetricsRegistry exposes the Prometheus registry for scraping; nil when
// metrics are disabled.
func (c *Core) MetricsRegistry() *prometheus.Registry {
	return c.registry
}

// Authorize evaluates a permission check and records the outcome as a data
// access audit event.
func (c *Core) Authorize(authCtx *authz.Context, resource, action string, data map[string]interface{}) authz.Evaluation {
	ev := c.Guard.EvaluatePermissions(authCtx, resource, action, data)

	eventType := events.TypeAccessDenied
	if ev.Allowed {
		eventType = events.TypeAccessGranted
	}
	c.Bus.Publish(events.Event{
		Type:      eventType,
		UserID:    authCtx.UserID,
		Username:  authCtx.Username,
		Resource:  resource,
		Action:    action,
		Success:   ev.Allowed,
		IPAddress: authCtx.IPAddress,
		UserAgent: authCtx.UserAgent,
		Details:   map[string]interface{}{"reason": ev.Reason},
	})
	return ev
}

// AuthorizeContext is Authorize for callers that carry the authenticated
// identity in a request context via pkg/contextkeys. Requests with no
// attached identity are denied.
func (c *Core) AuthorizeContext(ctx context.Context, resource, action string, data map[string]interface{}) authz.Evaluation {
	authCtx := contextkeys.AuthContext(ctx)
	if authCtx == nil {
		return authz.Evaluation{Allowed: false, Reason: "No authentication context"}
	}
	return c.Authorize(authCtx, resource, action, data)
}

// Close stops the janitor and flushes and closes the audit pipeline.
func (c *Core) Close(ctx context.Context) error {
	return c.shutdown.Shutdown(ctx)
}
