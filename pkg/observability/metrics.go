package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Authentication metrics
	AuthAttemptsTotal  *prometheus.CounterVec
	AccountLockouts    prometheus.Counter
	TokensIssuedTotal  *prometheus.CounterVec
	TokensRevokedTotal prometheus.Counter
	APIKeyChecksTotal  *prometheus.CounterVec

	// Authorization metrics
	PermissionChecksTotal   *prometheus.CounterVec
	PermissionCheckDuration prometheus.Histogram
	PolicyDenialsTotal      prometheus.Counter
	SuspiciousPatternsTotal prometheus.Counter

	// Cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CachePurgesTotal prometheus.Counter

	// Audit metrics
	AuditEventsTotal  *prometheus.CounterVec
	AuditFlushesTotal prometheus.Counter
	AuditSinkErrors   prometheus.Counter

	// Business metrics
	ActiveUsersTotal  prometheus.Gauge
	LockedUsersTotal  prometheus.Gauge
	ActiveAPIKeys     prometheus.Gauge
	RefreshTokensLive prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_auth_attempts_total",
				Help: "Total number of authentication attempts",
			},
			[]string{"method", "outcome"},
		),
		AccountLockouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_account_lockouts_total",
				Help: "Total number of account lockouts triggered",
			},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_tokens_issued_total",
				Help: "Total number of tokens issued",
			},
			[]string{"grant"},
		),
		TokensRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_tokens_revoked_total",
				Help: "Total number of refresh tokens revoked",
			},
		),
		APIKeyChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_apikey_checks_total",
				Help: "Total number of API key authentications",
			},
			[]string{"outcome"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_permission_checks_total",
				Help: "Total number of permission checks",
			},
			[]string{"decision"},
		),
		PermissionCheckDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aegis_permission_check_duration_seconds",
				Help:    "Permission evaluation duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 10, 6),
			},
		),
		PolicyDenialsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_policy_denials_total",
				Help: "Total number of requests denied by a deny policy",
			},
		),
		SuspiciousPatternsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_suspicious_patterns_total",
				Help: "Total number of access patterns flagged suspicious",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_permission_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_permission_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
		),
		CachePurgesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_permission_cache_purges_total",
				Help: "Total number of full cache purges after policy mutation",
			},
		),
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_audit_events_total",
				Help: "Total number of audit events recorded",
			},
			[]string{"category", "severity"},
		),
		AuditFlushesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_audit_flushes_total",
				Help: "Total number of audit buffer flushes",
			},
		),
		AuditSinkErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_audit_sink_errors_total",
				Help: "Total number of audit sink write failures",
			},
		),
		ActiveUsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "aegis_active_users",
				Help: "Number of active user accounts",
			},
		),
		LockedUsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "aegis_locked_users",
				Help: "Number of currently locked user accounts",
			},
		),
		ActiveAPIKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "aegis_active_api_keys",
				Help: "Number of active API keys",
			},
		),
		RefreshTokensLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "aegis_refresh_tokens_live",
				Help: "Number of live refresh tokens",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.AuthAttemptsTotal,
			m.AccountLockouts,
			m.TokensIssuedTotal,
			m.TokensRevokedTotal,
			m.APIKeyChecksTotal,
			m.PermissionChecksTotal,
			m.PermissionCheckDuration,
			m.PolicyDenialsTotal,
			m.SuspiciousPatternsTotal,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.CachePurgesTotal,
			m.AuditEventsTotal,
			m.AuditFlushesTotal,
			m.AuditSinkErrors,
			m.ActiveUsersTotal,
			m.LockedUsersTotal,
			m.ActiveAPIKeys,
			m.RefreshTokensLive,
		)
	}

	return m
}

// NopMetrics returns an unregistered metrics set. Embedded components use it
// when the host application does not care about Prometheus output.
func NopMetrics() *Metrics {
	return NewMetrics(nil)
}
