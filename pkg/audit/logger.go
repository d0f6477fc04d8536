package audit

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegiskit/aegis/pkg/events"
	"github.com/aegiskit/aegis/pkg/observability"
)

// Config configures the audit logger.
type Config struct {
	// MaxMemoryEvents caps the in-memory ring; the oldest events are evicted
	// when the cap is reached. Default: 10000.
	MaxMemoryEvents int

	// BufferSize is the number of buffered events that triggers a flush to
	// the sink. Default: 100.
	BufferSize int

	// FlushInterval is how often buffered events are flushed regardless of
	// buffer fill. The janitor drives this schedule. Default: 30s.
	FlushInterval time.Duration

	// RetentionWindow is how long in-memory events are retained before
	// PurgeOldLogs removes them. Default: 90 days.
	RetentionWindow time.Duration

	// Dir is the directory for the durable file sink. Empty means
	// memory-only operation (no durable sink).
	Dir string

	// MaxFileSize is the rotation threshold in bytes. Default: 10MB.
	MaxFileSize int64

	// MaxFiles is the number of rotated files to keep. Default: 10.
	MaxFiles int
}

// DefaultConfig returns default audit configuration.
func DefaultConfig() Config {
	return Config{
		MaxMemoryEvents: 10000,
		BufferSize:      100,
		FlushInterval:   30 * time.Second,
		RetentionWindow: 90 * 24 * time.Hour,
		MaxFileSize:     10 * 1024 * 1024,
		MaxFiles:        10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxMemoryEvents <= 0 {
		c.MaxMemoryEvents = d.MaxMemoryEvents
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = d.RetentionWindow
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = d.MaxFileSize
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = d.MaxFiles
	}
	return c
}

// Logger is a structured audit event sink with buffering, rotation, retention
// and an in-memory query surface. All methods are safe for concurrent use.
type Logger struct {
	cfg     Config
	log     *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	ring   []*Event // oldest first
	buffer []*Event
	sink   Sink
}

// Option configures the Logger.
type Option func(*Logger)

// WithObservability sets the fallback logger and metrics set.
func WithObservability(log *observability.Logger, metrics *observability.Metrics) Option {
	return func(l *Logger) {
		if log != nil {
			l.log = log
		}
		if metrics != nil {
			l.metrics = metrics
		}
	}
}

// WithSink overrides the durable sink. Used by tests and by hosts that
// already own a log pipeline.
func WithSink(s Sink) Option {
	return func(l *Logger) { l.sink = s }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Logger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLogger creates an audit logger. When cfg.Dir is set a file sink with
// size-based rotation is opened under it.
func NewLogger(cfg Config, opts ...Option) (*Logger, error) {
	l := &Logger{
		cfg:     cfg.withDefaults(),
		log:     observability.NopLogger(),
		metrics: observability.NopMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.sink == nil && l.cfg.Dir != "" {
		sink, err := NewFileSink(FileSinkConfig{
			Dir:      l.cfg.Dir,
			MaxSize:  l.cfg.MaxFileSize,
			MaxFiles: l.cfg.MaxFiles,
		})
		if err != nil {
			return nil, err
		}
		l.sink = sink
	}

	return l, nil
}

// FlushInterval exposes the configured flush cadence so the janitor can
// schedule the periodic flush/rotation task.
func (l *Logger) FlushInterval() time.Duration {
	return l.cfg.FlushInterval
}

// Log records an audit event. The event is assigned an ID and timestamp,
// severity and category are inferred from the name when not supplied, and it
// is appended to the in-memory ring and the write buffer. The filled event is
// returned.
func (l *Logger) Log(name string, details map[string]interface{}, opts Options) *Event {
	event := &Event{
		ID:        uuid.New().String(),
		Timestamp: l.now().UTC(),
		Name:      name,
		Category:  opts.Category,
		Severity:  opts.Severity,
		UserID:    opts.UserID,
		Username:  opts.Username,
		Resource:  opts.Resource,
		Action:    opts.Action,
		IPAddress: opts.IPAddress,
		UserAgent: opts.UserAgent,
		SessionID: opts.SessionID,
		Details:   details,
	}
	if event.Category == "" {
		event.Category = inferCategory(name)
	}
	if event.Severity == "" {
		event.Severity = inferSeverity(name)
	}
	if opts.Success != nil {
		event.Success = *opts.Success
	} else {
		event.Success = inferSuccess(name)
	}

	l.metrics.AuditEventsTotal.WithLabelValues(string(event.Category), string(event.Severity)).Inc()

	var toFlush []*Event
	l.mu.Lock()
	l.ring = append(l.ring, event)
	if len(l.ring) > l.cfg.MaxMemoryEvents {
		l.ring = l.ring[len(l.ring)-l.cfg.MaxMemoryEvents:]
	}
	if l.sink != nil {
		l.buffer = append(l.buffer, event)
		if len(l.buffer) >= l.cfg.BufferSize {
			toFlush = l.buffer
			l.buffer = nil
		}
	}
	l.mu.Unlock()

	if toFlush != nil {
		l.writeOut(toFlush)
	}

	return event
}

// LogAuthEvent records an authentication event.
func (l *Logger) LogAuthEvent(name, userID, username string, success bool, details map[string]interface{}) *Event {
	return l.Log(name, details, Options{
		UserID:   userID,
		Username: username,
		Category: CategoryAuth,
		Success:  &success,
	})
}

// LogSecurityEvent records a security event with an explicit severity.
func (l *Logger) LogSecurityEvent(name string, severity Severity, details map[string]interface{}) *Event {
	return l.Log(name, details, Options{
		Category: CategorySecurity,
		Severity: severity,
	})
}

// LogDataAccess records a data access event.
func (l *Logger) LogDataAccess(userID, resource, action string, success bool, details map[string]interface{}) *Event {
	return l.Log("data.access", details, Options{
		UserID:   userID,
		Resource: resource,
		Action:   action,
		Category: CategoryData,
		Success:  &success,
	})
}

// LogAPICall records an API key usage event.
func (l *Logger) LogAPICall(userID, resource, action, ip string, success bool, details map[string]interface{}) *Event {
	return l.Log("api.call", details, Options{
		UserID:    userID,
		Resource:  resource,
		Action:    action,
		IPAddress: ip,
		Category:  CategoryAPI,
		Success:   &success,
	})
}

// Flush writes all buffered events to the sink and runs the rotation check.
// It never returns an error for sink failures; those degrade to the fallback
// logger so audit never blocks a security decision.
func (l *Logger) Flush() {
	l.mu.Lock()
	toFlush := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	if len(toFlush) > 0 {
		l.writeOut(toFlush)
	}

	if l.sink != nil {
		if err := l.sink.CheckRotate(); err != nil {
			l.metrics.AuditSinkErrors.Inc()
			l.log.WithError(err).Error("audit log rotation failed")
		}
	}
}

// writeOut writes a batch of events outside the table lock.
func (l *Logger) writeOut(batch []*Event) {
	if l.sink == nil {
		return
	}
	if err := l.sink.Write(batch); err != nil {
		l.metrics.AuditSinkErrors.Inc()
		l.log.WithError(err).WithField("dropped_events", len(batch)).
			Error("audit sink unavailable, events dropped from durable log")
		return
	}
	l.metrics.AuditFlushesTotal.Inc()
}

// Search returns events matching the query, newest first, honoring Limit and
// Offset, plus the total number of matches before pagination.
func (l *Logger) Search(q Query) ([]*Event, int) {
	l.mu.RLock()
	matched := make([]*Event, 0)
	for i := len(l.ring) - 1; i >= 0; i-- {
		if q.Matches(l.ring[i]) {
			matched = append(matched, l.ring[i])
		}
	}
	l.mu.RUnlock()

	total := len(matched)
	if q.Offset > 0 {
		if q.Offset >= total {
			return []*Event{}, total
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, total
}

// GetStatistics aggregates retained events, optionally restricted to a time
// range.
func (l *Logger) GetStatistics(timeRange *TimeRange) *Stats {
	var q Query
	if timeRange != nil {
		q.From = &timeRange.Start
		q.To = &timeRange.End
	}

	l.mu.RLock()
	events := make([]*Event, 0, len(l.ring))
	for _, e := range l.ring {
		if q.Matches(e) {
			events = append(events, e)
		}
	}
	l.mu.RUnlock()

	stats := &Stats{
		TotalEvents: len(events),
		ByCategory:  make(map[Category]int),
		BySeverity:  make(map[Severity]int),
		TimeRange:   timeRange,
	}

	userCounts := make(map[string]int)
	ipCounts := make(map[string]int)
	failures := 0
	for _, e := range events {
		stats.ByCategory[e.Category]++
		stats.BySeverity[e.Severity]++
		if e.UserID != "" {
			userCounts[e.UserID]++
		}
		if e.IPAddress != "" {
			ipCounts[e.IPAddress]++
		}
		if !e.Success {
			failures++
		}
	}
	if len(events) > 0 {
		stats.FailureRate = float64(failures) / float64(len(events))
	}
	stats.TopUsers = topCounts(userCounts, 10)
	stats.TopIPs = topCounts(ipCounts, 10)
	return stats
}

func topCounts(counts map[string]int, n int) []EntryCount {
	entries := make([]EntryCount, 0, len(counts))
	for k, v := range counts {
		entries = append(entries, EntryCount{Key: k, Count: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// PurgeOldLogs removes in-memory events older than the retention window and
// records an audit.purge event carrying the number removed. Returns the
// purge count.
func (l *Logger) PurgeOldLogs() int {
	cutoff := l.now().UTC().Add(-l.cfg.RetentionWindow)

	l.mu.Lock()
	idx := 0
	for idx < len(l.ring) && l.ring[idx].Timestamp.Before(cutoff) {
		idx++
	}
	purged := idx
	if purged > 0 {
		l.ring = append([]*Event(nil), l.ring[idx:]...)
	}
	l.mu.Unlock()

	if purged > 0 {
		l.Log("audit.purge", map[string]interface{}{"purgedCount": purged}, Options{
			Category: CategorySystem,
			Severity: SeverityLow,
		})
	}
	return purged
}

// Subscribe attaches the logger to a domain event bus so every published
// domain event is recorded as an audit event.
func (l *Logger) Subscribe(bus *events.Bus) {
	bus.Subscribe(func(ev events.Event) {
		success := ev.Success
		l.Log(string(ev.Type), ev.Details, Options{
			UserID:    ev.UserID,
			Username:  ev.Username,
			Resource:  ev.Resource,
			Action:    ev.Action,
			IPAddress: ev.IPAddress,
			UserAgent: ev.UserAgent,
			Success:   &success,
		})
	})
}

// Close flushes buffered events and closes the sink.
func (l *Logger) Close() error {
	l.Flush()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}
