package audit

import (
	"encoding/json"
	"strings"
	"time"
)

// Severity represents how security-relevant an event is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category represents the subsystem an event belongs to
type Category string

const (
	CategoryAuth     Category = "auth"
	CategoryAuthz    Category = "authz"
	CategoryData     Category = "data"
	CategoryAPI      Category = "api"
	CategorySecurity Category = "security"
	CategorySystem   Category = "system"
)

// Event represents a single audit log entry. Events are append-only; they are
// never mutated after Log returns and are removed only by retention purge.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Name      string                 `json:"name"`
	Category  Category               `json:"category"`
	Severity  Severity               `json:"severity"`
	UserID    string                 `json:"user_id,omitempty"`
	Username  string                 `json:"username,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Success   bool                   `json:"success"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// Options carries the optional attributes of a logged event. Zero values are
// inferred from the event name where possible.
type Options struct {
	UserID    string
	Username  string
	Resource  string
	Action    string
	Category  Category
	Severity  Severity
	IPAddress string
	UserAgent string
	SessionID string

	// Success is inferred from the event name when nil.
	Success *bool
}

// Query represents filters for searching audit logs. Results are returned
// newest-first.
type Query struct {
	From      *time.Time
	To        *time.Time
	UserID    string
	Name      string // substring match on the event name
	Category  Category
	Severity  Severity
	Success   *bool
	IPAddress string

	Limit  int
	Offset int
}

// Matches reports whether the event satisfies every set filter.
func (q Query) Matches(e *Event) bool {
	if q.From != nil && e.Timestamp.Before(*q.From) {
		return false
	}
	if q.To != nil && e.Timestamp.After(*q.To) {
		return false
	}
	if q.UserID != "" && e.UserID != q.UserID {
		return false
	}
	if q.Name != "" && !strings.Contains(e.Name, q.Name) {
		return false
	}
	if q.Category != "" && e.Category != q.Category {
		return false
	}
	if q.Severity != "" && e.Severity != q.Severity {
		return false
	}
	if q.Success != nil && e.Success != *q.Success {
		return false
	}
	if q.IPAddress != "" && e.IPAddress != q.IPAddress {
		return false
	}
	return true
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON     ExportFormat = "json"
	ExportFormatCSV      ExportFormat = "csv"
	ExportFormatMarkdown ExportFormat = "markdown"
)

// EntryCount pairs a key (user id, IP address) with its event count.
type EntryCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// TimeRange represents a time range for statistics
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Stats represents statistics about retained audit events.
type Stats struct {
	TotalEvents int                `json:"total_events"`
	ByCategory  map[Category]int   `json:"by_category"`
	BySeverity  map[Severity]int   `json:"by_severity"`
	TopUsers    []EntryCount       `json:"top_users"`
	TopIPs      []EntryCount       `json:"top_ips"`
	FailureRate float64            `json:"failure_rate"`
	TimeRange   *TimeRange         `json:"time_range,omitempty"`
}

// inferCategory derives the category from the event name prefix.
func inferCategory(name string) Category {
	switch {
	case strings.HasPrefix(name, "auth."):
		return CategoryAuth
	case strings.HasPrefix(name, "authz."), strings.Contains(name, "permission"), strings.Contains(name, "access"):
		return CategoryAuthz
	case strings.HasPrefix(name, "data."):
		return CategoryData
	case strings.HasPrefix(name, "api."), strings.HasPrefix(name, "apikey."):
		return CategoryAPI
	case strings.Contains(name, "breach"), strings.Contains(name, "suspicious"), strings.Contains(name, "locked"):
		return CategorySecurity
	default:
		return CategorySystem
	}
}

// inferSeverity derives the severity from keywords in the event name.
func inferSeverity(name string) Severity {
	switch {
	case strings.Contains(name, "breach"):
		return SeverityCritical
	case strings.Contains(name, "error"), strings.Contains(name, "failed"),
		strings.Contains(name, "denied"), strings.Contains(name, "locked"),
		strings.Contains(name, "suspicious"):
		return SeverityHigh
	case strings.Contains(name, "delete"), strings.Contains(name, "revoke"),
		strings.Contains(name, "deactivate"):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// inferSuccess derives the success flag from keywords in the event name.
func inferSuccess(name string) bool {
	return !strings.Contains(name, "failed") &&
		!strings.Contains(name, "denied") &&
		!strings.Contains(name, "error")
}
