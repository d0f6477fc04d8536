package authz

import (
	"strings"
	"time"
)

// Operator is a comparison operator used by permission and policy conditions.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpRegex       Operator = "regex"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Condition narrows a Permission to specific resource attribute values. All
// conditions on a permission must hold against the caller-supplied resource
// data for the permission to match.
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// Permission is a (resource, action) capability. Resource and action accept
// the "*" wildcard; a resource ending in "*" matches any request resource
// sharing its prefix.
type Permission struct {
	Resource   string      `json:"resource"`
	Action     string      `json:"action"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// String renders the flattened "resource:action" form carried in tokens.
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// Matches reports whether the permission covers the requested resource and
// action, before condition evaluation.
func (p Permission) Matches(resource, action string) bool {
	return matchResource(p.Resource, resource) && matchAction(p.Action, action)
}

func matchResource(pattern, resource string) bool {
	if pattern == "*" || pattern == resource {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(resource, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

func matchAction(pattern, action string) bool {
	return pattern == "*" || pattern == action
}

// Role is a named bundle of permissions. System roles are seed data and
// immutable; custom roles are mutable through the role registry.
type Role struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions"`
	System      bool         `json:"system"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Effect is the outcome a matching policy rule produces.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// ConditionType selects what a policy condition is evaluated against.
type ConditionType string

const (
	ConditionUser     ConditionType = "user"
	ConditionRole     ConditionType = "role"
	ConditionTime     ConditionType = "time"
	ConditionIP       ConditionType = "ip"
	ConditionResource ConditionType = "resource"
	ConditionCustom   ConditionType = "custom"
)

// PolicyCondition is a typed predicate evaluated against the request context
// or the caller-supplied resource data.
type PolicyCondition struct {
	Type     ConditionType `json:"type"`
	Field    string        `json:"field,omitempty"`
	Operator Operator      `json:"operator"`
	Value    interface{}   `json:"value"`
}

// PolicyRule is a declarative allow/deny rule independent of role
// membership. An active matching deny is final and short-circuits
// evaluation regardless of any allow.
type PolicyRule struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Resource   string            `json:"resource"`
	Action     string            `json:"action"`
	Effect     Effect            `json:"effect"`
	Conditions []PolicyCondition `json:"conditions,omitempty"`
	Priority   int               `json:"priority"`
	Active     bool              `json:"active"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Matches reports whether the rule covers the requested resource and action.
func (r *PolicyRule) Matches(resource, action string) bool {
	return matchResource(r.Resource, resource) && matchAction(r.Action, action)
}

// Context is the per-request identity assembled by the caller. It is the sole
// input to authorization and is never persisted.
type Context struct {
	UserID   string
	Username string
	Roles    []*Role

	// KeyPermissions is the API key's own permission set when the request
	// authenticated with an API key. HasAPIKey distinguishes an empty set
	// from no key at all.
	KeyPermissions []Permission
	HasAPIKey      bool

	IPAddress string
	UserAgent string
	SessionID string
	Timestamp time.Time

	// Attributes carries caller-defined values for "custom" policy
	// conditions.
	Attributes map[string]interface{}
}

// RoleNames returns the names of the roles on the context.
func (c *Context) RoleNames() []string {
	names := make([]string, 0, len(c.Roles))
	for _, r := range c.Roles {
		names = append(names, r.Name)
	}
	return names
}

// Evaluation is the verbose result of a permission check.
type Evaluation struct {
	Allowed            bool     `json:"allowed"`
	Reason             string   `json:"reason"`
	MatchedPermissions []string `json:"matched_permissions,omitempty"`

	// DeniedBy carries the ID of the denying policy, if any.
	DeniedBy string `json:"denied_by,omitempty"`
}

// AccessPattern is a rolling per-(user, resource, action) access record used
// only for anomaly flagging, never for access decisions.
type AccessPattern struct {
	UserID      string        `json:"user_id"`
	Resource    string        `json:"resource"`
	Action      string        `json:"action"`
	Count       int           `json:"count"`
	AvgInterval time.Duration `json:"avg_interval"`
	LastAccess  time.Time     `json:"last_access"`
	Suspicious  bool          `json:"suspicious"`
}
