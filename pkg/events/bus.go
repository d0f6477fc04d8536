package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies a domain event.
type Type string

const (
	TypeUserCreated     Type = "user.created"
	TypeUserUpdated     Type = "user.updated"
	TypeUserDeactivated Type = "user.deactivated"
	TypeUserLocked      Type = "user.locked"
	TypeUserUnlocked    Type = "user.unlocked"
	TypeLoginSucceeded  Type = "auth.login"
	TypeLoginFailed     Type = "auth.login_failed"
	TypeLogout          Type = "auth.logout"
	TypeTokenRefreshed  Type = "auth.token_refreshed"
	TypeTokenRevoked    Type = "auth.token_revoked"
	TypePasswordChanged Type = "auth.password_changed"
	TypeAPIKeyCreated   Type = "apikey.created"
	TypeAPIKeyUsed      Type = "apikey.used"
	TypeAPIKeyRevoked   Type = "apikey.revoked"
	TypeRoleCreated     Type = "role.created"
	TypeRoleUpdated     Type = "role.updated"
	TypeRoleDeleted     Type = "role.deleted"
	TypeAccessDenied    Type = "authz.access_denied"
	TypeAccessGranted   Type = "authz.access_granted"
)

// Event is an immutable domain event published on the Bus.
type Event struct {
	ID        string
	Type      Type
	Timestamp time.Time
	UserID    string
	Username  string
	Resource  string
	Action    string
	Success   bool
	IPAddress string
	UserAgent string
	Details   map[string]interface{}
}

// Handler receives published events. Handlers are invoked synchronously in
// subscription order; a slow handler delays the publisher.
type Handler func(Event)

// Bus is a synchronous in-process event dispatcher. It replaces ad-hoc
// observer callbacks with a single registration point so that the audit
// pipeline and any other listener see the same event stream.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish assigns the event an ID and timestamp if unset and dispatches it to
// every subscriber. A panicking handler does not prevent delivery to the rest.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() { _ = recover() }()
			h(ev)
		}()
	}
}
