// Package identity owns user, role, API-key and refresh-token state, the
// credential verification path with its lockout state machine, and token
// issuance.
//
// All tables live in memory behind one RWMutex. The lockout threshold check
// and the refresh-token rotation both run inside a single critical section,
// so concurrent failed logins lock exactly once and a refresh token can only
// ever be exchanged once.
//
// Every mutation and authentication attempt publishes a typed domain event;
// the audit logger subscribes to the same bus.
package identity
