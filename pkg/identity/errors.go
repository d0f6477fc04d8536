package identity

import "errors"

// Sentinel errors for the identity manager. Authentication failures for an
// unknown user and for a wrong password intentionally collapse into the same
// ErrInvalidCredentials so callers cannot enumerate usernames.
var (
	ErrInvalidCredentials  = errors.New("identity: invalid credentials")
	ErrAccountInactive     = errors.New("identity: account inactive")
	ErrAccountLocked       = errors.New("identity: account locked")
	ErrInvalidAPIKey       = errors.New("identity: invalid api key")
	ErrAPIKeyExpired       = errors.New("identity: api key expired")
	ErrUserInactive        = errors.New("identity: user inactive")
	ErrInvalidRefreshToken = errors.New("identity: invalid refresh token")
	ErrUserNotFound        = errors.New("identity: user not found")
	ErrDuplicateUsername   = errors.New("identity: username already taken")
	ErrDuplicateEmail      = errors.New("identity: email already registered")
	ErrRoleNotFound        = errors.New("identity: role not found")
	ErrDuplicateRole       = errors.New("identity: role already exists")
	ErrSystemRole          = errors.New("identity: system role is immutable")
	ErrAPIKeyNotFound      = errors.New("identity: api key not found")
	ErrRateLimited         = errors.New("identity: api key rate limit exceeded")
	ErrInvalidAccessToken  = errors.New("identity: invalid access token")
)
