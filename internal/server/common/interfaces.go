package common

import "context"

// Authenticator resolves a bearer token to an active user id.
//
// Implementations return domain.ErrMissingToken for an empty token,
// domain.ErrInvalidToken for a malformed, expired or unknown token, and
// domain.ErrInactiveUser for a valid token whose user is disabled.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (int64, error)
}
