// Package registry keeps the set of refresh tokens the service is still
// willing to honor. A refresh token is self-contained and signed, but renewal
// and logout consult the registry, which is what makes rotation and
// revocation possible at all.
package registry

import (
	"context"
	"time"
)

// Registry of active refresh tokens
// Implementations must be safe for concurrent use
type Registry interface {
	// Register token until its expiry. Idempotent
	Register(ctx context.Context, token string, expiresAt time.Time) error

	// Report whether token is currently registered and not expired
	IsValid(ctx context.Context, token string) (bool, error)

	// Remove token. Idempotent: removing an absent token is not an error
	Revoke(ctx context.Context, token string) error

	// Atomically replace oldToken with newToken
	// If oldToken is absent must return apperrors.ErrRefreshTokenNotFound
	// and register nothing, so concurrent rotations of the same token
	// produce exactly one winner
	Rotate(ctx context.Context, oldToken string, newToken string, newExpiresAt time.Time) error

	// Release resources owned by the registry (sweeper goroutine, client connections)
	Close() error
}
