package registry

import (
	"context"
	"sync"
	"time"

	"github.com/dkosyrev/authgate/internal/apperrors"
)

const defaultSweepInterval = 10 * time.Minute

// MemoryRegistry holds active refresh tokens in a mutex guarded map keyed by
// token string. Values are the token's own expiry: reads drop expired
// entries lazily and a background sweeper reaps the rest, so the map can't
// grow unboundedly across logins that never log out.
type MemoryRegistry struct {
	mu     sync.Mutex
	tokens map[string]time.Time

	now           func() time.Time
	sweepInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
}

type MemoryOption func(*MemoryRegistry)

// WithSweepInterval overrides how often expired entries are reaped
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(r *MemoryRegistry) {
		r.sweepInterval = d
	}
}

// WithNowFunc overrides the clock. Intended for tests
func WithNowFunc(now func() time.Time) MemoryOption {
	return func(r *MemoryRegistry) {
		r.now = now
	}
}

func NewMemory(opts ...MemoryOption) *MemoryRegistry {
	r := &MemoryRegistry{
		tokens:        make(map[string]time.Time),
		now:           time.Now,
		sweepInterval: defaultSweepInterval,
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.startSweeper(r.sweepInterval)

	return r
}

func (r *MemoryRegistry) startSweeper(interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *MemoryRegistry) sweep() {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for token, expiresAt := range r.tokens {
		if !expiresAt.After(now) {
			delete(r.tokens, token)
		}
	}
}

func (r *MemoryRegistry) Register(_ context.Context, token string, expiresAt time.Time) error {
	if !expiresAt.After(r.now()) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tokens[token] = expiresAt
	return nil
}

func (r *MemoryRegistry) IsValid(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.tokens[token]
	if !ok {
		return false, nil
	}

	if !expiresAt.After(r.now()) {
		delete(r.tokens, token)
		return false, nil
	}

	return true, nil
}

func (r *MemoryRegistry) Revoke(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tokens, token)
	return nil
}

// Rotate swaps oldToken for newToken as one critical section
// Two concurrent rotations of the same token can't both succeed
func (r *MemoryRegistry) Rotate(_ context.Context, oldToken string, newToken string, newExpiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.tokens[oldToken]
	if !ok || !expiresAt.After(r.now()) {
		delete(r.tokens, oldToken)
		return apperrors.ErrRefreshTokenNotFound
	}

	delete(r.tokens, oldToken)
	r.tokens[newToken] = newExpiresAt
	return nil
}

func (r *MemoryRegistry) Close() error {
	close(r.done)
	r.wg.Wait()
	return nil
}

// Len reports the number of registered tokens, expired entries included
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.tokens)
}
