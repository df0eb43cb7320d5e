package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dom/scrim-veto/internal/store"
)

const DefaultIdempotencyTTL = 2 * time.Minute

// IdempotencyGuard drops retried commands by remembering each
// (scope, clientRequestID) pair in the shared store for a TTL.
type IdempotencyGuard struct {
	store store.Store
}

func NewIdempotencyGuard(s store.Store) *IdempotencyGuard {
	return &IdempotencyGuard{store: s}
}

// TryBegin reports whether this is the first sighting of the pair within ttl.
// An empty clientRequestID is never deduplicated.
func (g *IdempotencyGuard) TryBegin(ctx context.Context, scope, clientRequestID string, ttl time.Duration) (bool, error) {
	if clientRequestID == "" {
		return true, nil
	}
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	ok, err := g.store.SetNX(ctx, store.IdempotencyKey(scope, clientRequestID), ttl)
	if err != nil {
		return false, fmt.Errorf("idempotency %s: %w", scope, err)
	}
	return ok, nil
}

// Release forgets the pair so a retry after an infrastructure failure is
// processed instead of dropped.
func (g *IdempotencyGuard) Release(ctx context.Context, scope, clientRequestID string) error {
	if clientRequestID == "" {
		return nil
	}
	if err := g.store.Delete(ctx, store.IdempotencyKey(scope, clientRequestID)); err != nil {
		return fmt.Errorf("release idempotency %s: %w", scope, err)
	}
	return nil
}
