package service

import (
	"context"
	"fmt"

	"github.com/dom/scrim-veto/internal/store"
	"github.com/google/uuid"
)

// SequenceScope namespaces sequence counters per entity kind.
type SequenceScope string

const (
	ScopeLobby SequenceScope = "lobby"
	ScopeMatch SequenceScope = "match"
)

// SequenceGenerator hands out strictly increasing numbers per entity from the
// shared store, so every instance draws from the same counter.
type SequenceGenerator struct {
	store store.Store
}

func NewSequenceGenerator(s store.Store) *SequenceGenerator {
	return &SequenceGenerator{store: s}
}

// Next returns the next sequence number for id. The first call for an entity
// returns 1. Store failures are returned as is; no value is ever made up.
func (g *SequenceGenerator) Next(ctx context.Context, scope SequenceScope, id uuid.UUID) (int64, error) {
	n, err := g.store.Incr(ctx, store.SequenceKey(string(scope), id.String()))
	if err != nil {
		return 0, fmt.Errorf("next %s sequence: %w", scope, err)
	}
	return n, nil
}
