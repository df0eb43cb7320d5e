package service

import (
	"github.com/dom/scrim-veto/internal/metrics"
	"github.com/dom/scrim-veto/internal/repository"
	"github.com/dom/scrim-veto/internal/store"
	"go.uber.org/zap"
)

type Services struct {
	Sequence    *SequenceGenerator
	Idempotency *IdempotencyGuard
	Lobby       *LobbyCoordinator
	Veto        *VetoCoordinator
}

func NewServices(
	repos *repository.Repositories,
	st store.Store,
	groups Groups,
	publisher Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts Options,
) *Services {
	seq := NewSequenceGenerator(st)
	guard := NewIdempotencyGuard(st)
	return &Services{
		Sequence:    seq,
		Idempotency: guard,
		Lobby:       NewLobbyCoordinator(repos.Lobby, repos.Membership, seq, guard, st, groups, publisher, m, logger, opts),
		Veto:        NewVetoCoordinator(repos.Match, repos.Lobby, repos.MapPool, seq, guard, st, groups, publisher, m, logger, opts),
	}
}
