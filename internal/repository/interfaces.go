package repository

import (
	"context"
	"errors"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicate       = errors.New("duplicate record")
)

type LobbyRepository interface {
	Create(ctx context.Context, lobby *domain.Lobby) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Lobby, error)
	// Commit applies change and bumps the lobby version from expectedVersion to
	// expectedVersion+1 in one transaction. It returns ErrVersionConflict when
	// the stored version moved, in which case nothing is written.
	Commit(ctx context.Context, lobbyID uuid.UUID, expectedVersion int64, change domain.LobbyChange) error
}

type MembershipRepository interface {
	FindMembers(ctx context.Context, lobbyID uuid.UUID) ([]domain.LobbyMembership, error)
}

type MatchRepository interface {
	Create(ctx context.Context, match *domain.Match) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Match, error)
	SetSelectedMap(ctx context.Context, matchID, mapID uuid.UUID) error
	SetResult(ctx context.Context, matchID uuid.UUID, result domain.VetoResult) error
}

type MapPoolRepository interface {
	CreateMap(ctx context.Context, gameMap *domain.GameMap) error
	CreatePool(ctx context.Context, pool *domain.MapPool) error
	// GetActiveMapPool returns the map ids of the newest effective pool for
	// game in pool order. ErrNotFound when the game has no pool.
	GetActiveMapPool(ctx context.Context, game domain.Game) ([]uuid.UUID, error)
}

type Repositories struct {
	Lobby      LobbyRepository
	Membership MembershipRepository
	Match      MatchRepository
	MapPool    MapPoolRepository
}
