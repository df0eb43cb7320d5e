// Package memory keeps the persistence collaborators in process. It backs
// single-instance development runs and the service tests.
package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/repository"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DB is the shared in-memory table set behind every repository of this package.
type DB struct {
	mu      sync.RWMutex
	lobbies map[uuid.UUID]domain.Lobby
	members map[uuid.UUID]map[uuid.UUID]domain.LobbyMembership
	matches map[uuid.UUID]domain.Match
	maps    map[uuid.UUID]domain.GameMap
	pools   []domain.MapPool
}

func NewDB() *DB {
	return &DB{
		lobbies: make(map[uuid.UUID]domain.Lobby),
		members: make(map[uuid.UUID]map[uuid.UUID]domain.LobbyMembership),
		matches: make(map[uuid.UUID]domain.Match),
		maps:    make(map[uuid.UUID]domain.GameMap),
	}
}

func NewRepositories(db *DB) *repository.Repositories {
	return &repository.Repositories{
		Lobby:      &lobbyRepository{db: db},
		Membership: &membershipRepository{db: db},
		Match:      &matchRepository{db: db},
		MapPool:    &mapPoolRepository{db: db},
	}
}

type lobbyRepository struct {
	db *DB
}

func (r *lobbyRepository) Create(_ context.Context, lobby *domain.Lobby) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if lobby.ID == uuid.Nil {
		lobby.ID = uuid.New()
	}
	if _, ok := r.db.lobbies[lobby.ID]; ok {
		return repository.ErrDuplicate
	}
	now := time.Now().UTC()
	lobby.CreatedAt, lobby.UpdatedAt = now, now

	seats := make(map[uuid.UUID]domain.LobbyMembership, len(lobby.Members))
	for i := range lobby.Members {
		m := &lobby.Members[i]
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.JoinedAt.IsZero() {
			m.JoinedAt = now
		}
		m.LobbyID = lobby.ID
		seats[m.UserID] = *m
	}

	stored := *lobby
	stored.Members = nil
	r.db.lobbies[lobby.ID] = stored
	r.db.members[lobby.ID] = seats
	return nil
}

func (r *lobbyRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Lobby, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	lobby, ok := r.db.lobbies[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &lobby, nil
}

func (r *lobbyRepository) Commit(_ context.Context, lobbyID uuid.UUID, expectedVersion int64, change domain.LobbyChange) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	lobby, ok := r.db.lobbies[lobbyID]
	if !ok {
		return repository.ErrNotFound
	}
	if lobby.Version != expectedVersion {
		return repository.ErrVersionConflict
	}

	seats := r.db.members[lobbyID]
	if seats == nil {
		seats = make(map[uuid.UUID]domain.LobbyMembership)
		r.db.members[lobbyID] = seats
	}
	for _, userID := range change.Remove {
		delete(seats, userID)
	}
	now := time.Now().UTC()
	for _, m := range change.Upsert {
		if existing, ok := seats[m.UserID]; ok {
			existing.Role = m.Role
			existing.Team = m.Team
			seats[m.UserID] = existing
			continue
		}
		m.ID = uuid.New()
		m.LobbyID = lobbyID
		if m.JoinedAt.IsZero() {
			m.JoinedAt = now
		}
		seats[m.UserID] = m
	}

	lobby.Version++
	lobby.UpdatedAt = now
	r.db.lobbies[lobbyID] = lobby
	return nil
}

// sortedMembers must be called with mu held.
func (db *DB) sortedMembers(lobbyID uuid.UUID) []domain.LobbyMembership {
	members := make([]domain.LobbyMembership, 0, len(db.members[lobbyID]))
	for _, m := range db.members[lobbyID] {
		members = append(members, m)
	}
	slices.SortFunc(members, func(a, b domain.LobbyMembership) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID.String(), b.UserID.String())
	})
	return members
}

type membershipRepository struct {
	db *DB
}

func (r *membershipRepository) FindMembers(_ context.Context, lobbyID uuid.UUID) ([]domain.LobbyMembership, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return r.db.sortedMembers(lobbyID), nil
}

type matchRepository struct {
	db *DB
}

func (r *matchRepository) Create(_ context.Context, match *domain.Match) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if match.ID == uuid.Nil {
		match.ID = uuid.New()
	}
	if _, ok := r.db.lobbies[match.LobbyID]; !ok {
		return repository.ErrNotFound
	}
	if match.Status == "" {
		match.Status = domain.MatchStatusPending
	}
	now := time.Now().UTC()
	match.CreatedAt, match.UpdatedAt = now, now
	r.db.matches[match.ID] = *match
	return nil
}

func (r *matchRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Match, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	match, ok := r.db.matches[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &match, nil
}

func (r *matchRepository) SetSelectedMap(_ context.Context, matchID, mapID uuid.UUID) error {
	return r.update(matchID, func(m *domain.Match) error {
		m.SelectedMapID = &mapID
		m.Status = domain.MatchStatusReady
		return nil
	})
}

func (r *matchRepository) SetResult(_ context.Context, matchID uuid.UUID, result domain.VetoResult) error {
	return r.update(matchID, func(m *domain.Match) error {
		raw, err := json.Marshal(result)
		if err != nil {
			return err
		}
		m.Result = datatypes.JSON(raw)
		return nil
	})
}

func (r *matchRepository) update(matchID uuid.UUID, fn func(m *domain.Match) error) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	match, ok := r.db.matches[matchID]
	if !ok {
		return repository.ErrNotFound
	}
	if err := fn(&match); err != nil {
		return err
	}
	match.UpdatedAt = time.Now().UTC()
	r.db.matches[matchID] = match
	return nil
}

type mapPoolRepository struct {
	db *DB
}

func (r *mapPoolRepository) CreateMap(_ context.Context, gameMap *domain.GameMap) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if gameMap.ID == uuid.Nil {
		gameMap.ID = uuid.New()
	}
	r.db.maps[gameMap.ID] = *gameMap
	return nil
}

func (r *mapPoolRepository) CreatePool(_ context.Context, pool *domain.MapPool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if pool.ID == uuid.Nil {
		pool.ID = uuid.New()
	}
	for i := range pool.Maps {
		if pool.Maps[i].ID == uuid.Nil {
			pool.Maps[i].ID = uuid.New()
		}
		pool.Maps[i].MapPoolID = pool.ID
	}
	stored := *pool
	stored.Maps = slices.Clone(pool.Maps)
	r.db.pools = append(r.db.pools, stored)
	return nil
}

func (r *mapPoolRepository) GetActiveMapPool(_ context.Context, game domain.Game) ([]uuid.UUID, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var active *domain.MapPool
	for i := range r.db.pools {
		p := &r.db.pools[i]
		if p.Game != game {
			continue
		}
		if active == nil || newerPool(p, active) {
			active = p
		}
	}
	if active == nil || len(active.Maps) == 0 {
		return nil, repository.ErrNotFound
	}

	placements := slices.Clone(active.Maps)
	slices.SortStableFunc(placements, func(a, b domain.MapPoolMap) int {
		return cmp.Compare(a.OrderIndex, b.OrderIndex)
	})
	ids := make([]uuid.UUID, len(placements))
	for i, m := range placements {
		ids[i] = m.GameMapID
	}
	return ids, nil
}

// newerPool orders pools by EffectiveAt with unset dates last.
func newerPool(a, b *domain.MapPool) bool {
	switch {
	case a.EffectiveAt == nil:
		return false
	case b.EffectiveAt == nil:
		return true
	default:
		return a.EffectiveAt.After(*b.EffectiveAt)
	}
}
