package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/repository"
	"github.com/google/uuid"
)

var mapNames = map[domain.Game][]string{
	domain.GameCS2:      {"Mirage", "Inferno", "Nuke", "Ancient", "Anubis", "Dust II", "Train"},
	domain.GameValorant: {"Ascent", "Bind", "Haven", "Lotus", "Split", "Sunset", "Icebox"},
}

// Scenario is a seeded lobby with a pending match and an active map pool.
type Scenario struct {
	LobbyID uuid.UUID
	MatchID uuid.UUID
	Owner   uuid.UUID
	Players []uuid.UUID
	Maps    map[uuid.UUID]string
}

func seedScenario(ctx context.Context, repos *repository.Repositories, game domain.Game, players, bestOf int) (*Scenario, error) {
	names, ok := mapNames[game]
	if !ok {
		return nil, fmt.Errorf("unknown game %q", game)
	}

	s := &Scenario{Owner: uuid.New(), Maps: make(map[uuid.UUID]string, len(names))}
	now := time.Now().UTC()

	members := []domain.LobbyMembership{{
		ID:       uuid.New(),
		UserID:   s.Owner,
		Role:     domain.LobbyRoleOwner,
		Team:     domain.TeamUnassigned,
		JoinedAt: now,
	}}
	for i := 1; i < players; i++ {
		id := uuid.New()
		s.Players = append(s.Players, id)
		members = append(members, domain.LobbyMembership{
			ID:       uuid.New(),
			UserID:   id,
			Role:     domain.LobbyRoleMember,
			Team:     domain.TeamUnassigned,
			JoinedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
	}

	lobby := &domain.Lobby{
		ID:         uuid.New(),
		Game:       game,
		Name:       fmt.Sprintf("Simulated %s scrim", strings.ToUpper(string(game))),
		Status:     domain.LobbyStatusOpen,
		CreatedBy:  s.Owner,
		MaxPlayers: max(10, players),
		Settings:   []byte("{}"),
		Members:    members,
	}
	if err := repos.Lobby.Create(ctx, lobby); err != nil {
		return nil, fmt.Errorf("create lobby: %w", err)
	}
	s.LobbyID = lobby.ID

	match := &domain.Match{
		ID:      uuid.New(),
		LobbyID: lobby.ID,
		BestOf:  bestOf,
		Status:  domain.MatchStatusPending,
	}
	if err := repos.Match.Create(ctx, match); err != nil {
		return nil, fmt.Errorf("create match: %w", err)
	}
	s.MatchID = match.ID

	pool := &domain.MapPool{
		ID:          uuid.New(),
		Game:        game,
		Label:       fmt.Sprintf("Simulator pool %s", now.Format(time.RFC3339)),
		EffectiveAt: &now,
	}
	for i, name := range names {
		gameMap := &domain.GameMap{
			ID:       uuid.New(),
			Game:     game,
			Code:     fmt.Sprintf("sim_%s_%d", strings.ToLower(strings.ReplaceAll(name, " ", "")), now.UnixNano()),
			Name:     name,
			IsActive: true,
		}
		if err := repos.MapPool.CreateMap(ctx, gameMap); err != nil {
			return nil, fmt.Errorf("create map %s: %w", name, err)
		}
		s.Maps[gameMap.ID] = name
		pool.Maps = append(pool.Maps, domain.MapPoolMap{
			ID:         uuid.New(),
			MapPoolID:  pool.ID,
			GameMapID:  gameMap.ID,
			OrderIndex: i,
		})
	}
	if err := repos.MapPool.CreatePool(ctx, pool); err != nil {
		return nil, fmt.Errorf("create map pool: %w", err)
	}

	return s, nil
}
