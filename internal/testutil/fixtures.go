package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/repository"
	"github.com/google/uuid"
)

// LobbyBuilder creates test lobbies with a builder pattern
type LobbyBuilder struct {
	game    domain.Game
	name    string
	owner   uuid.UUID
	members []domain.LobbyMembership
}

// NewLobbyBuilder creates a lobby owned by a fresh user who is also seated.
func NewLobbyBuilder() *LobbyBuilder {
	owner := uuid.New()
	return &LobbyBuilder{
		game:  domain.GameCS2,
		name:  fmt.Sprintf("scrim_%s", uuid.New().String()[:8]),
		owner: owner,
		members: []domain.LobbyMembership{
			{UserID: owner, Role: domain.LobbyRoleOwner, Team: domain.TeamUnassigned},
		},
	}
}

// WithGame sets the game
func (b *LobbyBuilder) WithGame(game domain.Game) *LobbyBuilder {
	b.game = game
	return b
}

// WithMember seats userID as an unassigned member
func (b *LobbyBuilder) WithMember(userID uuid.UUID) *LobbyBuilder {
	return b.WithSeat(userID, domain.LobbyRoleMember, domain.TeamUnassigned)
}

// WithMembers seats n fresh users and is mostly useful for draft sizes
func (b *LobbyBuilder) WithMembers(n int) *LobbyBuilder {
	for i := 0; i < n; i++ {
		b.WithMember(uuid.New())
	}
	return b
}

// WithSeat seats userID with an explicit role and team
func (b *LobbyBuilder) WithSeat(userID uuid.UUID, role domain.LobbyRole, team domain.TeamSide) *LobbyBuilder {
	b.members = append(b.members, domain.LobbyMembership{UserID: userID, Role: role, Team: team})
	return b
}

// Build stores the lobby and returns it with its members in join order.
func (b *LobbyBuilder) Build(t *testing.T, repos *repository.Repositories) (*domain.Lobby, []domain.LobbyMembership) {
	t.Helper()

	now := time.Now().UTC()
	members := make([]domain.LobbyMembership, len(b.members))
	for i, m := range b.members {
		m.ID = uuid.New()
		m.JoinedAt = now.Add(time.Duration(i) * time.Millisecond)
		members[i] = m
	}

	lobby := &domain.Lobby{
		ID:         uuid.New(),
		Game:       b.game,
		Name:       b.name,
		Status:     domain.LobbyStatusOpen,
		CreatedBy:  b.owner,
		MaxPlayers: 10,
		Settings:   []byte("{}"),
		Members:    members,
	}
	if err := repos.Lobby.Create(context.Background(), lobby); err != nil {
		t.Fatalf("failed to create lobby: %v", err)
	}

	seated, err := repos.Membership.FindMembers(context.Background(), lobby.ID)
	if err != nil {
		t.Fatalf("failed to load members: %v", err)
	}
	return lobby, seated
}

// CreateMatch stores a pending match for lobbyID.
func CreateMatch(t *testing.T, repos *repository.Repositories, lobbyID uuid.UUID, bestOf int) *domain.Match {
	t.Helper()

	match := &domain.Match{
		ID:      uuid.New(),
		LobbyID: lobbyID,
		BestOf:  bestOf,
		Status:  domain.MatchStatusPending,
	}
	if err := repos.Match.Create(context.Background(), match); err != nil {
		t.Fatalf("failed to create match: %v", err)
	}
	return match
}

// CreateMapPool stores n maps for game and an active pool holding them in
// order. It returns the map ids in pool order.
func CreateMapPool(t *testing.T, repos *repository.Repositories, game domain.Game, n int) []uuid.UUID {
	t.Helper()
	ctx := context.Background()

	pool := &domain.MapPool{
		ID:    uuid.New(),
		Game:  game,
		Label: "test pool",
	}
	effective := time.Now().UTC()
	pool.EffectiveAt = &effective

	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		gameMap := &domain.GameMap{
			ID:       uuid.New(),
			Game:     game,
			Code:     fmt.Sprintf("map_%d", i),
			Name:     fmt.Sprintf("Map %d", i),
			IsActive: true,
		}
		if err := repos.MapPool.CreateMap(ctx, gameMap); err != nil {
			t.Fatalf("failed to create map: %v", err)
		}
		ids[i] = gameMap.ID
		pool.Maps = append(pool.Maps, domain.MapPoolMap{
			ID:         uuid.New(),
			MapPoolID:  pool.ID,
			GameMapID:  gameMap.ID,
			OrderIndex: i,
		})
	}

	if err := repos.MapPool.CreatePool(ctx, pool); err != nil {
		t.Fatalf("failed to create map pool: %v", err)
	}
	return ids
}

// VetoFixture is a lobby with a match and an active pool, ready for StartVeto.
type VetoFixture struct {
	Lobby   *domain.Lobby
	Members []domain.LobbyMembership
	Match   *domain.Match
	Maps    []uuid.UUID
}

// NewVetoFixture builds a cs2 lobby with a match of bestOf and a pool of
// poolSize maps.
func NewVetoFixture(t *testing.T, repos *repository.Repositories, bestOf, poolSize int) *VetoFixture {
	t.Helper()

	lobby, members := NewLobbyBuilder().WithMembers(1).Build(t, repos)
	return &VetoFixture{
		Lobby:   lobby,
		Members: members,
		Match:   CreateMatch(t, repos, lobby.ID, bestOf),
		Maps:    CreateMapPool(t, repos, lobby.Game, poolSize),
	}
}
