package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/service"
	"github.com/dom/scrim-veto/internal/store"
	"github.com/dom/scrim-veto/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLobbyCoordinator_JoinLobby(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	lobby, _ := testutil.NewLobbyBuilder().Build(t, h.repos)
	topic := domain.LobbyTopic(lobby.ID)

	newcomer := caller(uuid.New())
	require.NoError(t, h.services.Lobby.JoinLobby(ctx, newcomer, lobby.ID))

	assert.True(t, h.rec.subscribed(newcomer.ConnID, topic))

	events := h.rec.events(topic)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventUserJoined, events[0].Event)
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, domain.UserJoinedPayload{LobbyID: lobby.ID, UserID: newcomer.UserID}, events[0].Payload)

	members, err := h.repos.Membership.FindMembers(ctx, lobby.ID)
	require.NoError(t, err)
	seat, ok := domain.MemberIndex(members)[newcomer.UserID]
	require.True(t, ok, "joining takes a seat")
	assert.Equal(t, domain.LobbyRoleMember, seat.Role)
	assert.Equal(t, domain.TeamUnassigned, seat.Team)

	// A second connection of the same user joins without a second seat.
	second := service.Caller{UserID: newcomer.UserID, ConnID: uuid.New()}
	require.NoError(t, h.services.Lobby.JoinLobby(ctx, second, lobby.ID))
	members, err = h.repos.Membership.FindMembers(ctx, lobby.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
	assert.Equal(t, int64(2), h.rec.events(topic)[1].Seq)
}

func TestLobbyCoordinator_JoinUnknownLobby(t *testing.T) {
	h := newHarness(t, service.Options{})
	c := caller(uuid.New())
	lobbyID := uuid.New()

	require.NoError(t, h.services.Lobby.JoinLobby(context.Background(), c, lobbyID))

	assert.Empty(t, h.rec.events(domain.LobbyTopic(lobbyID)))
	assert.False(t, h.rec.subscribed(c.ConnID, domain.LobbyTopic(lobbyID)))

	direct := h.rec.sentTo(c.ConnID)
	require.Len(t, direct, 1)
	assert.Equal(t, domain.CodeNotFound, errorPayload(t, direct[0]).Code)
	assert.Zero(t, direct[0].Seq)
}

func TestLobbyCoordinator_SetCaptains(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	lobby, _ := testutil.NewLobbyBuilder().WithMember(alice).WithMember(bob).WithMembers(7).Build(t, h.repos)
	topic := domain.LobbyTopic(lobby.ID)
	owner := caller(lobby.CreatedBy)

	require.NoError(t, h.services.Lobby.SetCaptains(ctx, owner, lobby.ID, alice, bob, "req-1"))

	events := h.rec.eventsOf(topic, domain.EventCaptainsSet)
	require.Len(t, events, 1)
	payload := events[0].Payload.(domain.CaptainsSetPayload)
	assert.Equal(t, alice, payload.TeamAUserID)
	assert.Equal(t, bob, payload.TeamBUserID)
	assert.Equal(t, domain.PickTurns(10), payload.PickOrder)

	members, err := h.repos.Membership.FindMembers(ctx, lobby.ID)
	require.NoError(t, err)
	idx := domain.MemberIndex(members)
	assert.Equal(t, domain.LobbyRoleCaptain, idx[alice].Role)
	assert.Equal(t, domain.TeamA, idx[alice].Team)
	assert.Equal(t, domain.LobbyRoleCaptain, idx[bob].Role)
	assert.Equal(t, domain.TeamB, idx[bob].Team)
}

func TestLobbyCoordinator_SetCaptainsReplacesPrevious(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	lobby, _ := testutil.NewLobbyBuilder().WithMember(alice).WithMember(bob).WithMember(carol).Build(t, h.repos)
	owner := caller(lobby.CreatedBy)

	require.NoError(t, h.services.Lobby.SetCaptains(ctx, owner, lobby.ID, alice, bob, "req-1"))
	require.NoError(t, h.services.Lobby.SetCaptains(ctx, owner, lobby.ID, carol, bob, "req-2"))

	members, err := h.repos.Membership.FindMembers(ctx, lobby.ID)
	require.NoError(t, err)
	idx := domain.MemberIndex(members)
	assert.Equal(t, domain.LobbyRoleMember, idx[alice].Role, "old captain is demoted")
	assert.Equal(t, domain.LobbyRoleCaptain, idx[carol].Role)
	assert.Equal(t, domain.TeamA, idx[carol].Team)
	assert.Equal(t, domain.LobbyRoleCaptain, idx[bob].Role)
}

func TestLobbyCoordinator_SetCaptainsRejected(t *testing.T) {
	alice := uuid.New()

	tests := []struct {
		name         string
		teamA, teamB func(lobby *domain.Lobby) uuid.UUID
		wantCode     domain.ErrorCode
	}{
		{
			name:     "captain not in lobby",
			teamA:    func(*domain.Lobby) uuid.UUID { return alice },
			teamB:    func(*domain.Lobby) uuid.UUID { return uuid.New() },
			wantCode: domain.CodeInvalidCaptain,
		},
		{
			name:     "same user twice",
			teamA:    func(*domain.Lobby) uuid.UUID { return alice },
			teamB:    func(*domain.Lobby) uuid.UUID { return alice },
			wantCode: domain.CodeInvalidCaptain,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, service.Options{})
			lobby, _ := testutil.NewLobbyBuilder().WithMember(alice).Build(t, h.repos)
			topic := domain.LobbyTopic(lobby.ID)

			err := h.services.Lobby.SetCaptains(context.Background(), caller(lobby.CreatedBy), lobby.ID, tt.teamA(lobby), tt.teamB(lobby), "req-x")
			require.NoError(t, err)

			events := h.rec.events(topic)
			require.Len(t, events, 1, "the rejection goes to the whole group")
			payload := errorPayload(t, events[0])
			assert.Equal(t, tt.wantCode, payload.Code)
			assert.Equal(t, "req-x", payload.CorrelationID)
			assert.Zero(t, events[0].Seq)

			got, err := h.repos.Lobby.GetByID(context.Background(), lobby.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(0), got.Version, "nothing was committed")
		})
	}
}

func TestLobbyCoordinator_SetCaptainsUnknownLobbyGoesToGroup(t *testing.T) {
	h := newHarness(t, service.Options{})
	lobbyID := uuid.New()

	require.NoError(t, h.services.Lobby.SetCaptains(context.Background(), caller(uuid.New()), lobbyID, uuid.New(), uuid.New(), ""))

	events := h.rec.events(domain.LobbyTopic(lobbyID))
	require.Len(t, events, 1)
	assert.Equal(t, domain.CodeNotFound, errorPayload(t, events[0]).Code)
}

func TestLobbyCoordinator_DuplicateCommandIsIgnored(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	lobby, _ := testutil.NewLobbyBuilder().WithMember(alice).WithMember(bob).Build(t, h.repos)
	owner := caller(lobby.CreatedBy)

	require.NoError(t, h.services.Lobby.SetCaptains(ctx, owner, lobby.ID, alice, bob, "req-1"))
	require.NoError(t, h.services.Lobby.SetCaptains(ctx, owner, lobby.ID, alice, bob, "req-1"))

	assert.Len(t, h.rec.eventsOf(domain.LobbyTopic(lobby.ID), domain.EventCaptainsSet), 1)
	assert.Equal(t, 1.0, h.counter(t, "scrim_duplicate_commands_total"))

	// Without a request id every command is processed.
	require.NoError(t, h.services.Lobby.SetCaptains(ctx, owner, lobby.ID, alice, bob, ""))
	require.NoError(t, h.services.Lobby.SetCaptains(ctx, owner, lobby.ID, alice, bob, ""))
	assert.Len(t, h.rec.eventsOf(domain.LobbyTopic(lobby.ID), domain.EventCaptainsSet), 3)
}

func TestLobbyCoordinator_UpdateTeams(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	a1, a2, b1, benched := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	lobby, _ := testutil.NewLobbyBuilder().
		WithMember(a1).WithMember(a2).WithMember(b1).
		WithSeat(benched, domain.LobbyRoleMember, domain.TeamB).
		Build(t, h.repos)
	topic := domain.LobbyTopic(lobby.ID)

	require.NoError(t, h.services.Lobby.UpdateTeams(ctx, caller(lobby.CreatedBy), lobby.ID, []uuid.UUID{a1, a2}, []uuid.UUID{b1}, "req-1"))

	events := h.rec.eventsOf(topic, domain.EventTeamsUpdated)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TeamsUpdatedPayload{
		LobbyID: lobby.ID,
		TeamA:   []uuid.UUID{a1, a2},
		TeamB:   []uuid.UUID{b1},
	}, events[0].Payload)

	members, err := h.repos.Membership.FindMembers(ctx, lobby.ID)
	require.NoError(t, err)
	testutil.AssertTeams(t, members, domain.TeamA, a1, a2)
	testutil.AssertTeams(t, members, domain.TeamB, b1)
	testutil.AssertTeams(t, members, domain.TeamUnassigned, benched, lobby.CreatedBy)
}

func TestLobbyCoordinator_UpdateTeamsRejected(t *testing.T) {
	member := uuid.New()

	tests := []struct {
		name         string
		teamA, teamB []uuid.UUID
	}{
		{name: "unknown user", teamA: []uuid.UUID{member}, teamB: []uuid.UUID{uuid.New()}},
		{name: "user on both teams", teamA: []uuid.UUID{member}, teamB: []uuid.UUID{member}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, service.Options{})
			ctx := context.Background()
			lobby, _ := testutil.NewLobbyBuilder().WithMember(member).Build(t, h.repos)

			require.NoError(t, h.services.Lobby.UpdateTeams(ctx, caller(lobby.CreatedBy), lobby.ID, tt.teamA, tt.teamB, "req-t"))

			events := h.rec.events(domain.LobbyTopic(lobby.ID))
			require.Len(t, events, 1)
			payload := errorPayload(t, events[0])
			assert.Equal(t, domain.CodeInvalidTeam, payload.Code)
			assert.Equal(t, "req-t", payload.CorrelationID)

			members, err := h.repos.Membership.FindMembers(ctx, lobby.ID)
			require.NoError(t, err)
			testutil.AssertTeams(t, members, domain.TeamUnassigned, member)
		})
	}
}

func TestLobbyCoordinator_SequenceIncreasesAcrossCommands(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	lobby, _ := testutil.NewLobbyBuilder().WithMember(alice).WithMember(bob).Build(t, h.repos)
	owner := caller(lobby.CreatedBy)

	require.NoError(t, h.services.Lobby.JoinLobby(ctx, owner, lobby.ID))
	require.NoError(t, h.services.Lobby.SetCaptains(ctx, owner, lobby.ID, alice, bob, "c"))
	require.NoError(t, h.services.Lobby.UpdateTeams(ctx, owner, lobby.ID, []uuid.UUID{alice}, []uuid.UUID{bob}, "t"))
	require.NoError(t, h.services.Lobby.LeaveLobby(ctx, owner, lobby.ID))

	events := h.rec.events(domain.LobbyTopic(lobby.ID))
	require.Len(t, events, 4)
	for i, env := range events {
		assert.Equal(t, int64(i+1), env.Seq, "%s", env.Event)
	}
	assert.Equal(t, domain.EventUserLeft, events[3].Event)
}

func TestLobbyCoordinator_LeaveLobby(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	lobby, _ := testutil.NewLobbyBuilder().Build(t, h.repos)
	user := caller(uuid.New())
	topic := domain.LobbyTopic(lobby.ID)

	require.NoError(t, h.services.Lobby.JoinLobby(ctx, user, lobby.ID))
	require.NoError(t, h.services.Lobby.LeaveLobby(ctx, user, lobby.ID))

	assert.False(t, h.rec.subscribed(user.ConnID, topic))
	left := h.rec.eventsOf(topic, domain.EventUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, domain.UserLeftPayload{LobbyID: lobby.ID, UserID: user.UserID}, left[0].Payload)

	members, err := h.repos.Membership.FindMembers(ctx, lobby.ID)
	require.NoError(t, err)
	assert.NotContains(t, domain.MemberIndex(members), user.UserID)
}

func TestLobbyCoordinator_DisconnectWaitsForLastConnection(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	lobby, _ := testutil.NewLobbyBuilder().Build(t, h.repos)
	topic := domain.LobbyTopic(lobby.ID)

	userID := uuid.New()
	tab1 := service.Caller{UserID: userID, ConnID: uuid.New()}
	tab2 := service.Caller{UserID: userID, ConnID: uuid.New()}
	require.NoError(t, h.services.Lobby.JoinLobby(ctx, tab1, lobby.ID))
	require.NoError(t, h.services.Lobby.JoinLobby(ctx, tab2, lobby.ID))

	require.NoError(t, h.services.Lobby.Disconnect(ctx, tab1, []uuid.UUID{lobby.ID}))
	assert.Empty(t, h.rec.eventsOf(topic, domain.EventUserLeft), "another connection is still open")

	require.NoError(t, h.services.Lobby.Disconnect(ctx, tab2, []uuid.UUID{lobby.ID}))
	left := h.rec.eventsOf(topic, domain.EventUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, userID, left[0].Payload.(domain.UserLeftPayload).UserID)

	members, err := h.repos.Membership.FindMembers(ctx, lobby.ID)
	require.NoError(t, err)
	assert.NotContains(t, domain.MemberIndex(members), userID)
}

func TestLobbyCoordinator_Heartbeat(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	lobby, _ := testutil.NewLobbyBuilder().Build(t, h.repos)
	user := caller(uuid.New())

	require.NoError(t, h.services.Lobby.JoinLobby(ctx, user, lobby.ID))
	require.NoError(t, h.services.Lobby.Heartbeat(ctx, user, lobby.ID))

	direct := h.rec.sentTo(user.ConnID)
	require.Len(t, direct, 1)
	assert.Equal(t, domain.EventPong, direct[0].Event)
	assert.Zero(t, direct[0].Seq)
	assert.Equal(t, lobby.ID, direct[0].Payload.(domain.PongPayload).LobbyID)
	assert.Len(t, h.rec.events(domain.LobbyTopic(lobby.ID)), 1, "pongs are not broadcast")

	n, err := h.store.PresenceCount(ctx, store.LobbyPresenceKey(lobby.ID.String(), user.UserID.String()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLobbyCoordinator_HeartbeatKeepsConnectionPresent(t *testing.T) {
	opts := service.Options{PresenceTTL: 150 * time.Millisecond}
	h := newHarness(t, opts)
	ctx := context.Background()
	lobby, _ := testutil.NewLobbyBuilder().Build(t, h.repos)
	user := caller(uuid.New())
	key := store.LobbyPresenceKey(lobby.ID.String(), user.UserID.String())

	require.NoError(t, h.services.Lobby.JoinLobby(ctx, user, lobby.ID))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, h.services.Lobby.Heartbeat(ctx, user, lobby.ID))
	time.Sleep(100 * time.Millisecond)

	n, err := h.store.PresenceCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "the heartbeat pushed the expiry out")
}

func TestLobbyCoordinator_OpenConnectionsStayPresentWithoutHeartbeat(t *testing.T) {
	opts := service.Options{PresenceTTL: 90 * time.Millisecond}
	h := newHarness(t, opts)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lobby, _ := testutil.NewLobbyBuilder().Build(t, h.repos)
	topic := domain.LobbyTopic(lobby.ID)

	userID := uuid.New()
	tab1 := service.Caller{UserID: userID, ConnID: uuid.New()}
	tab2 := service.Caller{UserID: userID, ConnID: uuid.New()}
	h.rec.connect(tab1, tab2)
	go h.services.Lobby.KeepPresence(ctx)

	require.NoError(t, h.services.Lobby.JoinLobby(ctx, tab1, lobby.ID))
	require.NoError(t, h.services.Lobby.JoinLobby(ctx, tab2, lobby.ID))

	// Several presence TTLs pass without a single Heartbeat.
	time.Sleep(300 * time.Millisecond)

	require.NoError(t, h.services.Lobby.Disconnect(ctx, tab1, []uuid.UUID{lobby.ID}))
	assert.Empty(t, h.rec.eventsOf(topic, domain.EventUserLeft), "tab2 is still open")
	members, err := h.repos.Membership.FindMembers(ctx, lobby.ID)
	require.NoError(t, err)
	assert.Contains(t, domain.MemberIndex(members), userID)

	require.NoError(t, h.services.Lobby.Disconnect(ctx, tab2, []uuid.UUID{lobby.ID}))
	assert.Len(t, h.rec.eventsOf(topic, domain.EventUserLeft), 1)
}

func TestLobbyCoordinator_ExplicitLeaveAnnouncesOnce(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	lobby, _ := testutil.NewLobbyBuilder().Build(t, h.repos)
	topic := domain.LobbyTopic(lobby.ID)

	userID := uuid.New()
	tab1 := service.Caller{UserID: userID, ConnID: uuid.New()}
	tab2 := service.Caller{UserID: userID, ConnID: uuid.New()}
	require.NoError(t, h.services.Lobby.JoinLobby(ctx, tab1, lobby.ID))
	require.NoError(t, h.services.Lobby.JoinLobby(ctx, tab2, lobby.ID))

	require.NoError(t, h.services.Lobby.LeaveLobby(ctx, tab1, lobby.ID))
	require.Len(t, h.rec.eventsOf(topic, domain.EventUserLeft), 1)

	n, err := h.store.PresenceCount(ctx, store.LobbyPresenceKey(lobby.ID.String(), userID.String()))
	require.NoError(t, err)
	assert.Zero(t, n, "leaving clears every connection of the user")

	require.NoError(t, h.services.Lobby.Disconnect(ctx, tab2, []uuid.UUID{lobby.ID}))
	assert.Len(t, h.rec.eventsOf(topic, domain.EventUserLeft), 1, "the user already left")
}

func TestLobbyCoordinator_JoinCommittedBeforeOtherTabDrops(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	lobby, _ := testutil.NewLobbyBuilder().Build(t, h.repos)
	topic := domain.LobbyTopic(lobby.ID)

	userID := uuid.New()
	tab1 := service.Caller{UserID: userID, ConnID: uuid.New()}
	tab2 := service.Caller{UserID: userID, ConnID: uuid.New()}
	require.NoError(t, h.services.Lobby.JoinLobby(ctx, tab1, lobby.ID))

	// tab1 drops between tab2's commit and its UserJoined.
	hooked := &hookedLobbies{LobbyRepository: h.repos.Lobby}
	h.withLobbies(t, hooked, service.Options{})
	hooked.afterCommit = func() {
		require.NoError(t, h.services.Lobby.Disconnect(ctx, tab1, []uuid.UUID{lobby.ID}))
	}
	require.NoError(t, h.services.Lobby.JoinLobby(ctx, tab2, lobby.ID))

	assert.Empty(t, h.rec.eventsOf(topic, domain.EventUserLeft))
	assert.Len(t, h.rec.eventsOf(topic, domain.EventUserJoined), 2)
	members, err := h.repos.Membership.FindMembers(ctx, lobby.ID)
	require.NoError(t, err)
	assert.Contains(t, domain.MemberIndex(members), userID)
}

func TestLobbyCoordinator_JoinRacingLastDisconnectKeepsSeat(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	lobby, _ := testutil.NewLobbyBuilder().Build(t, h.repos)
	topic := domain.LobbyTopic(lobby.ID)

	userID := uuid.New()
	tab1 := service.Caller{UserID: userID, ConnID: uuid.New()}
	tab2 := service.Caller{UserID: userID, ConnID: uuid.New()}
	require.NoError(t, h.services.Lobby.JoinLobby(ctx, tab1, lobby.ID))

	// tab2 joins after tab1's disconnect saw no connections left but before
	// the seat is released.
	hooked := &hookedStore{Store: h.store}
	h.withStore(t, hooked, service.Options{})
	hooked.afterRemove = func() {
		require.NoError(t, h.services.Lobby.JoinLobby(ctx, tab2, lobby.ID))
	}
	require.NoError(t, h.services.Lobby.Disconnect(ctx, tab1, []uuid.UUID{lobby.ID}))

	assert.Empty(t, h.rec.eventsOf(topic, domain.EventUserLeft))
	members, err := h.repos.Membership.FindMembers(ctx, lobby.ID)
	require.NoError(t, err)
	assert.Contains(t, domain.MemberIndex(members), userID)

	require.NoError(t, h.services.Lobby.Disconnect(ctx, tab2, []uuid.UUID{lobby.ID}))
	assert.Len(t, h.rec.eventsOf(topic, domain.EventUserLeft), 1)
}

func TestLobbyCoordinator_JoinUnknownLobbyRollsBackPresence(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	c := caller(uuid.New())
	lobbyID := uuid.New()

	require.NoError(t, h.services.Lobby.JoinLobby(ctx, c, lobbyID))

	n, err := h.store.PresenceCount(ctx, store.LobbyPresenceKey(lobbyID.String(), c.UserID.String()))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLobbyCoordinator_RetriesVersionConflicts(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	lobby, _ := testutil.NewLobbyBuilder().WithMember(alice).WithMember(bob).Build(t, h.repos)

	opts := service.Options{MaxAttempts: 3}
	h.withLobbies(t, &conflictingLobbies{LobbyRepository: h.repos.Lobby, n: 2}, opts)

	require.NoError(t, h.services.Lobby.SetCaptains(ctx, caller(lobby.CreatedBy), lobby.ID, alice, bob, "req-1"))

	events := h.rec.eventsOf(domain.LobbyTopic(lobby.ID), domain.EventCaptainsSet)
	require.Len(t, events, 1)
	assert.Equal(t, int64(3), events[0].Seq, "each attempt draws a new seq")
}

func TestLobbyCoordinator_GivesUpAndReleasesGuard(t *testing.T) {
	h := newHarness(t, service.Options{})
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	lobby, _ := testutil.NewLobbyBuilder().WithMember(alice).WithMember(bob).Build(t, h.repos)
	owner := caller(lobby.CreatedBy)

	opts := service.Options{MaxAttempts: 2}
	h.withLobbies(t, &conflictingLobbies{LobbyRepository: h.repos.Lobby, n: 2}, opts)

	err := h.services.Lobby.SetCaptains(ctx, owner, lobby.ID, alice, bob, "req-1")
	assert.True(t, errors.Is(err, service.ErrTooManyConflicts))
	assert.Empty(t, h.rec.events(domain.LobbyTopic(lobby.ID)), "no event on infrastructure failure")

	// The retry with the same request id goes through.
	require.NoError(t, h.services.Lobby.SetCaptains(ctx, owner, lobby.ID, alice, bob, "req-1"))
	assert.Len(t, h.rec.eventsOf(domain.LobbyTopic(lobby.ID), domain.EventCaptainsSet), 1)
}

func TestLobbyCoordinator_PublishFailureIsReturned(t *testing.T) {
	h := newHarness(t, service.Options{})
	lobby, _ := testutil.NewLobbyBuilder().Build(t, h.repos)
	h.rec.publishErr = errors.New("broker down")

	err := h.services.Lobby.JoinLobby(context.Background(), caller(uuid.New()), lobby.ID)
	assert.Error(t, err)
}
