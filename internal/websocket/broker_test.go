package websocket_test

import (
	"testing"
	"time"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/repository/memory"
	"github.com/dom/scrim-veto/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRedisBroker_TwoInstances(t *testing.T) {
	rdb := testutil.NewTestRedis(t)
	repos := memory.NewRepositories(memory.NewDB())
	east := testutil.NewRedisTestServer(t, rdb, repos)
	west := testutil.NewRedisTestServer(t, rdb, repos)

	t.Run("lobby events reach every instance in order", func(t *testing.T) {
		alice := uuid.New()
		lobby, _ := testutil.NewLobbyBuilder().WithMember(alice).Build(t, repos)

		owner := east.ConnectLobby(t, lobby.CreatedBy)
		owner.JoinLobby(lobby.ID)
		assertSeq(t, owner.Expect(domain.EventUserJoined, wait), 1)

		aliceTab1 := west.ConnectLobby(t, alice)
		aliceTab1.JoinLobby(lobby.ID)
		var joined domain.UserJoinedPayload
		env := owner.ExpectPayload(domain.EventUserJoined, &joined, wait)
		assertSeq(t, env, 2)
		assert.Equal(t, alice, joined.UserID)

		aliceTab2 := east.ConnectLobby(t, alice)
		aliceTab2.JoinLobby(lobby.ID)
		assertSeq(t, owner.Expect(domain.EventUserJoined, wait), 3)

		// Presence is shared, so closing one tab keeps alice seated.
		aliceTab1.Close()
		owner.ExpectNoMessage(300 * time.Millisecond)

		aliceTab2.Close()
		var left domain.UserLeftPayload
		env = owner.ExpectPayload(domain.EventUserLeft, &left, wait)
		assertSeq(t, env, 4)
		assert.Equal(t, alice, left.UserID)
	})

	t.Run("veto started on one instance resyncs on another", func(t *testing.T) {
		fx := testutil.NewVetoFixture(t, repos, 3, 2)

		owner := east.ConnectVeto(t, fx.Lobby.CreatedBy)
		owner.StartVeto(fx.Match.ID, "")
		assertSeq(t, owner.Expect(domain.EventVetoProgress, wait), 2)

		spectator := west.ConnectVeto(t, fx.Members[1].UserID)
		spectator.JoinMatch(fx.Match.ID)
		var state domain.VetoStatePayload
		env := spectator.ExpectPayload(domain.EventVetoState, &state, wait)
		assertSeq(t, env, 2)
		assert.Equal(t, domain.VetoModeBo3, state.Session.Mode)

		owner.VetoAction(fx.Match.ID, domain.VetoActionBan, fx.Maps[0], "ban-1")
		var completed domain.VetoCompletedPayload
		env = spectator.ExpectPayload(domain.EventVetoCompleted, &completed, wait)
		assertSeq(t, env, 4)
		assert.Equal(t, []uuid.UUID{fx.Maps[1]}, completed.Maps)
	})
}
