package testutil

import (
	"testing"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// AssertSequenced verifies an ordered event carries a positive seq.
func AssertSequenced(t *testing.T, env websocket.Envelope) {
	t.Helper()
	assert.True(t, env.Event.Ordered(), "%s should be an ordered event", env.Event)
	assert.Positive(t, env.Seq, "%s should carry a seq", env.Event)
}

// AssertSeqAfter verifies env was sequenced after prev on the same topic.
func AssertSeqAfter(t *testing.T, prev, env websocket.Envelope) {
	t.Helper()
	assert.Equal(t, prev.Topic(), env.Topic(), "events belong to different topics")
	assert.Greater(t, env.Seq, prev.Seq, "%s should follow %s", env.Event, prev.Event)
}

// AssertErrorEnvelope verifies an Error event is unsequenced and carries code.
func AssertErrorEnvelope(t *testing.T, env websocket.Envelope, code domain.ErrorCode) {
	t.Helper()

	assert.Equal(t, domain.EventError, env.Event)
	assert.Zero(t, env.Seq, "error events are not sequenced")

	var payload domain.ErrorPayload
	if assert.NoError(t, env.Decode(&payload)) {
		assert.Equal(t, code, payload.Code)
	}
}

// AssertTeams verifies each listed user sits on team.
func AssertTeams(t *testing.T, members []domain.LobbyMembership, team domain.TeamSide, userIDs ...uuid.UUID) {
	t.Helper()

	idx := domain.MemberIndex(members)
	for _, id := range userIDs {
		m, ok := idx[id]
		if assert.True(t, ok, "user %s is not a member", id) {
			assert.Equal(t, team, m.Team, "user %s", id)
		}
	}
}
