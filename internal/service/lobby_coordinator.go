package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/metrics"
	"github.com/dom/scrim-veto/internal/repository"
	"github.com/dom/scrim-veto/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrTooManyConflicts = errors.New("gave up after repeated version conflicts")

// LobbyCoordinator runs the realtime lobby commands. It holds no lobby state of
// its own: membership lives in the repository, connection groups in the local
// registry and presence, one expiring entry per open connection, in the shared
// store.
type LobbyCoordinator struct {
	lobbies   repository.LobbyRepository
	members   repository.MembershipRepository
	seq       *SequenceGenerator
	guard     *IdempotencyGuard
	presence  store.Store
	groups    Groups
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	opts      Options
}

func NewLobbyCoordinator(
	lobbies repository.LobbyRepository,
	members repository.MembershipRepository,
	seq *SequenceGenerator,
	guard *IdempotencyGuard,
	presence store.Store,
	groups Groups,
	publisher Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts Options,
) *LobbyCoordinator {
	return &LobbyCoordinator{
		lobbies:   lobbies,
		members:   members,
		seq:       seq,
		guard:     guard,
		presence:  presence,
		groups:    groups,
		publisher: publisher,
		metrics:   m,
		logger:    logger.Named("lobby"),
		opts:      opts.withDefaults(),
	}
}

// lobbyPlan is what a validated command wants to write and announce.
type lobbyPlan struct {
	change  domain.LobbyChange
	event   domain.EventType
	payload any
}

// planFunc validates a command against the lobby as read. A nil plan without
// a rejection means there is nothing to do.
type planFunc func(ctx context.Context, lobby *domain.Lobby, members []domain.LobbyMembership) (*lobbyPlan, *rejection, error)

// mutate reads the lobby version and members, validates through plan,
// allocates a sequence number and commits under the version check, retrying
// on conflict. The returned envelope is ready to publish; it is nil when the
// plan had nothing to do.
func (c *LobbyCoordinator) mutate(ctx context.Context, lobbyID uuid.UUID, plan planFunc) (*domain.Envelope, *rejection, error) {
	for attempt := 1; ; attempt++ {
		lobby, err := c.lobbies.GetByID(ctx, lobbyID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, reject(domain.CodeNotFound, "Lobby not found"), nil
			}
			return nil, nil, fmt.Errorf("load lobby: %w", err)
		}
		members, err := c.members.FindMembers(ctx, lobbyID)
		if err != nil {
			return nil, nil, fmt.Errorf("load members: %w", err)
		}

		p, rej, err := plan(ctx, lobby, members)
		if err != nil || rej != nil || p == nil {
			return nil, rej, err
		}

		seq, err := c.seq.Next(ctx, ScopeLobby, lobbyID)
		if err != nil {
			return nil, nil, err
		}

		err = c.lobbies.Commit(ctx, lobbyID, lobby.Version, p.change)
		switch {
		case err == nil:
			env := domain.NewEnvelope(p.event, seq, p.payload)
			return &env, nil, nil
		case errors.Is(err, repository.ErrVersionConflict):
			c.metrics.VersionConflict("lobby")
			if attempt >= c.opts.MaxAttempts {
				return nil, nil, fmt.Errorf("commit lobby %s: %w", lobbyID, ErrTooManyConflicts)
			}
			c.logger.Debug("Lobby version conflict, retrying",
				zap.String("lobby_id", lobbyID.String()),
				zap.Int("attempt", attempt))
		case errors.Is(err, repository.ErrNotFound):
			return nil, reject(domain.CodeNotFound, "Lobby not found"), nil
		default:
			return nil, nil, fmt.Errorf("commit lobby: %w", err)
		}
	}
}

func (c *LobbyCoordinator) publish(ctx context.Context, lobbyID uuid.UUID, env *domain.Envelope) error {
	if env == nil {
		return nil
	}
	if err := c.publisher.Publish(ctx, domain.LobbyTopic(lobbyID), *env); err != nil {
		return fmt.Errorf("publish %s: %w", env.Event, err)
	}
	c.metrics.EventPublished(string(env.Event))
	return nil
}

// rejectToGroup broadcasts a validation failure to everyone in the lobby.
func (c *LobbyCoordinator) rejectToGroup(ctx context.Context, lobbyID uuid.UUID, rej *rejection, correlationID string) error {
	c.metrics.ErrorSent(string(rej.code))
	env := domain.NewErrorEnvelope(rej.code, rej.message, correlationID)
	if err := c.publisher.Publish(ctx, domain.LobbyTopic(lobbyID), env); err != nil {
		return fmt.Errorf("publish error event: %w", err)
	}
	return nil
}

func (c *LobbyCoordinator) rejectToCaller(caller Caller, rej *rejection, correlationID string) {
	c.metrics.ErrorSent(string(rej.code))
	c.groups.SendTo(caller.ConnID, domain.NewErrorEnvelope(rej.code, rej.message, correlationID))
}

func (c *LobbyCoordinator) presenceKey(lobbyID, userID uuid.UUID) string {
	return store.LobbyPresenceKey(lobbyID.String(), userID.String())
}

// JoinLobby subscribes the connection to the lobby, makes sure the user holds a
// seat and announces UserJoined to the group. Joins are not deduplicated.
//
// The connection is counted as present before the seat is committed, so a
// concurrent disconnect of another of the user's connections sees it.
func (c *LobbyCoordinator) JoinLobby(ctx context.Context, caller Caller, lobbyID uuid.UUID) error {
	topic := domain.LobbyTopic(lobbyID)
	key := c.presenceKey(lobbyID, caller.UserID)
	subscribed := c.groups.Subscribe(caller.ConnID, topic)
	if _, err := c.presence.PresenceAdd(ctx, key, caller.ConnID.String(), c.opts.PresenceTTL); err != nil {
		if subscribed {
			c.groups.Unsubscribe(caller.ConnID, topic)
		}
		return fmt.Errorf("record presence: %w", err)
	}

	env, rej, err := c.mutate(ctx, lobbyID, func(_ context.Context, _ *domain.Lobby, members []domain.LobbyMembership) (*lobbyPlan, *rejection, error) {
		p := &lobbyPlan{
			event:   domain.EventUserJoined,
			payload: domain.UserJoinedPayload{LobbyID: lobbyID, UserID: caller.UserID},
		}
		if _, ok := domain.MemberIndex(members)[caller.UserID]; !ok {
			p.change.Upsert = []domain.LobbyMembership{{
				UserID:   caller.UserID,
				Role:     domain.LobbyRoleMember,
				Team:     domain.TeamUnassigned,
				JoinedAt: time.Now().UTC(),
			}}
		}
		return p, nil, nil
	})
	if err != nil || rej != nil {
		if subscribed {
			c.groups.Unsubscribe(caller.ConnID, topic)
			if _, relErr := c.presence.PresenceRemove(ctx, key, caller.ConnID.String()); relErr != nil {
				c.logger.Warn("Failed to roll back presence", zap.String("lobby_id", lobbyID.String()), zap.Error(relErr))
			}
		}
	}
	if err != nil {
		return err
	}
	if rej != nil {
		c.rejectToCaller(caller, rej, "")
		return nil
	}
	return c.publish(ctx, lobbyID, env)
}

// LeaveLobby is an explicit leave: the seat is released even when the user
// still has other connections open. Those connections stop counting as
// present, so closing them later announces nothing.
func (c *LobbyCoordinator) LeaveLobby(ctx context.Context, caller Caller, lobbyID uuid.UUID) error {
	c.groups.Unsubscribe(caller.ConnID, domain.LobbyTopic(lobbyID))
	if err := c.presence.Delete(ctx, c.presenceKey(lobbyID, caller.UserID)); err != nil {
		return fmt.Errorf("clear presence: %w", err)
	}

	env, rej, err := c.mutate(ctx, lobbyID, c.removeSeat(lobbyID, caller.UserID, false))
	if err != nil {
		return err
	}
	if rej != nil {
		c.rejectToCaller(caller, rej, "")
		return nil
	}
	return c.publish(ctx, lobbyID, env)
}

// removeSeat plans the UserLeft of userID. A user without a seat has already
// left and nothing is announced. With whenAbsent set the seat is kept while
// any of the user's connections is still present.
func (c *LobbyCoordinator) removeSeat(lobbyID, userID uuid.UUID, whenAbsent bool) planFunc {
	return func(ctx context.Context, _ *domain.Lobby, members []domain.LobbyMembership) (*lobbyPlan, *rejection, error) {
		if _, ok := domain.MemberIndex(members)[userID]; !ok {
			return nil, nil, nil
		}
		if whenAbsent {
			n, err := c.presence.PresenceCount(ctx, c.presenceKey(lobbyID, userID))
			if err != nil {
				return nil, nil, fmt.Errorf("count presence: %w", err)
			}
			if n > 0 {
				return nil, nil, nil
			}
		}
		return &lobbyPlan{
			change:  domain.LobbyChange{Remove: []uuid.UUID{userID}},
			event:   domain.EventUserLeft,
			payload: domain.UserLeftPayload{LobbyID: lobbyID, UserID: userID},
		}, nil, nil
	}
}

// Disconnect cleans up after a dropped connection. lobbyIDs are the lobbies the
// connection had joined. A user only leaves a lobby, with exactly one
// UserLeft, once their last connection to it is gone.
//
// Presence is checked again inside the versioned commit: a join racing this
// disconnect either lands first and keeps the seat, or conflicts and
// re-creates it.
func (c *LobbyCoordinator) Disconnect(ctx context.Context, caller Caller, lobbyIDs []uuid.UUID) error {
	var errs []error
	for _, lobbyID := range lobbyIDs {
		c.groups.Unsubscribe(caller.ConnID, domain.LobbyTopic(lobbyID))
		left, err := c.presence.PresenceRemove(ctx, c.presenceKey(lobbyID, caller.UserID), caller.ConnID.String())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if left > 0 {
			continue
		}

		env, _, err := c.mutate(ctx, lobbyID, c.removeSeat(lobbyID, caller.UserID, true))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.publish(ctx, lobbyID, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// KeepPresence refreshes the presence of every local lobby connection until
// ctx is done, so an open connection never expires between heartbeats.
func (c *LobbyCoordinator) KeepPresence(ctx context.Context) {
	ticker := time.NewTicker(max(c.opts.PresenceTTL/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshPresence(ctx)
		}
	}
}

func (c *LobbyCoordinator) refreshPresence(ctx context.Context) {
	for topic, callers := range c.groups.Subscriptions(domain.LobbyTopicPrefix) {
		lobbyID, err := uuid.Parse(strings.TrimPrefix(topic, domain.LobbyTopicPrefix))
		if err != nil {
			continue
		}
		for _, caller := range callers {
			err := c.presence.PresenceTouch(ctx, c.presenceKey(lobbyID, caller.UserID), caller.ConnID.String(), c.opts.PresenceTTL)
			if err != nil && ctx.Err() == nil {
				c.logger.Warn("Failed to refresh presence", zap.String("lobby_id", lobbyID.String()), zap.Error(err))
			}
		}
	}
}

// SetCaptains makes the two users captains of team A and team B. Any previous
// captain is demoted to member and keeps their team.
func (c *LobbyCoordinator) SetCaptains(ctx context.Context, caller Caller, lobbyID, teamA, teamB uuid.UUID, clientRequestID string) error {
	scope := fmt.Sprintf("lobby:%s:captains", lobbyID)
	return c.guarded(ctx, lobbyID, scope, clientRequestID, func(_ context.Context, _ *domain.Lobby, members []domain.LobbyMembership) (*lobbyPlan, *rejection, error) {
		idx := domain.MemberIndex(members)
		a, okA := idx[teamA]
		b, okB := idx[teamB]
		if !okA || !okB {
			return nil, reject(domain.CodeInvalidCaptain, "Captain must be in lobby"), nil
		}
		if teamA == teamB {
			return nil, reject(domain.CodeInvalidCaptain, "Captains must be different users"), nil
		}

		var change domain.LobbyChange
		for _, m := range members {
			if m.Role == domain.LobbyRoleCaptain && m.UserID != teamA && m.UserID != teamB {
				m.Role = domain.LobbyRoleMember
				change.Upsert = append(change.Upsert, m)
			}
		}
		a.Role, a.Team = domain.LobbyRoleCaptain, domain.TeamA
		b.Role, b.Team = domain.LobbyRoleCaptain, domain.TeamB
		change.Upsert = append(change.Upsert, a, b)

		return &lobbyPlan{
			change: change,
			event:  domain.EventCaptainsSet,
			payload: domain.CaptainsSetPayload{
				LobbyID:     lobbyID,
				TeamAUserID: teamA,
				TeamBUserID: teamB,
				PickOrder:   domain.PickTurns(len(members)),
			},
		}, nil, nil
	})
}

// UpdateTeams replaces the team layout. Members listed in neither team become
// unassigned. One unknown or doubly listed user rejects the whole update.
func (c *LobbyCoordinator) UpdateTeams(ctx context.Context, caller Caller, lobbyID uuid.UUID, teamA, teamB []uuid.UUID, clientRequestID string) error {
	scope := fmt.Sprintf("lobby:%s:teams", lobbyID)
	return c.guarded(ctx, lobbyID, scope, clientRequestID, func(_ context.Context, _ *domain.Lobby, members []domain.LobbyMembership) (*lobbyPlan, *rejection, error) {
		idx := domain.MemberIndex(members)
		assigned := make(map[uuid.UUID]domain.TeamSide, len(teamA)+len(teamB))
		for _, side := range []struct {
			team domain.TeamSide
			ids  []uuid.UUID
		}{{domain.TeamA, teamA}, {domain.TeamB, teamB}} {
			for _, id := range side.ids {
				if _, ok := idx[id]; !ok {
					return nil, reject(domain.CodeInvalidTeam, "Team member must be in lobby"), nil
				}
				if prev, dup := assigned[id]; dup && prev != side.team {
					return nil, reject(domain.CodeInvalidTeam, "A user cannot be on both teams"), nil
				}
				assigned[id] = side.team
			}
		}

		var change domain.LobbyChange
		for _, m := range members {
			team, ok := assigned[m.UserID]
			if !ok {
				team = domain.TeamUnassigned
			}
			if m.Team != team {
				m.Team = team
				change.Upsert = append(change.Upsert, m)
			}
		}

		return &lobbyPlan{
			change: change,
			event:  domain.EventTeamsUpdated,
			payload: domain.TeamsUpdatedPayload{
				LobbyID: lobbyID,
				TeamA:   nonNilIDs(teamA),
				TeamB:   nonNilIDs(teamB),
			},
		}, nil, nil
	})
}

// guarded wraps a group command in the idempotency guard. Validation failures
// go to the whole group; infrastructure failures release the guard so the
// client's retry is processed.
func (c *LobbyCoordinator) guarded(ctx context.Context, lobbyID uuid.UUID, scope, clientRequestID string, plan planFunc) error {
	first, err := c.guard.TryBegin(ctx, scope, clientRequestID, c.opts.IdempotencyTTL)
	if err != nil {
		return err
	}
	if !first {
		c.metrics.DuplicateIgnored("lobby")
		c.logger.Debug("Ignoring duplicate command", zap.String("scope", scope), zap.String("client_request_id", clientRequestID))
		return nil
	}

	env, rej, err := c.mutate(ctx, lobbyID, plan)
	if err != nil {
		if relErr := c.guard.Release(ctx, scope, clientRequestID); relErr != nil {
			c.logger.Warn("Failed to release idempotency key", zap.String("scope", scope), zap.Error(relErr))
		}
		return err
	}
	if rej != nil {
		return c.rejectToGroup(ctx, lobbyID, rej, clientRequestID)
	}
	return c.publish(ctx, lobbyID, env)
}

// Heartbeat answers the caller with a Pong and keeps the connection's presence alive.
func (c *LobbyCoordinator) Heartbeat(ctx context.Context, caller Caller, lobbyID uuid.UUID) error {
	c.groups.SendTo(caller.ConnID, domain.NewEnvelope(domain.EventPong, 0, domain.PongPayload{
		LobbyID: lobbyID,
		TS:      time.Now().UTC(),
	}))
	if err := c.presence.PresenceTouch(ctx, c.presenceKey(lobbyID, caller.UserID), caller.ConnID.String(), c.opts.PresenceTTL); err != nil {
		return fmt.Errorf("refresh presence: %w", err)
	}
	return nil
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
