package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/metrics"
	"github.com/dom/scrim-veto/internal/repository"
	"github.com/dom/scrim-veto/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VetoCoordinator runs map vetoes. Session state lives only in the shared
// store and every write is a compare-and-set against the version that was read.
type VetoCoordinator struct {
	matches   repository.MatchRepository
	lobbies   repository.LobbyRepository
	pools     repository.MapPoolRepository
	seq       *SequenceGenerator
	guard     *IdempotencyGuard
	sessions  store.Store
	groups    Groups
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	opts      Options
}

func NewVetoCoordinator(
	matches repository.MatchRepository,
	lobbies repository.LobbyRepository,
	pools repository.MapPoolRepository,
	seq *SequenceGenerator,
	guard *IdempotencyGuard,
	sessions store.Store,
	groups Groups,
	publisher Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts Options,
) *VetoCoordinator {
	return &VetoCoordinator{
		matches:   matches,
		lobbies:   lobbies,
		pools:     pools,
		seq:       seq,
		guard:     guard,
		sessions:  sessions,
		groups:    groups,
		publisher: publisher,
		metrics:   m,
		logger:    logger.Named("veto"),
		opts:      opts.withDefaults(),
	}
}

// Session returns the current session of a match and its store version.
// A match without a session yields repository.ErrNotFound.
func (c *VetoCoordinator) Session(ctx context.Context, matchID uuid.UUID) (*domain.VetoSession, int64, error) {
	raw, version, err := c.sessions.Get(ctx, store.VetoSessionKey(matchID.String()))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, 0, repository.ErrNotFound
		}
		return nil, 0, fmt.Errorf("load veto session: %w", err)
	}
	var session domain.VetoSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, 0, fmt.Errorf("decode veto session: %w", err)
	}
	return &session, version, nil
}

func (c *VetoCoordinator) save(ctx context.Context, session *domain.VetoSession, expected int64) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode veto session: %w", err)
	}
	_, err = c.sessions.CompareAndSet(ctx, store.VetoSessionKey(session.MatchID.String()), expected, raw, c.opts.VetoSessionTTL)
	return err
}

func (c *VetoCoordinator) publish(ctx context.Context, matchID uuid.UUID, envs ...domain.Envelope) error {
	for _, env := range envs {
		if err := c.publisher.Publish(ctx, domain.MatchTopic(matchID), env); err != nil {
			return fmt.Errorf("publish %s: %w", env.Event, err)
		}
		c.metrics.EventPublished(string(env.Event))
	}
	return nil
}

func (c *VetoCoordinator) rejectToCaller(caller Caller, rej *rejection, correlationID string) {
	c.metrics.ErrorSent(string(rej.code))
	c.groups.SendTo(caller.ConnID, domain.NewErrorEnvelope(rej.code, rej.message, correlationID))
}

func (c *VetoCoordinator) rejectToGroup(ctx context.Context, matchID uuid.UUID, rej *rejection, correlationID string) error {
	c.metrics.ErrorSent(string(rej.code))
	env := domain.NewErrorEnvelope(rej.code, rej.message, correlationID)
	if err := c.publisher.Publish(ctx, domain.MatchTopic(matchID), env); err != nil {
		return fmt.Errorf("publish error event: %w", err)
	}
	return nil
}

// JoinMatch subscribes the connection to the match topic and, when a veto is
// already running, sends the caller a VetoState snapshot to resync from.
func (c *VetoCoordinator) JoinMatch(ctx context.Context, caller Caller, matchID uuid.UUID) error {
	if _, err := c.matches.GetByID(ctx, matchID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.rejectToCaller(caller, reject(domain.CodeNotFound, "Match not found"), "")
			return nil
		}
		return fmt.Errorf("load match: %w", err)
	}
	c.groups.Subscribe(caller.ConnID, domain.MatchTopic(matchID))

	session, _, err := c.Session(ctx, matchID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	c.groups.SendTo(caller.ConnID, domain.NewEnvelope(domain.EventVetoState, session.LastSeq, domain.VetoStatePayload{Session: *session}))
	return nil
}

func (c *VetoCoordinator) LeaveMatch(_ context.Context, caller Caller, matchID uuid.UUID) error {
	c.groups.Unsubscribe(caller.ConnID, domain.MatchTopic(matchID))
	return nil
}

// StartVeto seeds a session from the active map pool of the lobby's game. An
// empty mode is derived from the match's best-of. An unknown match is reported
// to the caller only; once the match resolves the caller follows its topic and
// every other failure goes to the whole match group.
func (c *VetoCoordinator) StartVeto(ctx context.Context, caller Caller, matchID uuid.UUID, mode string) error {
	match, err := c.matches.GetByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.rejectToCaller(caller, reject(domain.CodeNotFound, "Match not found"), "")
			return nil
		}
		return fmt.Errorf("load match: %w", err)
	}
	c.groups.Subscribe(caller.ConnID, domain.MatchTopic(matchID))

	session, rej, err := c.prepareSession(ctx, match, mode)
	if err != nil {
		return err
	}
	if rej != nil {
		return c.rejectToGroup(ctx, matchID, rej, "")
	}

	startSeq, err := c.seq.Next(ctx, ScopeMatch, matchID)
	if err != nil {
		return err
	}
	progressSeq, err := c.seq.Next(ctx, ScopeMatch, matchID)
	if err != nil {
		return err
	}
	session.LastSeq = progressSeq

	if err := c.save(ctx, session, 0); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return c.rejectToGroup(ctx, matchID, reject(domain.CodeAlreadyStarted, "Veto already started"), "")
		}
		return fmt.Errorf("seed veto session: %w", err)
	}

	c.logger.Info("Veto started",
		zap.String("match_id", matchID.String()),
		zap.String("mode", string(session.Mode)),
		zap.Int("maps", len(session.Available)))

	return c.publish(ctx, matchID,
		domain.NewEnvelope(domain.EventVetoSessionStarted, startSeq, domain.VetoSessionStartedPayload{
			MatchID:   matchID,
			Mode:      session.Mode,
			Available: nonNilIDs(session.Available),
		}),
		domain.NewEnvelope(domain.EventVetoProgress, progressSeq, session.ProgressPayload("", nil)),
	)
}

func (c *VetoCoordinator) prepareSession(ctx context.Context, match *domain.Match, rawMode string) (*domain.VetoSession, *rejection, error) {
	lobby, err := c.lobbies.GetByID(ctx, match.LobbyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, reject(domain.CodeNotFound, "Lobby not found"), nil
		}
		return nil, nil, fmt.Errorf("load lobby: %w", err)
	}

	var mode domain.VetoMode
	if rawMode == "" {
		mode, err = domain.ModeForBestOf(match.BestOf)
	} else {
		mode, err = domain.ParseVetoMode(rawMode)
	}
	if err != nil {
		return nil, reject(domain.CodeInvalidMode, fmt.Sprintf("Unsupported veto mode %q", rawMode)), nil
	}

	pool, err := c.pools.GetActiveMapPool(ctx, lobby.Game)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, reject(domain.CodeNoPool, "No map pool configured for game"), nil
		}
		return nil, nil, fmt.Errorf("load map pool: %w", err)
	}

	if _, _, err := c.Session(ctx, match.ID); err == nil {
		return nil, reject(domain.CodeAlreadyStarted, "Veto already started"), nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, err
	}

	return domain.NewVetoSession(match.ID, mode, pool), nil, nil
}

// VetoAction applies one ban or pick. A retried click with the same
// clientRequestID is dropped. Validation failures go to the match group.
func (c *VetoCoordinator) VetoAction(ctx context.Context, caller Caller, matchID uuid.UUID, action string, mapID uuid.UUID, clientRequestID string) error {
	scope := fmt.Sprintf("veto:%s", matchID)
	first, err := c.guard.TryBegin(ctx, scope, clientRequestID, c.opts.IdempotencyTTL)
	if err != nil {
		return err
	}
	if !first {
		c.metrics.DuplicateIgnored("veto")
		c.logger.Debug("Ignoring duplicate veto action",
			zap.String("match_id", matchID.String()),
			zap.String("client_request_id", clientRequestID))
		return nil
	}

	envs, session, rej, err := c.applyAction(ctx, matchID, domain.VetoAction(action), mapID)
	if err != nil {
		if relErr := c.guard.Release(ctx, scope, clientRequestID); relErr != nil {
			c.logger.Warn("Failed to release idempotency key", zap.String("scope", scope), zap.Error(relErr))
		}
		return err
	}
	if rej != nil {
		return c.rejectToGroup(ctx, matchID, rej, clientRequestID)
	}

	if err := c.publish(ctx, matchID, envs...); err != nil {
		return err
	}
	if session.IsComplete() {
		c.persistResult(ctx, session)
	}
	return nil
}

func (c *VetoCoordinator) applyAction(ctx context.Context, matchID uuid.UUID, action domain.VetoAction, mapID uuid.UUID) ([]domain.Envelope, *domain.VetoSession, *rejection, error) {
	for attempt := 1; ; attempt++ {
		session, version, err := c.Session(ctx, matchID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, nil, reject(domain.CodeNoSession, "Veto has not started"), nil
			}
			return nil, nil, nil, err
		}

		if err := session.Apply(action, mapID); err != nil {
			return nil, nil, reject(domain.CodeFor(err), vetoMessage(err)), nil
		}

		progressSeq, err := c.seq.Next(ctx, ScopeMatch, matchID)
		if err != nil {
			return nil, nil, nil, err
		}
		envs := []domain.Envelope{
			domain.NewEnvelope(domain.EventVetoProgress, progressSeq, session.ProgressPayload(action, &mapID)),
		}
		session.LastSeq = progressSeq
		if session.IsComplete() {
			doneSeq, err := c.seq.Next(ctx, ScopeMatch, matchID)
			if err != nil {
				return nil, nil, nil, err
			}
			envs = append(envs, domain.NewEnvelope(domain.EventVetoCompleted, doneSeq, domain.VetoCompletedPayload{
				MatchID: matchID,
				Maps:    nonNilIDs(session.Picks),
			}))
			session.LastSeq = doneSeq
		}

		err = c.save(ctx, session, version)
		switch {
		case err == nil:
			return envs, session, nil, nil
		case errors.Is(err, store.ErrVersionConflict):
			c.metrics.VersionConflict("veto")
			if attempt >= c.opts.MaxAttempts {
				return nil, nil, nil, fmt.Errorf("save veto session %s: %w", matchID, ErrTooManyConflicts)
			}
		default:
			return nil, nil, nil, fmt.Errorf("save veto session: %w", err)
		}
	}
}

// persistResult writes the outcome back to the match. Failures are logged:
// the session in the shared store stays authoritative.
func (c *VetoCoordinator) persistResult(ctx context.Context, session *domain.VetoSession) {
	log := c.logger.With(zap.String("match_id", session.MatchID.String()))
	if mapID, ok := session.SelectedMap(); ok {
		if err := c.matches.SetSelectedMap(ctx, session.MatchID, mapID); err != nil {
			log.Error("Failed to store selected map", zap.Error(err))
		}
	}
	result := domain.VetoResult{
		Mode:  session.Mode,
		Picks: nonNilIDs(session.Picks),
		Bans:  nonNilIDs(session.Bans),
	}
	if err := c.matches.SetResult(ctx, session.MatchID, result); err != nil {
		log.Error("Failed to store veto result", zap.Error(err))
	}
	log.Info("Veto completed", zap.Int("picks", len(session.Picks)), zap.Int("bans", len(session.Bans)))
}

func vetoMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrVetoComplete):
		return "Veto is already complete"
	case errors.Is(err, domain.ErrInvalidVetoAction):
		return "Action must be ban or pick"
	case errors.Is(err, domain.ErrInvalidMap):
		return "Map is not available"
	}
	return err.Error()
}
