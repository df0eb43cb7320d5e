package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const commandTimeout = 10 * time.Second

// CommandHandler routes inbound frames to the coordinators. Lobby ops are only
// accepted on the lobby channel and veto ops on the veto channel.
type CommandHandler struct {
	lobby  *service.LobbyCoordinator
	veto   *service.VetoCoordinator
	logger *zap.Logger
}

func NewCommandHandler(services *service.Services, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{
		lobby:  services.Lobby,
		veto:   services.Veto,
		logger: logger.Named("commands"),
	}
}

// Handle runs one command to completion. Infrastructure failures are logged
// and produce no event; the client retries.
func (ch *CommandHandler) Handle(ctx context.Context, c *Client, frame Frame) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch c.channel {
	case ChannelLobby:
		err = ch.handleLobby(ctx, c, frame)
	case ChannelVeto:
		err = ch.handleVeto(ctx, c, frame)
	}
	if errors.Is(err, errBadRequest) {
		c.sendError(domain.CodeBadRequest, "Invalid "+string(frame.Op)+" arguments", "")
		return
	}
	if errors.Is(err, errUnknownOp) {
		c.sendError(domain.CodeBadRequest, "Unknown op "+string(frame.Op), "")
		return
	}
	if err != nil {
		c.logger.Error("Command failed", zap.String("op", string(frame.Op)), zap.Error(err))
	}
}

type handlerError string

func (e handlerError) Error() string { return string(e) }

const (
	errBadRequest handlerError = "bad request"
	errUnknownOp  handlerError = "unknown op"
)

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return errBadRequest
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadRequest
	}
	return nil
}

func (ch *CommandHandler) handleLobby(ctx context.Context, c *Client, frame Frame) error {
	caller := c.Caller()
	switch frame.Op {
	case OpJoinLobby:
		var args LobbyArgs
		if err := decodeArgs(frame.Args, &args); err != nil || args.LobbyID == uuid.Nil {
			return errBadRequest
		}
		return ch.lobby.JoinLobby(ctx, caller, args.LobbyID)

	case OpLeaveLobby:
		var args LobbyArgs
		if err := decodeArgs(frame.Args, &args); err != nil || args.LobbyID == uuid.Nil {
			return errBadRequest
		}
		return ch.lobby.LeaveLobby(ctx, caller, args.LobbyID)

	case OpSetCaptains:
		var args SetCaptainsArgs
		if err := decodeArgs(frame.Args, &args); err != nil || args.LobbyID == uuid.Nil {
			return errBadRequest
		}
		return ch.lobby.SetCaptains(ctx, caller, args.LobbyID, args.TeamAUserID, args.TeamBUserID, args.ClientRequestID)

	case OpUpdateTeams:
		var args UpdateTeamsArgs
		if err := decodeArgs(frame.Args, &args); err != nil || args.LobbyID == uuid.Nil {
			return errBadRequest
		}
		return ch.lobby.UpdateTeams(ctx, caller, args.LobbyID, args.TeamA, args.TeamB, args.ClientRequestID)

	case OpHeartbeat:
		var args LobbyArgs
		if err := decodeArgs(frame.Args, &args); err != nil || args.LobbyID == uuid.Nil {
			return errBadRequest
		}
		return ch.lobby.Heartbeat(ctx, caller, args.LobbyID)
	}
	return errUnknownOp
}

func (ch *CommandHandler) handleVeto(ctx context.Context, c *Client, frame Frame) error {
	caller := c.Caller()
	switch frame.Op {
	case OpJoinMatch:
		var args MatchArgs
		if err := decodeArgs(frame.Args, &args); err != nil || args.MatchID == uuid.Nil {
			return errBadRequest
		}
		return ch.veto.JoinMatch(ctx, caller, args.MatchID)

	case OpLeaveMatch:
		var args MatchArgs
		if err := decodeArgs(frame.Args, &args); err != nil || args.MatchID == uuid.Nil {
			return errBadRequest
		}
		return ch.veto.LeaveMatch(ctx, caller, args.MatchID)

	case OpStartVeto:
		var args StartVetoArgs
		if err := decodeArgs(frame.Args, &args); err != nil || args.MatchID == uuid.Nil {
			return errBadRequest
		}
		return ch.veto.StartVeto(ctx, caller, args.MatchID, args.Mode)

	case OpVetoAction:
		var args VetoActionArgs
		if err := decodeArgs(frame.Args, &args); err != nil || args.MatchID == uuid.Nil {
			return errBadRequest
		}
		return ch.veto.VetoAction(ctx, caller, args.MatchID, args.Action, args.MapID, args.ClientRequestID)
	}
	return errUnknownOp
}

// Disconnect is installed as the hub's disconnect callback. It hands the
// lobbies the connection had joined to the lobby coordinator.
func (ch *CommandHandler) Disconnect(c *Client, topics []string) {
	var lobbyIDs []uuid.UUID
	for _, topic := range topics {
		raw, ok := strings.CutPrefix(topic, domain.LobbyTopicPrefix)
		if !ok {
			continue
		}
		if id, err := uuid.Parse(raw); err == nil {
			lobbyIDs = append(lobbyIDs, id)
		}
	}
	if len(lobbyIDs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := ch.lobby.Disconnect(ctx, c.Caller(), lobbyIDs); err != nil {
		c.logger.Error("Disconnect cleanup failed", zap.Error(err))
	}
}
