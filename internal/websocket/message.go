package websocket

import (
	"encoding/json"
	"time"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/google/uuid"
)

type Op string

const (
	// Lobby channel
	OpJoinLobby   Op = "JoinLobby"
	OpLeaveLobby  Op = "LeaveLobby"
	OpSetCaptains Op = "SetCaptains"
	OpUpdateTeams Op = "UpdateTeams"
	OpHeartbeat   Op = "Heartbeat"

	// Veto channel
	OpJoinMatch  Op = "JoinMatch"
	OpLeaveMatch Op = "LeaveMatch"
	OpStartVeto  Op = "StartVeto"
	OpVetoAction Op = "VetoAction"
)

// Frame is one inbound client command.
type Frame struct {
	Op   Op              `json:"op"`
	Args json.RawMessage `json:"args"`
}

func NewFrame(op Op, args interface{}) (*Frame, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return &Frame{Op: op, Args: raw}, nil
}

// Client to Server args

type LobbyArgs struct {
	LobbyID uuid.UUID `json:"lobbyId"`
}

type SetCaptainsArgs struct {
	LobbyID         uuid.UUID `json:"lobbyId"`
	TeamAUserID     uuid.UUID `json:"teamAUserId"`
	TeamBUserID     uuid.UUID `json:"teamBUserId"`
	ClientRequestID string    `json:"clientRequestId"`
}

type UpdateTeamsArgs struct {
	LobbyID         uuid.UUID   `json:"lobbyId"`
	TeamA           []uuid.UUID `json:"teamA"`
	TeamB           []uuid.UUID `json:"teamB"`
	ClientRequestID string      `json:"clientRequestId"`
}

type MatchArgs struct {
	MatchID uuid.UUID `json:"matchId"`
}

type StartVetoArgs struct {
	MatchID uuid.UUID `json:"matchId"`
	Mode    string    `json:"mode"`
}

type VetoActionArgs struct {
	MatchID         uuid.UUID `json:"matchId"`
	Action          string    `json:"action"`
	MapID           uuid.UUID `json:"mapId"`
	ClientRequestID string    `json:"clientRequestId"`
}

// Envelope is the receiving side of domain.Envelope with the payload left raw.
type Envelope struct {
	Event      domain.EventType `json:"event"`
	Seq        int64            `json:"seq"`
	OccurredAt time.Time        `json:"occurredAt"`
	Payload    json.RawMessage  `json:"payload"`
}

// Topic recovers the lobby or match topic an envelope belongs to from its
// payload. Events without an entity id yield "".
func (e Envelope) Topic() string {
	var ids struct {
		LobbyID *uuid.UUID `json:"lobbyId"`
		MatchID *uuid.UUID `json:"matchId"`
		Session *struct {
			MatchID uuid.UUID `json:"matchId"`
		} `json:"session"`
	}
	if err := json.Unmarshal(e.Payload, &ids); err != nil {
		return ""
	}
	switch {
	case ids.LobbyID != nil:
		return domain.LobbyTopic(*ids.LobbyID)
	case ids.MatchID != nil:
		return domain.MatchTopic(*ids.MatchID)
	case ids.Session != nil:
		return domain.MatchTopic(ids.Session.MatchID)
	}
	return ""
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}
