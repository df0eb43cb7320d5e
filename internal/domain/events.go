package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the envelope discriminator
type EventType string

const (
	EventUserJoined         EventType = "UserJoined"
	EventUserLeft           EventType = "UserLeft"
	EventCaptainsSet        EventType = "CaptainsSet"
	EventTeamsUpdated       EventType = "TeamsUpdated"
	EventPong               EventType = "Pong"
	EventVetoSessionStarted EventType = "VetoSessionStarted"
	EventVetoProgress       EventType = "VetoProgress"
	EventVetoCompleted      EventType = "VetoCompleted"
	EventVetoState          EventType = "VetoState"
	EventError              EventType = "Error"
)

// Envelope wraps every outbound event. Seq orders events per lobby or match;
// Error and Pong envelopes carry seq 0 and do not take part in ordering.
type Envelope struct {
	Event      EventType `json:"event"`
	Seq        int64     `json:"seq"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// NewEnvelope stamps an event with its sequence number and the current time.
func NewEnvelope(event EventType, seq int64, payload any) Envelope {
	return Envelope{
		Event:      event,
		Seq:        seq,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// NewErrorEnvelope builds an unsequenced Error event.
func NewErrorEnvelope(code ErrorCode, message, correlationID string) Envelope {
	return NewEnvelope(EventError, 0, ErrorPayload{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
	})
}

// Ordered reports whether the event takes part in per-topic ordering.
func (e EventType) Ordered() bool {
	return e != EventError && e != EventPong
}

// Topic names shared by the coordinators and the fan-out layer.

const (
	LobbyTopicPrefix = "lobby:"
	MatchTopicPrefix = "match:"
)

func LobbyTopic(lobbyID uuid.UUID) string {
	return LobbyTopicPrefix + lobbyID.String()
}

func MatchTopic(matchID uuid.UUID) string {
	return MatchTopicPrefix + matchID.String()
}

// ============== Payload types ==============

type UserJoinedPayload struct {
	LobbyID uuid.UUID `json:"lobbyId"`
	UserID  uuid.UUID `json:"userId"`
}

type UserLeftPayload struct {
	LobbyID uuid.UUID `json:"lobbyId"`
	UserID  uuid.UUID `json:"userId"`
}

type CaptainsSetPayload struct {
	LobbyID     uuid.UUID  `json:"lobbyId"`
	TeamAUserID uuid.UUID  `json:"teamAUserId"`
	TeamBUserID uuid.UUID  `json:"teamBUserId"`
	PickOrder   []PickTurn `json:"pickOrder"`
}

type TeamsUpdatedPayload struct {
	LobbyID uuid.UUID   `json:"lobbyId"`
	TeamA   []uuid.UUID `json:"teamA"`
	TeamB   []uuid.UUID `json:"teamB"`
}

type PongPayload struct {
	LobbyID uuid.UUID `json:"lobbyId"`
	TS      time.Time `json:"ts"`
}

type VetoSessionStartedPayload struct {
	MatchID   uuid.UUID   `json:"matchId"`
	Mode      VetoMode    `json:"mode"`
	Available []uuid.UUID `json:"available"`
}

type VetoProgressPayload struct {
	MatchID   uuid.UUID   `json:"matchId"`
	StepIndex int         `json:"stepIndex"`
	Team      TeamSide    `json:"team"`
	Action    VetoAction  `json:"action,omitempty"`
	MapID     *uuid.UUID  `json:"mapId,omitempty"`
	Available []uuid.UUID `json:"available"`
	Picks     []uuid.UUID `json:"picks"`
	Bans      []uuid.UUID `json:"bans"`
}

type VetoCompletedPayload struct {
	MatchID uuid.UUID   `json:"matchId"`
	Maps    []uuid.UUID `json:"maps"`
}

// VetoStatePayload is the snapshot sent to a connection joining a match topic.
type VetoStatePayload struct {
	Session VetoSession `json:"session"`
}

type ErrorPayload struct {
	Code          ErrorCode `json:"code"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// ProgressPayload snapshots the session into a VetoProgress payload.
func (s *VetoSession) ProgressPayload(action VetoAction, mapID *uuid.UUID) VetoProgressPayload {
	return VetoProgressPayload{
		MatchID:   s.MatchID,
		StepIndex: s.StepIndex,
		Team:      s.NextTeam,
		Action:    action,
		MapID:     mapID,
		Available: nonNil(s.Available),
		Picks:     nonNil(s.Picks),
		Bans:      nonNil(s.Bans),
	}
}

func nonNil(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return append([]uuid.UUID{}, ids...)
}
