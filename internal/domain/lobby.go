package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Game identifies which title a lobby is organized for. It selects the map pool.
type Game string

const (
	GameCS2      Game = "cs2"
	GameValorant Game = "val"
)

// LobbyStatus represents the current state of a lobby
type LobbyStatus string

const (
	LobbyStatusOpen       LobbyStatus = "open"
	LobbyStatusDrafting   LobbyStatus = "drafting"
	LobbyStatusInProgress LobbyStatus = "in_progress"
	LobbyStatusClosed     LobbyStatus = "closed"
)

// LobbyRole is a member's role inside one lobby
type LobbyRole string

const (
	LobbyRoleOwner   LobbyRole = "owner"
	LobbyRoleCaptain LobbyRole = "captain"
	LobbyRoleMember  LobbyRole = "member"
)

// TeamSide is the team a member has been drafted onto.
// TeamNone is only used by the veto state machine once it is complete.
type TeamSide string

const (
	TeamA          TeamSide = "A"
	TeamB          TeamSide = "B"
	TeamUnassigned TeamSide = "unassigned"
	TeamNone       TeamSide = "None"
)

// Opponent returns the other drafting team. Anything that is not A maps to A.
func (t TeamSide) Opponent() TeamSide {
	if t == TeamA {
		return TeamB
	}
	return TeamA
}

// Lobby is the durable lobby row. Version is bumped by every realtime mutation
// of the lobby's memberships and is used for optimistic concurrency.
type Lobby struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Game       Game           `json:"game" gorm:"type:varchar(10);not null"`
	Name       string         `json:"name" gorm:"size:120;not null"`
	Status     LobbyStatus    `json:"status" gorm:"type:varchar(20);not null;default:'open'"`
	CreatedBy  uuid.UUID      `json:"createdBy" gorm:"type:uuid;not null"`
	MaxPlayers int            `json:"maxPlayers" gorm:"not null;default:10"`
	Version    int64          `json:"version" gorm:"not null;default:0"`
	Settings   datatypes.JSON `json:"settings" gorm:"type:jsonb;default:'{}'"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`

	// Relations
	Members []LobbyMembership `json:"members,omitempty" gorm:"foreignKey:LobbyID"`
}

// TableName returns the table name for GORM
func (Lobby) TableName() string {
	return "lobbies"
}

// LobbyMembership represents a user's seat in a lobby
type LobbyMembership struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	LobbyID  uuid.UUID `json:"lobbyId" gorm:"type:uuid;not null;uniqueIndex:ux_lobby_user,priority:1"`
	UserID   uuid.UUID `json:"userId" gorm:"type:uuid;not null;uniqueIndex:ux_lobby_user,priority:2"`
	Role     LobbyRole `json:"role" gorm:"type:varchar(10);not null;default:'member'"`
	Team     TeamSide  `json:"team" gorm:"type:varchar(12);not null;default:'unassigned'"`
	JoinedAt time.Time `json:"joinedAt"`
}

// TableName returns the table name for GORM
func (LobbyMembership) TableName() string {
	return "lobby_memberships"
}

// LobbyChange is one atomic batch of membership writes applied under a lobby version check.
type LobbyChange struct {
	Upsert []LobbyMembership
	Remove []uuid.UUID
}

// IsEmpty reports whether the change touches no membership rows.
func (c LobbyChange) IsEmpty() bool {
	return len(c.Upsert) == 0 && len(c.Remove) == 0
}

// MemberIndex maps user ids to their membership for quick validation.
func MemberIndex(members []LobbyMembership) map[uuid.UUID]LobbyMembership {
	idx := make(map[uuid.UUID]LobbyMembership, len(members))
	for _, m := range members {
		idx[m.UserID] = m
	}
	return idx
}
