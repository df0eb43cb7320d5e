package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusVeto      MatchStatus = "veto"
	MatchStatusReady     MatchStatus = "ready"
	MatchStatusCompleted MatchStatus = "completed"
)

// Match is created by the lobby owner once teams are final. The veto writes
// its outcome back into SelectedMapID and Result.
type Match struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	LobbyID       uuid.UUID      `json:"lobbyId" gorm:"type:uuid;not null;index"`
	BestOf        int            `json:"bestOf" gorm:"not null;default:1"`
	Status        MatchStatus    `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	SelectedMapID *uuid.UUID     `json:"selectedMapId" gorm:"type:uuid"`
	Result        datatypes.JSON `json:"result" gorm:"type:jsonb"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`

	// Relations
	Lobby *Lobby `json:"lobby,omitempty" gorm:"foreignKey:LobbyID"`
}

// TableName returns the table name for GORM
func (Match) TableName() string {
	return "matches"
}

// VetoResult is what gets stored in Match.Result when a veto completes.
type VetoResult struct {
	Mode  VetoMode    `json:"mode"`
	Picks []uuid.UUID `json:"picks"`
	Bans  []uuid.UUID `json:"bans"`
}

// GameMap is a playable map for one game
type GameMap struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Game     Game      `json:"game" gorm:"type:varchar(10);not null;index"`
	Code     string    `json:"code" gorm:"size:64;not null"`
	Name     string    `json:"name" gorm:"size:120;not null"`
	IsActive bool      `json:"isActive" gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (GameMap) TableName() string {
	return "game_maps"
}

// MapPool is a versioned selection of maps for a game. The pool with the
// latest EffectiveAt is the active one.
type MapPool struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Game        Game       `json:"game" gorm:"type:varchar(10);not null;index"`
	Label       string     `json:"label" gorm:"size:120"`
	EffectiveAt *time.Time `json:"effectiveAt"`

	Maps []MapPoolMap `json:"maps,omitempty" gorm:"foreignKey:MapPoolID"`
}

// TableName returns the table name for GORM
func (MapPool) TableName() string {
	return "map_pools"
}

// MapPoolMap places a map into a pool at a position
type MapPoolMap struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	MapPoolID  uuid.UUID `json:"mapPoolId" gorm:"type:uuid;not null;index"`
	GameMapID  uuid.UUID `json:"gameMapId" gorm:"type:uuid;not null"`
	OrderIndex int       `json:"orderIndex" gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (MapPoolMap) TableName() string {
	return "map_pool_maps"
}
