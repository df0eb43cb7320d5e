package domain

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// VetoMode selects how many picks end a veto
type VetoMode string

const (
	VetoModeDirect VetoMode = "direct"
	VetoModeBo3    VetoMode = "bo3"
	VetoModeBo5    VetoMode = "bo5"
)

// ParseVetoMode accepts the wire names plus "bo1" as an alias of direct.
func ParseVetoMode(s string) (VetoMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "bo1":
		return VetoModeDirect, nil
	case "bo3":
		return VetoModeBo3, nil
	case "bo5":
		return VetoModeBo5, nil
	}
	return "", ErrInvalidVetoMode
}

// ModeForBestOf derives the veto mode from a match's series length.
func ModeForBestOf(bestOf int) (VetoMode, error) {
	switch bestOf {
	case 1:
		return VetoModeDirect, nil
	case 3:
		return VetoModeBo3, nil
	case 5:
		return VetoModeBo5, nil
	}
	return "", ErrInvalidVetoMode
}

// TargetPicks is the number of picks that completes a session in this mode.
func (m VetoMode) TargetPicks() int {
	switch m {
	case VetoModeBo3:
		return 3
	case VetoModeBo5:
		return 5
	default:
		return 1
	}
}

type VetoAction string

const (
	VetoActionBan  VetoAction = "ban"
	VetoActionPick VetoAction = "pick"
)

type VetoPhase string

const (
	VetoPhaseNotStarted VetoPhase = "not_started"
	VetoPhaseInProgress VetoPhase = "in_progress"
	VetoPhaseCompleted  VetoPhase = "completed"
)

// VetoSession is the shared veto state for one match. It is stored as JSON in
// the shared session store and never held in process memory between actions.
type VetoSession struct {
	MatchID   uuid.UUID   `json:"matchId"`
	Mode      VetoMode    `json:"mode"`
	Phase     VetoPhase   `json:"phase"`
	StepIndex int         `json:"stepIndex"`
	NextTeam  TeamSide    `json:"nextTeam"`
	Available []uuid.UUID `json:"available"`
	Bans      []uuid.UUID `json:"bans"`
	Picks     []uuid.UUID `json:"picks"`
	// LastSeq is the sequence number of the last event emitted for this state.
	LastSeq int64 `json:"lastSeq"`
}

// NewVetoSession seeds a session from the match's map pool.
func NewVetoSession(matchID uuid.UUID, mode VetoMode, pool []uuid.UUID) *VetoSession {
	return &VetoSession{
		MatchID:   matchID,
		Mode:      mode,
		Phase:     VetoPhaseInProgress,
		StepIndex: 0,
		NextTeam:  TeamA,
		Available: slices.Clone(pool),
		Bans:      []uuid.UUID{},
		Picks:     []uuid.UUID{},
	}
}

// IsComplete reports whether the session reached a terminal state.
func (s *VetoSession) IsComplete() bool {
	return s.Phase == VetoPhaseCompleted
}

// IsAvailable reports whether mapID can still be banned or picked.
func (s *VetoSession) IsAvailable(mapID uuid.UUID) bool {
	return slices.Contains(s.Available, mapID)
}

// Apply validates and applies one ban or pick.
//
// After the map moves out of Available the step advances and the turn flips
// unconditionally. Outside direct mode, a single remaining map with no picks
// recorded yet is picked automatically inside the same step. The session
// completes once the pick target is met or the pool is exhausted.
func (s *VetoSession) Apply(action VetoAction, mapID uuid.UUID) error {
	if s.IsComplete() {
		return ErrVetoComplete
	}
	if action != VetoActionBan && action != VetoActionPick {
		return ErrInvalidVetoAction
	}

	idx := slices.Index(s.Available, mapID)
	if idx < 0 {
		return ErrInvalidMap
	}
	s.Available = slices.Delete(s.Available, idx, idx+1)

	if action == VetoActionBan {
		s.Bans = append(s.Bans, mapID)
	} else {
		s.Picks = append(s.Picks, mapID)
	}
	s.StepIndex++
	s.NextTeam = s.NextTeam.Opponent()

	if s.Mode != VetoModeDirect && len(s.Available) == 1 && len(s.Picks) == 0 {
		s.Picks = append(s.Picks, s.Available[0])
		s.Available = s.Available[:0]
	}

	if len(s.Picks) >= s.Mode.TargetPicks() || len(s.Available) == 0 {
		s.Phase = VetoPhaseCompleted
		s.NextTeam = TeamNone
	}
	return nil
}

// SelectedMap is the map recorded on the match: the first pick.
func (s *VetoSession) SelectedMap() (uuid.UUID, bool) {
	if len(s.Picks) == 0 {
		return uuid.Nil, false
	}
	return s.Picks[0], true
}
