package domain

import "errors"

// Veto validation errors
var (
	ErrInvalidVetoMode   = errors.New("invalid veto mode")
	ErrInvalidVetoAction = errors.New("invalid veto action")
	ErrInvalidMap        = errors.New("map is not available")
	ErrVetoComplete      = errors.New("veto is already complete")
)

// ErrorCode is the machine readable code carried by Error events
type ErrorCode string

const (
	CodeNotFound       ErrorCode = "not_found"
	CodeInvalidCaptain ErrorCode = "invalid_captain"
	CodeInvalidTeam    ErrorCode = "invalid_team"
	CodeInvalidMap     ErrorCode = "invalid_map"
	CodeInvalidAction  ErrorCode = "invalid_action"
	CodeNoSession      ErrorCode = "no_session"
	CodeNoPool         ErrorCode = "no_pool"
	CodeInvalidMode    ErrorCode = "invalid_mode"
	CodeAlreadyStarted ErrorCode = "already_started"
	CodeVetoComplete   ErrorCode = "veto_complete"
	CodeBadRequest     ErrorCode = "bad_request"
	CodeRateLimited    ErrorCode = "rate_limited"
)

// CodeFor maps a veto validation error to its wire code.
func CodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrInvalidVetoMode):
		return CodeInvalidMode
	case errors.Is(err, ErrInvalidVetoAction):
		return CodeInvalidAction
	case errors.Is(err, ErrInvalidMap):
		return CodeInvalidMap
	case errors.Is(err, ErrVetoComplete):
		return CodeVetoComplete
	}
	return CodeBadRequest
}
