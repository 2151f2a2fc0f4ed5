package island

import (
	"errors"
	"fmt"
	"strings"

	"clawparadise.ai/internal/protocol"
)

// Error is a caller-facing rejection. Code is one of the protocol E_* codes.
type Error struct {
	Code string
	Msg  string

	// Set for E_ON_COOLDOWN.
	CooldownHours int
	// Set for E_INVALID_ACTION_FOR_PHASE.
	ValidActions []string
}

func (e *Error) Error() string { return e.Msg }

// CodeOf returns the E_* code carried by err, or E_INTERNAL for anything else.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return protocol.ErrInternal
}

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func badRequest(msg string) *Error { return &Error{Code: protocol.ErrBadRequest, Msg: msg} }

func errArenaNotFound(id string) *Error {
	return newError(protocol.ErrArenaNotFound, "island %s not found", id)
}

func errNotRegistered(id string) *Error {
	return newError(protocol.ErrNotRegistered, "agent %s is not registered", id)
}

func errInvalidActionForPhase(typ string, phase Phase) *Error {
	valid := ValidActions(phase)
	return &Error{
		Code:         protocol.ErrInvalidActionForPhase,
		Msg:          fmt.Sprintf("invalid action %q for phase %s. Valid: %s", typ, phase, strings.Join(valid, ", ")),
		ValidActions: valid,
	}
}
