package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Registration and matchmaking.
	ErrNotRegistered = "E_NOT_REGISTERED"
	ErrOnCooldown    = "E_ON_COOLDOWN"
	ErrPersonaTaken  = "E_PERSONA_TAKEN"
	ErrArenaFull     = "E_ARENA_FULL"
	ErrNotJoinable   = "E_NOT_JOINABLE"

	// Arena routing/state.
	ErrArenaNotFound         = "E_ARENA_NOT_FOUND"
	ErrPhaseClosed           = "E_PHASE_CLOSED"
	ErrParticipantNotFound   = "E_PARTICIPANT_NOT_FOUND"
	ErrParticipantEliminated = "E_PARTICIPANT_ELIMINATED"
	ErrNotInGame             = "E_NOT_IN_GAME"

	// Rule/action layer.
	ErrBadRequest            = "E_BAD_REQUEST"
	ErrInvalidActionForPhase = "E_INVALID_ACTION_FOR_PHASE"
	ErrInvalidTarget         = "E_INVALID_TARGET"
	ErrInternal              = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:       {},
	ErrNotRegistered:         {},
	ErrOnCooldown:            {},
	ErrPersonaTaken:          {},
	ErrArenaFull:             {},
	ErrNotJoinable:           {},
	ErrArenaNotFound:         {},
	ErrPhaseClosed:           {},
	ErrParticipantNotFound:   {},
	ErrParticipantEliminated: {},
	ErrNotInGame:             {},
	ErrBadRequest:            {},
	ErrInvalidActionForPhase: {},
	ErrInvalidTarget:         {},
	ErrInternal:              {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// IsNotFound reports whether code names a missing entity rather than a
// rejected request.
func IsNotFound(code string) bool {
	switch code {
	case ErrNotRegistered, ErrArenaNotFound, ErrParticipantNotFound:
		return true
	}
	return false
}
