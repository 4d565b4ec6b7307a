package room

import "errors"

// Protocol violations. Callers drop the offending event; none of these are fatal.
var (
	ErrUnknownRoom   = errors.New("unknown room")
	ErrInvalidRoomID = errors.New("invalid room id")
	ErrNotMember     = errors.New("connection is not a member of the room")
	ErrAlreadyMember = errors.New("connection is already a member of the room")
	ErrAlreadyInRoom = errors.New("connection is already a member of another room")
	ErrWrongPhase    = errors.New("transition not allowed in current phase")
	ErrSessionClosed = errors.New("session closed")
)
