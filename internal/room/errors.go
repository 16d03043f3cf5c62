package room

import "errors"

var (
	ErrNotFound          = errors.New("event not found")
	ErrNotLoaded         = errors.New("event not loaded")
	ErrNicknameRequired  = errors.New("nickname is required")
	ErrInvalidTravelMode = errors.New("invalid travel mode")
	ErrAlreadyJoined     = errors.New("already joined")
	ErrNotJoined         = errors.New("not joined")
	ErrAlreadyArrived    = errors.New("already arrived")
	ErrTooFar            = errors.New("too far from meeting point")
	ErrPokeNotAllowed    = errors.New("poke not allowed")
	ErrUnknownMember     = errors.New("unknown member")
)
