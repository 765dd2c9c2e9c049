package authority

import "errors"

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrConflict     = errors.New("concurrent room update")
	ErrInvalidSide  = errors.New("invalid side")
	ErrSeatTaken    = errors.New("seat taken")
	ErrNotSeated    = errors.New("not seated")
	ErrNotYourTurn  = errors.New("not your turn")
	ErrGameOver     = errors.New("game over")
	ErrIllegalMove  = errors.New("illegal move")
	ErrClockLocked  = errors.New("time control locked")
	ErrForbidden    = errors.New("not allowed")
	ErrUnsupported  = errors.New("unsupported message")

	ErrConnectionInUse = errors.New("connection id already live in room")
)
