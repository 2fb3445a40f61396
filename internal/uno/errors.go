package uno

import "errors"

// Rejection is a validation failure reported back to the player who issued the
// command. A rejected command never changes the match.
type Rejection struct {
	Code    string
	Message string
}

func (r *Rejection) Error() string {
	return r.Code + ": " + r.Message
}

// Is matches on Code so wrapped or re-built rejections compare equal to the sentinels.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Code == r.Code
}

func Reject(code, message string) *Rejection {
	return &Rejection{Code: code, Message: message}
}

var (
	ErrRoomNotFound       = Reject("ROOM_NOT_FOUND", "Room not found")
	ErrNotJoinable        = Reject("NOT_JOINABLE", "Match already in progress")
	ErrRoomFull           = Reject("ROOM_FULL", "Room is full (6/6 players)")
	ErrNotEnoughPlayers   = Reject("NOT_ENOUGH_PLAYERS", "Need at least 2 players to start")
	ErrAlreadyStarted     = Reject("ALREADY_STARTED", "Match already started")
	ErrGameNotInProgress  = Reject("GAME_NOT_IN_PROGRESS", "Match is not being played")
	ErrNotYourTurn        = Reject("NOT_YOUR_TURN", "It is not your turn")
	ErrIllegalCard        = Reject("ILLEGAL_CARD", "That card cannot be played now")
	ErrMissingColorChoice = Reject("MISSING_COLOR_CHOICE", "Wild cards need a color choice")
	ErrNotEligible        = Reject("NOT_ELIGIBLE", "UNO can only be declared with one card left")
	ErrNotInRoom          = Reject("NOT_IN_ROOM", "Player is not seated in this room")
	ErrStaleState         = Reject("STALE_STATE", "Match has moved on, refresh and retry")
	ErrInvalidProfile     = Reject("INVALID_PROFILE", "Display name must be 1-20 characters")
)

// AsRejection unwraps err into a Rejection, if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
