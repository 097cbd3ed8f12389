package domain

import "fmt"

type RoomID string

// PairRoomID derives the conversation room for two users. The lower id goes
// first so both sides compute the same room.
func PairRoomID(a, b UserID) RoomID {
	if b < a {
		a, b = b, a
	}
	return RoomID(fmt.Sprintf("chat_%s_%s", a, b))
}
