package domain

type RoomID string

// Room is registry meta for one signaling room. Membership lives in the
// registry, not here.
type Room struct {
	ID       RoomID
	Capacity int
}
