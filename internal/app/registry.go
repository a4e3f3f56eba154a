package app

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
)

// ErrRoomFull is surfaced to the joining peer only; membership is untouched.
var ErrRoomFull = errors.New("room full")

const DefaultRoomCapacity = 10

type roomState struct {
	// members keeps join order; the snapshot list and the initiator rule
	// both depend on it.
	members   []domain.PeerID
	cams      map[domain.PeerID]domain.CamID
	initiator domain.PeerID
}

// Registry owns room membership. It is the sole writer; capacity check and
// add happen under one lock so there is no room-full race.
type Registry struct {
	mu       sync.Mutex
	capacity int
	rooms    map[domain.RoomID]*roomState
}

func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultRoomCapacity
	}
	return &Registry{
		capacity: capacity,
		rooms:    make(map[domain.RoomID]*roomState),
	}
}

// Snapshot is what a member learns about a room: everyone else, in join
// order, plus the announced cam ids and its own initiator status.
type Snapshot struct {
	Room        domain.RoomID
	Others      []domain.PeerID
	Cams        map[domain.PeerID]domain.CamID
	Total       int
	IsInitiator bool
	// Rejoined is set when the peer was already a member, so callers can
	// skip the peer-joined announcement.
	Rejoined bool
}

// Departure reports one room a disconnecting peer was removed from.
type Departure struct {
	Room      domain.RoomID
	Remaining int
}

// JoinOrCreate adds peer to the room, creating it on first join. The first
// member becomes the initiator for the lifetime of the room.
func (r *Registry) JoinOrCreate(roomID domain.RoomID, peer domain.PeerID, cam domain.CamID) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = &roomState{cams: make(map[domain.PeerID]domain.CamID)}
		r.rooms[roomID] = room
	}
	if contains(room.members, peer) {
		// Re-join is idempotent: same transport, same membership. Only the
		// cam announcement may be refreshed.
		if cam != "" {
			room.cams[peer] = cam
		}
		log.Debug().Str("module", "app.registry").Str("room", string(roomID)).Str("peer", string(peer)).Msg("already a member")
		snap := r.snapshotLocked(roomID, room, peer)
		snap.Rejoined = true
		return snap, nil
	}
	if len(room.members) >= r.capacity {
		log.Warn().Str("module", "app.registry").Str("room", string(roomID)).Str("peer", string(peer)).Msg("room full")
		return Snapshot{}, ErrRoomFull
	}

	if len(room.members) == 0 {
		room.initiator = peer
	}
	room.members = append(room.members, peer)
	if cam != "" {
		room.cams[peer] = cam
	}
	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("peer", string(peer)).Int("total", len(room.members)).Msg("member joined")
	return r.snapshotLocked(roomID, room, peer), nil
}

// Leave removes peer from the room and deletes the room when it empties.
// Leaving a room one is not in is a no-op returning the current count.
func (r *Registry) Leave(roomID domain.RoomID, peer domain.PeerID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(roomID, peer)
}

// LeaveAll removes a disconnecting peer from every room it occupies.
func (r *Registry) LeaveAll(peer domain.PeerID) []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Departure
	for roomID, room := range r.rooms {
		if !contains(room.members, peer) {
			continue
		}
		remaining := r.leaveLocked(roomID, peer)
		out = append(out, Departure{Room: roomID, Remaining: remaining})
	}
	return out
}

// Snapshot is the read-only re-sync path. It never mutates membership and
// never recomputes initiator status: the original initiator keeps the role
// for the lifetime of the room.
func (r *Registry) Snapshot(roomID domain.RoomID, peer domain.PeerID) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return Snapshot{}, false
	}
	return r.snapshotLocked(roomID, room, peer), true
}

// Members returns current membership in join order.
func (r *Registry) Members(roomID domain.RoomID) []domain.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]domain.PeerID, len(room.members))
	copy(out, room.members)
	return out
}

// RoomInfo is the listing entry served over the HTTP API.
type RoomInfo struct {
	ID      domain.RoomID `json:"id"`
	Members int           `json:"members"`
	Cams    int           `json:"cams"`
}

// Rooms lists live rooms sorted by id.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RoomInfo, 0, len(r.rooms))
	for id, room := range r.rooms {
		out = append(out, RoomInfo{ID: id, Members: len(room.members), Cams: len(room.cams)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) CamOf(roomID domain.RoomID, peer domain.PeerID) (domain.CamID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return "", false
	}
	cam, ok := room.cams[peer]
	return cam, ok
}

func (r *Registry) leaveLocked(roomID domain.RoomID, peer domain.PeerID) int {
	room, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	for i, m := range room.members {
		if m == peer {
			room.members = append(room.members[:i], room.members[i+1:]...)
			delete(room.cams, peer)
			break
		}
	}
	if len(room.members) == 0 {
		delete(r.rooms, roomID)
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room deleted")
		return 0
	}
	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("peer", string(peer)).Int("total", len(room.members)).Msg("member left")
	return len(room.members)
}

func (r *Registry) snapshotLocked(roomID domain.RoomID, room *roomState, peer domain.PeerID) Snapshot {
	others := make([]domain.PeerID, 0, len(room.members))
	for _, m := range room.members {
		if m != peer {
			others = append(others, m)
		}
	}
	cams := make(map[domain.PeerID]domain.CamID, len(room.cams))
	for p, c := range room.cams {
		cams[p] = c
	}
	return Snapshot{
		Room:        roomID,
		Others:      others,
		Cams:        cams,
		Total:       len(room.members),
		IsInitiator: room.initiator == peer,
	}
}

func contains(members []domain.PeerID, peer domain.PeerID) bool {
	for _, m := range members {
		if m == peer {
			return true
		}
	}
	return false
}
