package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/core"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
)

// MemberLister is the membership view the relay needs for broadcasts.
type MemberLister interface {
	Members(domain.RoomID) []domain.PeerID
}

// Relay delivers opaque signaling frames. Fire-and-forget: a frame for an
// absent or saturated target is dropped, never retried. Per-target order is
// preserved by the single write pump behind each SignalConnection.
type Relay struct {
	mu    sync.RWMutex
	conns map[domain.PeerID]core.SignalConnection
	rooms MemberLister
}

func NewRelay(rooms MemberLister) *Relay {
	return &Relay{
		conns: make(map[domain.PeerID]core.SignalConnection),
		rooms: rooms,
	}
}

func (r *Relay) Register(peer domain.PeerID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[peer] = conn
	log.Info().Str("module", "app.relay").Str("peer", string(peer)).Msg("registered")
}

func (r *Relay) Unregister(peer domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, peer)
	log.Info().Str("module", "app.relay").Str("peer", string(peer)).Msg("unregistered")
}

func (r *Relay) Connected(peer domain.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[peer]
	return ok
}

// Send delivers to exactly one peer if it is currently connected.
func (r *Relay) Send(peer domain.PeerID, f core.Frame) {
	r.mu.RLock()
	conn, ok := r.conns[peer]
	r.mu.RUnlock()
	if !ok {
		log.Debug().Str("module", "app.relay").Str("peer", string(peer)).Msg("send to absent peer dropped")
		return
	}
	if err := conn.TrySend(f); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("peer", string(peer)).Msg("send dropped")
	}
}

// Broadcast delivers to every room member except exclude. Returns the
// number of successful deliveries.
func (r *Relay) Broadcast(room domain.RoomID, f core.Frame, exclude domain.PeerID) int {
	members := r.rooms.Members(room)

	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for _, peer := range members {
		if peer == exclude {
			continue
		}
		conn, ok := r.conns[peer]
		if !ok {
			continue
		}
		if err := conn.TrySend(f); err != nil {
			log.Warn().Err(err).Str("module", "app.relay").Str("peer", string(peer)).Msg("broadcast send dropped")
			continue
		}
		sent++
	}
	log.Debug().Str("module", "app.relay").Str("room", string(room)).Int("sent_to", sent).Msg("broadcast")
	return sent
}
