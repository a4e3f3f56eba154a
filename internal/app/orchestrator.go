package app

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/core"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/wire"
)

// Orchestrator is the server-side coordinator: it turns transport events
// into registry mutations and relay traffic, in that order.
type Orchestrator struct {
	Registry *Registry
	Relay    *Relay
}

func NewOrchestrator(reg *Registry, relay *Relay) *Orchestrator {
	return &Orchestrator{Registry: reg, Relay: relay}
}

func (o *Orchestrator) OnConnect(peer domain.PeerID, conn core.SignalConnection) {
	o.Relay.Register(peer, conn)
}

// OnJoin runs the create-or-join flow: capacity-checked join, peer-joined
// broadcast to the pre-existing members, then room-info and created/joined
// to the joiner. A full room gets only a full notice.
func (o *Orchestrator) OnJoin(peer domain.PeerID, roomID domain.RoomID, cam domain.CamID) {
	if err := domain.ValidCamID(cam); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("peer", string(peer)).Msg("cam id rejected")
		cam = ""
	}

	snap, err := o.Registry.JoinOrCreate(roomID, peer, cam)
	if errors.Is(err, ErrRoomFull) {
		o.send(peer, wire.Envelope{Type: wire.TypeFull, Room: roomID})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("peer", string(peer)).Msg("join failed")
		return
	}

	if !snap.Rejoined {
		o.broadcast(roomID, wire.Envelope{
			Type:         wire.TypePeerJoined,
			Room:         roomID,
			SocketID:     peer,
			CamID:        cam,
			TotalClients: snap.Total,
		}, peer)
	}

	o.send(peer, roomInfoEnvelope(snap))

	if snap.IsInitiator {
		o.send(peer, wire.Envelope{Type: wire.TypeCreated, Room: roomID})
	} else {
		o.send(peer, wire.Envelope{Type: wire.TypeJoined, Room: roomID})
	}
}

// OnMessage forwards a relay envelope, stamping the sender. The payload is
// opaque here; only the endpoints decode it.
func (o *Orchestrator) OnMessage(from domain.PeerID, env wire.Envelope) {
	out := wire.Envelope{Type: wire.TypeMessage, From: from, Message: env.Message}

	// No target means the whole room, as does the explicit sentinel.
	if env.TargetID == "" || env.TargetID == wire.TargetBroadcast {
		o.broadcast(env.Room, out, from)
		return
	}
	o.send(domain.PeerID(env.TargetID), out)
}

// OnRoomInfo answers an explicit re-sync request without mutating
// membership or initiator status.
func (o *Orchestrator) OnRoomInfo(peer domain.PeerID, roomID domain.RoomID) {
	snap, ok := o.Registry.Snapshot(roomID, peer)
	if !ok {
		log.Warn().Str("module", "app.orch").Str("room", string(roomID)).Str("peer", string(peer)).Msg("room info for unknown room")
		return
	}
	o.send(peer, roomInfoEnvelope(snap))
}

// OnCleanupCam forwards a best-effort logical-camera teardown hint to the
// room. It is non-authoritative and touches no registry state.
func (o *Orchestrator) OnCleanupCam(peer domain.PeerID, roomID domain.RoomID, cam domain.CamID) {
	if cam == "" {
		return
	}
	o.broadcast(roomID, wire.Envelope{
		Type:     wire.TypeCleanupCam,
		Room:     roomID,
		SocketID: peer,
		CamID:    cam,
	}, peer)
}

// OnDisconnect removes the peer from every room and notifies the remaining
// members, then drops its relay registration.
func (o *Orchestrator) OnDisconnect(peer domain.PeerID) {
	for _, dep := range o.Registry.LeaveAll(peer) {
		o.broadcast(dep.Room, wire.Envelope{
			Type:         wire.TypePeerLeft,
			Room:         dep.Room,
			SocketID:     peer,
			TotalClients: dep.Remaining,
		}, peer)
	}
	o.Relay.Unregister(peer)
}

func roomInfoEnvelope(snap Snapshot) wire.Envelope {
	return wire.Envelope{
		Type:         wire.TypeRoomInfo,
		Room:         snap.Room,
		Clients:      snap.Others,
		Cams:         snap.Cams,
		TotalClients: snap.Total,
		IsInitiator:  snap.IsInitiator,
	}
}

func (o *Orchestrator) send(peer domain.PeerID, env wire.Envelope) {
	f, err := wire.Encode(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Msg("encode envelope")
		return
	}
	o.Relay.Send(peer, core.Frame(f))
}

func (o *Orchestrator) broadcast(room domain.RoomID, env wire.Envelope, exclude domain.PeerID) {
	f, err := wire.Encode(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Msg("encode envelope")
		return
	}
	o.Relay.Broadcast(room, core.Frame(f), exclude)
}
