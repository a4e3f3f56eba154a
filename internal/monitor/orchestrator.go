// Package monitor implements the viewing station: it joins a room, opens a
// session to every camera, and maps each incoming feed onto a display slot.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/adapters/rtc"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/channels"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/core"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/peers"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/wire"
)

// ErrRoomFull is returned from Run when the server refuses the join.
var ErrRoomFull = errors.New("room full")

// Signaler is the slice of the signaling client the monitor needs.
// *sigclient.Client satisfies it.
type Signaler interface {
	Join(room domain.RoomID, cam domain.CamID)
	SendSignal(room domain.RoomID, target string, sig wire.Signal) error
	Incoming() <-chan wire.Envelope
	Close()
}

type Config struct {
	Room        domain.RoomID
	RTC         webrtc.Configuration
	ICEDebounce time.Duration
	Display     channels.Display
	SlotCount   int
	// Factory overrides the transport constructor; nil means pion.
	Factory peers.ConnFactory
}

// Monitor drives one viewing station against the signaling server. It is
// the answering side of every session; cameras offer, the monitor accepts
// and maps the feed to a slot.
type Monitor struct {
	client  Signaler
	room    domain.RoomID
	mgr     *peers.Manager
	alloc   *channels.Allocator
	display channels.Display

	mu   sync.Mutex
	cams map[domain.PeerID]domain.CamID
}

func New(ctx context.Context, client Signaler, cfg Config) *Monitor {
	display := cfg.Display
	if display == nil {
		display = channels.LogDisplay{}
	}
	factory := cfg.Factory
	if factory == nil {
		factory = func(remote domain.PeerID) (core.MediaConnection, error) {
			return rtc.NewWebRTCConnection(cfg.RTC, remote)
		}
	}
	m := &Monitor{
		client:  client,
		room:    cfg.Room,
		alloc:   channels.NewAllocator(cfg.SlotCount, display),
		display: display,
		cams:    make(map[domain.PeerID]domain.CamID),
	}
	m.mgr = peers.NewManager(ctx, peers.ManagerConfig{
		Factory:       factory,
		Out:           m,
		Debounce:      cfg.ICEDebounce,
		OnRemoteTrack: m.onRemoteTrack,
		OnClosed: func(remote domain.PeerID) {
			m.alloc.Release(remote)
		},
	})
	return m
}

// SendSignal implements peers.Sender over the signaling client.
func (m *Monitor) SendSignal(to domain.PeerID, sig wire.Signal) {
	if err := m.client.SendSignal(m.room, string(to), sig); err != nil {
		log.Error().Err(err).Str("module", "monitor").Str("to", string(to)).Msg("send signal")
	}
}

// Run joins the room and processes server traffic until ctx is cancelled or
// the connection drops.
func (m *Monitor) Run(ctx context.Context) error {
	m.client.Join(m.room, "")

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case env, ok := <-m.client.Incoming():
			if !ok {
				m.shutdown()
				return errors.New("signaling connection closed")
			}
			if err := m.handle(env); err != nil {
				m.shutdown()
				return err
			}
		}
	}
}

func (m *Monitor) handle(env wire.Envelope) error {
	switch env.Type {
	case wire.TypeCreated:
		log.Info().Str("module", "monitor").Str("room", string(env.Room)).Msg("room created")
	case wire.TypeJoined:
		log.Info().Str("module", "monitor").Str("room", string(env.Room)).Msg("room joined")
	case wire.TypeFull:
		log.Error().Str("module", "monitor").Str("room", string(env.Room)).Msg("room full")
		return ErrRoomFull
	case wire.TypeRoomInfo:
		m.onRoomInfo(env)
	case wire.TypePeerJoined:
		m.onPeerJoined(env)
	case wire.TypePeerLeft:
		m.mgr.Close(env.SocketID)
		m.forgetPeer(env.SocketID)
	case wire.TypeMessage:
		m.onMessage(env)
	case wire.TypeCleanupCam:
		if slot, ok := m.alloc.ReleaseCam(env.CamID); ok {
			log.Info().Str("module", "monitor").Str("cam", string(env.CamID)).Int("slot", slot).Msg("cam cleaned up")
		}
		m.forgetCam(env.CamID)
	case wire.TypePong:
		// keepalive reply, nothing to do
	default:
		log.Warn().Str("module", "monitor").Str("type", env.Type).Msg("unknown envelope")
	}
	return nil
}

// onRoomInfo absorbs the membership snapshot; the cam map is what lets a
// later track land on the right slot. Cameras present in the room will
// offer to us, so no sessions are opened here.
func (m *Monitor) onRoomInfo(env wire.Envelope) {
	m.mu.Lock()
	for peer, cam := range env.Cams {
		m.cams[peer] = cam
	}
	m.mu.Unlock()

	log.Info().Str("module", "monitor").Str("room", string(env.Room)).Int("total", env.TotalClients).Bool("initiator", env.IsInitiator).Msg("room info")
}

func (m *Monitor) onPeerJoined(env wire.Envelope) {
	m.mu.Lock()
	if env.CamID != "" {
		m.cams[env.SocketID] = env.CamID
	}
	m.mu.Unlock()

	log.Info().Str("module", "monitor").Str("peer", string(env.SocketID)).Str("cam", string(env.CamID)).Msg("peer joined")
}

func (m *Monitor) forgetPeer(peer domain.PeerID) {
	m.mu.Lock()
	delete(m.cams, peer)
	m.mu.Unlock()
}

func (m *Monitor) forgetCam(cam domain.CamID) {
	m.mu.Lock()
	for peer, c := range m.cams {
		if c == cam {
			delete(m.cams, peer)
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) onMessage(env wire.Envelope) {
	sig, err := wire.DecodeSignal(env.Message)
	if err != nil {
		log.Warn().Err(err).Str("module", "monitor").Str("from", string(env.From)).Msg("bad signal payload")
		return
	}

	switch v := sig.(type) {
	case wire.Offer:
		m.mgr.HandleOffer(env.From, v.SDP)
	case wire.Answer:
		m.mgr.HandleAnswer(env.From, v.SDP)
	case wire.Candidate:
		m.mgr.HandleCandidate(env.From, v)
	case wire.Bye:
		m.mgr.HandleBye(env.From)
		m.forgetPeer(env.From)
	case wire.MediaReady:
		log.Info().Str("module", "monitor").Str("from", string(env.From)).Msg("remote media ready")
	}
}

// onRemoteTrack binds the feed to a display slot. A known cam id keeps its
// previous slot across reconnects; a peer that never announced one falls
// back to its transport identity as the logical id.
func (m *Monitor) onRemoteTrack(remote domain.PeerID, track *webrtc.TrackRemote) {
	m.mu.Lock()
	cam := m.cams[remote]
	m.mu.Unlock()
	if cam == "" {
		cam = domain.CamID(remote)
	}

	// A second track from the same peer reuses its slot.
	if _, ok := m.alloc.SlotOf(remote); ok {
		go m.drainTrack(remote, track)
		return
	}

	if _, err := m.alloc.Assign(remote, cam); err != nil {
		if errors.Is(err, channels.ErrNoAvailableChannel) {
			log.Warn().Str("module", "monitor").Str("peer", string(remote)).Msg("no display slot available")
			m.display.Unavailable(remote)
			return
		}
		log.Error().Err(err).Str("module", "monitor").Str("peer", string(remote)).Msg("assign slot")
		return
	}

	go m.drainTrack(remote, track)
}

// drainTrack keeps the RTP flowing; the display layer only cares about slot
// occupancy, not the packets themselves.
func (m *Monitor) drainTrack(remote domain.PeerID, track *webrtc.TrackRemote) {
	if track == nil {
		return
	}
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			log.Info().Err(err).Str("module", "monitor").Str("peer", string(remote)).Msg("track ended")
			return
		}
	}
}

func (m *Monitor) shutdown() {
	m.mgr.CloseAll()
	m.client.Close()
}

// Slots exposes the allocator for status reporting.
func (m *Monitor) Slots() *channels.Allocator { return m.alloc }
