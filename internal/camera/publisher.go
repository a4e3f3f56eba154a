// Package camera implements the publishing endpoint: it joins a room under
// a stable cam id, negotiates a session per viewer, and streams its local
// track into every one of them.
package camera

import (
	"context"
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/adapters/rtc"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/core"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/peers"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/wire"
)

// ErrRoomFull is returned from Run when the server refuses the join.
var ErrRoomFull = errors.New("room full")

// Signaler is the slice of the signaling client the publisher needs.
// *sigclient.Client satisfies it.
type Signaler interface {
	Join(room domain.RoomID, cam domain.CamID)
	SendSignal(room domain.RoomID, target string, sig wire.Signal) error
	CleanupCam(room domain.RoomID, cam domain.CamID)
	Incoming() <-chan wire.Envelope
	Close()
}

type Config struct {
	Room        domain.RoomID
	Cam         domain.CamID
	RTC         webrtc.Configuration
	ICEDebounce time.Duration
	Track       *webrtc.TrackLocalStaticRTP
	// Factory overrides the transport constructor; nil means pion.
	Factory peers.ConnFactory
}

// Publisher drives one camera endpoint against the signaling server.
// Cameras are the offering side: they open a session to every viewer and
// never to each other, so no two peers ever offer simultaneously.
type Publisher struct {
	client Signaler
	room   domain.RoomID
	cam    domain.CamID
	mgr    *peers.Manager
}

func New(ctx context.Context, client Signaler, cfg Config) *Publisher {
	factory := cfg.Factory
	if factory == nil {
		factory = func(remote domain.PeerID) (core.MediaConnection, error) {
			return rtc.NewWebRTCConnection(cfg.RTC, remote)
		}
	}
	p := &Publisher{
		client: client,
		room:   cfg.Room,
		cam:    cfg.Cam,
	}
	mcfg := peers.ManagerConfig{
		Factory:  factory,
		Out:      p,
		Debounce: cfg.ICEDebounce,
	}
	if cfg.Track != nil {
		mcfg.LocalTracks = []*webrtc.TrackLocalStaticRTP{cfg.Track}
	}
	p.mgr = peers.NewManager(ctx, mcfg)
	return p
}

// SendSignal implements peers.Sender over the signaling client.
func (p *Publisher) SendSignal(to domain.PeerID, sig wire.Signal) {
	if err := p.client.SendSignal(p.room, string(to), sig); err != nil {
		log.Error().Err(err).Str("module", "camera").Str("to", string(to)).Msg("send signal")
	}
}

// Run joins the room under the cam id and processes server traffic until
// ctx is cancelled or the connection drops. On the way out it announces the
// teardown so viewers can free the slot immediately.
func (p *Publisher) Run(ctx context.Context) error {
	p.client.Join(p.room, p.cam)

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return ctx.Err()
		case env, ok := <-p.client.Incoming():
			if !ok {
				p.shutdown()
				return errors.New("signaling connection closed")
			}
			if err := p.handle(env); err != nil {
				p.shutdown()
				return err
			}
		}
	}
}

func (p *Publisher) handle(env wire.Envelope) error {
	switch env.Type {
	case wire.TypeCreated:
		log.Info().Str("module", "camera").Str("room", string(env.Room)).Msg("room created")
		p.announceMedia()
	case wire.TypeJoined:
		log.Info().Str("module", "camera").Str("room", string(env.Room)).Msg("room joined")
		p.announceMedia()
	case wire.TypeFull:
		log.Error().Str("module", "camera").Str("room", string(env.Room)).Msg("room full")
		return ErrRoomFull
	case wire.TypeRoomInfo:
		p.onRoomInfo(env)
	case wire.TypePeerJoined:
		p.onPeerJoined(env)
	case wire.TypePeerLeft:
		p.mgr.Close(env.SocketID)
	case wire.TypeMessage:
		p.onMessage(env)
	case wire.TypeCleanupCam, wire.TypePong:
		// not the camera's concern
	default:
		log.Warn().Str("module", "camera").Str("type", env.Type).Msg("unknown envelope")
	}
	return nil
}

// announceMedia tells the room the local track is live.
func (p *Publisher) announceMedia() {
	if err := p.client.SendSignal(p.room, wire.TargetBroadcast, wire.MediaReady{}); err != nil {
		log.Error().Err(err).Str("module", "camera").Msg("announce media")
	}
}

// onRoomInfo opens an offering session to every viewer already present.
// Members announced with a cam id are other cameras and are skipped.
func (p *Publisher) onRoomInfo(env wire.Envelope) {
	log.Info().Str("module", "camera").Str("room", string(env.Room)).Int("total", env.TotalClients).Msg("room info")

	for _, peer := range env.Clients {
		if _, isCamera := env.Cams[peer]; isCamera {
			continue
		}
		p.offer(peer)
	}
}

// onPeerJoined offers to a joining viewer. A newcomer carrying a cam id is
// another camera and gets no session.
func (p *Publisher) onPeerJoined(env wire.Envelope) {
	log.Info().Str("module", "camera").Str("peer", string(env.SocketID)).Str("cam", string(env.CamID)).Msg("peer joined")

	if env.CamID != "" {
		return
	}
	p.offer(env.SocketID)
}

func (p *Publisher) offer(peer domain.PeerID) {
	if _, ok := p.mgr.StateOf(peer); ok {
		return
	}
	if err := p.mgr.Create(peer, true); err != nil && !errors.Is(err, peers.ErrDuplicateSession) {
		log.Error().Err(err).Str("module", "camera").Str("peer", string(peer)).Msg("offer to viewer")
	}
}

func (p *Publisher) onMessage(env wire.Envelope) {
	sig, err := wire.DecodeSignal(env.Message)
	if err != nil {
		log.Warn().Err(err).Str("module", "camera").Str("from", string(env.From)).Msg("bad signal payload")
		return
	}

	switch v := sig.(type) {
	case wire.Offer:
		p.mgr.HandleOffer(env.From, v.SDP)
	case wire.Answer:
		p.mgr.HandleAnswer(env.From, v.SDP)
	case wire.Candidate:
		p.mgr.HandleCandidate(env.From, v)
	case wire.Bye:
		p.mgr.HandleBye(env.From)
	case wire.MediaReady:
		log.Debug().Str("module", "camera").Str("from", string(env.From)).Msg("remote media ready")
	}
}

func (p *Publisher) shutdown() {
	if p.cam != "" {
		p.client.CleanupCam(p.room, p.cam)
	}
	if err := p.client.SendSignal(p.room, wire.TargetBroadcast, wire.Bye{}); err != nil {
		log.Debug().Err(err).Str("module", "camera").Msg("broadcast bye")
	}
	p.mgr.CloseAll()
	p.client.Close()
}
