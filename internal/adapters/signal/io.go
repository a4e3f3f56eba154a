package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/core"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/wire"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, peer domain.PeerID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(peer)).Msg("readPump closing")
		cancel()
		ctl.Orch.OnDisconnect(peer)
		ctl.Joins.Forget(peer)
		c.Close()
	}()

	pongWait := ctl.PingPeriod + writeWait
	c.conn.SetReadLimit(ctl.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("peer", string(peer)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("peer", string(peer)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(peer, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(peer domain.PeerID, c *WsSignalConn, data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad envelope")
		return
	}

	switch env.Type {
	case wire.TypeCreateOrJoin:
		ctl.handleJoin(peer, c, env)
	case wire.TypeMessage:
		ctl.Orch.OnMessage(peer, env)
	case wire.TypeGetRoomInfo:
		ctl.Orch.OnRoomInfo(peer, env.Room)
	case wire.TypeCleanupCam:
		ctl.Orch.OnCleanupCam(peer, env.Room, env.CamID)
	case wire.TypePing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	ctl.sendEnvelope(c, wire.Envelope{Type: wire.TypePong})
}

func (ctl *SignalWSController) sendEnvelope(c *WsSignalConn, env wire.Envelope) {
	b, err := wire.Encode(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode envelope")
		return
	}
	_ = c.TrySend(core.Frame(b))
}
