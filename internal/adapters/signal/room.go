package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/wire"
)

func (ctl *SignalWSController) handleJoin(peer domain.PeerID, conn *WsSignalConn, env wire.Envelope) {
	if env.Room == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if !ctl.Joins.Allow(peer) {
		log.Warn().Str("module", "signal").Str("peer", string(peer)).Str("room", string(env.Room)).Msg("join rate limited")
		ctl.sendError(conn, "too_many_join_attempts")
		return
	}

	log.Info().Str("module", "signal").Str("peer", string(peer)).Str("room", string(env.Room)).Str("cam", string(env.CamID)).Msg("join")
	ctl.Orch.OnJoin(peer, env.Room, env.CamID)
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, reason string) {
	b, err := json.Marshal(map[string]any{
		"type":  "error",
		"error": reason,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal error resp")
		return
	}
	_ = conn.TrySend(b)
}
