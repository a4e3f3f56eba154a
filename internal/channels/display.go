package channels

import (
	"github.com/rs/zerolog/log"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
)

// Display is the narrow surface the grid renderer implements. Rendering is
// an external collaborator; the allocator only reports binding changes.
type Display interface {
	Bind(slot int, peer domain.PeerID, cam domain.CamID)
	Clear(slot int)
	// Unavailable reports a peer that could not be given a slot so the UI
	// can show an explicit unavailable state instead of silently dropping it.
	Unavailable(peer domain.PeerID)
}

type NopDisplay struct{}

func (NopDisplay) Bind(int, domain.PeerID, domain.CamID) {}
func (NopDisplay) Clear(int)                             {}
func (NopDisplay) Unavailable(domain.PeerID)             {}

// LogDisplay is the headless monitor's renderer.
type LogDisplay struct{}

func (LogDisplay) Bind(slot int, peer domain.PeerID, cam domain.CamID) {
	log.Info().Str("module", "display").Int("slot", slot).Str("peer", string(peer)).Str("cam", string(cam)).Msg("CONNECTED")
}

func (LogDisplay) Clear(slot int) {
	log.Info().Str("module", "display").Int("slot", slot).Msg("DISCONNECTED")
}

func (LogDisplay) Unavailable(peer domain.PeerID) {
	log.Warn().Str("module", "display").Str("peer", string(peer)).Msg("UNAVAILABLE: no free channel")
}
