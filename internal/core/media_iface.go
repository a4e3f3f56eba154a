package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaConnection wraps one transport-level peer connection. The session
// state machine drives it and never touches pion directly.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources. Idempotent.
	Close()
	IsClosed() bool
	// AddICECandidate applies a remote ICE candidate. The remote
	// description must already be set.
	AddICECandidate(webrtc.ICECandidateInit) error
	// CreateAndSetOffer produces the local offer without waiting for
	// candidate gathering (trickle).
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// ApplyOfferAndCreateAnswer sets the remote offer and produces the
	// local answer.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// ApplyAnswer sets the remote answer on an offering connection.
	ApplyAnswer(webrtc.SessionDescription) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnICEStateChange sets a callback for ICE connection health transitions.
	OnICEStateChange(func(webrtc.ICEConnectionState))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// AddLocalTrack attaches a local static RTP track to the underlying PeerConnection.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
}
