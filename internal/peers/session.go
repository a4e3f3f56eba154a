// Package peers runs the per-remote-peer connection lifecycle: creation,
// offer/answer negotiation, candidate exchange, failure-debounced teardown.
package peers

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/core"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
)

type State int

const (
	StateIdle State = iota
	StateOfferSent
	StateAnswerPending
	StateConnected
	StateRecovering
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer-sent"
	case StateAnswerPending:
		return "answer-pending"
	case StateConnected:
		return "connected"
	case StateRecovering:
		return "recovering"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session is on its way out; a terminal
// session is never reused and never accepts negotiation input.
func (s State) Terminal() bool { return s == StateClosing || s == StateClosed }

// Session is the per-remote negotiation state. All fields are guarded by
// the manager lock.
type Session struct {
	remote  domain.PeerID
	offerer bool
	mc      core.MediaConnection
	state   State

	// Candidates arriving before the remote description is set are
	// accumulated here and replayed once it lands.
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	// recoverTimer is armed while ICE is unhealthy; recovery cancels it.
	recoverTimer *time.Timer
}

func (s *Session) Remote() domain.PeerID { return s.remote }
func (s *Session) Offerer() bool         { return s.offerer }

func (s *Session) stopRecoveryLocked() {
	if s.recoverTimer != nil {
		s.recoverTimer.Stop()
		s.recoverTimer = nil
	}
}
