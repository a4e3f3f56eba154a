package peers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/core"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/wire"
)

const DefaultICEDebounce = 3 * time.Second

var (
	// ErrDuplicateSession means a live session already exists for the
	// remote; the caller must reuse it, not race a second one.
	ErrDuplicateSession = errors.New("duplicate session")
	// ErrNegotiationMismatch means an answer arrived with no matching
	// offer in flight. Logged and discarded, never fatal.
	ErrNegotiationMismatch = errors.New("negotiation mismatch")
)

// Sender delivers an outbound negotiation payload to one remote peer.
type Sender interface {
	SendSignal(to domain.PeerID, sig wire.Signal)
}

// ConnFactory builds the transport-level connection for one remote.
type ConnFactory func(remote domain.PeerID) (core.MediaConnection, error)

type ManagerConfig struct {
	Factory  ConnFactory
	Out      Sender
	Debounce time.Duration
	// LocalTracks are attached to every new session (publisher side).
	LocalTracks []*webrtc.TrackLocalStaticRTP
	// OnRemoteTrack fires on the first media of a remote peer (monitor side).
	OnRemoteTrack func(remote domain.PeerID, track *webrtc.TrackRemote)
	// OnClosed fires after a session has been fully torn down.
	OnClosed func(remote domain.PeerID)
}

// Manager owns the live session set. Handlers re-check membership before
// applying any result that crossed an await point: a close can interleave
// with an in-flight negotiation, and a stale continuation must become a
// no-op instead of resurrecting freed state.
type Manager struct {
	cfg ManagerConfig
	ctx context.Context

	mu       sync.Mutex
	sessions map[domain.PeerID]*Session
}

func NewManager(ctx context.Context, cfg ManagerConfig) *Manager {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultICEDebounce
	}
	return &Manager{
		cfg:      cfg,
		ctx:      ctx,
		sessions: make(map[domain.PeerID]*Session),
	}
}

// Create builds a session for remote and, as offerer, starts negotiation
// immediately. A live session for the same remote is an ErrDuplicateSession.
func (m *Manager) Create(remote domain.PeerID, asOfferer bool) error {
	sess, err := m.createSession(remote, asOfferer)
	if err != nil {
		return err
	}
	if !asOfferer {
		return nil
	}

	offer, err := sess.mc.CreateAndSetOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "peers").Str("remote", string(remote)).Msg("create offer")
		m.Close(remote)
		return err
	}

	m.mu.Lock()
	if cur, ok := m.sessions[remote]; !ok || cur != sess {
		// Closed while the offer was being created.
		m.mu.Unlock()
		return nil
	}
	sess.state = StateOfferSent
	m.mu.Unlock()

	m.cfg.Out.SendSignal(remote, wire.Offer{SDP: offer.SDP})
	return nil
}

// HandleOffer answers a remote offer, creating the session first when none
// exists yet.
func (m *Manager) HandleOffer(remote domain.PeerID, sdp string) {
	m.mu.Lock()
	sess, ok := m.sessions[remote]
	m.mu.Unlock()

	if !ok {
		if err := m.Create(remote, false); err != nil {
			log.Error().Err(err).Str("module", "peers").Str("remote", string(remote)).Msg("create for offer")
			return
		}
		m.mu.Lock()
		sess = m.sessions[remote]
		m.mu.Unlock()
		if sess == nil {
			return
		}
	}

	answer, err := sess.mc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "peers").Str("remote", string(remote)).Msg("apply offer")
		m.Close(remote)
		return
	}

	m.mu.Lock()
	if cur, ok := m.sessions[remote]; !ok || cur != sess {
		m.mu.Unlock()
		log.Warn().Str("module", "peers").Str("remote", string(remote)).Msg("stale offer continuation discarded")
		return
	}
	sess.state = StateAnswerPending
	m.markRemoteSetLocked(sess)
	m.mu.Unlock()

	m.cfg.Out.SendSignal(remote, wire.Answer{SDP: answer.SDP})
}

// HandleAnswer completes an offer we sent. Anything else is a mismatch:
// logged, discarded, not fatal.
func (m *Manager) HandleAnswer(remote domain.PeerID, sdp string) {
	m.mu.Lock()
	sess, ok := m.sessions[remote]
	if !ok || sess.state != StateOfferSent {
		state := StateClosed
		if ok {
			state = sess.state
		}
		m.mu.Unlock()
		log.Warn().Str("module", "peers").Str("remote", string(remote)).Str("state", state.String()).Err(ErrNegotiationMismatch).Msg("answer discarded")
		return
	}
	m.mu.Unlock()

	if err := sess.mc.ApplyAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		log.Error().Err(err).Str("module", "peers").Str("remote", string(remote)).Msg("apply answer")
		m.Close(remote)
		return
	}

	m.mu.Lock()
	if cur, ok := m.sessions[remote]; !ok || cur != sess {
		m.mu.Unlock()
		log.Warn().Str("module", "peers").Str("remote", string(remote)).Msg("stale answer continuation discarded")
		return
	}
	sess.state = StateConnected
	m.markRemoteSetLocked(sess)
	m.mu.Unlock()
}

// HandleCandidate applies a remote candidate. Candidates for an absent
// session are dropped; inside a session they are buffered until the remote
// description is set.
func (m *Manager) HandleCandidate(remote domain.PeerID, cand wire.Candidate) {
	init := candidateInit(cand)

	m.mu.Lock()
	sess, ok := m.sessions[remote]
	if !ok || sess.state.Terminal() {
		m.mu.Unlock()
		log.Debug().Str("module", "peers").Str("remote", string(remote)).Msg("candidate without session dropped")
		return
	}
	if !sess.remoteSet {
		sess.pending = append(sess.pending, init)
		m.mu.Unlock()
		return
	}
	mc := sess.mc
	m.mu.Unlock()

	if err := mc.AddICECandidate(init); err != nil {
		log.Warn().Err(err).Str("module", "peers").Str("remote", string(remote)).Msg("add candidate")
	}
}

// HandleBye tears the session down on an explicit goodbye.
func (m *Manager) HandleBye(remote domain.PeerID) {
	m.Close(remote)
}

// Close tears down the session for remote: observers detached first so late
// callbacks cannot touch freed state, then the transport resource released,
// then the entry removed. Idempotent.
func (m *Manager) Close(remote domain.PeerID) {
	m.mu.Lock()
	sess, ok := m.sessions[remote]
	if !ok {
		m.mu.Unlock()
		return
	}
	sess.state = StateClosing
	sess.stopRecoveryLocked()
	delete(m.sessions, remote)
	m.mu.Unlock()

	sess.mc.OnICECandidate(nil)
	sess.mc.OnICEStateChange(nil)
	sess.mc.OnTrack(nil)
	sess.mc.Close()

	m.mu.Lock()
	sess.state = StateClosed
	m.mu.Unlock()

	log.Info().Str("module", "peers").Str("remote", string(remote)).Msg("session closed")
	if m.cfg.OnClosed != nil {
		m.cfg.OnClosed(remote)
	}
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	remotes := make([]domain.PeerID, 0, len(m.sessions))
	for r := range m.sessions {
		remotes = append(remotes, r)
	}
	m.mu.Unlock()
	for _, r := range remotes {
		m.Close(r)
	}
}

// StateOf reports the state of the session for remote, if any.
func (m *Manager) StateOf(remote domain.PeerID) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[remote]
	if !ok {
		return StateClosed, false
	}
	return sess.state, true
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) createSession(remote domain.PeerID, asOfferer bool) (*Session, error) {
	m.mu.Lock()
	if cur, ok := m.sessions[remote]; ok && !cur.state.Terminal() {
		m.mu.Unlock()
		return nil, ErrDuplicateSession
	}
	m.mu.Unlock()

	mc, err := m.cfg.Factory(remote)
	if err != nil {
		// Unable to construct a connection at all: fatal for this one
		// session, never for the process.
		return nil, err
	}

	sess := &Session{remote: remote, offerer: asOfferer, mc: mc, state: StateIdle}

	mc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		m.relayLocalCandidate(remote, ci)
	})
	mc.OnICEStateChange(func(s webrtc.ICEConnectionState) {
		m.onICEState(remote, s)
	})
	if m.cfg.OnRemoteTrack != nil {
		mc.OnTrack(func(_ context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			m.cfg.OnRemoteTrack(remote, track)
		})
	}
	for _, track := range m.cfg.LocalTracks {
		if _, err := mc.AddLocalTrack(track); err != nil {
			mc.Close()
			return nil, err
		}
	}
	if err := mc.Start(m.ctx); err != nil {
		mc.Close()
		return nil, err
	}

	m.mu.Lock()
	if cur, ok := m.sessions[remote]; ok && !cur.state.Terminal() {
		m.mu.Unlock()
		mc.Close()
		return nil, ErrDuplicateSession
	}
	m.sessions[remote] = sess
	m.mu.Unlock()

	log.Info().Str("module", "peers").Str("remote", string(remote)).Bool("offerer", asOfferer).Msg("session created")
	return sess, nil
}

// relayLocalCandidate forwards a gathered local candidate verbatim.
func (m *Manager) relayLocalCandidate(remote domain.PeerID, ci webrtc.ICECandidateInit) {
	m.mu.Lock()
	_, ok := m.sessions[remote]
	m.mu.Unlock()
	if !ok {
		return
	}
	cand := wire.Candidate{Candidate: ci.Candidate}
	if ci.SDPMLineIndex != nil {
		cand.Label = *ci.SDPMLineIndex
	}
	if ci.SDPMid != nil {
		cand.ID = *ci.SDPMid
	}
	m.cfg.Out.SendSignal(remote, cand)
}

// onICEState runs the failure debounce: failed/disconnected arms (or
// re-arms) a grace timer, a healthy transition cancels it, and a timer that
// fires while the session is still unhealthy forces teardown. Transient
// blips self-heal without a renegotiation storm.
func (m *Manager) onICEState(remote domain.PeerID, state webrtc.ICEConnectionState) {
	log.Info().Str("module", "peers").Str("remote", string(remote)).Str("ice_state", state.String()).Msg("ICE state")

	m.mu.Lock()
	sess, ok := m.sessions[remote]
	if !ok || sess.state.Terminal() {
		m.mu.Unlock()
		return
	}

	switch state {
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateDisconnected:
		sess.state = StateRecovering
		sess.stopRecoveryLocked()
		sess.recoverTimer = time.AfterFunc(m.cfg.Debounce, func() {
			m.onRecoveryExpired(remote, sess)
		})
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		sess.stopRecoveryLocked()
		sess.state = StateConnected
	}
	m.mu.Unlock()
}

func (m *Manager) onRecoveryExpired(remote domain.PeerID, armed *Session) {
	m.mu.Lock()
	sess, ok := m.sessions[remote]
	if !ok || sess != armed || sess.state != StateRecovering {
		// Recovered or already replaced; the timer is stale.
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	log.Warn().Str("module", "peers").Str("remote", string(remote)).Dur("debounce", m.cfg.Debounce).Msg("ICE did not recover, tearing down")
	m.Close(remote)
}

// markRemoteSetLocked flushes candidates buffered before the remote
// description landed.
func (m *Manager) markRemoteSetLocked(sess *Session) {
	sess.remoteSet = true
	pending := sess.pending
	sess.pending = nil
	if len(pending) == 0 {
		return
	}
	mc := sess.mc
	remote := sess.remote
	go func() {
		for _, ci := range pending {
			if err := mc.AddICECandidate(ci); err != nil {
				log.Warn().Err(err).Str("module", "peers").Str("remote", string(remote)).Msg("replay buffered candidate")
			}
		}
	}()
}

func candidateInit(c wire.Candidate) webrtc.ICECandidateInit {
	init := webrtc.ICECandidateInit{Candidate: c.Candidate}
	label := c.Label
	init.SDPMLineIndex = &label
	if c.ID != "" {
		id := c.ID
		init.SDPMid = &id
	}
	return init
}
