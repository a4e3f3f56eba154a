package monitor

import (
	"context"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/channels"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/core"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/wire"
)

type fakeSignaler struct {
	mu      sync.Mutex
	joined  []domain.RoomID
	signals []struct {
		target string
		sig    wire.Signal
	}
	in chan wire.Envelope
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{in: make(chan wire.Envelope, 16)}
}

func (f *fakeSignaler) Join(room domain.RoomID, _ domain.CamID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, room)
}

func (f *fakeSignaler) SendSignal(_ domain.RoomID, target string, sig wire.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, struct {
		target string
		sig    wire.Signal
	}{target, sig})
	return nil
}

func (f *fakeSignaler) Incoming() <-chan wire.Envelope { return f.in }
func (f *fakeSignaler) Close()                         {}

func (f *fakeSignaler) sentTo(target string) []wire.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wire.Signal
	for _, s := range f.signals {
		if s.target == target {
			out = append(out, s.sig)
		}
	}
	return out
}

type fakeMedia struct {
	mu      sync.Mutex
	closed  bool
	onTrack func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func (f *fakeMedia) Start(context.Context) error { return nil }

func (f *fakeMedia) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeMedia) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeMedia) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (f *fakeMedia) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "sdp-offer"}, nil
}

func (f *fakeMedia) ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "sdp-answer"}, nil
}

func (f *fakeMedia) ApplyAnswer(webrtc.SessionDescription) error { return nil }

func (f *fakeMedia) OnICECandidate(func(webrtc.ICECandidateInit))     {}
func (f *fakeMedia) OnICEStateChange(func(webrtc.ICEConnectionState)) {}

func (f *fakeMedia) OnTrack(cb func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	f.onTrack = cb
}

func (f *fakeMedia) AddLocalTrack(*webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	return nil, nil
}

func newMonitor(t *testing.T) (*Monitor, *fakeSignaler) {
	t.Helper()
	sig := newFakeSignaler()
	m := New(context.Background(), sig, Config{
		Room:      "r1",
		SlotCount: 3,
		Display:   channels.NopDisplay{},
		Factory: func(domain.PeerID) (core.MediaConnection, error) {
			return &fakeMedia{}, nil
		},
	})
	return m, sig
}

func TestRoomInfoRecordsCamMap(t *testing.T) {
	m, sig := newMonitor(t)

	if err := m.handle(wire.Envelope{
		Type:    wire.TypeRoomInfo,
		Room:    "r1",
		Clients: []domain.PeerID{"cam-a", "cam-b"},
		Cams: map[domain.PeerID]domain.CamID{
			"cam-a": "front-door",
			"cam-b": "backyard",
		},
	}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cams["cam-a"] != "front-door" || m.cams["cam-b"] != "backyard" {
		t.Errorf("cams=%v, want front-door and backyard recorded", m.cams)
	}
	// The monitor answers, it never opens sessions on a snapshot.
	sig.mu.Lock()
	sent := len(sig.signals)
	sig.mu.Unlock()
	if sent != 0 {
		t.Errorf("signals=%d, want 0", sent)
	}
}

func TestOfferFromCameraIsAnswered(t *testing.T) {
	m, sig := newMonitor(t)

	payload, err := wire.EncodeSignal(wire.Offer{SDP: "camera-offer"})
	if err != nil {
		t.Fatalf("EncodeSignal: %v", err)
	}
	_ = m.handle(wire.Envelope{Type: wire.TypeMessage, From: "cam-a", Message: payload})

	got := sig.sentTo("cam-a")
	if len(got) != 1 {
		t.Fatalf("signals to cam-a=%d, want 1", len(got))
	}
	if _, ok := got[0].(wire.Answer); !ok {
		t.Errorf("signal=%T, want wire.Answer", got[0])
	}
}

func TestPeerJoinedRecordsCam(t *testing.T) {
	m, sig := newMonitor(t)

	_ = m.handle(wire.Envelope{Type: wire.TypePeerJoined, Room: "r1", SocketID: "cam-a", CamID: "front-door"})

	m.mu.Lock()
	cam := m.cams["cam-a"]
	m.mu.Unlock()
	if cam != "front-door" {
		t.Errorf("cam=%q, want %q", cam, "front-door")
	}
	sig.mu.Lock()
	sent := len(sig.signals)
	sig.mu.Unlock()
	if sent != 0 {
		t.Errorf("signals=%d, want 0", sent)
	}
}

func TestFullRoomStopsRun(t *testing.T) {
	m, _ := newMonitor(t)

	err := m.handle(wire.Envelope{Type: wire.TypeFull, Room: "r1"})
	if err != ErrRoomFull {
		t.Fatalf("err=%v, want ErrRoomFull", err)
	}
}

func TestPeerLeftClosesSessionAndFreesSlot(t *testing.T) {
	m, _ := newMonitor(t)

	offer, err := wire.EncodeSignal(wire.Offer{SDP: "camera-offer"})
	if err != nil {
		t.Fatalf("EncodeSignal: %v", err)
	}
	_ = m.handle(wire.Envelope{Type: wire.TypePeerJoined, Room: "r1", SocketID: "cam-a", CamID: "front-door"})
	_ = m.handle(wire.Envelope{Type: wire.TypeMessage, From: "cam-a", Message: offer})

	if _, err := m.alloc.Assign("cam-a", "front-door"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	_ = m.handle(wire.Envelope{Type: wire.TypePeerLeft, Room: "r1", SocketID: "cam-a"})

	if _, ok := m.mgr.StateOf("cam-a"); ok {
		t.Fatal("session survived peer-left")
	}
	if _, ok := m.alloc.SlotOf("cam-a"); ok {
		t.Fatal("slot survived peer-left")
	}
}

func TestPeerLeftForgetsCamMapping(t *testing.T) {
	m, _ := newMonitor(t)

	_ = m.handle(wire.Envelope{Type: wire.TypePeerJoined, Room: "r1", SocketID: "cam-a", CamID: "front-door"})
	_ = m.handle(wire.Envelope{Type: wire.TypePeerLeft, Room: "r1", SocketID: "cam-a"})

	m.mu.Lock()
	_, ok := m.cams["cam-a"]
	m.mu.Unlock()
	if ok {
		t.Fatal("cam mapping survived peer-left")
	}
}

func TestByeForgetsCamMapping(t *testing.T) {
	m, _ := newMonitor(t)

	bye, err := wire.EncodeSignal(wire.Bye{})
	if err != nil {
		t.Fatalf("EncodeSignal: %v", err)
	}
	_ = m.handle(wire.Envelope{Type: wire.TypePeerJoined, Room: "r1", SocketID: "cam-a", CamID: "front-door"})
	_ = m.handle(wire.Envelope{Type: wire.TypeMessage, From: "cam-a", Message: bye})

	m.mu.Lock()
	_, ok := m.cams["cam-a"]
	m.mu.Unlock()
	if ok {
		t.Fatal("cam mapping survived bye")
	}
}

func TestCleanupCamForgetsMapping(t *testing.T) {
	m, _ := newMonitor(t)

	_ = m.handle(wire.Envelope{Type: wire.TypePeerJoined, Room: "r1", SocketID: "cam-a", CamID: "front-door"})
	_ = m.handle(wire.Envelope{Type: wire.TypeCleanupCam, Room: "r1", CamID: "front-door"})

	m.mu.Lock()
	_, ok := m.cams["cam-a"]
	m.mu.Unlock()
	if ok {
		t.Fatal("cam mapping survived cleanup-cam")
	}
}

func TestCleanupCamFreesSlotByLogicalID(t *testing.T) {
	m, _ := newMonitor(t)

	if _, err := m.alloc.Assign("cam-a", "front-door"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	_ = m.handle(wire.Envelope{Type: wire.TypeCleanupCam, Room: "r1", CamID: "front-door"})

	if n := m.alloc.Active(); n != 0 {
		t.Fatalf("Active=%d, want 0 after cleanup-cam", n)
	}
}

type unavailableRecorder struct {
	channels.NopDisplay
	mu    sync.Mutex
	peers []domain.PeerID
}

func (r *unavailableRecorder) Unavailable(peer domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = append(r.peers, peer)
}

func TestTrackWithoutCamBindsTransportID(t *testing.T) {
	m, _ := newMonitor(t)

	m.onRemoteTrack("anon-1", nil)

	if _, ok := m.alloc.SlotOf("anon-1"); !ok {
		t.Fatalf("SlotOf(anon-1) ok=false, want slot assigned")
	}
	m.alloc.ReleaseCam("anon-1")
	if _, ok := m.alloc.SlotOf("anon-1"); ok {
		t.Fatalf("SlotOf(anon-1) ok=true after ReleaseCam, want released")
	}
}

func TestTrackWithoutFreeSlotReportsUnavailable(t *testing.T) {
	rec := &unavailableRecorder{}
	sig := newFakeSignaler()
	m := New(context.Background(), sig, Config{
		Room:      "r1",
		SlotCount: 1,
		Display:   rec,
		Factory: func(domain.PeerID) (core.MediaConnection, error) {
			return &fakeMedia{}, nil
		},
	})

	if _, err := m.alloc.Assign("cam-a", "front-door"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	m.onRemoteTrack("cam-b", nil)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.peers) != 1 || rec.peers[0] != "cam-b" {
		t.Fatalf("unavailable=%v, want [cam-b]", rec.peers)
	}
}

func TestByeMessageClosesSession(t *testing.T) {
	m, _ := newMonitor(t)

	offer, err := wire.EncodeSignal(wire.Offer{SDP: "camera-offer"})
	if err != nil {
		t.Fatalf("EncodeSignal: %v", err)
	}
	_ = m.handle(wire.Envelope{Type: wire.TypePeerJoined, Room: "r1", SocketID: "cam-a"})
	_ = m.handle(wire.Envelope{Type: wire.TypeMessage, From: "cam-a", Message: offer})

	payload, err := wire.EncodeSignal(wire.Bye{})
	if err != nil {
		t.Fatalf("EncodeSignal: %v", err)
	}
	_ = m.handle(wire.Envelope{Type: wire.TypeMessage, From: "cam-a", Message: payload})

	if _, ok := m.mgr.StateOf("cam-a"); ok {
		t.Fatal("session survived bye")
	}
}
