// Package wire models the signaling protocol surface: the envelope peers
// exchange through the relay and the negotiation payload carried inside it.
// The server treats the payload as opaque; only the endpoints decode it.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
)

// TargetBroadcast addresses every room member except the sender.
const TargetBroadcast = "broadcast"

// Envelope event types.
const (
	TypeCreateOrJoin = "create-or-join"
	TypeCreated      = "created"
	TypeJoined       = "joined"
	TypeFull         = "full"
	TypeRoomInfo     = "room-info"
	TypePeerJoined   = "peer-joined"
	TypePeerLeft     = "peer-left"
	TypeMessage      = "message"
	TypeCleanupCam   = "cleanup-cam"
	TypeGetRoomInfo  = "getRoomInfo"
	TypePing         = "ping"
	TypePong         = "pong"
)

var (
	ErrUnknownMessage = errors.New("wire: unknown message tag")
	errMissingSDP     = errors.New("wire: missing sdp")
)

// Envelope is the outer signaling frame. Fields are sparse; which ones are
// set depends on Type.
type Envelope struct {
	Type string `json:"type"`

	Room  domain.RoomID `json:"room,omitempty"`
	CamID domain.CamID  `json:"camId,omitempty"`

	// create-or-join / message routing
	TargetID string          `json:"targetId,omitempty"`
	From     domain.PeerID   `json:"from,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`

	// room-info / peer-joined / peer-left
	SocketID     domain.PeerID                 `json:"socketId,omitempty"`
	Clients      []domain.PeerID               `json:"clients,omitempty"`
	Cams         map[domain.PeerID]domain.CamID `json:"cams,omitempty"`
	TotalClients int                           `json:"totalClients,omitempty"`
	IsInitiator  bool                          `json:"isInitiator,omitempty"`
}

// Signal is the closed union carried inside a message envelope.
// One of Offer, Answer, Candidate, Bye, MediaReady.
type Signal interface{ isSignal() }

type Offer struct {
	SDP string
}

type Answer struct {
	SDP string
}

// Candidate keeps the original field names: Label is the sdpMLineIndex and
// ID the sdpMid.
type Candidate struct {
	Candidate string
	Label     uint16
	ID        string
}

// Bye is an explicit teardown notice.
type Bye struct{}

// MediaReady announces that the sender's local media is available.
type MediaReady struct{}

func (Offer) isSignal()      {}
func (Answer) isSignal()     {}
func (Candidate) isSignal()  {}
func (Bye) isSignal()        {}
func (MediaReady) isSignal() {}

// The original protocol encodes Bye and MediaReady as bare JSON strings and
// the rest as tagged objects; both shapes are preserved here.
const (
	byeLiteral        = "bye"
	mediaReadyLiteral = "got user media"
)

type sdpBody struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type candidateBody struct {
	Type      string `json:"type"`
	Label     uint16 `json:"label"`
	ID        string `json:"id"`
	Candidate string `json:"candidate"`
}

// DecodeSignal parses a relay payload into the closed union. Unknown tags
// come back as ErrUnknownMessage; callers log and discard, never fall
// through silently.
func DecodeSignal(raw json.RawMessage) (Signal, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnknownMessage)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("wire: bad string payload: %w", err)
		}
		switch s {
		case byeLiteral:
			return Bye{}, nil
		case mediaReadyLiteral:
			return MediaReady{}, nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, s)
		}
	}

	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("wire: bad payload: %w", err)
	}

	switch tag.Type {
	case "offer":
		var b sdpBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("wire: bad offer: %w", err)
		}
		if b.SDP == "" {
			return nil, errMissingSDP
		}
		return Offer{SDP: b.SDP}, nil
	case "answer":
		var b sdpBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("wire: bad answer: %w", err)
		}
		if b.SDP == "" {
			return nil, errMissingSDP
		}
		return Answer{SDP: b.SDP}, nil
	case "candidate":
		var b candidateBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("wire: bad candidate: %w", err)
		}
		return Candidate{Candidate: b.Candidate, Label: b.Label, ID: b.ID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, tag.Type)
	}
}

// EncodeSignal is the inverse of DecodeSignal.
func EncodeSignal(s Signal) (json.RawMessage, error) {
	switch v := s.(type) {
	case Offer:
		return json.Marshal(sdpBody{Type: "offer", SDP: v.SDP})
	case Answer:
		return json.Marshal(sdpBody{Type: "answer", SDP: v.SDP})
	case Candidate:
		return json.Marshal(candidateBody{
			Type:      "candidate",
			Label:     v.Label,
			ID:        v.ID,
			Candidate: v.Candidate,
		})
	case Bye:
		return json.Marshal(byeLiteral)
	case MediaReady:
		return json.Marshal(mediaReadyLiteral)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, s)
	}
}

// Encode marshals an envelope for the write pump.
func Encode(env Envelope) (json.RawMessage, error) {
	return json.Marshal(env)
}

// Decode parses an envelope off the transport.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: bad envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: envelope without type", ErrUnknownMessage)
	}
	return env, nil
}
