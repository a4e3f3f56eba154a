// Package sigclient is the client side of the signaling protocol: a
// WebSocket connection to the server plus typed helpers for the envelope
// traffic the camera and monitor binaries exchange.
package sigclient

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	incoming  chan wire.Envelope
	outgoing  chan wire.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		incoming:  make(chan wire.Envelope, 16),
		outgoing:  make(chan wire.Envelope, 16),
		done:      make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := wire.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "sigclient").Msg("bad envelope")
			continue
		}
		if !c.deliver(env) {
			return
		}
	}
}

// deliver hands an envelope to the consumer. It reports false once the
// client is closed, so a pump never parks on a channel nobody drains.
func (c *Client) deliver(env wire.Envelope) bool {
	select {
	case c.incoming <- env:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			b, err := wire.Encode(env)
			if err != nil {
				log.Error().Err(err).Str("module", "sigclient").Msg("encode envelope")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send queues an envelope for the write pump.
func (c *Client) Send(env wire.Envelope) {
	select {
	case c.outgoing <- env:
	case <-c.done:
	}
}

// Join sends create-or-join for room, announcing cam when non-empty.
func (c *Client) Join(room domain.RoomID, cam domain.CamID) {
	c.Send(wire.Envelope{Type: wire.TypeCreateOrJoin, Room: room, CamID: cam})
}

// SendSignal wraps a negotiation payload in a message envelope addressed to
// one peer, or to the whole room via wire.TargetBroadcast.
func (c *Client) SendSignal(room domain.RoomID, target string, sig wire.Signal) error {
	payload, err := wire.EncodeSignal(sig)
	if err != nil {
		return err
	}
	c.Send(wire.Envelope{
		Type:     wire.TypeMessage,
		Room:     room,
		TargetID: target,
		Message:  payload,
	})
	return nil
}

// RequestRoomInfo asks the server for a fresh membership snapshot.
func (c *Client) RequestRoomInfo(room domain.RoomID) {
	c.Send(wire.Envelope{Type: wire.TypeGetRoomInfo, Room: room})
}

// CleanupCam notifies the room that a logical camera is going away.
func (c *Client) CleanupCam(room domain.RoomID, cam domain.CamID) {
	c.Send(wire.Envelope{Type: wire.TypeCleanupCam, Room: room, CamID: cam})
}

// Incoming returns the channel of decoded server envelopes. It closes when
// the connection drops.
func (c *Client) Incoming() <-chan wire.Envelope {
	return c.incoming
}

// Close shuts the connection down and releases the pumps. Safe to call
// more than once and from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
