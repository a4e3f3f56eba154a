package sigclient

import (
	"testing"
	"time"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/wire"
)

func TestCloseIsIdempotent(t *testing.T) {
	c := NewClient("ws://localhost:8080/api/ws/signal")
	c.Close()
	c.Close()

	select {
	case <-c.done:
	default:
		t.Fatal("done must be closed after Close")
	}
}

func TestCloseUnblocksDeliver(t *testing.T) {
	c := NewClient("ws://localhost:8080/api/ws/signal")
	for i := 0; i < cap(c.incoming); i++ {
		c.incoming <- wire.Envelope{Type: wire.TypePong}
	}

	delivered := make(chan bool, 1)
	go func() {
		delivered <- c.deliver(wire.Envelope{Type: wire.TypePong})
	}()

	c.Close()
	select {
	case ok := <-delivered:
		if ok {
			t.Fatal("deliver=true, want false after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deliver still blocked after Close")
	}
}

func TestSendAfterCloseDoesNotBlock(t *testing.T) {
	c := NewClient("ws://localhost:8080/api/ws/signal")
	for i := 0; i < cap(c.outgoing); i++ {
		c.Send(wire.Envelope{Type: wire.TypePing})
	}
	c.Close()

	done := make(chan struct{})
	go func() {
		c.Send(wire.Envelope{Type: wire.TypePing})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send still blocked after Close")
	}
}
