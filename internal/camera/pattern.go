package camera

import (
	"context"
	"math/rand"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	patternClockRate = 90000
	patternFrameRate = 30
	patternPayload   = 96
	patternFrameSize = 1100
)

// NewPatternTrack builds the local video track a camera publishes.
func NewPatternTrack(id string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		id,
	)
}

// PatternSource feeds a synthetic RTP stream into a local track, standing in
// for a real capture pipeline.
type PatternSource struct {
	track *webrtc.TrackLocalStaticRTP
	ssrc  uint32
	seq   uint16
	ts    uint32
}

func NewPatternSource(track *webrtc.TrackLocalStaticRTP) *PatternSource {
	return &PatternSource{
		track: track,
		ssrc:  rand.Uint32(),
		seq:   uint16(rand.Intn(1 << 16)),
		ts:    rand.Uint32(),
	}
}

// Run writes one frame per tick until ctx is cancelled. Write errors are
// expected while no session is up and are not fatal.
func (s *PatternSource) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / patternFrameRate)
	defer ticker.Stop()

	payload := make([]byte, patternFrameSize)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "camera").Msg("pattern source stopped")
			return
		case <-ticker.C:
			for i := range payload {
				payload[i] = byte(s.seq)
			}
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         true,
					PayloadType:    patternPayload,
					SequenceNumber: s.seq,
					Timestamp:      s.ts,
					SSRC:           s.ssrc,
				},
				Payload: payload,
			}
			if err := s.track.WriteRTP(pkt); err != nil {
				log.Debug().Err(err).Str("module", "camera").Msg("pattern write")
			}
			s.seq++
			s.ts += patternClockRate / patternFrameRate
		}
	}
}
