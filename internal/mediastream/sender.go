package mediastream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/aicc/internal/audio"
	"github.com/ent0n29/aicc/internal/observability"
	"github.com/ent0n29/aicc/internal/protocol"
)

var (
	ErrSocketClosed = errors.New("carrier socket closed")
	ErrNoStream     = errors.New("carrier stream id not assigned")
)

// Outlet is the write side of a carrier socket.
type Outlet interface {
	WriteJSON(v any) error
	Alive() bool
}

// Sender writes linear PCM to the carrier as paced mu-law media frames.
type Sender struct {
	// ChunkBytes is the PCM16LE size of one outbound frame.
	ChunkBytes int
	// Pacing is the delay between consecutive frames.
	Pacing  time.Duration
	Metrics *observability.Metrics
}

// Send splits pcm into frames and writes them in order. It stops at the
// first dead socket or write error and reports how many frames went out;
// the remainder is dropped.
func (s *Sender) Send(ctx context.Context, streamSID string, pcm []byte, out Outlet) (int, error) {
	if streamSID == "" {
		return 0, ErrNoStream
	}
	chunk := s.ChunkBytes &^ 1
	if chunk <= 0 {
		chunk = audio.PCM16Bytes(250*time.Millisecond, audio.TelephonySampleRate)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	sent := 0
	for off := 0; off+1 < len(pcm); off += chunk {
		if sent > 0 && s.Pacing > 0 {
			if timer == nil {
				timer = time.NewTimer(s.Pacing)
			} else {
				timer.Reset(s.Pacing)
			}
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-timer.C:
			}
		}
		if !out.Alive() {
			return sent, ErrSocketClosed
		}

		end := min(off+chunk, len(pcm))
		msg := protocol.NewOutboundMedia(streamSID, audio.PCM16LEToMulaw(pcm[off:end]))
		if err := out.WriteJSON(msg); err != nil {
			return sent, fmt.Errorf("write media frame %d: %w", sent, err)
		}
		sent++
		s.Metrics.AddOutboundChunks(1)
	}
	return sent, nil
}
