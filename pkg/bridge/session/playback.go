package session

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/voxbridge/voxbridge/pkg/bridge/protocol"
)

// playback paces synthesized audio onto the transport: fixed-size mulaw
// frames with a small inter-frame delay so the transport's real-time buffer
// is never overrun. A single-flight guard drops a synthesis request that
// arrives while one is already streaming.
type playback struct {
	frameBytes int
	frameDelay time.Duration
	sleep      func(time.Duration)
	log        *slog.Logger

	ttsActive atomic.Bool
}

func newPlayback(frameBytes int, frameDelay time.Duration, log *slog.Logger) *playback {
	return &playback{
		frameBytes: frameBytes,
		frameDelay: frameDelay,
		sleep:      time.Sleep,
		log:        log,
	}
}

// TryAcquire takes the single-flight guard. Callers must Release in a defer
// so failure paths free the guard too.
func (p *playback) TryAcquire(sessionID string) bool {
	if !p.ttsActive.CompareAndSwap(false, true) {
		p.log.Warn("synthesis already active, dropping request", "session_id", sessionID)
		return false
	}
	return true
}

func (p *playback) Release() {
	p.ttsActive.Store(false)
}

// Stream splits mulaw audio into paced media frames addressed to streamID.
func (p *playback) Stream(streamID string, mulaw []byte, write func([]byte) error) error {
	for off := 0; off < len(mulaw); off += p.frameBytes {
		end := off + p.frameBytes
		if end > len(mulaw) {
			end = len(mulaw)
		}
		frame, err := protocol.EncodeMediaFrame(streamID, base64.StdEncoding.EncodeToString(mulaw[off:end]))
		if err != nil {
			return fmt.Errorf("encode media frame: %w", err)
		}
		if err := write(frame); err != nil {
			return fmt.Errorf("write media frame: %w", err)
		}
		if end < len(mulaw) && p.frameDelay > 0 {
			p.sleep(p.frameDelay)
		}
	}
	return nil
}

// sanitizeText scrubs agent output before synthesis: collapse whitespace,
// drop control characters, spell out &, <, > and guarantee terminal
// punctuation.
func sanitizeText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r == '&':
			b.WriteString(" and ")
		case r == '<':
			b.WriteString(" less than ")
		case r == '>':
			b.WriteString(" greater than ")
		case unicode.IsControl(r):
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	if out == "" {
		return ""
	}
	switch out[len(out)-1] {
	case '.', '!', '?':
		return out
	}
	return out + "."
}
