package session

import "time"

// utteranceBuffer accumulates decoded PCM until a flush trigger fires:
// minimum size reached, hard maximum exceeded, or buffered data older than
// the age limit. Take clears unconditionally so an empty STT result can
// never leave bytes behind to grow without bound.
type utteranceBuffer struct {
	minBytes int
	maxBytes int
	maxAge   time.Duration
	now      func() time.Time

	buf       []byte
	lastFlush time.Time
}

func newUtteranceBuffer(minBytes, maxBytes int, maxAge time.Duration, now func() time.Time) *utteranceBuffer {
	if now == nil {
		now = time.Now
	}
	return &utteranceBuffer{
		minBytes:  minBytes,
		maxBytes:  maxBytes,
		maxAge:    maxAge,
		now:       now,
		lastFlush: now(),
	}
}

func (b *utteranceBuffer) feed(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	b.buf = append(b.buf, pcm...)
}

func (b *utteranceBuffer) len() int {
	return len(b.buf)
}

func (b *utteranceBuffer) shouldFlush() bool {
	if len(b.buf) == 0 {
		return false
	}
	if len(b.buf) >= b.minBytes {
		return true
	}
	if len(b.buf) >= b.maxBytes {
		return true
	}
	return b.now().Sub(b.lastFlush) > b.maxAge
}

// takeAndReset hands back the buffered audio and clears the buffer, marking
// a fresh flush window.
func (b *utteranceBuffer) takeAndReset() []byte {
	out := b.buf
	b.buf = nil
	b.lastFlush = b.now()
	return out
}
