package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Flusher batches a session's pending writes and commits them in one
// transaction per session, on a fixed interval and once more at teardown.
// Queues are cleared only after a committed write, so a failed flush retries
// the same records on the next tick (at-least-once).
type Flusher struct {
	store    Store
	interval time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionQueue
}

type sessionQueue struct {
	mu   sync.Mutex
	rec  *CallRecord
	msgs []*TranscriptMessage
}

func NewFlusher(store Store, interval time.Duration, log *slog.Logger) *Flusher {
	return &Flusher{
		store:    store,
		interval: interval,
		log:      log,
		sessions: make(map[string]*sessionQueue),
	}
}

func (f *Flusher) queue(sessionID string) *sessionQueue {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.sessions[sessionID]
	if !ok {
		q = &sessionQueue{}
		f.sessions[sessionID] = q
	}
	return q
}

// Track records the call record snapshot to write on the next flush.
func (f *Flusher) Track(sessionID string, rec *CallRecord) {
	q := f.queue(sessionID)
	q.mu.Lock()
	q.rec = rec
	q.mu.Unlock()
}

// Enqueue appends a transcript message to the session's pending queue.
func (f *Flusher) Enqueue(sessionID string, msg *TranscriptMessage) {
	q := f.queue(sessionID)
	q.mu.Lock()
	q.msgs = append(q.msgs, msg)
	q.mu.Unlock()
}

// Flush writes the session's pending records under its exclusive lock. The
// queue is cleared only when the transaction commits.
func (f *Flusher) Flush(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	q, ok := f.sessions[sessionID]
	f.mu.Unlock()
	if !ok {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.rec == nil && len(q.msgs) == 0 {
		return nil
	}

	if err := f.store.FlushSession(ctx, q.rec, q.msgs); err != nil {
		f.log.Warn("session flush failed, retaining queue",
			"session_id", sessionID, "pending", len(q.msgs), "error", err)
		return err
	}
	q.rec = nil
	q.msgs = nil
	return nil
}

// Release performs a final flush and drops the session's queue. Called once
// at teardown; flush errors are logged, records already committed on earlier
// ticks are not lost.
func (f *Flusher) Release(ctx context.Context, sessionID string) error {
	err := f.Flush(ctx, sessionID)
	f.mu.Lock()
	delete(f.sessions, sessionID)
	f.mu.Unlock()
	return err
}

func (f *Flusher) sessionIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.sessions))
	for id := range f.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Run flushes every tracked session on the configured interval until ctx is
// cancelled.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range f.sessionIDs() {
				if err := f.Flush(ctx, id); err != nil && ctx.Err() != nil {
					return
				}
			}
		}
	}
}
