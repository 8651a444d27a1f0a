// Package session hosts the per-call pipeline: registry and rate limits,
// utterance buffering, transcript aggregation with debounced agent dispatch,
// intent tracking, playback pacing, and the call lifecycle.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSessionLimit is returned by Open when the global concurrent-session
// ceiling is reached. The caller refuses the connection with a try-again
// close code.
var ErrSessionLimit = errors.New("session limit reached")

// Registry tracks active call sessions, enforces the global session ceiling
// and per-session inbound packet rate, and drives the advisory stale sweep.
type Registry struct {
	maxSessions   int
	maxPacketsSec int
	staleAfter    time.Duration
	log           *slog.Logger
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
	wg      sync.WaitGroup
}

// Handle is what a session registers: its cancel hook and, for lookups, the
// session itself.
type Handle struct {
	Cancel  func()
	Session *CallSession
}

type registryEntry struct {
	handle   Handle
	packets  int
	lastSeen time.Time
	once     sync.Once
}

func NewRegistry(maxSessions, maxPacketsSec int, staleAfter time.Duration, log *slog.Logger) *Registry {
	return &Registry{
		maxSessions:   maxSessions,
		maxPacketsSec: maxPacketsSec,
		staleAfter:    staleAfter,
		log:           log,
		now:           time.Now,
		entries:       make(map[string]*registryEntry),
	}
}

// Open admits a session or returns ErrSessionLimit at the ceiling. The
// returned unregister is idempotent and must be called on teardown.
func (r *Registry) Open(sessionID string, h Handle) (func(), error) {
	r.mu.Lock()
	if len(r.entries) >= r.maxSessions {
		r.mu.Unlock()
		return nil, ErrSessionLimit
	}
	entry := &registryEntry{handle: h, lastSeen: r.now()}
	old := r.entries[sessionID]
	r.entries[sessionID] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		r.release(sessionID, old)
	}
	return func() { r.release(sessionID, entry) }, nil
}

func (r *Registry) release(sessionID string, entry *registryEntry) {
	entry.once.Do(func() {
		r.mu.Lock()
		if r.entries[sessionID] == entry {
			delete(r.entries, sessionID)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// AllowPacket counts one inbound packet against the session's 1-second
// window. Returns false when the window is exhausted; the frame is dropped,
// not the connection.
func (r *Registry) AllowPacket(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[sessionID]
	if !ok {
		return false
	}
	entry.lastSeen = r.now()
	if entry.packets >= r.maxPacketsSec {
		return false
	}
	entry.packets++
	return true
}

// Get returns the registered session, or nil when unknown.
func (r *Registry) Get(sessionID string) *CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[sessionID]
	if !ok {
		return nil
	}
	return entry.handle.Session
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ResetPacketCounters zeroes every session's window. Driven by the
// once-per-second background tick.
func (r *Registry) ResetPacketCounters() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		entry.packets = 0
	}
}

// Sweep cancels sessions with no inbound traffic past the stale threshold.
// Advisory only: authoritative teardown stays with stop/disconnect.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.staleAfter)

	var stale []func()
	r.mu.Lock()
	for id, entry := range r.entries {
		if entry.lastSeen.Before(cutoff) && entry.handle.Cancel != nil {
			r.log.Warn("sweeping stale session", "session_id", id, "last_seen", entry.lastSeen)
			stale = append(stale, entry.handle.Cancel)
		}
	}
	r.mu.Unlock()

	for _, cancel := range stale {
		cancel()
	}
	return len(stale)
}

// Run drives the 1s packet-window reset and the periodic stale sweep until
// ctx is cancelled.
func (r *Registry) Run(ctx context.Context, sweepInterval time.Duration) {
	resetTicker := time.NewTicker(time.Second)
	defer resetTicker.Stop()
	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-resetTicker.C:
			r.ResetPacketCounters()
		case <-sweepTicker.C:
			r.Sweep()
		}
	}
}

// CancelAll signals every active session to tear down. Used on server drain.
func (r *Registry) CancelAll() int {
	var cancels []func()
	r.mu.Lock()
	for _, entry := range r.entries {
		if entry.handle.Cancel != nil {
			cancels = append(cancels, entry.handle.Cancel)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Wait blocks until every session has unregistered or ctx expires. Returns
// true on a clean drain.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
