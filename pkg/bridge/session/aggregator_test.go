package session

import (
	"sync"
	"testing"
	"time"
)

var testClosing = []string{"please", "thanks", "yes", "no", "okay", "hello", "goodbye"}
var testInterrogative = []string{"what", "where", "when", "how", "can", "could"}

type dispatchRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *dispatchRecorder) record(u string) {
	r.mu.Lock()
	r.calls = append(r.calls, u)
	r.mu.Unlock()
}

func (r *dispatchRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestAggregatorCompleteness(t *testing.T) {
	a := newAggregator(time.Hour, testClosing, testInterrogative, func(string) {})

	cases := []struct {
		text string
		want bool
	}{
		{"I need help with my account.", true},
		{"what time is", true},                            // interrogative opener, >10 chars
		{"what time", false},                             // interrogative but too short
		{"hm", false},                                     // short, no signal
		{"book me in for tomorrow afternoon slot", true},  // >20 chars
		{"that would be great thanks", true},              // closing word
		{"yes", true},                                     // closing word alone
		{"uh the", false},
	}
	for _, tc := range cases {
		if got := a.isComplete(tc.text); got != tc.want {
			t.Errorf("isComplete(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestAggregatorMergesFragmentsUntilComplete(t *testing.T) {
	rec := &dispatchRecorder{}
	a := newAggregator(10*time.Millisecond, testClosing, testInterrogative, rec.record)

	a.Append("I want")
	if got := a.Pending(); got != "I want" {
		t.Fatalf("pending = %q", got)
	}
	a.Append("to cancel my appointment.")

	// Complete: accumulator cleared, debounce armed.
	if got := a.Pending(); got != "" {
		t.Fatalf("pending after completion = %q", got)
	}

	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	if got := rec.snapshot()[0]; got != "I want to cancel my appointment." {
		t.Errorf("dispatched %q", got)
	}
}

func TestAggregatorDebounceLastUtteranceWins(t *testing.T) {
	rec := &dispatchRecorder{}
	a := newAggregator(50*time.Millisecond, testClosing, testInterrogative, rec.record)

	a.Append("First complete utterance here.")
	time.Sleep(10 * time.Millisecond)
	a.Append("Second complete utterance here.")

	time.Sleep(150 * time.Millisecond)
	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("dispatched %d times, want 1: %v", len(calls), calls)
	}
	if calls[0] != "Second complete utterance here." {
		t.Errorf("dispatched %q, want the most recent utterance", calls[0])
	}
}

func TestAggregatorCancelStopsPendingDispatch(t *testing.T) {
	rec := &dispatchRecorder{}
	a := newAggregator(30*time.Millisecond, testClosing, testInterrogative, rec.record)

	a.Append("Complete utterance ready to go.")
	a.Cancel()

	time.Sleep(80 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("dispatched after cancel: %v", got)
	}
}

func TestAggregatorDispatchNowBypassesDebounce(t *testing.T) {
	rec := &dispatchRecorder{}
	a := newAggregator(time.Hour, testClosing, testInterrogative, rec.record)

	a.DispatchNow("hello")
	if got := rec.snapshot(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("calls = %v", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAggregatorRefusesToArmAfterCancel(t *testing.T) {
	rec := &dispatchRecorder{}
	a := newAggregator(10*time.Millisecond, testClosing, testInterrogative, rec.record)

	a.Cancel()
	a.Append("One last thing before I go.")
	a.DispatchNow("hello")

	time.Sleep(50 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("dispatches after Cancel = %v, want none", got)
	}
	if got := a.Pending(); got != "" {
		t.Errorf("Pending after Cancel = %q, want empty", got)
	}
}
