package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/pkg/bridge/config"
	"github.com/voxbridge/voxbridge/pkg/store"
	"github.com/voxbridge/voxbridge/pkg/voice/stt"
	"github.com/voxbridge/voxbridge/pkg/voice/tts"
)

func testConfig() config.Config {
	return config.Config{
		VoiceID:               "test-voice",
		MaxSessions:           5,
		MaxPacketsPerSecond:   1000,
		SweepInterval:         time.Minute,
		MaxDecodedFrameBytes:  2048,
		MaxEncodedFrameBytes:  4000,
		UtteranceMinBytes:     40,
		UtteranceMaxBytes:     4000,
		UtteranceMaxAge:       50 * time.Millisecond,
		DispatchDebounce:      30 * time.Millisecond,
		DispatchTimeout:       time.Second,
		PendingConsentTimeout: 30 * time.Second,
		TransferDelay:         time.Millisecond,
		STTTimeout:            time.Second,
		TTSTimeout:            time.Second,
		PlaybackFrameBytes:    400,
		PlaybackFrameDelay:    0,
		GainTargetPeak:        0.8,
		GainMaxFactor:         50,
		FlushInterval:         time.Hour,
		ConsentWords:          []string{"yes", "sure", "okay", "please"},
		NegationWords:         []string{"no", "not"},
		ClosingWords:          []string{"please", "thanks", "yes", "no", "okay", "hello"},
		TransferPhrases:       []string{"speak to a person", "a representative"},
		CollabPhrases:         []string{"second opinion"},
		InterrogativeWords:    []string{"what", "how", "can"},
	}
}

type fakeTransport struct {
	in chan []byte

	mu  sync.Mutex
	out [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 64)}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	data, ok := <-t.in
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	t.out = append(t.out, data)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) written() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.out)
}

type memStore struct {
	mu       sync.Mutex
	flushes  int
	messages []*store.TranscriptMessage
	statuses []store.CallStatus
	summary  string
}

func (s *memStore) SaveCallRecord(ctx context.Context, rec *store.CallRecord) error { return nil }

func (s *memStore) AppendTranscriptMessage(ctx context.Context, msg *store.TranscriptMessage) error {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return nil
}

func (s *memStore) UpdateCallStatus(ctx context.Context, callID string, status store.CallStatus, endedAt time.Time, durationSec int) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, status)
	s.mu.Unlock()
	return nil
}

func (s *memStore) SetCallSummary(ctx context.Context, callID, summary string) error {
	s.mu.Lock()
	s.summary = summary
	s.mu.Unlock()
	return nil
}

func (s *memStore) FlushSession(ctx context.Context, rec *store.CallRecord, msgs []*store.TranscriptMessage) error {
	s.mu.Lock()
	s.flushes++
	s.messages = append(s.messages, msgs...)
	s.mu.Unlock()
	return nil
}

func (s *memStore) Close() {}

func (s *memStore) messageContents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, string(m.Sender)+": "+m.Content)
	}
	return out
}

type fakeSTT struct {
	mu      sync.Mutex
	replies []string
	err     error
}

func (f *fakeSTT) Name() string { return "fake-stt" }

func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte, opts stt.TranscribeOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	text := f.replies[0]
	f.replies = f.replies[1:]
	return text, nil
}

type fakeTTS struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeTTS) Name() string { return "fake-tts" }

func (f *fakeTTS) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.Synthesis, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &tts.Synthesis{Audio: make([]byte, 600), Format: "ulaw_8000"}, nil
}

type fakeAgent struct {
	mu         sync.Mutex
	utterances []string
	reply      string
	replies    []string
	delay      time.Duration
	err        error
}

func (f *fakeAgent) Name() string { return "fake-agent" }

func (f *fakeAgent) Dispatch(ctx context.Context, utterance, tenantID, sessionID string) (string, string, error) {
	f.mu.Lock()
	f.utterances = append(f.utterances, utterance)
	reply := f.reply
	if len(f.replies) > 0 {
		reply = f.replies[0]
		f.replies = f.replies[1:]
	}
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if f.err != nil {
		return "", "", f.err
	}
	return "fake-agent", reply, nil
}

func (f *fakeAgent) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.utterances...)
}

type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return "caller asked for help and was assisted", nil
}

type harness struct {
	session   *CallSession
	transport *fakeTransport
	store     *memStore
	sttFake   *fakeSTT
	ttsFake   *fakeTTS
	agentFake *fakeAgent
	summFake  *fakeSummarizer
	registry  *Registry
	done      chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig()
	h := &harness{
		transport: newFakeTransport(),
		store:     &memStore{},
		sttFake:   &fakeSTT{},
		ttsFake:   &fakeTTS{},
		agentFake: &fakeAgent{reply: "Happy to help with that."},
		summFake:  &fakeSummarizer{},
		registry:  NewRegistry(cfg.MaxSessions, cfg.MaxPacketsPerSecond, 10*time.Minute, testLogger()),
		done:      make(chan error, 1),
	}
	flusher := store.NewFlusher(h.store, cfg.FlushInterval, testLogger())
	h.session = New(Deps{
		Cfg:        cfg,
		Log:        testLogger(),
		Registry:   h.registry,
		Flusher:    flusher,
		Store:      h.store,
		STT:        h.sttFake,
		TTS:        h.ttsFake,
		Agent:      h.agentFake,
		Summarizer: h.summFake,
	}, h.transport)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	unregister, err := h.registry.Open(h.session.ID(), Handle{Cancel: h.session.Cancel, Session: h.session})
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	go func() {
		defer unregister()
		h.done <- h.session.Run(context.Background())
	}()
}

func (h *harness) sendStart() {
	h.transport.in <- []byte(`{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA1","customParameters":{"tenantId":"t1","from":"+15550100","to":"+15550200"}}}`)
}

func (h *harness) sendMedia(mulawBytes int) {
	payload := base64.StdEncoding.EncodeToString(make([]byte, mulawBytes))
	h.transport.in <- []byte(fmt.Sprintf(`{"event":"media","streamSid":"MZ1","media":{"payload":"%s"}}`, payload))
}

func (h *harness) sendStop() {
	h.transport.in <- []byte(`{"event":"stop","streamSid":"MZ1"}`)
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestSessionFullCall(t *testing.T) {
	h := newHarness(t)
	h.sttFake.replies = []string{"I need help with my account."}
	h.run(t)

	h.sendStart()
	// Greeting dispatch bypasses the debounce.
	waitFor(t, func() bool { return len(h.agentFake.seen()) >= 1 })
	if got := h.agentFake.seen()[0]; got != "hello" {
		t.Errorf("greeting utterance = %q", got)
	}

	// 40 mulaw bytes decode to 80 PCM bytes, over the minimum threshold.
	h.sendMedia(40)
	waitFor(t, func() bool { return len(h.agentFake.seen()) >= 2 })
	if got := h.agentFake.seen()[1]; got != "I need help with my account." {
		t.Errorf("dispatched utterance = %q", got)
	}

	// The synthesized reply reaches the transport as paced media frames.
	waitFor(t, func() bool { return h.transport.written() >= 2 })

	h.sendStop()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if h.session.State() != StateCompleted {
		t.Errorf("state = %v, want completed", h.session.State())
	}

	msgs := h.store.messageContents()
	var haveCustomer, haveAgent bool
	for _, m := range msgs {
		if m == "customer: I need help with my account." {
			haveCustomer = true
		}
		if m == "agent: Happy to help with that." {
			haveAgent = true
		}
	}
	if !haveCustomer || !haveAgent {
		t.Errorf("persisted transcript missing entries: %v", msgs)
	}

	h.store.mu.Lock()
	statuses := append([]store.CallStatus(nil), h.store.statuses...)
	h.store.mu.Unlock()
	if len(statuses) != 1 || statuses[0] != store.CallStatusCompleted {
		t.Errorf("statuses = %v", statuses)
	}

	// Teardown kicks off summary generation from the transcript.
	waitFor(t, func() bool {
		h.summFake.mu.Lock()
		defer h.summFake.mu.Unlock()
		return h.summFake.calls == 1
	})
}

func TestSessionSurvivesSTTFailure(t *testing.T) {
	h := newHarness(t)
	h.sttFake.err = errors.New("stt unavailable")
	h.run(t)

	h.sendStart()
	for i := 0; i < 5; i++ {
		h.sendMedia(40)
	}
	h.sendStop()

	if err := h.wait(t); err != nil {
		t.Fatalf("Run should survive STT failure, got %v", err)
	}
	if h.session.State() != StateCompleted {
		t.Errorf("state = %v, want completed", h.session.State())
	}
}

func TestSessionAgentFailureSpeaksFallback(t *testing.T) {
	h := newHarness(t)
	h.agentFake.err = errors.New("engine down")
	h.sttFake.replies = []string{"I need help with my account."}
	h.run(t)

	h.sendStart()
	h.sendMedia(40)

	// Fallback reply still reaches synthesis and the transport.
	waitFor(t, func() bool { return h.transport.written() >= 1 })

	h.sendStop()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSessionProtocolFault(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	h.sendStart()
	h.transport.in <- []byte(`{"event":`)

	err := h.wait(t)
	if !errors.Is(err, ErrProtocolFault) {
		t.Fatalf("err = %v, want ErrProtocolFault", err)
	}
	if h.session.State() != StateCompleted {
		t.Errorf("teardown must still run on protocol fault")
	}
}

func TestSessionOversizedFrameIsNoop(t *testing.T) {
	h := newHarness(t)
	h.sttFake.replies = []string{"should never surface"}
	h.run(t)

	h.sendStart()
	// 3000 mulaw bytes are over the 2048-byte decoded ceiling.
	h.sendMedia(3000)
	h.sendStop()

	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, u := range h.agentFake.seen() {
		if u == "should never surface" {
			t.Fatal("oversized frame reached the pipeline")
		}
	}
}

func TestSessionCancelTearsDown(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	h.sendStart()
	h.session.Cancel()

	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.session.State() != StateCompleted {
		t.Errorf("state = %v, want completed", h.session.State())
	}
}

func TestSessionIgnoresUnknownEvent(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	h.sendStart()
	h.transport.in <- []byte(`{"event":"dtmf","streamSid":"MZ1","dtmf":{"digit":"5"}}`)
	h.sendStop()

	if err := h.wait(t); err != nil {
		t.Fatalf("unknown event must not end the call: %v", err)
	}
	if h.session.State() != StateCompleted {
		t.Errorf("state = %v, want completed", h.session.State())
	}
}

func TestSessionProcessesFrameNearDecodedCeiling(t *testing.T) {
	h := newHarness(t)
	h.sttFake.replies = []string{"Can you hear me okay?"}
	h.run(t)

	h.sendStart()
	waitFor(t, func() bool { return len(h.agentFake.seen()) == 1 })

	// 1500 mulaw bytes sit inside the 2048-byte decoded ceiling, and their
	// 3000 PCM bytes inside the 4000-byte encoded ceiling.
	h.sendMedia(1500)
	waitFor(t, func() bool { return len(h.agentFake.seen()) >= 2 })
	if got := h.agentFake.seen()[1]; got != "Can you hear me okay?" {
		t.Errorf("dispatched %q", got)
	}

	h.sendStop()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSessionFinalFlushDoesNotRearmDispatch(t *testing.T) {
	h := newHarness(t)
	h.sttFake.replies = []string{"Final words please."}
	h.run(t)

	h.sendStart()
	waitFor(t, func() bool { return len(h.agentFake.seen()) == 1 })

	// Too small to flush before the stop lands: the text only surfaces
	// through the final flush during teardown.
	h.sendMedia(10)
	h.sendStop()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Wait out the debounce window; the completed session must not dispatch
	// the final utterance.
	time.Sleep(4 * testConfig().DispatchDebounce)
	if got := h.agentFake.seen(); len(got) != 1 {
		t.Fatalf("post-teardown dispatches: %v", got)
	}

	var persisted bool
	for _, m := range h.store.messageContents() {
		if m == "customer: Final words please." {
			persisted = true
		}
	}
	if !persisted {
		t.Errorf("final utterance not persisted: %v", h.store.messageContents())
	}
}

func TestSessionDropsDispatchWhileAgentProcessing(t *testing.T) {
	h := newHarness(t)
	h.agentFake.delay = 100 * time.Millisecond

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.session.dispatchUtterance("First question please.")
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		defer wg.Done()
		h.session.dispatchUtterance("Second question please.")
	}()
	wg.Wait()

	if got := h.agentFake.seen(); len(got) != 1 || got[0] != "First question please." {
		t.Fatalf("dispatched = %v, want only the first utterance", got)
	}
	h.ttsFake.mu.Lock()
	calls := h.ttsFake.calls
	h.ttsFake.mu.Unlock()
	if calls != 1 {
		t.Errorf("tts calls = %d, want 1", calls)
	}
}

func TestSessionCollaborationConsentDispatchesStoredUtterance(t *testing.T) {
	h := newHarness(t)
	h.agentFake.replies = []string{
		"Hello, how can I help you today?",
		"Let me consult a specialist on that.",
		"The issue has been resolved for you.",
	}
	h.sttFake.replies = []string{
		"I have a complex billing question.",
		"Yes please.",
	}
	h.run(t)

	h.sendStart()
	waitFor(t, func() bool { return len(h.agentFake.seen()) == 1 })

	h.sendMedia(40)
	waitFor(t, func() bool { return h.session.intents.CollabPending() })
	waitFor(t, func() bool { return !h.session.agentProcessing.Load() })

	// Consent must dispatch the question that prompted the offer, not the
	// consent words themselves.
	h.sendMedia(40)
	waitFor(t, func() bool { return len(h.agentFake.seen()) >= 3 })
	if got := h.agentFake.seen()[2]; got != "I have a complex billing question." {
		t.Errorf("collaboration dispatched %q, want the prompting utterance", got)
	}

	h.sendStop()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
