package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voxbridge/voxbridge/pkg/agent"
	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/bridge/config"
	"github.com/voxbridge/voxbridge/pkg/bridge/protocol"
	"github.com/voxbridge/voxbridge/pkg/store"
	"github.com/voxbridge/voxbridge/pkg/voice/stt"
	"github.com/voxbridge/voxbridge/pkg/voice/tts"
)

// ErrProtocolFault is returned by Run when the transport sends a frame that
// cannot be decoded. The server maps it to a policy-violation close.
var ErrProtocolFault = errors.New("transport protocol fault")

type State int32

const (
	StateStarting State = iota
	StateActive
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Transport is the session's view of the media-stream connection.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Deps carries everything a call session needs. Vendors are interfaces so
// tests substitute fakes.
type Deps struct {
	Cfg        config.Config
	Log        *slog.Logger
	Registry   *Registry
	Flusher    *store.Flusher
	Store      store.Store
	STT        stt.Provider
	TTS        tts.Provider
	Agent      agent.Dispatcher
	Summarizer agent.Summarizer
	Classifier IntentClassifier
}

// CallSession owns one media stream end to end: decode, buffer, transcribe,
// dispatch, synthesize, persist. All mutation happens on the session's own
// goroutine or under its lock.
type CallSession struct {
	deps      Deps
	transport Transport
	log       *slog.Logger
	now       func() time.Time

	sessionID string

	mu         sync.Mutex
	streamID   string
	callID     string
	tenantID   string
	from       string
	to         string
	startedAt  time.Time
	answeredAt time.Time
	transcript []string

	state           atomic.Int32
	buffer          *utteranceBuffer
	agg             *aggregator
	intents         *intentTracker
	play            *playback
	agentProcessing atomic.Bool

	ctx      context.Context
	cancel   context.CancelFunc
	sttWG    sync.WaitGroup
	writeMu  sync.Mutex
	tornDown sync.Once
}

func New(deps Deps, transport Transport) *CallSession {
	sessionID := uuid.NewString()
	log := deps.Log.With("session_id", sessionID)

	s := &CallSession{
		deps:      deps,
		transport: transport,
		log:       log,
		now:       time.Now,
		sessionID: sessionID,
		buffer: newUtteranceBuffer(deps.Cfg.UtteranceMinBytes, deps.Cfg.UtteranceMaxBytes,
			deps.Cfg.UtteranceMaxAge, nil),
		play: newPlayback(deps.Cfg.PlaybackFrameBytes, deps.Cfg.PlaybackFrameDelay, log),
	}

	lex := Lexicons{
		ConsentWords:    deps.Cfg.ConsentWords,
		NegationWords:   deps.Cfg.NegationWords,
		TransferPhrases: deps.Cfg.TransferPhrases,
		CollabPhrases:   deps.Cfg.CollabPhrases,
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = NewPhraseClassifier(lex)
	}
	s.intents = newIntentTracker(classifier, lex, deps.Cfg.PendingConsentTimeout, nil)
	s.agg = newAggregator(deps.Cfg.DispatchDebounce, deps.Cfg.ClosingWords,
		deps.Cfg.InterrogativeWords, s.dispatchUtterance)
	return s
}

func (s *CallSession) ID() string {
	return s.sessionID
}

func (s *CallSession) State() State {
	return State(s.state.Load())
}

// Cancel requests teardown from outside the session goroutine (drain,
// stale sweep).
func (s *CallSession) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run processes the stream until stop, disconnect, or cancellation. It
// always tears the session down before returning.
func (s *CallSession) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.ctx = ctx
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()
	defer s.teardown()

	frames := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			data, err := s.transport.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Age-based utterance flushes fire even when the caller goes quiet.
	ageTicker := time.NewTicker(100 * time.Millisecond)
	defer ageTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.log.Info("transport closed", "error", err)
			return nil
		case data := <-frames:
			stop, err := s.handleFrame(ctx, data)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		case <-ageTicker.C:
			s.maybeFlushUtterance(ctx)
		}
	}
}

func (s *CallSession) handleFrame(ctx context.Context, data []byte) (stop bool, err error) {
	event, decErr := protocol.DecodeEvent(data)
	if decErr != nil {
		s.log.Warn("undecodable frame", "error", decErr.Message, "param", decErr.Param)
		return false, fmt.Errorf("%w: %s", ErrProtocolFault, decErr.Message)
	}

	switch ev := event.(type) {
	case protocol.StreamStart:
		s.handleStart(ev)
	case protocol.StreamMedia:
		s.handleMedia(ctx, ev)
	case protocol.StreamStop:
		s.log.Info("stream stop received")
		return true, nil
	case protocol.StreamMark:
		s.log.Debug("playback mark", "name", ev.Name)
	case protocol.StreamUnknown:
		// Well-formed frames the bridge does not handle (DTMF and the like)
		// are benign; only undecodable frames are a fault.
		s.log.Debug("ignoring unhandled event", "event", ev.Event)
	}
	return false, nil
}

func (s *CallSession) handleStart(ev protocol.StreamStart) {
	now := s.now()
	s.mu.Lock()
	s.streamID = ev.StreamID
	s.callID = ev.CallID
	s.tenantID = ev.TenantID
	s.from = ev.From
	s.to = ev.To
	s.startedAt = now
	s.mu.Unlock()

	s.state.Store(int32(StateStarting))
	s.log.Info("stream started",
		"stream_id", ev.StreamID, "call_id", ev.CallID, "tenant_id", ev.TenantID)

	s.deps.Flusher.Track(s.sessionID, s.snapshotRecord(store.CallStatusInProgress))

	// The greeting bypasses the debounce.
	go s.agg.DispatchNow("hello")
}

func (s *CallSession) handleMedia(ctx context.Context, ev protocol.StreamMedia) {
	if State(s.state.Load()) == StateStarting {
		s.state.Store(int32(StateActive))
		s.mu.Lock()
		s.answeredAt = s.now()
		s.mu.Unlock()
		s.deps.Flusher.Track(s.sessionID, s.snapshotRecord(store.CallStatusInProgress))
	}

	if !s.deps.Registry.AllowPacket(s.sessionID) {
		s.log.Debug("packet rate exceeded, dropping frame")
		return
	}

	pcm, err := audio.DecodeInbound(ev.Payload)
	if err != nil {
		s.log.Warn("dropping undecodable media payload", "error", err)
		return
	}
	// Oversized frames are a silent no-op, never a disconnect. The decoded
	// guard applies to the provider's mulaw bytes, half the PCM size; the
	// encoded guard to the 16-bit expansion.
	if len(pcm)/2 > s.deps.Cfg.MaxDecodedFrameBytes || len(pcm) > s.deps.Cfg.MaxEncodedFrameBytes {
		return
	}

	s.buffer.feed(pcm)
	s.maybeFlushUtterance(ctx)
}

func (s *CallSession) maybeFlushUtterance(ctx context.Context) {
	if !s.buffer.shouldFlush() {
		return
	}
	pcm := s.buffer.takeAndReset()
	s.sttWG.Add(1)
	go func() {
		defer s.sttWG.Done()
		s.transcribeSegment(ctx, pcm)
	}()
}

// transcribeSegment runs one audio segment through gain normalization, WAV
// framing and STT, then feeds the text into the intent and aggregation
// layers. STT failure is never fatal to the session.
func (s *CallSession) transcribeSegment(ctx context.Context, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	normalized := audio.NormalizeGain(pcm, s.deps.Cfg.GainTargetPeak, s.deps.Cfg.GainMaxFactor)
	wav := audio.PCMToWAV(normalized, 8000, 1)

	sttCtx, cancel := context.WithTimeout(ctx, s.deps.Cfg.STTTimeout)
	defer cancel()
	text, err := s.deps.STT.Transcribe(sttCtx, wav, stt.TranscribeOptions{
		Format:     "wav",
		SampleRate: 8000,
		Channels:   1,
	})
	if err != nil {
		s.log.Warn("transcription failed", "error", err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.log.Debug("transcript fragment", "text", text)
	s.enqueueTranscript(store.SenderCustomer, text, store.MessageTranscript)

	// The final flush during teardown persists the transcript only; it must
	// not arm a new dispatch or trigger intent actions after the session
	// completed.
	if s.State() == StateCompleted {
		return
	}

	action, stored := s.intents.ObserveCustomerUtterance(text)
	switch action {
	case actionTransfer:
		go s.performTransfer(ctx)
	case actionCollaborate:
		go s.dispatchUtterance(stored)
	default:
		s.agg.Append(text)
	}
}

// dispatchUtterance sends one utterance through the agent and speaks the
// reply. Re-entrant calls are dropped so responses never interleave.
func (s *CallSession) dispatchUtterance(utterance string) {
	if s.State() == StateCompleted {
		return
	}
	if !s.agentProcessing.CompareAndSwap(false, true) {
		s.log.Warn("agent dispatch in progress, dropping utterance")
		return
	}
	defer s.agentProcessing.Store(false)

	s.mu.Lock()
	tenantID := s.tenantID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.deps.Cfg.DispatchTimeout)
	defer cancel()

	label, text, err := s.deps.Agent.Dispatch(ctx, utterance, tenantID, s.sessionID)
	if err != nil {
		s.log.Warn("agent dispatch failed, using fallback", "error", err)
		label, text = "fallback", agent.FallbackReply
	}
	text = agent.TruncateForSpeech(text)
	s.log.Info("agent reply", "agent", label, "chars", len(text))

	// A collaboration offer remembers the utterance that prompted it, so a
	// later consent dispatches the original question, not the consent words.
	if s.intents.ObserveAgentReply(text) == IntentCollaborate {
		s.intents.OfferCollaboration(utterance)
	}
	s.enqueueTranscript(store.SenderAgent, text, store.MessageTranscript)
	s.speak(text)
}

// speak synthesizes text and streams it to the caller under the
// single-flight playback guard.
func (s *CallSession) speak(text string) {
	text = sanitizeText(text)
	if text == "" {
		return
	}
	if !s.play.TryAcquire(s.sessionID) {
		return
	}
	defer s.play.Release()

	ctx, cancel := context.WithTimeout(context.Background(), s.deps.Cfg.TTSTimeout)
	defer cancel()

	syn, err := s.deps.TTS.Synthesize(ctx, text, tts.SynthesizeOptions{
		Voice:        s.deps.Cfg.VoiceID,
		OutputFormat: "ulaw_8000",
	})
	if err != nil {
		s.log.Warn("synthesis failed", "error", err)
		return
	}

	mulaw, converted := audio.ToTransport(syn.Audio, syn.Format)
	if !converted {
		s.log.Warn("audio conversion fell back to original bytes", "format", syn.Format)
	}

	s.mu.Lock()
	streamID := s.streamID
	s.mu.Unlock()
	if err := s.play.Stream(streamID, mulaw, s.writeFrame); err != nil {
		s.log.Warn("playback write failed", "error", err)
	}
}

func (s *CallSession) performTransfer(ctx context.Context) {
	s.log.Info("transfer consented, initiating", "delay", s.deps.Cfg.TransferDelay)
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.deps.Cfg.TransferDelay):
	}
	s.enqueueTranscript(store.SenderSystem, "call transferred to a human representative", store.MessageSystem)
	s.speak("Transferring you to a representative now. Please hold.")
}

func (s *CallSession) writeFrame(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.transport.WriteMessage(data)
}

func (s *CallSession) enqueueTranscript(sender store.Sender, content string, typ store.MessageType) {
	s.mu.Lock()
	s.transcript = append(s.transcript, string(sender)+": "+content)
	s.mu.Unlock()

	s.deps.Flusher.Enqueue(s.sessionID, &store.TranscriptMessage{
		ID:        uuid.NewString(),
		CallID:    s.sessionID,
		Sender:    sender,
		Content:   content,
		Type:      typ,
		CreatedAt: s.now(),
	})
}

func (s *CallSession) snapshotRecord(status store.CallStatus) *store.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &store.CallRecord{
		ID:             s.sessionID,
		ProviderCallID: s.callID,
		TenantID:       s.tenantID,
		Direction:      store.DirectionInbound,
		FromNumber:     s.from,
		ToNumber:       s.to,
		StartedAt:      s.startedAt,
		AnsweredAt:     s.answeredAt,
		Status:         status,
	}
}

// teardown runs exactly once: final utterance flush, final persistence
// flush, status update with duration, and asynchronous summary generation.
// Errors are logged, never thrown past the teardown path.
func (s *CallSession) teardown() {
	s.tornDown.Do(func() {
		s.state.Store(int32(StateCompleted))
		s.agg.Cancel()

		// The session ctx is already cancelled here; teardown I/O gets its
		// own bounded contexts.
		flushCtx, cancel := context.WithTimeout(context.Background(), s.deps.Cfg.STTTimeout)
		defer cancel()

		if pcm := s.buffer.takeAndReset(); len(pcm) > 0 {
			s.transcribeSegment(flushCtx, pcm)
		}
		s.sttWG.Wait()

		s.mu.Lock()
		callID := s.callID
		startedAt := s.startedAt
		transcript := strings.Join(s.transcript, "\n")
		s.mu.Unlock()

		endedAt := s.now()
		durationSec := 0
		if !startedAt.IsZero() {
			durationSec = int(endedAt.Sub(startedAt) / time.Second)
		}

		rec := s.snapshotRecord(store.CallStatusCompleted)
		rec.EndedAt = endedAt
		rec.DurationSec = durationSec
		s.deps.Flusher.Track(s.sessionID, rec)
		if err := s.deps.Flusher.Release(flushCtx, s.sessionID); err != nil {
			s.log.Warn("final persistence flush failed", "error", err)
		}
		if err := s.deps.Store.UpdateCallStatus(flushCtx, s.sessionID, store.CallStatusCompleted, endedAt, durationSec); err != nil {
			s.log.Warn("status update failed", "error", err)
		}

		s.log.Info("session completed",
			"call_id", callID, "duration_sec", durationSec)

		if s.deps.Summarizer != nil && transcript != "" {
			go s.generateSummary(transcript)
		}
	})
}

func (s *CallSession) generateSummary(transcript string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.Cfg.DispatchTimeout)
	defer cancel()

	summary, err := s.deps.Summarizer.Summarize(ctx, transcript)
	if err != nil {
		s.log.Warn("summary generation failed", "error", err)
		return
	}
	if err := s.deps.Store.SetCallSummary(ctx, s.sessionID, summary); err != nil {
		s.log.Warn("saving summary failed", "error", err)
		return
	}
	if err := s.deps.Store.AppendTranscriptMessage(ctx, &store.TranscriptMessage{
		ID:        uuid.NewString(),
		CallID:    s.sessionID,
		Sender:    store.SenderSystem,
		Content:   summary,
		Type:      store.MessageSummary,
		CreatedAt: s.now(),
	}); err != nil {
		s.log.Warn("appending summary message failed", "error", err)
	}
}
