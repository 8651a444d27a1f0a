package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Durable storage.
	DatabaseURL string

	// Vendor credentials.
	CartesiaAPIKey   string
	ElevenLabsAPIKey string
	GeminiAPIKey     string
	GeminiModel      string

	// Synthesis voice.
	VoiceID string

	// Session limits.
	MaxSessions         int
	MaxPacketsPerSecond int
	SweepInterval       time.Duration

	// Frame size guards (decoded provider mulaw bytes / 16-bit PCM bytes).
	MaxDecodedFrameBytes int
	MaxEncodedFrameBytes int

	// Utterance segmentation thresholds on buffered PCM.
	UtteranceMinBytes int
	UtteranceMaxBytes int
	UtteranceMaxAge   time.Duration

	// Dispatch behavior.
	DispatchDebounce      time.Duration
	DispatchTimeout       time.Duration
	PendingConsentTimeout time.Duration
	TransferDelay         time.Duration

	// Vendor call ceilings.
	STTTimeout time.Duration
	TTSTimeout time.Duration

	// Outbound playback pacing.
	PlaybackFrameBytes int
	PlaybackFrameDelay time.Duration

	// Gain normalization before STT upload.
	GainTargetPeak float64
	GainMaxFactor  float64

	// Persistence flush cadence.
	FlushInterval time.Duration

	// Transport operational defaults.
	WriteTimeout        time.Duration
	PingInterval        time.Duration
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	// Intent lexicons, overridable as CSV lists.
	ConsentWords       []string
	NegationWords      []string
	ClosingWords       []string
	TransferPhrases    []string
	CollabPhrases      []string
	InterrogativeWords []string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("VOX_ADDR", ":8080"),
		DatabaseURL:           strings.TrimSpace(os.Getenv("VOX_DATABASE_URL")),
		CartesiaAPIKey:        strings.TrimSpace(os.Getenv("VOX_CARTESIA_API_KEY")),
		ElevenLabsAPIKey:      strings.TrimSpace(os.Getenv("VOX_ELEVENLABS_API_KEY")),
		GeminiAPIKey:          strings.TrimSpace(os.Getenv("VOX_GEMINI_API_KEY")),
		GeminiModel:           envOr("VOX_GEMINI_MODEL", "gemini-2.5-flash"),
		VoiceID:               envOr("VOX_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		MaxSessions:           envIntOr("VOX_MAX_SESSIONS", 50),
		MaxPacketsPerSecond:   envIntOr("VOX_MAX_PACKETS_PER_SECOND", 100),
		SweepInterval:         envDurationOr("VOX_SWEEP_INTERVAL", 5*time.Minute),
		MaxDecodedFrameBytes:  envIntOr("VOX_MAX_DECODED_FRAME_BYTES", 2048),
		MaxEncodedFrameBytes:  envIntOr("VOX_MAX_ENCODED_FRAME_BYTES", 4000),
		UtteranceMinBytes:     envIntOr("VOX_UTTERANCE_MIN_BYTES", 12000),
		UtteranceMaxBytes:     envIntOr("VOX_UTTERANCE_MAX_BYTES", 32000),
		UtteranceMaxAge:       envDurationOr("VOX_UTTERANCE_MAX_AGE", 500*time.Millisecond),
		DispatchDebounce:      envDurationOr("VOX_DISPATCH_DEBOUNCE", 5*time.Second),
		DispatchTimeout:       envDurationOr("VOX_DISPATCH_TIMEOUT", 120*time.Second),
		PendingConsentTimeout: envDurationOr("VOX_PENDING_CONSENT_TIMEOUT", 30*time.Second),
		TransferDelay:         envDurationOr("VOX_TRANSFER_DELAY", 2*time.Second),
		STTTimeout:            envDurationOr("VOX_STT_TIMEOUT", 30*time.Second),
		TTSTimeout:            envDurationOr("VOX_TTS_TIMEOUT", 30*time.Second),
		PlaybackFrameBytes:    envIntOr("VOX_PLAYBACK_FRAME_BYTES", 4000),
		PlaybackFrameDelay:    envDurationOr("VOX_PLAYBACK_FRAME_DELAY", 20*time.Millisecond),
		GainTargetPeak:        envFloat64Or("VOX_GAIN_TARGET_PEAK", 0.8),
		GainMaxFactor:         envFloat64Or("VOX_GAIN_MAX_FACTOR", 50),
		FlushInterval:         envDurationOr("VOX_FLUSH_INTERVAL", 3*time.Second),
		WriteTimeout:          envDurationOr("VOX_WS_WRITE_TIMEOUT", 5*time.Second),
		PingInterval:          envDurationOr("VOX_WS_PING_INTERVAL", 20*time.Second),
		ReadHeaderTimeout:     envDurationOr("VOX_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:   envDurationOr("VOX_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		ConsentWords:          envCSVOr("VOX_CONSENT_WORDS", "yes,yeah,yep,sure,okay,ok,please,certainly,absolutely,fine,go ahead"),
		NegationWords:         envCSVOr("VOX_NEGATION_WORDS", "no,not,don't,dont,never,nope,stop,wait"),
		ClosingWords:          envCSVOr("VOX_CLOSING_WORDS", "please,thanks,thank you,yes,no,okay,ok,hello,goodbye,bye"),
		TransferPhrases:       envCSVOr("VOX_TRANSFER_PHRASES", "speak to a person,talk to a person,speak to a human,talk to a human,real person,transfer me,speak to someone,an agent,a representative"),
		CollabPhrases:         envCSVOr("VOX_COLLAB_PHRASES", "check with a specialist,ask a specialist,consult a specialist,check with another agent,ask another agent,second opinion"),
		InterrogativeWords:    envCSVOr("VOX_INTERROGATIVE_WORDS", "what,where,when,who,why,how,can,could,would,will,do,does,is,are"),
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("VOX_DATABASE_URL must be set")
	}
	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("VOX_MAX_SESSIONS must be > 0")
	}
	if cfg.MaxPacketsPerSecond <= 0 {
		return Config{}, fmt.Errorf("VOX_MAX_PACKETS_PER_SECOND must be > 0")
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("VOX_SWEEP_INTERVAL must be > 0")
	}
	if cfg.MaxDecodedFrameBytes <= 0 {
		return Config{}, fmt.Errorf("VOX_MAX_DECODED_FRAME_BYTES must be > 0")
	}
	if cfg.MaxEncodedFrameBytes <= 0 {
		return Config{}, fmt.Errorf("VOX_MAX_ENCODED_FRAME_BYTES must be > 0")
	}
	if cfg.UtteranceMinBytes <= 0 {
		return Config{}, fmt.Errorf("VOX_UTTERANCE_MIN_BYTES must be > 0")
	}
	if cfg.UtteranceMaxBytes < cfg.UtteranceMinBytes {
		return Config{}, fmt.Errorf("VOX_UTTERANCE_MAX_BYTES must be >= VOX_UTTERANCE_MIN_BYTES")
	}
	if cfg.UtteranceMaxAge <= 0 {
		return Config{}, fmt.Errorf("VOX_UTTERANCE_MAX_AGE must be > 0")
	}
	if cfg.DispatchDebounce <= 0 {
		return Config{}, fmt.Errorf("VOX_DISPATCH_DEBOUNCE must be > 0")
	}
	if cfg.DispatchTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_DISPATCH_TIMEOUT must be > 0")
	}
	if cfg.PendingConsentTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_PENDING_CONSENT_TIMEOUT must be > 0")
	}
	if cfg.TransferDelay < 0 {
		return Config{}, fmt.Errorf("VOX_TRANSFER_DELAY must be >= 0")
	}
	if cfg.STTTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_STT_TIMEOUT must be > 0")
	}
	if cfg.TTSTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_TTS_TIMEOUT must be > 0")
	}
	if cfg.PlaybackFrameBytes <= 0 {
		return Config{}, fmt.Errorf("VOX_PLAYBACK_FRAME_BYTES must be > 0")
	}
	if cfg.PlaybackFrameDelay < 0 {
		return Config{}, fmt.Errorf("VOX_PLAYBACK_FRAME_DELAY must be >= 0")
	}
	if cfg.GainTargetPeak <= 0 || cfg.GainTargetPeak > 1 {
		return Config{}, fmt.Errorf("VOX_GAIN_TARGET_PEAK must be in (0, 1]")
	}
	if cfg.GainMaxFactor < 1 {
		return Config{}, fmt.Errorf("VOX_GAIN_MAX_FACTOR must be >= 1")
	}
	if cfg.FlushInterval <= 0 {
		return Config{}, fmt.Errorf("VOX_FLUSH_INTERVAL must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.PingInterval <= 0 {
		return Config{}, fmt.Errorf("VOX_WS_PING_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOX_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func envCSVOr(key, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
