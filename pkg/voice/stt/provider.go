// Package stt provides speech-to-text adapters for finalized utterance audio.
package stt

import "context"

// Provider is the interface for speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts one utterance of audio to text. Empty or
	// low-confidence results come back as an empty string, not an error.
	Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (string, error)
}

// TranscribeOptions configures transcription.
type TranscribeOptions struct {
	Model      string // Provider-specific model (default: "ink-whisper")
	Language   string // ISO language code (default: "en")
	Format     string // Audio container hint (wav, mp3, ...)
	SampleRate int    // Audio sample rate in Hz
	Channels   int    // Channel count
}
