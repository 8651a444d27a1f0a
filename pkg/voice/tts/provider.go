// Package tts provides text-to-speech adapters.
package tts

import "context"

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio in the requested output format.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice        string // Voice identifier
	ModelID      string // Provider-specific model
	OutputFormat string // e.g. "ulaw_8000", "mp3_44100_128"
}

// Synthesis is the result of synthesis.
type Synthesis struct {
	Audio  []byte // Audio data
	Format string // Encoding of Audio ("ulaw_8000", "mp3", ...)
}
