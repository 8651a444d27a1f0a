package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const elevenLabsDefaultBaseURL = "https://api.elevenlabs.io"

// ElevenLabsProvider implements Provider against ElevenLabs' synthesis API.
// The transport wants mulaw at 8kHz, which ElevenLabs emits natively with
// output_format=ulaw_8000, so no resampling happens on the hot path.
type ElevenLabsProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewElevenLabs(apiKey string) *ElevenLabsProvider {
	return NewElevenLabsWithClient(apiKey, &http.Client{})
}

func NewElevenLabsWithClient(apiKey string, client *http.Client) *ElevenLabsProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &ElevenLabsProvider{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    elevenLabsDefaultBaseURL,
		httpClient: client,
	}
}

// WithBaseURL overrides the API endpoint, used by tests.
func (e *ElevenLabsProvider) WithBaseURL(base string) *ElevenLabsProvider {
	if e == nil {
		return e
	}
	base = strings.TrimSpace(base)
	if base != "" {
		e.baseURL = base
	}
	return e
}

func (e *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

func (e *ElevenLabsProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if e == nil || e.apiKey == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}
	voiceID := strings.TrimSpace(opts.Voice)
	if voiceID == "" {
		return nil, fmt.Errorf("voice id is required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	modelID := opts.ModelID
	if modelID == "" {
		modelID = "eleven_flash_v2_5"
	}
	format := opts.OutputFormat
	if format == "" {
		format = "ulaw_8000"
	}

	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": modelID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		e.baseURL, url.PathEscape(voiceID), url.QueryEscape(format))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("elevenlabs error %d: %s", resp.StatusCode, string(detail))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("elevenlabs returned no audio")
	}
	return &Synthesis{Audio: audio, Format: format}, nil
}
