package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

const (
	cartesiaDefaultBaseURL = "https://api.cartesia.ai"
	cartesiaVersion        = "2025-04-16"
)

// CartesiaProvider implements Provider against Cartesia's batch STT API.
type CartesiaProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewCartesia(apiKey string) *CartesiaProvider {
	return NewCartesiaWithClient(apiKey, &http.Client{})
}

func NewCartesiaWithClient(apiKey string, client *http.Client) *CartesiaProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &CartesiaProvider{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    cartesiaDefaultBaseURL,
		httpClient: client,
	}
}

// WithBaseURL overrides the API endpoint, used by tests.
func (c *CartesiaProvider) WithBaseURL(base string) *CartesiaProvider {
	if c == nil {
		return c
	}
	base = strings.TrimSpace(base)
	if base != "" {
		c.baseURL = base
	}
	return c
}

func (c *CartesiaProvider) Name() string {
	return "cartesia"
}

// Transcribe uploads one utterance and returns the transcribed text.
func (c *CartesiaProvider) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	ext := opts.Format
	if ext == "" {
		ext = "wav"
	}
	fw, err := mw.CreateFormFile("file", "audio."+ext)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "ink-whisper"
	}
	if err := mw.WriteField("model", model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if opts.Language != "" {
		if err := mw.WriteField("language", opts.Language); err != nil {
			return "", fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	reqURL := c.baseURL + "/stt"
	if opts.SampleRate > 0 {
		u, parseErr := url.Parse(reqURL)
		if parseErr != nil {
			return "", fmt.Errorf("parse stt url: %w", parseErr)
		}
		q := u.Query()
		q.Set("sample_rate", fmt.Sprintf("%d", opts.SampleRate))
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("cartesia error %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
