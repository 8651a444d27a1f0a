package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCartesiaTranscribe_SendsMultipartAndParsesText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stt" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		if got := r.URL.Query().Get("sample_rate"); got != "8000" {
			t.Errorf("sample_rate = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "ink-whisper" {
			t.Errorf("model = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  hello there "}`))
	}))
	defer srv.Close()

	p := NewCartesiaWithClient("test-key", srv.Client()).WithBaseURL(srv.URL)
	text, err := p.Transcribe(context.Background(), []byte("RIFFfake"), TranscribeOptions{
		Format:     "wav",
		SampleRate: 8000,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("text = %q", text)
	}
}

func TestCartesiaTranscribe_EmptyAudioShortCircuits(t *testing.T) {
	p := NewCartesia("k")
	text, err := p.Transcribe(context.Background(), nil, TranscribeOptions{})
	if err != nil || text != "" {
		t.Fatalf("empty audio: text=%q err=%v", text, err)
	}
}

func TestCartesiaTranscribe_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewCartesiaWithClient("k", srv.Client()).WithBaseURL(srv.URL)
	_, err := p.Transcribe(context.Background(), []byte("x"), TranscribeOptions{})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected 502 error, got %v", err)
	}
}
