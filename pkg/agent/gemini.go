package agent

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

const dispatchSystemPrompt = `You are a helpful voice assistant answering a phone call for a business.
Keep replies short and conversational, suitable for being read aloud.
If the caller asks for a human, offer to transfer them.
If the caller's request needs a specialist, offer to consult one.`

const summarySystemPrompt = `Summarize the following phone call transcript in two or three sentences.
Mention who called, what they wanted, and how the call ended.`

// GeminiDispatcher implements Dispatcher and Summarizer on the Gemini API.
type GeminiDispatcher struct {
	client *genai.Client
	model  string
}

// NewGemini builds a dispatcher against the public Gemini API backend.
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiDispatcher, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiDispatcher{client: client, model: model}, nil
}

func (g *GeminiDispatcher) Name() string {
	return "gemini"
}

func (g *GeminiDispatcher) Dispatch(ctx context.Context, utterance, tenantID, sessionID string) (string, string, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return "", "", fmt.Errorf("empty utterance")
	}

	temp := float32(0.7)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(dispatchSystemPrompt, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   int32(512),
	}
	contents := []*genai.Content{
		genai.NewContentFromText(utterance, genai.RoleUser),
	}

	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", "", fmt.Errorf("gemini generate content: %w", err)
	}
	text := strings.TrimSpace(res.Text())
	if text == "" {
		return "", "", fmt.Errorf("gemini returned empty text")
	}
	return g.model, text, nil
}

func (g *GeminiDispatcher) Summarize(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", fmt.Errorf("empty transcript")
	}

	temp := float32(0.3)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(summarySystemPrompt, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   int32(256),
	}
	contents := []*genai.Content{
		genai.NewContentFromText(transcript, genai.RoleUser),
	}

	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini summarize: %w", err)
	}
	text := strings.TrimSpace(res.Text())
	if text == "" {
		return "", fmt.Errorf("gemini returned empty summary")
	}
	return text, nil
}
