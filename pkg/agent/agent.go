// Package agent wraps the conversational engine behind a thin dispatch
// contract. The pipeline only cares about the (label, text) result; how the
// engine selects an agent or composes the reply is the engine's business.
package agent

import "context"

// FallbackReply is spoken when dispatch fails. Dispatch errors are never
// fatal to a session.
const FallbackReply = "I'm sorry, I'm having trouble responding right now. Could you please repeat that?"

// Dispatcher sends one caller utterance to the conversational engine and
// returns the responding agent's label and reply text.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, utterance, tenantID, sessionID string) (label, text string, err error)
}

// Summarizer produces a short post-call summary from a full transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}
