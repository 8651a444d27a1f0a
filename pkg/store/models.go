// Package store persists call records and transcripts to Postgres and
// batches writes through a per-session flusher.
package store

import "time"

type CallStatus string

const (
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAgent    Sender = "agent"
	SenderSystem   Sender = "system"
)

type MessageType string

const (
	MessageTranscript MessageType = "transcript"
	MessageSummary    MessageType = "summary"
	MessageSystem     MessageType = "system"
)

// CallRecord is created on the first media event and updated at teardown.
type CallRecord struct {
	ID             string
	ProviderCallID string
	TenantID       string
	Direction      CallDirection
	FromNumber     string
	ToNumber       string
	StartedAt      time.Time
	AnsweredAt     time.Time
	EndedAt        time.Time
	DurationSec    int
	Status         CallStatus
	RecordingURL   string
	Summary        string
}

// TranscriptMessage is append-only; summary rows are appended, never edited
// into existing rows.
type TranscriptMessage struct {
	ID        string
	CallID    string
	Sender    Sender
	Content   string
	Type      MessageType
	CreatedAt time.Time
}
