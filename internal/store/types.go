package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("voice session not found")

type SessionStatus string

const (
	StatusActive SessionStatus = "active"
	StatusEnded  SessionStatus = "ended"
)

// SessionRecord is one registered voice session.
type SessionRecord struct {
	ID                string        `json:"id"`
	ConversationID    string        `json:"conversation_id"`
	Provider          string        `json:"provider"`
	Status            SessionStatus `json:"status"`
	StartedAt         time.Time     `json:"started_at"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	DurationSeconds   float64       `json:"duration_seconds"`
	AudioInputTokens  int           `json:"audio_input_tokens"`
	AudioOutputTokens int           `json:"audio_output_tokens"`
	TextInputTokens   int           `json:"text_input_tokens"`
	TextOutputTokens  int           `json:"text_output_tokens"`
	Cost              float64       `json:"cost"`
}

// EndReport closes a session with its final accounting.
type EndReport struct {
	DurationSeconds   float64
	AudioInputTokens  int
	AudioOutputTokens int
	TextInputTokens   int
	TextOutputTokens  int
	Cost              float64
	EndedAt           time.Time
}

// TranscriptRecord stores a single user or assistant utterance.
type TranscriptRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	PIIRedacted    bool      `json:"pii_redacted"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists voice sessions and transcripts.
type Store interface {
	CreateSession(ctx context.Context, record SessionRecord) error
	GetSession(ctx context.Context, id string) (SessionRecord, error)
	// EndSession is idempotent: ending an ended session overwrites its
	// accounting with the latest report.
	EndSession(ctx context.Context, id string, report EndReport) (SessionRecord, error)
	SaveTranscript(ctx context.Context, record TranscriptRecord) error
	RecentTranscripts(ctx context.Context, conversationID string, limit int) ([]TranscriptRecord, error)
	Ping(ctx context.Context) error
	Mode() string
	Close() error
}
