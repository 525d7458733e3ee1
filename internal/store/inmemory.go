package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps everything in process for local and test use.
type InMemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]SessionRecord
	transcripts map[string][]TranscriptRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:    make(map[string]SessionRecord),
		transcripts: make(map[string][]TranscriptRecord),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, record SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = StatusActive
	}
	s.sessions[record.ID] = record
	return nil
}

func (s *InMemoryStore) GetSession(_ context.Context, id string) (SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) EndSession(_ context.Context, id string, report EndReport) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	endedAt := report.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	rec.Status = StatusEnded
	rec.EndedAt = &endedAt
	rec.DurationSeconds = report.DurationSeconds
	rec.AudioInputTokens = report.AudioInputTokens
	rec.AudioOutputTokens = report.AudioOutputTokens
	rec.TextInputTokens = report.TextInputTokens
	rec.TextOutputTokens = report.TextOutputTokens
	rec.Cost = report.Cost
	s.sessions[id] = rec
	return rec, nil
}

func (s *InMemoryStore) SaveTranscript(_ context.Context, record TranscriptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.transcripts[record.ConversationID] = append(s.transcripts[record.ConversationID], record)
	return nil
}

func (s *InMemoryStore) RecentTranscripts(_ context.Context, conversationID string, limit int) ([]TranscriptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.transcripts[conversationID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TranscriptRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Mode() string { return "in-memory" }

func (s *InMemoryStore) Close() error { return nil }
