package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemorySessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	require.NoError(t, s.CreateSession(ctx, SessionRecord{ID: "sess_1", ConversationID: "abc123", Provider: "primary"}))
	got, err := s.GetSession(ctx, "sess_1")
	require.NoError(t, err)
	require.Equal(t, StatusActive, got.Status)
	require.False(t, got.StartedAt.IsZero())
	require.Nil(t, got.EndedAt)

	ended, err := s.EndSession(ctx, "sess_1", EndReport{DurationSeconds: 12.5, AudioOutputTokens: 300, Cost: 0.12})
	require.NoError(t, err)
	require.Equal(t, StatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
	require.Equal(t, 300, ended.AudioOutputTokens)
	require.InDelta(t, 0.12, ended.Cost, 1e-9)

	again, err := s.EndSession(ctx, "sess_1", EndReport{DurationSeconds: 13})
	require.NoError(t, err)
	require.InDelta(t, 13, again.DurationSeconds, 1e-9)

	_, err = s.EndSession(ctx, "missing", EndReport{})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetSession(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryRecentTranscripts(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveTranscript(ctx, TranscriptRecord{
			ConversationID: "abc123",
			Role:           "user",
			Content:        fmt.Sprintf("turn %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.SaveTranscript(ctx, TranscriptRecord{ConversationID: "other", Role: "user", Content: "x"}))

	recent, err := s.RecentTranscripts(ctx, "abc123", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "turn 3", recent[0].Content)
	require.Equal(t, "turn 4", recent[1].Content)
	require.NotEmpty(t, recent[0].ID)

	all, err := s.RecentTranscripts(ctx, "abc123", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)

	none, err := s.RecentTranscripts(ctx, "nobody", 3)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestNewWithoutDatabaseURLIsInMemory(t *testing.T) {
	s, err := New(context.Background(), "  ")
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, "in-memory", s.Mode())
	require.NoError(t, s.Ping(context.Background()))
}
