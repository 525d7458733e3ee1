package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists voice sessions and transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS voice_sessions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ,
			duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			audio_input_tokens INTEGER NOT NULL DEFAULT 0,
			audio_output_tokens INTEGER NOT NULL DEFAULT 0,
			text_input_tokens INTEGER NOT NULL DEFAULT 0,
			text_output_tokens INTEGER NOT NULL DEFAULT 0,
			cost DOUBLE PRECISION NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS voice_transcripts (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_voice_transcripts_conversation_created ON voice_transcripts (conversation_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const sessionColumns = `id, conversation_id, provider, status, started_at, ended_at, duration_seconds,
	audio_input_tokens, audio_output_tokens, text_input_tokens, text_output_tokens, cost`

func scanSession(row pgx.Row) (SessionRecord, error) {
	var (
		r      SessionRecord
		status string
	)
	err := row.Scan(&r.ID, &r.ConversationID, &r.Provider, &status, &r.StartedAt, &r.EndedAt,
		&r.DurationSeconds, &r.AudioInputTokens, &r.AudioOutputTokens, &r.TextInputTokens,
		&r.TextOutputTokens, &r.Cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	r.Status = SessionStatus(status)
	return r, err
}

func (s *PostgresStore) CreateSession(ctx context.Context, record SessionRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = StatusActive
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO voice_sessions (id, conversation_id, provider, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		record.ID,
		record.ConversationID,
		record.Provider,
		string(record.Status),
		record.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create voice session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	rec, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM voice_sessions WHERE id=$1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return SessionRecord{}, fmt.Errorf("get voice session: %w", err)
	}
	return rec, err
}

func (s *PostgresStore) EndSession(ctx context.Context, id string, report EndReport) (SessionRecord, error) {
	endedAt := report.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	rec, err := scanSession(s.pool.QueryRow(ctx,
		`UPDATE voice_sessions SET status=$2, ended_at=$3, duration_seconds=$4,
			audio_input_tokens=$5, audio_output_tokens=$6, text_input_tokens=$7,
			text_output_tokens=$8, cost=$9
		 WHERE id=$1 RETURNING `+sessionColumns,
		id,
		string(StatusEnded),
		endedAt,
		report.DurationSeconds,
		report.AudioInputTokens,
		report.AudioOutputTokens,
		report.TextInputTokens,
		report.TextOutputTokens,
		report.Cost,
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return SessionRecord{}, fmt.Errorf("end voice session: %w", err)
	}
	return rec, err
}

func (s *PostgresStore) SaveTranscript(ctx context.Context, record TranscriptRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO voice_transcripts (id, conversation_id, session_id, role, content, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID,
		record.ConversationID,
		record.SessionID,
		record.Role,
		record.Content,
		record.PIIRedacted,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTranscripts(ctx context.Context, conversationID string, limit int) ([]TranscriptRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, session_id, role, content, pii_redacted, created_at
		 FROM voice_transcripts WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT $2`,
		conversationID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent transcripts: %w", err)
	}
	defer rows.Close()

	items := make([]TranscriptRecord, 0, limit)
	for rows.Next() {
		var r TranscriptRecord
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.SessionID, &r.Role, &r.Content, &r.PIIRedacted, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}

	// Oldest first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
