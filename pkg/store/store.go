package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the persistence contract the pipeline writes through. All
// operations tolerate retry: flushes carry at-least-once semantics.
type Store interface {
	SaveCallRecord(ctx context.Context, rec *CallRecord) error
	AppendTranscriptMessage(ctx context.Context, msg *TranscriptMessage) error
	UpdateCallStatus(ctx context.Context, callID string, status CallStatus, endedAt time.Time, durationSec int) error
	SetCallSummary(ctx context.Context, callID, summary string) error
	FlushSession(ctx context.Context, rec *CallRecord, msgs []*TranscriptMessage) error
	Close()
}

// PGStore implements Store on a pgx connection pool.
type PGStore struct {
	pool *pgxpool.Pool
}

// Open connects a pool and verifies the database is reachable.
func Open(ctx context.Context, databaseURL string) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Migrate applies embedded goose migrations through the pgx stdlib adapter.
func Migrate(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

const saveCallSQL = `
INSERT INTO calls (id, provider_call_id, tenant_id, direction, from_number, to_number, started_at, answered_at, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	answered_at = EXCLUDED.answered_at,
	status = EXCLUDED.status`

func (s *PGStore) SaveCallRecord(ctx context.Context, rec *CallRecord) error {
	_, err := s.pool.Exec(ctx, saveCallSQL,
		rec.ID, rec.ProviderCallID, rec.TenantID, rec.Direction,
		rec.FromNumber, rec.ToNumber, rec.StartedAt, nullTime(rec.AnsweredAt), rec.Status)
	if err != nil {
		return fmt.Errorf("save call record: %w", err)
	}
	return nil
}

const appendMessageSQL = `
INSERT INTO transcript_messages (id, call_id, sender, content, message_type, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

func (s *PGStore) AppendTranscriptMessage(ctx context.Context, msg *TranscriptMessage) error {
	_, err := s.pool.Exec(ctx, appendMessageSQL,
		msg.ID, msg.CallID, msg.Sender, msg.Content, msg.Type, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append transcript message: %w", err)
	}
	return nil
}

func (s *PGStore) UpdateCallStatus(ctx context.Context, callID string, status CallStatus, endedAt time.Time, durationSec int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calls SET status = $2, ended_at = $3, duration_sec = $4 WHERE id = $1`,
		callID, status, nullTime(endedAt), durationSec)
	if err != nil {
		return fmt.Errorf("update call status: %w", err)
	}
	return nil
}

func (s *PGStore) SetCallSummary(ctx context.Context, callID, summary string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calls SET summary = $2 WHERE id = $1`, callID, summary)
	if err != nil {
		return fmt.Errorf("set call summary: %w", err)
	}
	return nil
}

// FlushSession writes a session's pending call record and transcript
// messages in one transaction. On error nothing is committed and the caller
// keeps its queue for the next attempt.
func (s *PGStore) FlushSession(ctx context.Context, rec *CallRecord, msgs []*TranscriptMessage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin flush: %w", err)
	}
	defer tx.Rollback(ctx)

	if rec != nil {
		if _, err := tx.Exec(ctx, saveCallSQL,
			rec.ID, rec.ProviderCallID, rec.TenantID, rec.Direction,
			rec.FromNumber, rec.ToNumber, rec.StartedAt, nullTime(rec.AnsweredAt), rec.Status); err != nil {
			return fmt.Errorf("flush call record: %w", err)
		}
	}
	for _, msg := range msgs {
		if _, err := tx.Exec(ctx, appendMessageSQL,
			msg.ID, msg.CallID, msg.Sender, msg.Content, msg.Type, msg.CreatedAt); err != nil {
			return fmt.Errorf("flush transcript message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit flush: %w", err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
