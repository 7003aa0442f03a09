package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore archives transcript entries in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_entries (
			id TEXT PRIMARY KEY,
			citizen_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			speaker TEXT NOT NULL,
			content TEXT NOT NULL,
			audio BOOLEAN NOT NULL DEFAULT FALSE,
			language TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_entries_citizen_created ON transcript_entries (citizen_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	fillDefaults(&record)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcript_entries (id, citizen_id, session_id, seq, speaker, content, audio, language, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID,
		record.CitizenID,
		record.SessionID,
		record.Seq,
		record.Speaker,
		record.Content,
		record.Audio,
		record.Language,
		record.PIIRedacted,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, citizenID string, limit int) ([]Record, error) {
	limit = normalizeLimit(limit)
	rows, err := s.pool.Query(ctx,
		`SELECT id, citizen_id, session_id, seq, speaker, content, audio, language, pii_redacted, created_at
		 FROM transcript_entries WHERE citizen_id=$1 ORDER BY created_at DESC, seq DESC LIMIT $2`,
		citizenID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent entries: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.CitizenID, &r.SessionID, &r.Seq, &r.Speaker, &r.Content, &r.Audio, &r.Language, &r.PIIRedacted, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry rows: %w", err)
	}
	reverse(items)
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// reverse puts newest-first query results into chronological order.
func reverse(items []Record) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
