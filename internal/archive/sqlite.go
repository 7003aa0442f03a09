package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore archives transcript entries in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps writes serialized and :memory: coherent.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := initSQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_entries (
			id TEXT PRIMARY KEY,
			citizen_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			speaker TEXT NOT NULL,
			content TEXT NOT NULL,
			audio INTEGER NOT NULL DEFAULT 0,
			language TEXT NOT NULL,
			pii_redacted INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_entries_citizen_created ON transcript_entries (citizen_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, record Record) error {
	fillDefaults(&record)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_entries (id, citizen_id, session_id, seq, speaker, content, audio, language, pii_redacted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.CitizenID,
		record.SessionID,
		record.Seq,
		record.Speaker,
		record.Content,
		record.Audio,
		record.Language,
		record.PIIRedacted,
		record.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, citizenID string, limit int) ([]Record, error) {
	limit = normalizeLimit(limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, citizen_id, session_id, seq, speaker, content, audio, language, pii_redacted, created_at
		FROM transcript_entries
		WHERE citizen_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, citizenID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent entries: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, limit)
	for rows.Next() {
		var (
			r         Record
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.CitizenID, &r.SessionID, &r.Seq, &r.Speaker, &r.Content,
			&r.Audio, &r.Language, &r.PIIRedacted, &createdAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry rows: %w", err)
	}
	reverse(items)
	return items, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
