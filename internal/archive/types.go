package archive

import (
	"context"
	"time"
)

// Record is one archived transcript entry.
type Record struct {
	ID          string    `json:"id"`
	CitizenID   string    `json:"citizen_id"`
	SessionID   string    `json:"session_id"`
	Seq         int       `json:"seq"`
	Speaker     string    `json:"speaker"`
	Content     string    `json:"content"`
	Audio       bool      `json:"audio"`
	Language    string    `json:"language"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists archived entries for audit. Nothing reads it back into a
// live panel.
type Store interface {
	Save(ctx context.Context, record Record) error
	Recent(ctx context.Context, citizenID string, limit int) ([]Record, error)
	Close() error
}

const defaultRecentLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	return limit
}
