package archive

import (
	"context"
	"strings"
)

const sqlitePrefix = "sqlite:"

// NewStore picks a backend from databaseURL: empty gives in-memory,
// "sqlite:<path>" gives SQLite, anything else is a PostgreSQL URL.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	switch {
	case databaseURL == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(databaseURL, sqlitePrefix):
		return NewSQLiteStore(ctx, strings.TrimPrefix(databaseURL, sqlitePrefix))
	default:
		return NewPostgresStore(ctx, databaseURL)
	}
}
