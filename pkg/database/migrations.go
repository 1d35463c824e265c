package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
)

// createSearchIndexes creates the full-text search GIN index on log
// previews. Expression indexes are kept out of the versioned migration
// files for easier iteration; CREATE INDEX IF NOT EXISTS makes this
// idempotent across restarts.
func createSearchIndexes(ctx context.Context, db *stdsql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_log_index_preview_gin
		 ON log_index USING gin(to_tsvector('english', preview))`)
	if err != nil {
		return fmt.Errorf("failed to create log preview GIN index: %w", err)
	}
	return nil
}
