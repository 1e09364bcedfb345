package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ReadUsage returns the AI-categorisation call count recorded for a day
// key. A day with no record reads as zero.
func (s *SQLiteStorage) ReadUsage(ctx context.Context, day string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(day, "day"); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT count FROM ai_usage WHERE day = ?", day).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}

	return count, nil
}

// WriteUsage records the call count for a day key, replacing any prior value.
func (s *SQLiteStorage) WriteUsage(ctx context.Context, day string, count int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(day, "day"); err != nil {
		return err
	}
	if count < 0 {
		return fmt.Errorf("usage count cannot be negative: %d", count)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_usage (day, count, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(day) DO UPDATE SET count = excluded.count, updated_at = CURRENT_TIMESTAMP
	`, day, count)
	if err != nil {
		return fmt.Errorf("failed to write usage: %w", err)
	}

	return nil
}
