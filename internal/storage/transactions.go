package storage

import (
	"context"
	"fmt"
	"time"
)

// SampleTransactionDescriptions returns up to limit recent distinct
// transaction descriptions. Used by the rules manager to dry-run a
// candidate rule against historical data.
func (s *SQLiteStorage) SampleTransactionDescriptions(ctx context.Context, limit int) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT description
		FROM transactions
		ORDER BY description
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample transaction descriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var descriptions []string
	for rows.Next() {
		var desc string
		if err := rows.Scan(&desc); err != nil {
			return nil, fmt.Errorf("failed to scan description: %w", err)
		}
		descriptions = append(descriptions, desc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating descriptions: %w", err)
	}

	return descriptions, nil
}

// InsertTransaction records an imported transaction description. The wider
// import pipeline owns transaction ingestion; this exists so rule dry-runs
// have data to test against.
func (s *SQLiteStorage) InsertTransaction(ctx context.Context, description string, amount float64, date time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(description, "description"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (description, amount, date)
		VALUES (?, ?, ?)
	`, description, amount, date)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return nil
}
