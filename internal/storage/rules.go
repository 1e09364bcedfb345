package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/tallyfin/tally/internal/common"
	"github.com/tallyfin/tally/internal/model"
	"github.com/tallyfin/tally/internal/service"
)

const ruleColumns = `id, pattern, match_type, category_id, confidence,
	is_system, is_active, notes, use_count, last_used_at, created_at, updated_at`

// ListRules returns rules matching the filter, ordered by creation.
// The stable (created, id) order is what the matcher relies on for
// deterministic tie-breaking.
func (s *SQLiteStorage) ListRules(ctx context.Context, filter service.RuleFilter) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := "SELECT " + ruleColumns + " FROM rules WHERE 1=1"
	var args []any

	if filter.ActiveOnly {
		query += " AND is_active = 1"
	}
	if filter.CategoryID != nil {
		query += " AND category_id = ?"
		args = append(args, *filter.CategoryID)
	}
	if filter.IsSystem != nil {
		query += " AND is_system = ?"
		args = append(args, *filter.IsSystem)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.Rule
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}

// InsertRule persists a new rule and fills in its generated fields.
func (s *SQLiteStorage) InsertRule(ctx context.Context, rule *model.Rule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	// Verify category exists
	var categoryCount int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM categories WHERE id = ?",
		rule.CategoryID).Scan(&categoryCount)
	if err != nil {
		return fmt.Errorf("failed to verify category: %w", err)
	}
	if categoryCount == 0 {
		return fmt.Errorf("%w: category %d does not exist", common.ErrNotFound, rule.CategoryID)
	}

	query := `
		INSERT INTO rules (pattern, match_type, category_id, confidence,
			is_system, is_active, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		rule.Pattern, string(rule.MatchType), rule.CategoryID, rule.Confidence,
		rule.IsSystem, rule.IsActive, rule.Notes,
	)
	if err != nil {
		// The partial unique index on (normalised pattern, match type)
		// turns racing duplicate creations into a constraint violation.
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: pattern %q (%s)", common.ErrDuplicateRule, rule.Pattern, rule.MatchType)
		}
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get rule ID: %w", err)
	}

	rule.ID = int(id)
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = time.Now()

	return nil
}

// FindRuleByPattern looks up an active rule by normalised pattern and match
// type. Returns nil without error when no rule matches.
func (s *SQLiteStorage) FindRuleByPattern(ctx context.Context, pattern string, matchType model.MatchType) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(pattern, "pattern"); err != nil {
		return nil, err
	}

	query := "SELECT " + ruleColumns + ` FROM rules
		WHERE lower(trim(pattern)) = ? AND match_type = ? AND is_active = 1
		LIMIT 1`

	rows, err := s.db.QueryContext(ctx, query, model.NormalizePattern(pattern), string(matchType))
	if err != nil {
		return nil, fmt.Errorf("failed to query rule by pattern: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error reading rule by pattern: %w", err)
		}
		return nil, nil
	}

	return scanRule(rows)
}

// IncrementRuleUsage bumps a rule's use counter and last-used timestamp.
func (s *SQLiteStorage) IncrementRuleUsage(ctx context.Context, ruleID int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET use_count = use_count + 1, last_used_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to increment rule usage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rule usage update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: rule %d", common.ErrNotFound, ruleID)
	}

	return nil
}

// scanRule reads one rule row from either a *sql.Row or *sql.Rows scanner.
func scanRule(scanner interface{ Scan(...any) error }) (*model.Rule, error) {
	var rule model.Rule
	var matchType string
	var notes sql.NullString
	var lastUsed sql.NullTime

	err := scanner.Scan(
		&rule.ID, &rule.Pattern, &matchType, &rule.CategoryID, &rule.Confidence,
		&rule.IsSystem, &rule.IsActive, &notes, &rule.UseCount, &lastUsed,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	rule.MatchType = model.MatchType(matchType)
	if notes.Valid {
		rule.Notes = notes.String
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		rule.LastUsedAt = &t
	}

	return &rule, nil
}
