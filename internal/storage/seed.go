package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tallyfin/tally/internal/model"
)

// defaultCategories is the starter category set installed on an empty
// database.
var defaultCategories = []struct {
	name     string
	group    string
	isIncome bool
}{
	{"Groceries", "Essentials", false},
	{"Utilities", "Essentials", false},
	{"Rent & Mortgage", "Essentials", false},
	{"Transport", "Essentials", false},
	{"Dining Out", "Lifestyle", false},
	{"Entertainment", "Lifestyle", false},
	{"Shopping", "Lifestyle", false},
	{"Subscriptions", "Lifestyle", false},
	{"Health", "Lifestyle", false},
	{"Salary", "Income", true},
	{"Interest", "Income", true},
	{"Other Income", "Income", true},
}

// defaultRules maps well-known UK merchant strings onto the starter
// categories. All seeded rules are system rules.
var defaultRules = []struct {
	pattern   string
	matchType model.MatchType
	category  string
}{
	{"TESCO", model.MatchContains, "Groceries"},
	{"SAINSBURYS", model.MatchContains, "Groceries"},
	{"ALDI", model.MatchContains, "Groceries"},
	{"LIDL", model.MatchContains, "Groceries"},
	{"AMAZON", model.MatchContains, "Shopping"},
	{"NETFLIX", model.MatchContains, "Subscriptions"},
	{"SPOTIFY", model.MatchContains, "Subscriptions"},
	{"UBER", model.MatchContains, "Transport"},
	{"TFL TRAVEL", model.MatchContains, "Transport"},
	{"^(MC ?DONALDS|KFC|BURGER KING)", model.MatchRegex, "Dining Out"},
}

// SeedDefaults installs the starter categories and system rules on a
// fresh database. Idempotent: a database that already has categories is
// left untouched.
func (s *SQLiteStorage) SeedDefaults(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM categories").Scan(&count); err != nil {
		return fmt.Errorf("failed to count categories: %w", err)
	}
	if count > 0 {
		return nil
	}

	categoryIDs := make(map[string]int, len(defaultCategories))
	for _, c := range defaultCategories {
		cat, err := s.CreateCategory(ctx, c.name, c.group, c.isIncome)
		if err != nil {
			return fmt.Errorf("failed to seed category %q: %w", c.name, err)
		}
		categoryIDs[c.name] = cat.ID
	}

	for _, r := range defaultRules {
		rule := &model.Rule{
			Pattern:    r.pattern,
			MatchType:  r.matchType,
			CategoryID: categoryIDs[r.category],
			Confidence: model.DefaultConfidence(r.matchType),
			IsSystem:   true,
			IsActive:   true,
		}
		if err := s.InsertRule(ctx, rule); err != nil {
			return fmt.Errorf("failed to seed rule %q: %w", r.pattern, err)
		}
	}

	slog.Info("seeded default categories and rules",
		"categories", len(defaultCategories),
		"rules", len(defaultRules))

	return nil
}
