// Package service defines the interfaces shared across tally's packages.
package service

import (
	"context"
	"time"

	"github.com/tallyfin/tally/internal/model"
)

// RuleFilter defines filtering options for rule queries.
type RuleFilter struct {
	CategoryID *int
	IsSystem   *bool
	ActiveOnly bool
}

// RuleStore defines the contract for categorisation rule persistence.
// The store is the source of truth; the match cache is the only component
// permitted to hold copies of its data.
type RuleStore interface {
	// Rule operations
	ListRules(ctx context.Context, filter RuleFilter) ([]model.Rule, error)
	InsertRule(ctx context.Context, rule *model.Rule) error
	FindRuleByPattern(ctx context.Context, pattern string, matchType model.MatchType) (*model.Rule, error)
	IncrementRuleUsage(ctx context.Context, ruleID int) error

	// Category operations
	ListCategories(ctx context.Context) ([]model.Category, error)

	// Historical descriptions for dry-run rule testing
	SampleTransactionDescriptions(ctx context.Context, limit int) ([]string, error)
}

// UsageStore persists daily AI-categorisation call counts. Implementations
// may be process-local; the tracker falls back to in-memory counting when
// no store is provided.
type UsageStore interface {
	ReadUsage(ctx context.Context, day string) (int, error)
	WriteUsage(ctx context.Context, day string, count int) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
