// Package rules provides CRUD and governance over categorisation rules:
// duplicate detection, dry-run testing, and usage statistics.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tallyfin/tally/internal/common"
	"github.com/tallyfin/tally/internal/match"
	"github.com/tallyfin/tally/internal/model"
	"github.com/tallyfin/tally/internal/service"
)

// DefaultTestSampleLimit caps how many historical descriptions a rule
// dry-run evaluates when the caller does not specify a limit.
const DefaultTestSampleLimit = 100

// maxTestSamples caps how many matching descriptions a dry-run returns.
// The match count still covers the whole evaluated sample.
const maxTestSamples = 10

// Manager mutates the rule store and keeps the match cache consistent.
// Administrative reads go straight to the store so they always see
// current state, never a stale cache snapshot.
type Manager struct {
	store service.RuleStore
	cache *match.Cache
}

// NewManager creates a rules manager over the given store and cache.
func NewManager(store service.RuleStore, cache *match.Cache) *Manager {
	return &Manager{
		store: store,
		cache: cache,
	}
}

// Filter narrows rule listings.
type Filter struct {
	CategoryID *int
	IsSystem   *bool
}

// CreateInput describes a rule to create. A nil Confidence means "use the
// default for the match type"; an explicit zero is a valid confidence.
type CreateInput struct {
	Confidence *float64
	Pattern    string
	MatchType  model.MatchType
	Notes      string
	CategoryID int
	IsSystem   bool
}

// TestResult reports a dry-run of a candidate rule against historical data.
type TestResult struct {
	SampleTransactions []string `json:"sample_transactions"`
	MatchCount         int      `json:"match_count"`
}

// Stats aggregates rule counts for observability.
type Stats struct {
	ByCategory  map[int]int `json:"by_category"`
	TotalRules  int         `json:"total_rules"`
	SystemRules int         `json:"system_rules"`
	UserRules   int         `json:"user_rules"`
}

// DuplicateRuleError reports a creation collision and carries the
// conflicting rule so callers can offer to reuse or edit it.
type DuplicateRuleError struct {
	Existing *model.Rule
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("duplicate rule: pattern %q (%s) already covered by rule %d",
		e.Existing.Pattern, e.Existing.MatchType, e.Existing.ID)
}

func (e *DuplicateRuleError) Unwrap() error {
	return common.ErrDuplicateRule
}

// GetRules lists rules from the store with optional filters.
func (m *Manager) GetRules(ctx context.Context, filter Filter) ([]model.Rule, error) {
	return m.store.ListRules(ctx, service.RuleFilter{
		CategoryID: filter.CategoryID,
		IsSystem:   filter.IsSystem,
	})
}

// CheckPatternExists reports the existing active rule with the same
// normalised pattern and match type, or nil when the pattern is free.
func (m *Manager) CheckPatternExists(ctx context.Context, pattern string, matchType model.MatchType) (*model.Rule, error) {
	return m.store.FindRuleByPattern(ctx, pattern, matchType)
}

// CreateRule validates, persists, and activates a new rule, then
// invalidates the match cache so subsequent matches see it immediately.
// Colliding patterns fail with a DuplicateRuleError rather than silently
// overwriting.
func (m *Manager) CreateRule(ctx context.Context, input CreateInput) (*model.Rule, error) {
	pattern := strings.TrimSpace(input.Pattern)
	if len(pattern) < model.MinPatternLength || len(pattern) > model.MaxPatternLength {
		return nil, fmt.Errorf("%w: pattern must be %d-%d characters",
			common.ErrInvalidPattern, model.MinPatternLength, model.MaxPatternLength)
	}
	if !input.MatchType.Valid() {
		return nil, fmt.Errorf("%w: unknown match type %q", common.ErrInvalidPattern, input.MatchType)
	}

	// Malformed regex fails at creation, not at match time.
	if input.MatchType == model.MatchRegex {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidPattern, err)
		}
	}

	existing, err := m.CheckPatternExists(ctx, pattern, input.MatchType)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate rule: %w", err)
	}
	if existing != nil {
		return nil, &DuplicateRuleError{Existing: existing}
	}

	confidence := model.DefaultConfidence(input.MatchType)
	if input.Confidence != nil {
		confidence = *input.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence must be between 0 and 1", common.ErrInvalidConfig)
	}

	rule := &model.Rule{
		Pattern:    pattern,
		MatchType:  input.MatchType,
		CategoryID: input.CategoryID,
		Confidence: confidence,
		IsSystem:   input.IsSystem,
		IsActive:   true,
		Notes:      input.Notes,
	}

	if err := m.store.InsertRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	m.cache.Invalidate()

	slog.Debug("rule created",
		"rule_id", rule.ID,
		"pattern", rule.Pattern,
		"match_type", rule.MatchType)

	return rule, nil
}

// TestRule evaluates a candidate rule against a bounded sample of
// historical transaction descriptions without persisting anything. The
// matching semantics are identical to the production matcher so a rule
// cannot behave differently in preview than after creation.
func (m *Manager) TestRule(ctx context.Context, pattern string, matchType model.MatchType, limit int) (*TestResult, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("%w: pattern is required", common.ErrInvalidPattern)
	}
	if !matchType.Valid() {
		return nil, fmt.Errorf("%w: unknown match type %q", common.ErrInvalidPattern, matchType)
	}
	if limit <= 0 {
		limit = DefaultTestSampleLimit
	}

	var re *regexp.Regexp
	if matchType == model.MatchRegex {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidPattern, err)
		}
	}

	descriptions, err := m.store.SampleTransactionDescriptions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample transactions: %w", err)
	}

	normalized := model.NormalizePattern(pattern)
	result := &TestResult{}
	for _, desc := range descriptions {
		trimmed := strings.TrimSpace(desc)

		var matched bool
		switch matchType {
		case model.MatchExact:
			matched = model.NormalizePattern(desc) == normalized
		case model.MatchContains:
			matched = strings.Contains(strings.ToLower(trimmed), normalized)
		case model.MatchRegex:
			matched = re.MatchString(trimmed)
		}

		if matched {
			result.MatchCount++
			if len(result.SampleTransactions) < maxTestSamples {
				result.SampleTransactions = append(result.SampleTransactions, desc)
			}
		}
	}

	return result, nil
}

// GetRuleStats returns aggregate rule counts. Low call frequency, so it
// reads the store directly.
func (m *Manager) GetRuleStats(ctx context.Context) (*Stats, error) {
	rules, err := m.store.ListRules(ctx, service.RuleFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	stats := &Stats{
		ByCategory: make(map[int]int),
	}
	for _, rule := range rules {
		stats.TotalRules++
		if rule.IsSystem {
			stats.SystemRules++
		} else {
			stats.UserRules++
		}
		stats.ByCategory[rule.CategoryID]++
	}

	return stats, nil
}
