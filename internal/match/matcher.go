package match

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/tallyfin/tally/internal/model"
	"github.com/tallyfin/tally/internal/service"
)

// Matcher resolves the best-matching rule for transaction descriptions
// using exact-match and pattern-match strategies. Exact matches always win
// over pattern matches; competing pattern matches are broken by highest
// confidence, then by stable rule order.
type Matcher struct {
	cache   *Cache
	store   service.RuleStore
	regexes map[string]*regexp.Regexp
	regexMu sync.RWMutex
}

// NewMatcher creates a matcher over the given cache. The store is used for
// best-effort rule usage accounting; it may be the same instance backing
// the cache.
func NewMatcher(cache *Cache, store service.RuleStore) *Matcher {
	return &Matcher{
		cache:   cache,
		store:   store,
		regexes: make(map[string]*regexp.Regexp),
	}
}

// Match returns the best match for a description, or nil when no active
// rule covers it.
func (m *Matcher) Match(ctx context.Context, description string) (*model.MatchResult, error) {
	results, err := m.MatchBatch(ctx, []string{description})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// MatchExact returns a match only if an exact-type rule's normalised
// pattern equals the entire normalised description.
func (m *Matcher) MatchExact(ctx context.Context, description string) (*model.MatchResult, error) {
	rules, err := m.cache.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := m.cache.Categories(ctx)
	if err != nil {
		return nil, err
	}

	result := m.matchExact(rules, categories, description)
	m.recordUsage(ctx, result)
	return result, nil
}

// MatchPattern evaluates contains and regex rules only, returning the
// highest-confidence match.
func (m *Matcher) MatchPattern(ctx context.Context, description string) (*model.MatchResult, error) {
	rules, err := m.cache.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := m.cache.Categories(ctx)
	if err != nil {
		return nil, err
	}

	result := m.matchPattern(rules, categories, description)
	m.recordUsage(ctx, result)
	return result, nil
}

// MatchBatch matches every description against a single cache snapshot.
// The result map has an entry for every input index, nil when unmatched.
// This is the throughput path for categorising a whole imported statement.
func (m *Matcher) MatchBatch(ctx context.Context, descriptions []string) (map[int]*model.MatchResult, error) {
	rules, err := m.cache.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := m.cache.Categories(ctx)
	if err != nil {
		return nil, err
	}

	results := make(map[int]*model.MatchResult, len(descriptions))
	for i, desc := range descriptions {
		result := m.matchExact(rules, categories, desc)
		if result == nil {
			result = m.matchPattern(rules, categories, desc)
		}
		m.recordUsage(ctx, result)
		results[i] = result
	}

	return results, nil
}

// matchExact finds an exact rule whose normalised pattern equals the whole
// normalised description. The unique index on (pattern, match_type) means
// at most one active exact rule can match.
func (m *Matcher) matchExact(rules []model.Rule, categories map[int]model.Category, description string) *model.MatchResult {
	normalized := model.NormalizePattern(description)
	if normalized == "" {
		return nil
	}

	for i := range rules {
		rule := &rules[i]
		if rule.MatchType != model.MatchExact {
			continue
		}
		if model.NormalizePattern(rule.Pattern) != normalized {
			continue
		}
		if result := m.toResult(rule, categories); result != nil {
			return result
		}
	}

	return nil
}

// matchPattern finds the best contains or regex match. Higher confidence
// wins; equal confidence keeps the rule encountered first in the cached
// rule list's stable order.
func (m *Matcher) matchPattern(rules []model.Rule, categories map[int]model.Category, description string) *model.MatchResult {
	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return nil
	}
	lowered := strings.ToLower(trimmed)

	var best *model.Rule
	for i := range rules {
		rule := &rules[i]

		var matched bool
		switch rule.MatchType {
		case model.MatchContains:
			matched = strings.Contains(lowered, model.NormalizePattern(rule.Pattern))
		case model.MatchRegex:
			re := m.compiled(rule.Pattern)
			matched = re != nil && re.MatchString(trimmed)
		default:
			continue
		}

		if matched && (best == nil || rule.Confidence > best.Confidence) {
			best = rule
		}
	}

	if best == nil {
		return nil
	}
	return m.toResult(best, categories)
}

// compiled returns the compiled regex for a pattern, compiling it on first
// use. Invalid patterns are cached as nil so one bad rule cannot poison
// matching or be recompiled on every call; the failure is logged once.
func (m *Matcher) compiled(pattern string) *regexp.Regexp {
	m.regexMu.RLock()
	re, ok := m.regexes[pattern]
	m.regexMu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Warn("skipping rule with invalid regex pattern",
			"pattern", pattern,
			"error", err)
		re = nil
	}

	m.regexMu.Lock()
	m.regexes[pattern] = re
	m.regexMu.Unlock()

	return re
}

// toResult builds a MatchResult for a rule, resolving its category name.
// A rule referencing an unknown category is skipped rather than matched.
func (m *Matcher) toResult(rule *model.Rule, categories map[int]model.Category) *model.MatchResult {
	cat, ok := categories[rule.CategoryID]
	if !ok {
		slog.Warn("rule references unknown category",
			"rule_id", rule.ID,
			"category_id", rule.CategoryID)
		return nil
	}

	return &model.MatchResult{
		CategoryID:   cat.ID,
		CategoryName: cat.Name,
		MatchType:    rule.MatchType,
		Confidence:   rule.Confidence,
		RuleID:       rule.ID,
		Source:       model.SourceRule,
	}
}

// recordUsage bumps the matched rule's use counter. Accounting is
// best-effort: a store failure here must not fail the match.
func (m *Matcher) recordUsage(ctx context.Context, result *model.MatchResult) {
	if result == nil || m.store == nil {
		return
	}
	if err := m.store.IncrementRuleUsage(ctx, result.RuleID); err != nil {
		slog.Debug("failed to record rule usage",
			"rule_id", result.RuleID,
			"error", err)
	}
}
