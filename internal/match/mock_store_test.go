package match

import (
	"context"
	"errors"
	"sync"

	"github.com/tallyfin/tally/internal/model"
	"github.com/tallyfin/tally/internal/service"
)

// mockStore is an in-memory RuleStore for matcher and cache tests.
type mockStore struct {
	usage             map[int]int
	rules             []model.Rule
	categories        []model.Category
	descriptions      []string
	listRuleCalls     int
	listCategoryCalls int
	failFetch         bool
	mu                sync.Mutex
}

func newMockStore(rules []model.Rule, categories []model.Category) *mockStore {
	return &mockStore{
		rules:      rules,
		categories: categories,
		usage:      make(map[int]int),
	}
}

func (m *mockStore) ListRules(_ context.Context, filter service.RuleFilter) ([]model.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failFetch {
		return nil, errors.New("store unavailable")
	}
	m.listRuleCalls++

	var out []model.Rule
	for _, r := range m.rules {
		if filter.ActiveOnly && !r.IsActive {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockStore) ListCategories(_ context.Context) ([]model.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failFetch {
		return nil, errors.New("store unavailable")
	}
	m.listCategoryCalls++
	return m.categories, nil
}

func (m *mockStore) InsertRule(_ context.Context, rule *model.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule.ID = len(m.rules) + 1
	m.rules = append(m.rules, *rule)
	return nil
}

func (m *mockStore) FindRuleByPattern(_ context.Context, pattern string, matchType model.MatchType) (*model.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	normalized := model.NormalizePattern(pattern)
	for i := range m.rules {
		r := &m.rules[i]
		if r.IsActive && r.MatchType == matchType && model.NormalizePattern(r.Pattern) == normalized {
			out := *r
			return &out, nil
		}
	}
	return nil, nil
}

func (m *mockStore) IncrementRuleUsage(_ context.Context, ruleID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.usage[ruleID]++
	return nil
}

func (m *mockStore) SampleTransactionDescriptions(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit > 0 && limit < len(m.descriptions) {
		return m.descriptions[:limit], nil
	}
	return m.descriptions, nil
}

func (m *mockStore) ruleFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listRuleCalls
}
