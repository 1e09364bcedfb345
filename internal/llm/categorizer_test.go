package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyfin/tally/internal/match"
	"github.com/tallyfin/tally/internal/model"
	"github.com/tallyfin/tally/internal/service"
)

// mockClient scripts Complete responses and records prompts.
type mockClient struct {
	response string
	err      error
	prompts  []string
	mu       sync.Mutex
}

func (m *mockClient) Complete(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func (m *mockClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func (m *mockClient) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// categoryStore is a minimal RuleStore serving a fixed category list.
type categoryStore struct {
	categories []model.Category
}

func (s *categoryStore) ListRules(context.Context, service.RuleFilter) ([]model.Rule, error) {
	return nil, nil
}

func (s *categoryStore) ListCategories(context.Context) ([]model.Category, error) {
	return s.categories, nil
}

func (s *categoryStore) InsertRule(context.Context, *model.Rule) error { return nil }

func (s *categoryStore) FindRuleByPattern(context.Context, string, model.MatchType) (*model.Rule, error) {
	return nil, nil
}

func (s *categoryStore) IncrementRuleUsage(context.Context, int) error { return nil }

func (s *categoryStore) SampleTransactionDescriptions(context.Context, int) ([]string, error) {
	return nil, nil
}

func newTestCategorizer(client Client, dailyLimit int) (*Categorizer, *UsageTracker) {
	store := &categoryStore{categories: []model.Category{
		{ID: 1, Name: "Groceries", GroupName: "Essentials"},
		{ID: 2, Name: "Entertainment", GroupName: "Lifestyle"},
		{ID: 3, Name: "Salary", IsIncome: true},
	}}
	cache := match.NewCache(store, time.Hour)
	usage := NewUsageTracker(nil, dailyLimit)

	return NewCategorizer(client, cache, usage, CategorizerConfig{
		Timeout:    time.Second,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}), usage
}

func TestCategorizer_Categorize(t *testing.T) {
	ctx := context.Background()

	t.Run("returns validated results", func(t *testing.T) {
		client := &mockClient{response: `[
			{"index": 0, "category": "Groceries", "confidence": 0.9},
			{"index": 1, "category": "Entertainment", "confidence": 0.7}
		]`}
		categorizer, _ := newTestCategorizer(client, 50)

		results, err := categorizer.Categorize(ctx, []string{"OCADO RETAIL", "CINEWORLD"})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "Groceries", results[0].CategoryName)
		assert.Equal(t, model.SourceAI, results[0].Source)
		assert.Equal(t, "Entertainment", results[1].CategoryName)
	})

	t.Run("empty batch makes no call", func(t *testing.T) {
		client := &mockClient{}
		categorizer, _ := newTestCategorizer(client, 50)

		results, err := categorizer.Categorize(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Equal(t, 0, client.calls())
	})

	t.Run("prompt carries categories and numbered descriptions", func(t *testing.T) {
		client := &mockClient{response: `[]`}
		categorizer, _ := newTestCategorizer(client, 50)

		_, err := categorizer.Categorize(ctx, []string{"OCADO RETAIL", "CINEWORLD"})
		require.NoError(t, err)

		prompt := client.lastPrompt()
		assert.Contains(t, prompt, "Groceries")
		assert.Contains(t, prompt, "Entertainment")
		assert.Contains(t, prompt, "Salary")
		assert.Contains(t, prompt, "income")
		assert.Contains(t, prompt, "0. OCADO RETAIL")
		assert.Contains(t, prompt, "1. CINEWORLD")
	})

	t.Run("declines before dispatch when budget exhausted", func(t *testing.T) {
		client := &mockClient{response: `[]`}
		categorizer, usage := newTestCategorizer(client, 2)
		require.NoError(t, usage.Increment(ctx, 2))

		_, err := categorizer.Categorize(ctx, []string{"OCADO RETAIL"})
		require.Error(t, err)

		var rateErr *RateLimitError
		require.True(t, errors.As(err, &rateErr))
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, 2, rateErr.DailyLimit)
		assert.Equal(t, 0, client.calls())
	})

	t.Run("counts usage at dispatch even when the call fails", func(t *testing.T) {
		client := &mockClient{err: fmt.Errorf("%w: upstream 500", ErrAPIFailure)}
		categorizer, usage := newTestCategorizer(client, 50)

		_, err := categorizer.Categorize(ctx, []string{"OCADO RETAIL"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAPIFailure)

		stats, err := usage.Usage(ctx)
		require.NoError(t, err)
		assert.Equal(t, client.calls(), stats.Count)
		assert.Positive(t, stats.Count)
	})

	t.Run("timeout surfaces as ErrTimeout", func(t *testing.T) {
		client := &mockClient{err: fmt.Errorf("%w: deadline hit", ErrTimeout)}
		categorizer, _ := newTestCategorizer(client, 50)

		_, err := categorizer.Categorize(ctx, []string{"OCADO RETAIL"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("retries on retryable failures", func(t *testing.T) {
		store := &categoryStore{categories: []model.Category{{ID: 1, Name: "Groceries"}}}
		cache := match.NewCache(store, time.Hour)
		usage := NewUsageTracker(nil, 50)
		client := &mockClient{err: fmt.Errorf("%w: flaky upstream", ErrAPIFailure)}

		categorizer := NewCategorizer(client, cache, usage, CategorizerConfig{
			Timeout:    time.Second,
			MaxRetries: 3,
			RetryDelay: time.Millisecond,
		})

		_, err := categorizer.Categorize(ctx, []string{"OCADO RETAIL"})
		require.Error(t, err)
		assert.Equal(t, 3, client.calls())

		// Every dispatched attempt was billable.
		stats, statsErr := usage.Usage(ctx)
		require.NoError(t, statsErr)
		assert.Equal(t, 3, stats.Count)
	})

	t.Run("retries stop dispatching at the daily limit", func(t *testing.T) {
		store := &categoryStore{categories: []model.Category{{ID: 1, Name: "Groceries"}}}
		cache := match.NewCache(store, time.Hour)
		usage := NewUsageTracker(nil, 2)
		client := &mockClient{err: fmt.Errorf("%w: flaky upstream", ErrAPIFailure)}

		categorizer := NewCategorizer(client, cache, usage, CategorizerConfig{
			Timeout:    time.Second,
			MaxRetries: 5,
			RetryDelay: time.Millisecond,
		})

		_, err := categorizer.Categorize(ctx, []string{"OCADO RETAIL"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, 2, client.calls())

		stats, statsErr := usage.Usage(ctx)
		require.NoError(t, statsErr)
		assert.Equal(t, 2, stats.Count)
	})

	t.Run("bare deadline error is retried as a timeout", func(t *testing.T) {
		store := &categoryStore{categories: []model.Category{{ID: 1, Name: "Groceries"}}}
		cache := match.NewCache(store, time.Hour)
		usage := NewUsageTracker(nil, 50)
		client := &mockClient{err: context.DeadlineExceeded}

		categorizer := NewCategorizer(client, cache, usage, CategorizerConfig{
			Timeout:    time.Second,
			MaxRetries: 2,
			RetryDelay: time.Millisecond,
		})

		_, err := categorizer.Categorize(ctx, []string{"OCADO RETAIL"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, 2, client.calls())
	})

	t.Run("unusable reply is a parse failure not a retry", func(t *testing.T) {
		client := &mockClient{response: "I am not able to help with that."}
		categorizer, usage := newTestCategorizer(client, 50)

		_, err := categorizer.Categorize(ctx, []string{"OCADO RETAIL"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrParseFailure)
		assert.Equal(t, 1, client.calls())

		stats, statsErr := usage.Usage(ctx)
		require.NoError(t, statsErr)
		assert.Equal(t, 1, stats.Count)
	})
}

func TestCategorizer_CheckAvailability(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	categorizer, usage := newTestCategorizer(client, 5)

	avail, err := categorizer.CheckAvailability(ctx)
	require.NoError(t, err)
	assert.True(t, avail.Available)
	assert.Equal(t, 5, avail.Remaining)
	assert.Equal(t, 5, avail.DailyLimit)

	require.NoError(t, usage.Increment(ctx, 5))

	avail, err = categorizer.CheckAvailability(ctx)
	require.NoError(t, err)
	assert.False(t, avail.Available)
	assert.Equal(t, 0, avail.Remaining)
}

func TestClassifyCallError(t *testing.T) {
	assert.ErrorIs(t, classifyCallError(ErrTimeout), ErrTimeout)
	assert.ErrorIs(t, classifyCallError(ErrAPIFailure), ErrAPIFailure)
	assert.ErrorIs(t, classifyCallError(context.DeadlineExceeded), ErrTimeout)
	assert.ErrorIs(t, classifyCallError(errors.New("connection refused")), ErrAPIFailure)
}

func TestBuildPrompt_DeterministicOrder(t *testing.T) {
	categories := map[int]model.Category{
		3: {ID: 3, Name: "Salary"},
		1: {ID: 1, Name: "Groceries"},
		2: {ID: 2, Name: "Entertainment"},
	}

	first := buildPrompt(categories, []string{"OCADO"})
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, buildPrompt(categories, []string{"OCADO"}))
	}

	groceries := strings.Index(first, "Groceries")
	entertainment := strings.Index(first, "Entertainment")
	salary := strings.Index(first, "Salary")
	assert.True(t, groceries < entertainment && entertainment < salary)
}
