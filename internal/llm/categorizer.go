package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tallyfin/tally/internal/common"
	"github.com/tallyfin/tally/internal/match"
	"github.com/tallyfin/tally/internal/model"
	"github.com/tallyfin/tally/internal/service"
)

// DefaultCallTimeout bounds a single external classification call.
const DefaultCallTimeout = 30 * time.Second

// Availability reports whether AI categorisation may be used right now.
type Availability struct {
	Available  bool `json:"available"`
	Remaining  int  `json:"remaining"`
	DailyLimit int  `json:"daily_limit"`
}

// Categorizer assigns categories to descriptions no rule covers by
// querying an external classification service with the current category
// list as context. Calls are gated by the usage tracker's daily budget.
// AI categorisation is strictly best-effort: a failure here never blocks
// rule-based matching.
type Categorizer struct {
	client    Client
	cache     *match.Cache
	usage     *UsageTracker
	timeout   time.Duration
	retryOpts service.RetryOptions
}

// CategorizerConfig holds configuration for the categorizer.
type CategorizerConfig struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// NewCategorizer creates an AI fallback categorizer. The cache is the same
// instance the rule matcher uses, so category context reads never add
// store load.
func NewCategorizer(client Client, cache *match.Cache, usage *UsageTracker, cfg CategorizerConfig) *Categorizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	return &Categorizer{
		client:    client,
		cache:     cache,
		usage:     usage,
		timeout:   timeout,
		retryOpts: retryOpts,
	}
}

// CheckAvailability reports the remaining daily budget.
func (c *Categorizer) CheckAvailability(ctx context.Context) (Availability, error) {
	stats, err := c.usage.Usage(ctx)
	if err != nil {
		return Availability{}, err
	}

	remaining := stats.DailyLimit - stats.Count
	if remaining < 0 {
		remaining = 0
	}

	return Availability{
		Available:  remaining > 0,
		Remaining:  remaining,
		DailyLimit: stats.DailyLimit,
	}, nil
}

// Categorize sends a batch of descriptions to the classification service
// and returns validated per-index results, nil for items the service could
// not usefully categorise. Usage is counted when a call is dispatched, not
// when it succeeds, because the provider bills for timed-out and
// malformed replies too.
func (c *Categorizer) Categorize(ctx context.Context, descriptions []string) (map[int]*model.MatchResult, error) {
	if len(descriptions) == 0 {
		return map[int]*model.MatchResult{}, nil
	}

	avail, err := c.CheckAvailability(ctx)
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		return nil, &RateLimitError{Remaining: 0, DailyLimit: avail.DailyLimit}
	}

	categories, err := c.cache.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories for prompt: %w", err)
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: no categories configured", ErrInvalidResponse)
	}

	byName := make(map[string]model.Category, len(categories))
	for _, cat := range categories {
		byName[model.NormalizePattern(cat.Name)] = cat
	}

	prompt := buildPrompt(categories, descriptions)

	var raw string
	err = common.WithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		// Re-check the budget on every attempt: retries bill like first
		// calls, and must never dispatch past the limit.
		stats, usageErr := c.usage.Usage(ctx)
		if usageErr != nil {
			return &common.RetryableError{Err: usageErr, Retryable: false}
		}
		if stats.Count >= stats.DailyLimit {
			return &common.RetryableError{
				Err:       &RateLimitError{Remaining: 0, DailyLimit: stats.DailyLimit},
				Retryable: false,
			}
		}

		// Count at dispatch: every attempt is a billable call.
		if usageErr := c.usage.Increment(ctx, 1); usageErr != nil {
			return &common.RetryableError{Err: usageErr, Retryable: false}
		}

		var callErr error
		raw, callErr = c.client.Complete(callCtx, prompt)
		if callErr != nil {
			classified := classifyCallError(callErr)
			return &common.RetryableError{
				Err:       classified,
				Retryable: errors.Is(classified, ErrAPIFailure) || errors.Is(classified, ErrTimeout),
			}
		}
		return nil
	}, c.retryOpts)
	if err != nil {
		var retryableErr *common.RetryableError
		if errors.As(err, &retryableErr) {
			err = retryableErr.Err
		}
		return nil, fmt.Errorf("AI categorisation failed: %w", err)
	}

	results, err := parseCategorisations(raw, len(descriptions), byName)
	if err != nil {
		// Keep the raw payload for diagnosis; parse failures are not
		// retryable with the same input.
		slog.Error("failed to parse AI categorisation response",
			"error", err,
			"raw_response", raw)
		return nil, err
	}

	matched := 0
	for _, r := range results {
		if r != nil {
			matched++
		}
	}
	slog.Debug("AI categorisation complete",
		"descriptions", len(descriptions),
		"matched", matched)

	return results, nil
}

// TrackUsage records n dispatched calls. Exposed for callers that invoke
// the external service outside this categorizer; safe to call after a
// failed call since billing happens regardless of response validity.
func (c *Categorizer) TrackUsage(ctx context.Context, n int) error {
	return c.usage.Increment(ctx, n)
}

// classifyCallError maps raw client errors onto the taxonomy. Deadline
// errors that escaped the client's own mapping become ErrTimeout.
func classifyCallError(err error) error {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrAPIFailure) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrAPIFailure, err)
}

// buildPrompt embeds the category list and the numbered batch of
// descriptions. The reply contract is a JSON array of
// {index, category, confidence} objects.
func buildPrompt(categories map[int]model.Category, descriptions []string) string {
	var sb strings.Builder

	sb.WriteString("Categorise the following bank transaction descriptions.\n\n")
	sb.WriteString("Available categories (use the exact name):\n")

	ids := make([]int, 0, len(categories))
	for id := range categories {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		cat := categories[id]
		kind := "expense"
		if cat.IsIncome {
			kind = "income"
		}
		if cat.GroupName != "" {
			fmt.Fprintf(&sb, "- %s (%s, %s)\n", cat.Name, cat.GroupName, kind)
		} else {
			fmt.Fprintf(&sb, "- %s (%s)\n", cat.Name, kind)
		}
	}

	sb.WriteString("\nTransactions:\n")
	for i, desc := range descriptions {
		fmt.Fprintf(&sb, "%d. %s\n", i, strings.TrimSpace(desc))
	}

	sb.WriteString(`
Respond with ONLY a JSON array, one object per transaction you can
categorise with reasonable certainty:
[{"index": 0, "category": "<exact category name>", "confidence": 0.0-1.0}]
Omit transactions you cannot categorise. Do not invent category names.`)

	return sb.String()
}
