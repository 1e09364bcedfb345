package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tallyfin/tally/internal/service"
)

// DefaultDailyLimit is the number of AI categorisation calls permitted per
// calendar day when no limit is configured.
const DefaultDailyLimit = 50

// dayKey returns the UTC calendar date for a point in time. Day rollover
// is computed on read by comparing keys, never by a timer, so a server
// timezone change cannot drift the counter.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// UsageStats reports the current day's AI call usage.
type UsageStats struct {
	Date       string `json:"date"`
	Count      int    `json:"count"`
	DailyLimit int    `json:"daily_limit"`
}

// UsageTracker records daily AI-categorisation call counts against a
// configured limit. Counts are keyed by UTC date; any date other than
// today reads as zero. When a UsageStore is provided the count survives
// process restarts, otherwise it is process-local.
type UsageTracker struct {
	now        func() time.Time
	store      service.UsageStore
	day        string
	dailyLimit int
	count      int
	mu         sync.Mutex
}

// NewUsageTracker creates a tracker with the given daily limit. store may
// be nil for purely in-memory counting.
func NewUsageTracker(store service.UsageStore, dailyLimit int) *UsageTracker {
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyLimit
	}
	return &UsageTracker{
		store:      store,
		dailyLimit: dailyLimit,
		now:        time.Now,
	}
}

// Usage returns the current day's call count and limit, rolling the
// counter over lazily when the calendar day has changed.
func (t *UsageTracker) Usage(ctx context.Context) (UsageStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.rollover(ctx); err != nil {
		return UsageStats{}, err
	}

	return UsageStats{
		Date:       t.day,
		Count:      t.count,
		DailyLimit: t.dailyLimit,
	}, nil
}

// Increment adds n calls to today's counter. Callers report counts for
// calls actually dispatched to the external service, whether or not the
// response was usable, since the provider bills per call regardless.
func (t *UsageTracker) Increment(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.rollover(ctx); err != nil {
		return err
	}

	t.count += n
	if t.store != nil {
		if err := t.store.WriteUsage(ctx, t.day, t.count); err != nil {
			return fmt.Errorf("failed to persist usage count: %w", err)
		}
	}

	return nil
}

// Remaining returns how many calls are left today, floored at zero.
func (t *UsageTracker) Remaining(ctx context.Context) (int, error) {
	stats, err := t.Usage(ctx)
	if err != nil {
		return 0, err
	}
	remaining := stats.DailyLimit - stats.Count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// rollover resets the counter when the day key no longer matches today,
// loading any persisted count for the new day. Callers must hold the lock.
func (t *UsageTracker) rollover(ctx context.Context) error {
	today := dayKey(t.now())
	if t.day == today {
		return nil
	}

	t.day = today
	t.count = 0

	if t.store != nil {
		count, err := t.store.ReadUsage(ctx, today)
		if err != nil {
			return fmt.Errorf("failed to read usage count: %w", err)
		}
		t.count = count
	}

	return nil
}
