package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockUsageStore is an in-memory UsageStore keyed by day.
type mockUsageStore struct {
	counts map[string]int
	mu     sync.Mutex
}

func newMockUsageStore() *mockUsageStore {
	return &mockUsageStore{counts: make(map[string]int)}
}

func (m *mockUsageStore) ReadUsage(_ context.Context, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[day], nil
}

func (m *mockUsageStore) WriteUsage(_ context.Context, day string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[day] = count
	return nil
}

func TestUsageTracker_Increment(t *testing.T) {
	ctx := context.Background()
	tracker := NewUsageTracker(nil, 5)

	stats, err := tracker.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
	assert.Equal(t, 5, stats.DailyLimit)

	require.NoError(t, tracker.Increment(ctx, 3))
	require.NoError(t, tracker.Increment(ctx, 1))

	stats, err = tracker.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Count)

	remaining, err := tracker.Remaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestUsageTracker_RemainingFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	tracker := NewUsageTracker(nil, 2)

	require.NoError(t, tracker.Increment(ctx, 10))

	remaining, err := tracker.Remaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestUsageTracker_DayRollover(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)

	tracker := NewUsageTracker(nil, 50)
	tracker.now = func() time.Time { return current }

	require.NoError(t, tracker.Increment(ctx, 7))
	stats, err := tracker.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14", stats.Date)
	assert.Equal(t, 7, stats.Count)

	// Cross midnight UTC. The counter resets without any timer firing.
	current = current.Add(15 * time.Minute)
	stats, err = tracker.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15", stats.Date)
	assert.Equal(t, 0, stats.Count)
}

func TestUsageTracker_RolloverUsesUTC(t *testing.T) {
	ctx := context.Background()

	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("UTC-5", -5*60*60)
	tracker := NewUsageTracker(nil, 50)
	tracker.now = func() time.Time {
		return time.Date(2026, 3, 14, 23, 30, 0, 0, loc)
	}

	stats, err := tracker.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15", stats.Date)
}

func TestUsageTracker_PersistsThroughStore(t *testing.T) {
	ctx := context.Background()
	store := newMockUsageStore()

	tracker := NewUsageTracker(store, 50)
	require.NoError(t, tracker.Increment(ctx, 12))

	// A fresh tracker over the same store picks up today's count.
	restarted := NewUsageTracker(store, 50)
	stats, err := restarted.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, stats.Count)
}

func TestUsageTracker_RolloverLoadsPersistedCount(t *testing.T) {
	ctx := context.Background()
	store := newMockUsageStore()
	store.counts["2026-03-15"] = 9

	current := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	tracker := NewUsageTracker(store, 50)
	tracker.now = func() time.Time { return current }

	require.NoError(t, tracker.Increment(ctx, 3))

	// Another process already recorded calls for the new day.
	current = current.Add(24 * time.Hour)
	stats, err := tracker.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15", stats.Date)
	assert.Equal(t, 9, stats.Count)
}

func TestUsageTracker_ZeroAndNegativeIncrementsIgnored(t *testing.T) {
	ctx := context.Background()
	tracker := NewUsageTracker(nil, 50)

	require.NoError(t, tracker.Increment(ctx, 0))
	require.NoError(t, tracker.Increment(ctx, -3))

	stats, err := tracker.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
}
