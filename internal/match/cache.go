// Package match provides the cached rule matching pipeline that assigns
// categories to imported transaction descriptions.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tallyfin/tally/internal/model"
	"github.com/tallyfin/tally/internal/service"
)

// DefaultCacheTTL bounds how long cached rules and categories are served
// before a store refresh.
const DefaultCacheTTL = 5 * time.Minute

// rulesEntry wraps the cached active rule list with its fetch time.
type rulesEntry struct {
	fetchedAt time.Time
	rules     []model.Rule
}

// categoriesEntry wraps the cached category map with its fetch time.
type categoriesEntry struct {
	fetchedAt  time.Time
	categories map[int]model.Category
}

// Cache is a TTL-bounded in-process cache of the active rule set and the
// category list, shared by all matching operations. The cache is
// read-mostly: concurrent refreshes may both hit the store and the last
// write wins, which is acceptable within one TTL window. Store fetch
// errors propagate to the caller and are never cached.
type Cache struct {
	store      service.RuleStore
	rules      *rulesEntry
	categories *categoriesEntry
	ttl        time.Duration
	mu         sync.RWMutex
}

// NewCache creates a rule cache backed by the given store.
func NewCache(store service.RuleStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		store: store,
		ttl:   ttl,
	}
}

// ActiveRules returns the cached active rule list in stable store order,
// refreshing from the store when the entry is missing or stale.
func (c *Cache) ActiveRules(ctx context.Context) ([]model.Rule, error) {
	c.mu.RLock()
	entry := c.rules
	c.mu.RUnlock()

	if entry != nil && time.Since(entry.fetchedAt) < c.ttl {
		return entry.rules, nil
	}

	rules, err := c.store.ListRules(ctx, service.RuleFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to refresh rule cache: %w", err)
	}

	c.mu.Lock()
	c.rules = &rulesEntry{rules: rules, fetchedAt: time.Now()}
	c.mu.Unlock()

	slog.Debug("rule cache refreshed", "rules", len(rules))
	return rules, nil
}

// Categories returns the cached category map keyed by ID, refreshing from
// the store when the entry is missing or stale.
func (c *Cache) Categories(ctx context.Context) (map[int]model.Category, error) {
	c.mu.RLock()
	entry := c.categories
	c.mu.RUnlock()

	if entry != nil && time.Since(entry.fetchedAt) < c.ttl {
		return entry.categories, nil
	}

	list, err := c.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh category cache: %w", err)
	}

	categories := make(map[int]model.Category, len(list))
	for _, cat := range list {
		categories[cat.ID] = cat
	}

	c.mu.Lock()
	c.categories = &categoriesEntry{categories: categories, fetchedAt: time.Now()}
	c.mu.Unlock()

	slog.Debug("category cache refreshed", "categories", len(categories))
	return categories, nil
}

// Invalidate clears both cache entries unconditionally. Called after any
// rule mutation so subsequent matches see the change immediately.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.rules = nil
	c.categories = nil
	c.mu.Unlock()

	slog.Debug("rule cache invalidated")
}
