package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/tallyfin/tally/internal/match"
	"github.com/tallyfin/tally/internal/rules"
	"github.com/tallyfin/tally/internal/storage"
)

// openStorage opens the configured database, applying any pending
// migrations.
func openStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".local", "share", "tally", "tally.db")
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate storage: %w", err)
	}

	return store, nil
}

// engine bundles the wired categorisation components for a command
// invocation. The cache is constructed once here and shared by the
// matcher and manager.
type engine struct {
	store   *storage.SQLiteStorage
	cache   *match.Cache
	matcher *match.Matcher
	manager *rules.Manager
}

func newEngine(ctx context.Context) (*engine, error) {
	store, err := openStorage(ctx)
	if err != nil {
		return nil, err
	}

	cache := match.NewCache(store, viper.GetDuration("cache.ttl"))
	return &engine{
		store:   store,
		cache:   cache,
		matcher: match.NewMatcher(cache, store),
		manager: rules.NewManager(store, cache),
	}, nil
}

func (e *engine) Close() {
	_ = e.store.Close()
}
