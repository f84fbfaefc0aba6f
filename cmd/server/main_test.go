package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/aggregator-router/internal/cache"
	"github.com/stanstork/aggregator-router/internal/config"
)

func TestRun_StartupFailureClosesCacheStore(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache")
	app := &application{
		config: &config.Config{
			ServerPort:  "0",
			Cache:       config.CacheConfig{Path: cachePath, GCInterval: time.Minute},
			Preferences: config.PreferencesConfig{Path: filepath.Join(dir, "missing.yaml")},
		},
		logger: zerolog.Nop(),
	}

	err := app.run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load preferences")

	// Badger holds a directory lock until Close, so reopening proves run released it.
	store, err := cache.Open(cache.Config{Path: cachePath}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
