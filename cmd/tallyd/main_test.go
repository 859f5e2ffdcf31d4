package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/config"
	"github.com/xraph/tally/extension"
	"github.com/xraph/tally/store/memory"
)

func TestNewLogger(t *testing.T) {
	l := newLogger(config.LogConfig{Level: "debug", Format: "text"})
	assert.True(t, l.Enabled(context.Background(), slog.LevelDebug))

	l = newLogger(config.LogConfig{Level: "warn", Format: "json"})
	assert.False(t, l.Enabled(context.Background(), slog.LevelInfo))
}

func TestOpenStoreDefaultsToMemory(t *testing.T) {
	s, err := extension.OpenStore(t.Context(), config.StoreConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &memory.Store{}, s)
}

func TestOpenPublisherDisabled(t *testing.T) {
	pub, err := openPublisher(config.EventsConfig{}, slog.Default())
	require.NoError(t, err)
	assert.Nil(t, pub)
}

func TestNewRedisClient(t *testing.T) {
	rdb, err := newRedisClient("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", rdb.Options().Addr)
	_ = rdb.Close()

	rdb, err = newRedisClient("redis://:secret@cache:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", rdb.Options().Addr)
	assert.Equal(t, 2, rdb.Options().DB)
	_ = rdb.Close()

	_, err = newRedisClient("http://nope")
	assert.Error(t, err)
}
