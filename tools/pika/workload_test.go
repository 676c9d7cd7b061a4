package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	c := &Config{Backend: "memory", Kits: 1, Publishes: 1}
	require.NoError(t, c.Validate())

	c.Backend = "pebble"
	assert.Error(t, c.Validate())
	c.DataDir = t.TempDir()
	require.NoError(t, c.Validate())

	c.Backend = "redis"
	assert.Error(t, c.Validate())

	c = &Config{Backend: "memory", Kits: 1}
	assert.Error(t, c.Validate())
	c.Duration = time.Second
	assert.NoError(t, c.Validate())
}

func TestExecuteRun(t *testing.T) {
	for _, failAtEnd := range []bool{false, true} {
		c := &Config{
			Backend:     "pebble",
			DataDir:     t.TempDir(),
			Kits:        2,
			Publishes:   20,
			Subscribers: 3,
			PayloadSize: 16,
			FailAtEnd:   failAtEnd,
		}
		require.NoError(t, c.Validate())

		var out bytes.Buffer
		require.NoError(t, executeRun(context.Background(), c, &out))
		assert.Contains(t, out.String(), "Publishes:     40")
		assert.Contains(t, out.String(), "Terminals:     6")
		assert.NotContains(t, out.String(), "Errors:")
	}
}

func TestStatsPercentiles(t *testing.T) {
	s := NewStats()
	for i := 1; i <= 100; i++ {
		s.RecordPublish(time.Duration(i) * time.Microsecond)
	}
	p50, p90, p99, max := s.commit.percentiles()
	assert.Equal(t, int64(51), p50)
	assert.Equal(t, int64(91), p90)
	assert.Equal(t, int64(100), p99)
	assert.Equal(t, int64(100), max)
	assert.Equal(t, uint64(100), s.GetSnapshot().Publishes)
}
