package main

import (
	"bytes"
	"io"
	"testing"
	"time"

	"appointly/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunUsage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", nil, 2},
		{"unknown command", []string{"vacuum"}, 2},
		{"help", []string{"help"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, tt.code, run(tt.args, &stdout, &stderr))
			assert.Contains(t, stdout.String()+stderr.String(), "usage: sweeper")
		})
	}
}

func TestParseFlags(t *testing.T) {
	lc := config.LifecycleConfig{GracePeriod: 15 * time.Minute}

	opts, err := parseFlags("no-shows", nil, lc, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, opts.gracePeriod)
	assert.False(t, opts.dryRun)

	opts, err = parseFlags("no-shows", []string{"--grace-period=30", "--dry-run"}, lc, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, opts.gracePeriod)
	assert.True(t, opts.dryRun)

	opts, err = parseFlags("reminders", []string{"--dry-run"}, lc, io.Discard)
	require.NoError(t, err)
	assert.True(t, opts.dryRun)

	_, err = parseFlags("reminders", []string{"--grace-period=30"}, lc, io.Discard)
	assert.Error(t, err, "reminders takes no grace period")

	_, err = parseFlags("heartbeat", []string{"--dry-run"}, lc, io.Discard)
	assert.Error(t, err)

	_, err = parseFlags("no-shows", []string{"--grace-period=-5"}, lc, io.Discard)
	assert.Error(t, err)

	opts, err = parseFlags("export", []string{"--from=2026-03-02", "--to=2026-03-08"}, lc, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", opts.from)
	assert.Equal(t, "2026-03-08", opts.to)

	_, err = parseFlags("export", []string{"--dry-run"}, lc, io.Discard)
	assert.Error(t, err)
}

func TestParseDay(t *testing.T) {
	fallback := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	got, err := parseDay("", fallback, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, fallback, got)

	got, err = parseDay("2026-03-05", fallback, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), got)

	_, err = parseDay("05.03.2026", fallback, time.UTC)
	assert.Error(t, err)
}
