package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCalculateNextRetryBacksOffExponentially(t *testing.T) {
	now := time.Now()

	first := calculateNextRetry(0)
	require.WithinDuration(t, now.Add(10*time.Second), first, 2*time.Second)

	third := calculateNextRetry(2)
	require.WithinDuration(t, now.Add(40*time.Second), third, 2*time.Second)
}

func TestCalculateNextRetryCapsAtTenMinutes(t *testing.T) {
	now := time.Now()
	capped := calculateNextRetry(20)
	require.WithinDuration(t, now.Add(10*time.Minute), capped, 2*time.Second)
}

func TestDefaultRetryWorkerConfig(t *testing.T) {
	cfg := DefaultRetryWorkerConfig()
	require.Equal(t, 5*time.Second, cfg.PollInterval)
	require.Equal(t, 50, cfg.BatchSize)
	require.Equal(t, 20, cfg.MaxRetries)
}
