package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRetryableError(t *testing.T) {
	require.True(t, isRetryableError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	require.True(t, isRetryableError(errors.New("wrapped: SQLITE_BUSY")))
	require.True(t, isRetryableError(ErrIdempotencyInProgress))
	require.False(t, isRetryableError(errors.New("UNIQUE constraint failed: idempotency.origin")))
	require.False(t, isRetryableError(errors.New("no such table: events")))
}

func TestRetryWithBackoff_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(func() error {
		calls++
		return errors.New("UNIQUE constraint failed")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryWithBackoff_RetriesTransientError(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}
