package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRecoverableError_Is verifies each struct type matches its own sentinel
// via errors.Is and does not cross-match other sentinels.
func TestRecoverableError_Is(t *testing.T) {
	publish := &PublishFailureError{Kind: "focus.session_started", Origin: "focus", Err: fmt.Errorf("disk full")}
	gap := &ReplayGapError{SinceSequence: 10, MaxSequence: 20, Expected: 10, Found: 8}
	inProgress := &IdempotencyInProgressError{Origin: "focus", RequestID: "req-1", Command: "events.append"}

	// Each struct matches its own sentinel.
	assert.ErrorIs(t, publish, ErrPublishFailure)
	assert.ErrorIs(t, gap, ErrReplayGap)
	assert.ErrorIs(t, inProgress, ErrIdempotencyInProgress)

	// Cross-match must return false.
	assert.False(t, errors.Is(publish, ErrReplayGap), "PublishFailureError should not match ErrReplayGap")
	assert.False(t, errors.Is(publish, ErrIdempotencyInProgress), "PublishFailureError should not match ErrIdempotencyInProgress")

	assert.False(t, errors.Is(gap, ErrPublishFailure), "ReplayGapError should not match ErrPublishFailure")
	assert.False(t, errors.Is(gap, ErrIdempotencyInProgress), "ReplayGapError should not match ErrIdempotencyInProgress")

	assert.False(t, errors.Is(inProgress, ErrPublishFailure), "IdempotencyInProgressError should not match ErrPublishFailure")
	assert.False(t, errors.Is(inProgress, ErrReplayGap), "IdempotencyInProgressError should not match ErrReplayGap")
}

// TestRecoverableError_ErrorCode verifies each struct returns the correct code string.
func TestRecoverableError_ErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      RecoverableError
		wantCode string
	}{
		{
			name:     "PublishFailureError",
			err:      &PublishFailureError{Kind: "k", Origin: "o", Err: fmt.Errorf("boom")},
			wantCode: "PUBLISH_FAILURE",
		},
		{
			name:     "ReplayGapError",
			err:      &ReplayGapError{SinceSequence: 0, MaxSequence: 5, Expected: 5, Found: 3},
			wantCode: "REPLAY_GAP",
		},
		{
			name:     "IdempotencyInProgressError",
			err:      &IdempotencyInProgressError{Origin: "focus", RequestID: "req-1", Command: "events.append"},
			wantCode: "IDEMPOTENCY_IN_PROGRESS",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantCode, tc.err.ErrorCode())
		})
	}
}

// TestRecoverableError_Context verifies each struct returns a context map with expected keys and values.
func TestRecoverableError_Context(t *testing.T) {
	t.Run("PublishFailureError", func(t *testing.T) {
		e := &PublishFailureError{Kind: "focus.session_started", Origin: "focus", Err: fmt.Errorf("boom")}
		ctx := e.Context()
		require.Contains(t, ctx, "kind")
		require.Contains(t, ctx, "origin")
		assert.Equal(t, "focus.session_started", ctx["kind"])
		assert.Equal(t, "focus", ctx["origin"])
	})

	t.Run("ReplayGapError", func(t *testing.T) {
		e := &ReplayGapError{SinceSequence: 10, MaxSequence: 20, Expected: 10, Found: 8}
		ctx := e.Context()
		require.Contains(t, ctx, "since_sequence")
		require.Contains(t, ctx, "max_sequence")
		require.Contains(t, ctx, "expected")
		require.Contains(t, ctx, "found")
		assert.Equal(t, "10", ctx["since_sequence"])
		assert.Equal(t, "20", ctx["max_sequence"])
		assert.Equal(t, "10", ctx["expected"])
		assert.Equal(t, "8", ctx["found"])
	})

	t.Run("IdempotencyInProgressError", func(t *testing.T) {
		e := &IdempotencyInProgressError{Origin: "focus", RequestID: "req-42", Command: "bus.publish"}
		ctx := e.Context()
		require.Contains(t, ctx, "origin")
		require.Contains(t, ctx, "request_id")
		require.Contains(t, ctx, "command")
		assert.Equal(t, "focus", ctx["origin"])
		assert.Equal(t, "req-42", ctx["request_id"])
		assert.Equal(t, "bus.publish", ctx["command"])
	})
}

// TestRecoverableError_SuggestedAction verifies every error offers a
// non-empty recovery hint.
func TestRecoverableError_SuggestedAction(t *testing.T) {
	errs := []RecoverableError{
		&PublishFailureError{Kind: "k", Origin: "o", Err: fmt.Errorf("boom")},
		&ReplayGapError{},
		&IdempotencyInProgressError{},
	}
	for _, e := range errs {
		assert.NotEmpty(t, e.SuggestedAction())
	}
}

// TestPublishFailureError_Unwrap verifies the wrapped cause is reachable.
func TestPublishFailureError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	e := &PublishFailureError{Kind: "k", Origin: "o", Err: cause}
	assert.ErrorIs(t, e, cause)
}
