package store

import (
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/chord/internal/models"
)

func TestIdempotency_BeginCompleteReplay(t *testing.T) {
	db, err := InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	origin := "focus"
	requestID := "req_1"
	command := "unit.test"
	result := `{"ok":true}`

	tx, err := db.Begin()
	require.NoError(t, err)
	_, done, err := beginIdempotencyTx(tx, origin, requestID, command)
	require.NoError(t, err)
	require.False(t, done)
	require.NoError(t, completeIdempotencyTx(tx, origin, requestID, result))
	require.NoError(t, tx.Commit())

	tx2, err := db.Begin()
	require.NoError(t, err)
	existing, done, err := beginIdempotencyTx(tx2, origin, requestID, command)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, result, existing)
	require.NoError(t, tx2.Rollback())
}

func TestIdempotency_InProgressIsRetryable(t *testing.T) {
	db, err := InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	origin := "focus"
	requestID := "req_inflight"
	command := "unit.inflight"

	// Simulate a broken writer that committed an empty result_json row.
	_, err = db.Exec(`INSERT INTO idempotency (origin, request_id, command, result_json) VALUES (?, ?, ?, '')`, origin, requestID, command)
	require.NoError(t, err)

	tx, err := db.Begin()
	require.NoError(t, err)
	_, done, err := beginIdempotencyTx(tx, origin, requestID, command)
	require.Error(t, err)
	require.False(t, done)
	require.ErrorIs(t, err, ErrIdempotencyInProgress)
	require.NoError(t, tx.Rollback())

	require.True(t, isRetryableError(err))
}

func TestRunIdempotent_ReplaySkipsOperation(t *testing.T) {
	db, err := InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	type result struct {
		Sequence int64 `json:"sequence"`
	}

	origin := "focus"
	requestID := "req_run_idem"
	command := "unit.run_idempotent"

	first, err := RunIdempotent(db, origin, requestID, command, func(tx *sql.Tx) (result, error) {
		seq, execErr := AppendEventTx(tx, &models.Event{
			Kind:    "focus.session_started",
			Origin:  origin,
			Payload: json.RawMessage(`{"goal":"writing"}`),
		})
		if execErr != nil {
			return result{}, execErr
		}
		return result{Sequence: seq}, nil
	})
	require.NoError(t, err)
	require.Greater(t, first.Sequence, int64(0))

	second, err := RunIdempotent(db, origin, requestID, command, func(tx *sql.Tx) (result, error) {
		t.Fatalf("operation should not run on replay")
		return result{}, nil
	})
	require.NoError(t, err)
	require.Equal(t, first.Sequence, second.Sequence)

	var eventCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&eventCount))
	require.Equal(t, 1, eventCount)
}
