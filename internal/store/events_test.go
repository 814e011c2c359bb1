package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/chord/internal/models"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	tempDir := t.TempDir()
	testDBPath := tempDir + "/test.db"

	db, err := InitDBWithPath(testDBPath)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
	}

	return db, cleanup
}

// appendEvent is a test helper that durably appends one event.
func appendEvent(t *testing.T, db *sql.DB, kind, origin, payload string) int64 {
	t.Helper()
	seq, err := AppendEvent(db, &models.Event{
		Kind:    kind,
		Origin:  origin,
		Payload: json.RawMessage(payload),
	})
	if err != nil {
		t.Fatalf("appendEvent(%q, %q): %v", kind, origin, err)
	}
	return seq
}

func TestAppendEvent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	seq := appendEvent(t, db, "focus.session_started", "focus", `{"goal":"writing"}`)

	if seq <= 0 {
		t.Errorf("Expected positive sequence, got %d", seq)
	}

	// Verify event was stored
	var kind, origin, payload string
	var priority int
	err := db.QueryRow("SELECT kind, origin, payload, priority FROM events WHERE sequence = ?", seq).
		Scan(&kind, &origin, &payload, &priority)
	if err != nil {
		t.Fatalf("Failed to query event: %v", err)
	}

	if kind != "focus.session_started" {
		t.Errorf("Expected kind=focus.session_started, got %s", kind)
	}
	if origin != "focus" {
		t.Errorf("Expected origin=focus, got %s", origin)
	}
	if payload != `{"goal":"writing"}` {
		t.Errorf("Expected payload to round-trip, got %s", payload)
	}
	if priority != 5 {
		t.Errorf("Expected default priority 5, got %d", priority)
	}
}

func TestAppendEvent_SequencesAreMonotonic(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	var last int64
	for i := 0; i < 5; i++ {
		seq := appendEvent(t, db, "tasks.commitment_detected", "tasks", fmt.Sprintf(`{"n":%d}`, i))
		require.Greater(t, seq, last)
		last = seq
	}
}

func TestValidateEvent(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		origin  string
		payload string
		wantErr bool
	}{
		{"valid", "focus.session_started", "focus", `{"goal":"x"}`, false},
		{"empty kind", "", "focus", `{}`, true},
		{"empty origin", "focus.session_started", "", `{}`, true},
		{"invalid payload json", "focus.session_started", "focus", `{not json`, true},
		{"empty payload ok", "focus.session_started", "focus", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEvent(tc.kind, tc.origin, []byte(tc.payload))
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAppendEventIdempotent_Replay(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ev := &models.Event{
		Kind:    "tasks.commitment_detected",
		Origin:  "tasks",
		Payload: json.RawMessage(`{"what":"send report"}`),
	}

	seq1, err := AppendEventIdempotent(db, "req_1", ev)
	require.NoError(t, err)
	seq2, err := AppendEventIdempotent(db, "req_1", ev)
	require.NoError(t, err)
	require.Equal(t, seq1, seq2)

	var cnt int
	err = db.QueryRow(`SELECT COUNT(*) FROM events WHERE origin = ? AND kind = ?`, "tasks", "tasks.commitment_detected").Scan(&cnt)
	require.NoError(t, err)
	require.Equal(t, 1, cnt)
}

func TestArchiveEventsRangeWithSummaryIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	appendEvent(t, db, "wellness.stress_updated", "wellness", `{"level":0.2}`)
	appendEvent(t, db, "wellness.stress_updated", "wellness", `{"level":0.3}`)
	appendEvent(t, db, "wellness.stress_updated", "wellness", `{"level":0.4}`)

	summarySeq, archivedCount, err := ArchiveEventsRangeWithSummaryIdempotent(db, "wellness", "req-archive-1", 1, 2, "Compressed old stress readings")
	require.NoError(t, err)
	require.Greater(t, summarySeq, int64(0))
	require.Equal(t, int64(2), archivedCount)

	// Idempotent replay should not create a second summary event.
	replayedSeq, replayedCount, err := ArchiveEventsRangeWithSummaryIdempotent(db, "wellness", "req-archive-1", 1, 2, "Compressed old stress readings")
	require.NoError(t, err)
	require.Equal(t, summarySeq, replayedSeq)
	require.Equal(t, archivedCount, replayedCount)

	visible, err := ReplayEvents(db, ReplayParams{ActiveOnly: true, Limit: 20})
	require.NoError(t, err)
	require.Len(t, visible, 2)
	require.Equal(t, models.EventKindEventsSummary, visible[1].Kind)

	// Replay for rebuild still sees archived events.
	all, err := ReplayEvents(db, ReplayParams{Limit: 20})
	require.NoError(t, err)
	require.Len(t, all, 4)

	var summaryCount int
	err = db.QueryRow(`SELECT COUNT(*) FROM events WHERE kind = ?`, models.EventKindEventsSummary).Scan(&summaryCount)
	require.NoError(t, err)
	require.Equal(t, 1, summaryCount)
}

func TestCountActiveEvents(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	// Empty DB
	count, err := CountActiveEvents(db, "")
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	// Add events
	appendEvent(t, db, "capacity.workload_updated", "capacity", `{"workload_pct":10}`)
	appendEvent(t, db, "capacity.workload_updated", "capacity", `{"workload_pct":20}`)
	appendEvent(t, db, "capacity.workload_updated", "capacity", `{"workload_pct":30}`)

	count, err = CountActiveEvents(db, "")
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	// Archive one event
	_, _, err = ArchiveEventsRangeWithSummaryIdempotent(db, "capacity", "req-cnt-1", 1, 1, "compressed")
	require.NoError(t, err)

	// Should count 3 active (two readings + summary event), not the archived one
	count, err = CountActiveEvents(db, "")
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
}

func TestFindArchiveWindow(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	// Empty DB
	fromSeq, toSeq, err := FindArchiveWindow(db, 5)
	require.NoError(t, err)
	require.Equal(t, int64(0), fromSeq)
	require.Equal(t, int64(0), toSeq)

	// Add 5 events
	for i := range 5 {
		appendEvent(t, db, "wellness.energy_updated", "wellness", fmt.Sprintf(`{"level":0.%d}`, i+1))
	}

	// Keep 3 recent: should archive sequences 1-2
	fromSeq, toSeq, err = FindArchiveWindow(db, 3)
	require.NoError(t, err)
	require.Equal(t, int64(1), fromSeq)
	require.Equal(t, int64(2), toSeq)

	// Keep all: should return 0,0
	fromSeq, toSeq, err = FindArchiveWindow(db, 5)
	require.NoError(t, err)
	require.Equal(t, int64(0), fromSeq)
	require.Equal(t, int64(0), toSeq)

	// Keep more than available: should return 0,0
	fromSeq, toSeq, err = FindArchiveWindow(db, 100)
	require.NoError(t, err)
	require.Equal(t, int64(0), fromSeq)
	require.Equal(t, int64(0), toSeq)
}

func TestPruneArchivedEventsIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	appendEvent(t, db, "wellness.stress_updated", "wellness", `{"level":0.1}`)
	appendEvent(t, db, "wellness.stress_updated", "wellness", `{"level":0.2}`)
	appendEvent(t, db, "wellness.stress_updated", "wellness", `{"level":0.3}`)

	_, _, err := ArchiveEventsRangeWithSummaryIdempotent(db, "wellness", "req-prune-archive", 1, 2, "compressed")
	require.NoError(t, err)

	// No checkpoint yet: nothing is eligible.
	deleted, err := PruneArchivedEventsIdempotent(db, "wellness", "req-prune-0", 30, 10)
	require.NoError(t, err)
	require.Equal(t, int64(0), deleted)

	// Checkpoint past the archived range makes it prunable.
	_, err = SaveContextCheckpoint(db, &models.ContextSnapshot{
		Fields:       map[string]any{},
		Version:      1,
		LastSequence: 4,
	})
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE events SET archived_at = datetime('now', '-45 days') WHERE sequence IN (1,2)`)
	require.NoError(t, err)

	deleted, err = PruneArchivedEventsIdempotent(db, "wellness", "req-prune-1", 30, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	// Idempotent replay with same request ID returns same count.
	replayedDeleted, err := PruneArchivedEventsIdempotent(db, "wellness", "req-prune-1", 30, 10)
	require.NoError(t, err)
	require.Equal(t, deleted, replayedDeleted)

	var total int
	err = db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&total)
	require.NoError(t, err)
	// reading 3 + summary + checkpoint event remain.
	require.Equal(t, 3, total)
}
