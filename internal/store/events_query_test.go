package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplayEvents_Filters(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	appendEvent(t, db, "focus.session_started", "focus", `{"goal":"writing"}`)
	appendEvent(t, db, "wellness.stress_updated", "wellness", `{"level":0.4}`)
	appendEvent(t, db, "focus.session_ended", "focus", `{}`)
	appendEvent(t, db, "wellness.stress_updated", "wellness", `{"level":0.6}`)

	byKind, err := ReplayEvents(db, ReplayParams{Kind: "wellness.stress_updated", Limit: 10})
	require.NoError(t, err)
	require.Len(t, byKind, 2)
	require.Equal(t, int64(2), byKind[0].Sequence)
	require.Equal(t, int64(4), byKind[1].Sequence)

	byOrigin, err := ReplayEvents(db, ReplayParams{Origin: "focus", Limit: 10})
	require.NoError(t, err)
	require.Len(t, byOrigin, 2)

	since, err := ReplayEvents(db, ReplayParams{SinceSequence: 2, Limit: 10})
	require.NoError(t, err)
	require.Len(t, since, 2)
	require.Equal(t, int64(3), since[0].Sequence)

	desc, err := ReplayEvents(db, ReplayParams{Limit: 2, Desc: true})
	require.NoError(t, err)
	require.Len(t, desc, 2)
	require.Equal(t, int64(4), desc[0].Sequence)
	require.Equal(t, int64(3), desc[1].Sequence)
}

func TestReplayEvents_AscendingBySequence(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < 10; i++ {
		appendEvent(t, db, "capacity.workload_updated", "capacity", fmt.Sprintf(`{"workload_pct":%d}`, i*10))
	}

	events, err := ReplayEvents(db, ReplayParams{Limit: 100})
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i := 1; i < len(events); i++ {
		require.Greater(t, events[i].Sequence, events[i-1].Sequence)
	}
}

func TestMaxSequence(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	max, err := MaxSequence(db)
	require.NoError(t, err)
	require.Equal(t, int64(0), max)

	appendEvent(t, db, "focus.session_started", "focus", `{}`)
	appendEvent(t, db, "focus.session_ended", "focus", `{}`)

	max, err = MaxSequence(db)
	require.NoError(t, err)
	require.Equal(t, int64(2), max)
}

func TestCountEventsSince(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	count, err := CountEventsSince(db, "", 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	appendEvent(t, db, "focus.session_started", "focus", `{}`)
	appendEvent(t, db, "wellness.energy_updated", "wellness", `{"level":0.5}`)
	appendEvent(t, db, "focus.session_ended", "focus", `{}`)

	count, err = CountEventsSince(db, "", 0)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	count, err = CountEventsSince(db, "", 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	// Kind filter counts only matching events past the cursor.
	count, err = CountEventsSince(db, "focus.session_ended", 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	count, err = CountEventsSince(db, "focus.session_ended", 3)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestCheckReplayContiguity(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	// Empty log is trivially contiguous.
	require.NoError(t, CheckReplayContiguity(db, 0))

	for i := 0; i < 5; i++ {
		appendEvent(t, db, "wellness.energy_updated", "wellness", `{"level":0.5}`)
	}
	require.NoError(t, CheckReplayContiguity(db, 0))
	require.NoError(t, CheckReplayContiguity(db, 3))

	// Punch a hole in the middle of the log.
	_, err := db.Exec(`DELETE FROM events WHERE sequence = 3`)
	require.NoError(t, err)

	err = CheckReplayContiguity(db, 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrReplayGap))

	var gap *ReplayGapError
	require.True(t, errors.As(err, &gap))
	require.Equal(t, int64(5), gap.MaxSequence)
	require.Equal(t, int64(5), gap.Expected)
	require.Equal(t, int64(4), gap.Found)

	// A cursor past the hole is still contiguous.
	require.NoError(t, CheckReplayContiguity(db, 3))
}
