package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dotcommander/chord/internal/models"
)

// ReplayParams filters a read of the durable log. Zero values mean "no filter".
type ReplayParams struct {
	Kind          string
	Origin        string
	SinceSequence int64
	Limit         int
	Desc          bool
	// IncludeArchived is implied for replay correctness: rebuilds must fold
	// archived events too. Listings that want the compressed view set
	// ActiveOnly instead.
	ActiveOnly bool
}

// ReplayEvents reads historical events ordered by sequence. Used by the
// context store to rebuild state after a restart and by diagnostics.
func ReplayEvents(db *sql.DB, p ReplayParams) ([]*models.Event, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}

	where := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)

	if p.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, p.Kind)
	}
	if p.Origin != "" {
		where = append(where, "origin = ?")
		args = append(args, p.Origin)
	}
	if p.SinceSequence > 0 {
		where = append(where, "sequence > ?")
		args = append(args, p.SinceSequence)
	}
	if p.ActiveOnly {
		where = append(where, "archived_at IS NULL")
	}

	query := `
		SELECT sequence, kind, origin, payload, priority, occurred_at
		FROM events
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if p.Desc {
		query += " ORDER BY sequence DESC"
	} else {
		query += " ORDER BY sequence ASC"
	}
	query += " LIMIT ?"
	args = append(args, p.Limit)

	var out []*models.Event
	err := RetryWithBackoff(func() error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("failed to replay events: %w", err)
		}
		defer rows.Close()

		out = make([]*models.Event, 0)
		for rows.Next() {
			var e models.Event
			var payload sql.NullString
			if err := rows.Scan(&e.Sequence, &e.Kind, &e.Origin, &payload, &e.Priority, &e.OccurredAt); err != nil {
				return fmt.Errorf("failed to scan event: %w", err)
			}
			e.Payload = decodeEventPayload(payload)
			out = append(out, &e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountEventsSince returns how many events of the given kind ("" for all)
// sit past the cursor. Subscriber workers use it to measure their backlog.
func CountEventsSince(db *sql.DB, kind string, sinceSequence int64) (int64, error) {
	query := `SELECT COUNT(*) FROM events WHERE sequence > ?`
	args := []interface{}{sinceSequence}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}

	var count int64
	err := RetryWithBackoff(func() error {
		return db.QueryRowContext(context.Background(), query, args...).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count events since %d: %w", sinceSequence, err)
	}
	return count, nil
}

// MaxSequence returns the highest assigned sequence, 0 for an empty log.
func MaxSequence(db *sql.DB) (int64, error) {
	var max sql.NullInt64
	err := RetryWithBackoff(func() error {
		return db.QueryRowContext(context.Background(), `SELECT MAX(sequence) FROM events`).Scan(&max)
	})
	if err != nil {
		return 0, fmt.Errorf("max sequence: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// CheckReplayContiguity verifies the durable log holds every sequence in
// (sinceSequence, maxSequence]. SQLite AUTOINCREMENT never reuses sequences,
// so a hole means rows were lost (manual deletion, partial restore) and a
// rebuild from this log would silently produce an incomplete context.
func CheckReplayContiguity(db *sql.DB, sinceSequence int64) error {
	var count int64
	var max sql.NullInt64
	err := RetryWithBackoff(func() error {
		return db.QueryRowContext(context.Background(), `
			SELECT COUNT(*), MAX(sequence) FROM events WHERE sequence > ?
		`, sinceSequence).Scan(&count, &max)
	})
	if err != nil {
		return fmt.Errorf("check replay contiguity: %w", err)
	}
	if !max.Valid {
		return nil // empty range, nothing to replay
	}
	expected := max.Int64 - sinceSequence
	if count != expected {
		return &ReplayGapError{
			SinceSequence: sinceSequence,
			MaxSequence:   max.Int64,
			Expected:      expected,
			Found:         count,
		}
	}
	return nil
}
