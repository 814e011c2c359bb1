package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetSubscriberCursor returns the highest sequence the named subscriber has
// processed for a kind, 0 when the subscriber has never advanced.
func GetSubscriberCursor(db *sql.DB, subscriber, kind string) (int64, error) {
	var last int64
	err := RetryWithBackoff(func() error {
		scanErr := db.QueryRowContext(context.Background(), `
			SELECT last_sequence FROM subscriber_cursors
			WHERE subscriber = ? AND kind = ?
		`, subscriber, kind).Scan(&last)
		if scanErr == sql.ErrNoRows {
			last = 0
			return nil
		}
		return scanErr
	})
	if err != nil {
		return 0, fmt.Errorf("get subscriber cursor: %w", err)
	}
	return last, nil
}

// SubscriberCursor is one subscriber's progress through one kind.
type SubscriberCursor struct {
	Subscriber   string `json:"subscriber"`
	Kind         string `json:"kind"`
	LastSequence int64  `json:"last_sequence"`
}

// ListSubscriberCursors returns every cursor, ordered for stable output.
func ListSubscriberCursors(db *sql.DB) ([]SubscriberCursor, error) {
	var out []SubscriberCursor
	err := RetryWithBackoff(func() error {
		rows, queryErr := db.QueryContext(context.Background(), `
			SELECT subscriber, kind, last_sequence FROM subscriber_cursors
			ORDER BY subscriber, kind
		`)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var c SubscriberCursor
			if scanErr := rows.Scan(&c.Subscriber, &c.Kind, &c.LastSequence); scanErr != nil {
				return scanErr
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list subscriber cursors: %w", err)
	}
	return out, nil
}

// AdvanceSubscriberCursor records that the subscriber processed sequence for
// the kind. The cursor is monotonic: a stale sequence never moves it back,
// which is what makes redelivery after a crash idempotent.
func AdvanceSubscriberCursor(db *sql.DB, subscriber, kind string, sequence int64) error {
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			INSERT INTO subscriber_cursors (subscriber, kind, last_sequence, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(subscriber, kind) DO UPDATE SET
				last_sequence = MAX(last_sequence, excluded.last_sequence),
				updated_at = CURRENT_TIMESTAMP
		`, subscriber, kind, sequence)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("advance subscriber cursor: %w", err)
	}
	return nil
}
