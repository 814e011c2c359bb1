package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotcommander/chord/internal/models"
)

// Event payload size constraints enforced by ValidateEvent.
const (
	MaxEventKindLength    = 128
	MaxEventOriginLength  = 128
	MaxEventPayloadLength = 16384
)

// ValidateEvent enforces event envelope constraints for durability and safety.
// Payload, when present, must be valid JSON.
func ValidateEvent(kind, origin string, payload []byte) error {
	kind = strings.TrimSpace(kind)
	origin = strings.TrimSpace(origin)

	if kind == "" {
		return errors.New("event kind is required")
	}
	if len(kind) > MaxEventKindLength {
		return fmt.Errorf("event kind exceeds max length (%d)", MaxEventKindLength)
	}
	if origin == "" {
		return errors.New("event origin is required")
	}
	if len(origin) > MaxEventOriginLength {
		return fmt.Errorf("event origin exceeds max length (%d)", MaxEventOriginLength)
	}
	if len(payload) > 0 {
		if len(payload) > MaxEventPayloadLength {
			return fmt.Errorf("event payload exceeds max length (%d)", MaxEventPayloadLength)
		}
		if !json.Valid(payload) {
			return errors.New("event payload must be valid JSON")
		}
	}

	return nil
}

func insertEventRowTx(tx *sql.Tx, ev *models.Event) (int64, error) {
	if err := ValidateEvent(ev.Kind, ev.Origin, ev.Payload); err != nil {
		return 0, err
	}

	payload := interface{}(nil)
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}

	priority := ev.Priority
	if priority == 0 {
		priority = models.DefaultEventPriority
	}

	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	result, err := tx.ExecContext(context.Background(), `
		INSERT INTO events (kind, origin, payload, priority, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.Kind, ev.Origin, payload, priority, occurredAt)
	if err != nil {
		return 0, &PublishFailureError{Kind: ev.Kind, Origin: ev.Origin, Err: err}
	}

	sequence, err := result.LastInsertId()
	if err != nil {
		return 0, &PublishFailureError{Kind: ev.Kind, Origin: ev.Origin, Err: err}
	}

	return sequence, nil
}

// AppendEventTx validates and appends an event inside an existing transaction,
// returning the assigned sequence.
func AppendEventTx(tx *sql.Tx, ev *models.Event) (int64, error) {
	return insertEventRowTx(tx, ev)
}

// AppendEvent durably appends a single event, assigning its sequence and
// occurred_at. This is the non-idempotent path used by the bus for its own
// housekeeping events; module-facing appends go through AppendEventIdempotent.
func AppendEvent(db *sql.DB, ev *models.Event) (int64, error) {
	var sequence int64
	err := Transact(db, func(tx *sql.Tx) error {
		seq, err := insertEventRowTx(tx, ev)
		if err != nil {
			return err
		}
		sequence = seq
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sequence, nil
}

// AppendEventIdempotent appends a new event once per (origin, request_id).
// On retries with the same request id, it returns the previously-assigned
// sequence instead of appending a duplicate.
func AppendEventIdempotent(db *sql.DB, requestID string, ev *models.Event) (int64, error) {
	if err := ValidateEvent(ev.Kind, ev.Origin, ev.Payload); err != nil {
		return 0, err
	}
	type idemResult struct {
		Sequence int64 `json:"sequence"`
	}
	r, err := RunIdempotent(db, ev.Origin, requestID, "events.append", func(tx *sql.Tx) (idemResult, error) {
		sequence, err := insertEventRowTx(tx, ev)
		if err != nil {
			return idemResult{}, err
		}
		return idemResult{Sequence: sequence}, nil
	})
	if err != nil {
		return 0, err
	}
	return r.Sequence, nil
}

// ArchiveEventsRangeWithSummaryIdempotent marks events in a sequence range as
// archived and appends a single summary event for continuity compression.
// Archived events remain in the durable log (replay still sees them); the
// flag only excludes them from default listings.
func ArchiveEventsRangeWithSummaryIdempotent(db *sql.DB, origin, requestID string, fromSeq, toSeq int64, summary string) (summarySeq int64, archivedCount int64, err error) {
	if origin == "" {
		return 0, 0, errors.New("origin is required")
	}
	if requestID == "" {
		return 0, 0, errors.New("request id is required")
	}
	if fromSeq <= 0 || toSeq <= 0 {
		return 0, 0, errors.New("from-seq and to-seq must be > 0")
	}
	if fromSeq > toSeq {
		return 0, 0, errors.New("from-seq must be <= to-seq")
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return 0, 0, errors.New("summary is required")
	}

	type idemResult struct {
		SummarySeq    int64 `json:"summary_sequence"`
		ArchivedCount int64 `json:"archived_count"`
	}

	r, err := RunIdempotent(db, origin, requestID, "events.summarize", func(tx *sql.Tx) (idemResult, error) {
		res, txErr := tx.ExecContext(context.Background(), `
			UPDATE events
			SET archived_at = CURRENT_TIMESTAMP
			WHERE sequence >= ? AND sequence <= ? AND archived_at IS NULL
		`, fromSeq, toSeq)
		if txErr != nil {
			return idemResult{}, fmt.Errorf("failed to archive events: %w", txErr)
		}
		archivedCount, txErr := res.RowsAffected()
		if txErr != nil {
			return idemResult{}, fmt.Errorf("failed to count archived events: %w", txErr)
		}

		payload, txErr := json.Marshal(map[string]any{
			"archived_from_sequence": fromSeq,
			"archived_to_sequence":   toSeq,
			"archived_count":         archivedCount,
			"summary":                summary,
		})
		if txErr != nil {
			return idemResult{}, fmt.Errorf("failed to marshal summary payload: %w", txErr)
		}

		summarySeq, txErr := insertEventRowTx(tx, &models.Event{
			Kind:    models.EventKindEventsSummary,
			Origin:  origin,
			Payload: payload,
		})
		if txErr != nil {
			return idemResult{}, txErr
		}

		return idemResult{SummarySeq: summarySeq, ArchivedCount: archivedCount}, nil
	})
	if err != nil {
		return 0, 0, err
	}

	return r.SummarySeq, r.ArchivedCount, nil
}

// PruneArchivedEventsIdempotent hard-deletes archived events older than
// retentionDays. Only sequences at or below the latest context checkpoint
// are eligible: rebuilds replay from the checkpoint, so deleting below it
// never opens a gap a rebuild would cross. With no checkpoint nothing is
// pruned.
func PruneArchivedEventsIdempotent(db *sql.DB, origin, requestID string, retentionDays, limit int) (int64, error) {
	if origin == "" {
		return 0, errors.New("origin is required")
	}
	if requestID == "" {
		return 0, errors.New("request id is required")
	}
	if retentionDays <= 0 {
		return 0, errors.New("retention days must be > 0")
	}
	if limit <= 0 {
		limit = 500
	}

	type idemResult struct {
		Deleted int64 `json:"deleted"`
	}

	r, err := RunIdempotent(db, origin, requestID, "events.prune", func(tx *sql.Tx) (idemResult, error) {
		var checkpointSeq sql.NullInt64
		if txErr := tx.QueryRowContext(context.Background(), `
			SELECT MAX(last_sequence) FROM context_checkpoints
		`).Scan(&checkpointSeq); txErr != nil {
			return idemResult{}, fmt.Errorf("failed to read checkpoint watermark: %w", txErr)
		}
		if !checkpointSeq.Valid {
			return idemResult{}, nil
		}

		cutoff := fmt.Sprintf("-%d days", retentionDays)
		res, txErr := tx.ExecContext(context.Background(), `
			DELETE FROM events WHERE sequence IN (
				SELECT sequence FROM events
				WHERE archived_at IS NOT NULL
				  AND archived_at < datetime('now', ?)
				  AND sequence <= ?
				ORDER BY sequence ASC
				LIMIT ?
			)
		`, cutoff, checkpointSeq.Int64, limit)
		if txErr != nil {
			return idemResult{}, fmt.Errorf("failed to prune archived events: %w", txErr)
		}
		deleted, txErr := res.RowsAffected()
		if txErr != nil {
			return idemResult{}, fmt.Errorf("failed to count pruned events: %w", txErr)
		}
		return idemResult{Deleted: deleted}, nil
	})
	if err != nil {
		return 0, err
	}
	return r.Deleted, nil
}

// CountActiveEvents returns the number of non-archived events,
// optionally filtered by kind.
func CountActiveEvents(db *sql.DB, kind string) (int64, error) {
	var count int64
	err := RetryWithBackoff(func() error {
		query := `SELECT COUNT(*) FROM events WHERE archived_at IS NULL`
		args := []any{}
		if kind != "" {
			query += ` AND kind = ?`
			args = append(args, kind)
		}
		return db.QueryRowContext(context.Background(), query, args...).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count active events: %w", err)
	}
	return count, nil
}

// FindArchiveWindow computes the sequence range of active events to archive,
// keeping the most recent keepRecent events active.
// Returns (0, 0, nil) when there are not enough events to archive.
func FindArchiveWindow(db *sql.DB, keepRecent int) (fromSeq, toSeq int64, err error) {
	if keepRecent < 0 {
		keepRecent = 0
	}
	err = RetryWithBackoff(func() error {
		var minSeq, maxSeq sql.NullInt64
		if scanErr := db.QueryRowContext(context.Background(), `
			SELECT MIN(sequence), MAX(sequence) FROM (
				SELECT sequence FROM events
				WHERE archived_at IS NULL
				ORDER BY sequence ASC
				LIMIT (
					SELECT MAX(COUNT(*) - ?, 0) FROM events
					WHERE archived_at IS NULL
				)
			)
		`, keepRecent).Scan(&minSeq, &maxSeq); scanErr != nil {
			return scanErr
		}
		if !minSeq.Valid || !maxSeq.Valid {
			fromSeq, toSeq = 0, 0
			return nil
		}
		fromSeq = minSeq.Int64
		toSeq = maxSeq.Int64
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("find archive window: %w", err)
	}
	return fromSeq, toSeq, nil
}
