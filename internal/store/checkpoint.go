package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dotcommander/chord/internal/models"
)

// ContextCheckpoint is a persisted snapshot of the folded context plus the
// log cursor it was taken at. Rebuilds replay only events after LastSequence.
type ContextCheckpoint struct {
	ID           int64           `json:"id"`
	Version      int64           `json:"version"`
	LastSequence int64           `json:"last_sequence"`
	Snapshot     json.RawMessage `json:"snapshot"`
}

// SaveContextCheckpoint persists the snapshot and appends a
// context.checkpoint event in the same transaction, so the checkpoint itself
// is visible in the log.
func SaveContextCheckpoint(db *sql.DB, snap *models.ContextSnapshot) (int64, error) {
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal context snapshot: %w", err)
	}

	var checkpointID int64
	err = Transact(db, func(tx *sql.Tx) error {
		res, execErr := tx.ExecContext(context.Background(), `
			INSERT INTO context_checkpoints (version, last_sequence, snapshot_json)
			VALUES (?, ?, ?)
		`, snap.Version, snap.LastSequence, string(snapJSON))
		if execErr != nil {
			return fmt.Errorf("insert context checkpoint: %w", execErr)
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return fmt.Errorf("checkpoint id: %w", idErr)
		}
		checkpointID = id

		payload, mErr := json.Marshal(map[string]any{
			"checkpoint_id": id,
			"version":       snap.Version,
			"last_sequence": snap.LastSequence,
		})
		if mErr != nil {
			return fmt.Errorf("marshal checkpoint payload: %w", mErr)
		}
		_, execErr = insertEventRowTx(tx, &models.Event{
			Kind:    models.EventKindContextCheckpoint,
			Origin:  "context",
			Payload: payload,
		})
		return execErr
	})
	if err != nil {
		return 0, err
	}
	return checkpointID, nil
}

// LoadLatestContextCheckpoint returns the most recent checkpoint, or nil
// when none has been taken yet.
func LoadLatestContextCheckpoint(db *sql.DB) (*ContextCheckpoint, error) {
	var cp ContextCheckpoint
	var snapJSON string
	err := RetryWithBackoff(func() error {
		return db.QueryRowContext(context.Background(), `
			SELECT id, version, last_sequence, snapshot_json
			FROM context_checkpoints
			ORDER BY id DESC LIMIT 1
		`).Scan(&cp.ID, &cp.Version, &cp.LastSequence, &snapJSON)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest context checkpoint: %w", err)
	}
	cp.Snapshot = json.RawMessage(snapJSON)
	return &cp, nil
}
