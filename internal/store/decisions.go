package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dotcommander/chord/internal/models"
)

// ErrDecisionNotFound is returned when a decision id does not exist.
var ErrDecisionNotFound = errors.New("decision not found")

// ErrDecisionAlreadyExecuted guards the one-shot executed transition.
var ErrDecisionAlreadyExecuted = errors.New("decision already marked executed")

// InsertDecision persists a new decision record. Assigns rec.ID and
// rec.CreatedAt when unset. Records are immutable after insert except for
// the executed/outcome transition handled by MarkDecisionExecuted.
func InsertDecision(db *sql.DB, rec *models.DecisionRecord) error {
	if rec.Situation == "" {
		return errors.New("decision situation is required")
	}
	if rec.ChosenOption == "" {
		return errors.New("decision chosen option is required")
	}
	if rec.ID == "" {
		rec.ID = generatePrefixedID("decision")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	consulted, err := json.Marshal(rec.ModulesConsulted)
	if err != nil {
		return fmt.Errorf("marshal modules consulted: %w", err)
	}
	absent, err := json.Marshal(rec.ModulesAbsent)
	if err != nil {
		return fmt.Errorf("marshal modules absent: %w", err)
	}
	options, err := json.Marshal(rec.OptionsConsidered)
	if err != nil {
		return fmt.Errorf("marshal options considered: %w", err)
	}
	scores, err := json.Marshal(rec.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}

	return Transact(db, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(context.Background(), `
			INSERT INTO decisions (
				id, situation, modules_consulted, modules_absent, context_version,
				options_considered, chosen_option, justification, scores,
				executed, outcome, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)
		`, rec.ID, rec.Situation, string(consulted), string(absent), rec.ContextVersion,
			string(options), rec.ChosenOption, rec.Justification, string(scores), rec.CreatedAt)
		if execErr != nil {
			return fmt.Errorf("insert decision: %w", execErr)
		}
		return nil
	})
}

// MarkDecisionExecuted records the execution outcome for a decision, once.
// A second call for the same decision returns ErrDecisionAlreadyExecuted.
func MarkDecisionExecuted(db *sql.DB, decisionID, outcome string) error {
	if decisionID == "" {
		return errors.New("decision id is required")
	}

	return Transact(db, func(tx *sql.Tx) error {
		var executed bool
		err := tx.QueryRowContext(context.Background(), `
			SELECT executed FROM decisions WHERE id = ?
		`, decisionID).Scan(&executed)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrDecisionNotFound, decisionID)
		}
		if err != nil {
			return fmt.Errorf("load decision: %w", err)
		}
		if executed {
			return fmt.Errorf("%w: %s", ErrDecisionAlreadyExecuted, decisionID)
		}

		_, err = tx.ExecContext(context.Background(), `
			UPDATE decisions
			SET executed = 1, outcome = ?, executed_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, outcome, decisionID)
		if err != nil {
			return fmt.Errorf("mark decision executed: %w", err)
		}
		return nil
	})
}

// GetDecision loads one decision record by id.
func GetDecision(db *sql.DB, decisionID string) (*models.DecisionRecord, error) {
	var rec *models.DecisionRecord
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), `
			SELECT id, situation, modules_consulted, modules_absent, context_version,
			       options_considered, chosen_option, justification, scores,
			       executed, outcome, created_at, executed_at
			FROM decisions WHERE id = ?
		`, decisionID)
		r, scanErr := scanDecision(row)
		if scanErr != nil {
			return scanErr
		}
		rec = r
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDecisionNotFound, decisionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return rec, nil
}

// ListDecisions returns records for a situation, newest first. Empty
// situation lists across all situations.
func ListDecisions(db *sql.DB, situation string, limit int) ([]*models.DecisionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT id, situation, modules_consulted, modules_absent, context_version,
		       options_considered, chosen_option, justification, scores,
		       executed, outcome, created_at, executed_at
		FROM decisions
	`
	args := []any{}
	if situation != "" {
		query += " WHERE situation = ?"
		args = append(args, situation)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var out []*models.DecisionRecord
	err := RetryWithBackoff(func() error {
		rows, queryErr := db.Query(query, args...)
		if queryErr != nil {
			return fmt.Errorf("list decisions: %w", queryErr)
		}
		defer rows.Close()

		out = make([]*models.DecisionRecord, 0)
		for rows.Next() {
			r, scanErr := scanDecision(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*models.DecisionRecord, error) {
	var rec models.DecisionRecord
	var consulted, options string
	var absent, scores, outcome sql.NullString
	var executedAt sql.NullTime

	if err := row.Scan(
		&rec.ID, &rec.Situation, &consulted, &absent, &rec.ContextVersion,
		&options, &rec.ChosenOption, &rec.Justification, &scores,
		&rec.Executed, &outcome, &rec.CreatedAt, &executedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(consulted), &rec.ModulesConsulted); err != nil {
		return nil, fmt.Errorf("decode modules consulted: %w", err)
	}
	if absent.Valid && absent.String != "" && absent.String != "null" {
		if err := json.Unmarshal([]byte(absent.String), &rec.ModulesAbsent); err != nil {
			return nil, fmt.Errorf("decode modules absent: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(options), &rec.OptionsConsidered); err != nil {
		return nil, fmt.Errorf("decode options considered: %w", err)
	}
	if scores.Valid && scores.String != "" && scores.String != "null" {
		if err := json.Unmarshal([]byte(scores.String), &rec.Scores); err != nil {
			return nil, fmt.Errorf("decode scores: %w", err)
		}
	}
	if outcome.Valid {
		rec.Outcome = outcome.String
	}
	if executedAt.Valid {
		t := executedAt.Time
		rec.ExecutedAt = &t
	}
	return &rec, nil
}
