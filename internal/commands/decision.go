package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/chord/internal/bus"
	"github.com/dotcommander/chord/internal/models"
	"github.com/dotcommander/chord/internal/output"
	"github.com/dotcommander/chord/internal/resolver"
	"github.com/dotcommander/chord/internal/store"
)

func NewDecisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decision",
		Short: "Inspect and update persisted decisions",
	}

	cmd.AddCommand(newDecisionShowCmd())
	cmd.AddCommand(newDecisionListCmd())
	cmd.AddCommand(newDecisionMarkExecutedCmd())
	return cmd
}

func newDecisionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <decision-id>",
		Short: "Show one decision record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec *models.DecisionRecord
			if err := withDB(func(db *DB) error {
				r, err := store.GetDecision(db, args[0])
				if err != nil {
					return err
				}
				rec = r
				return nil
			}); err != nil {
				return err
			}
			return output.PrintSuccess(rec)
		},
	}
	return cmd
}

func newDecisionListCmd() *cobra.Command {
	var (
		situation string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List decisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var recs []*models.DecisionRecord
			if err := withDB(func(db *DB) error {
				r, err := store.ListDecisions(db, situation, limit)
				if err != nil {
					return err
				}
				recs = r
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Situation string                   `json:"situation,omitempty"`
				Count     int                      `json:"count"`
				Decisions []*models.DecisionRecord `json:"decisions"`
			}
			return output.PrintSuccess(resp{Situation: situation, Count: len(recs), Decisions: recs})
		},
	}

	cmd.Flags().StringVar(&situation, "situation", "", "Filter by situation")
	cmd.Flags().IntVar(&limit, "limit", 20, "Max decisions (<= 500)")

	return cmd
}

func newDecisionMarkExecutedCmd() *cobra.Command {
	var outcome string

	cmd := &cobra.Command{
		Use:   "mark-executed <decision-id>",
		Short: "Record that the chosen option was acted on",
		Long:  "One-shot transition: a decision can be marked executed exactly once. Publishes decision.executed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outcome == "" {
				return cmdErr(fmt.Errorf("--outcome is required"))
			}

			decisionID := args[0]
			if err := withDB(func(db *DB) error {
				b := bus.New(db, nil, bus.Config{})
				defer b.Close()
				r := resolver.New(db, b, staticSnapshot{}, nil, resolver.Config{ModuleTimeout: time.Second})
				return r.MarkExecuted(cmd.Context(), decisionID, outcome)
			}); err != nil {
				return err
			}

			type resp struct {
				DecisionID string `json:"decision_id"`
				Outcome    string `json:"outcome"`
				Executed   bool   `json:"executed"`
			}
			return output.PrintSuccess(resp{DecisionID: decisionID, Outcome: outcome, Executed: true})
		},
	}

	cmd.Flags().StringVar(&outcome, "outcome", "", "Execution outcome, e.g. done, failed, skipped (required)")

	return cmd
}

// staticSnapshot satisfies resolver.ContextSource for operations that never
// score options.
type staticSnapshot struct{}

func (staticSnapshot) Snapshot() models.ContextSnapshot {
	return models.ContextSnapshot{Fields: map[string]any{}}
}
