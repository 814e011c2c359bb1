package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotcommander/chord/internal/bus"
	"github.com/dotcommander/chord/internal/contextstore"
	"github.com/dotcommander/chord/internal/models"
	"github.com/dotcommander/chord/internal/output"
)

func NewContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Inspect the event-sourced global context",
	}

	cmd.AddCommand(newContextShowCmd())
	cmd.AddCommand(newContextQueryCmd())
	cmd.AddCommand(newContextRebuildCmd())
	cmd.AddCommand(newContextCheckpointCmd())
	return cmd
}

// buildContextStore rebuilds the context from the durable log. The CLI
// variant folds to the current log head and stops; only a hosting process
// subscribes for live folding.
func buildContextStore(ctx context.Context, db *DB) (*contextstore.Store, func(), error) {
	b := bus.New(db, nil, bus.Config{})
	cs := contextstore.New(db, b, nil, contextstore.Options{})
	if err := contextstore.RegisterDefaultReducers(cs); err != nil {
		return nil, nil, err
	}
	if err := cs.Rebuild(ctx); err != nil {
		return nil, nil, err
	}
	return cs, func() { b.Close() }, nil
}

func newContextShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Fold the log and print the current context snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap models.ContextSnapshot
			if err := withDB(func(db *DB) error {
				cs, done, err := buildContextStore(cmd.Context(), db)
				if err != nil {
					return err
				}
				defer done()
				snap = cs.Snapshot()
				return nil
			}); err != nil {
				return err
			}
			return output.PrintSuccess(snap)
		},
	}
	return cmd
}

func newContextQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <may_interrupt|preferred_activity>",
		Short: "Evaluate a derived query against the current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			var snap models.ContextSnapshot
			if err := withDB(func(db *DB) error {
				cs, done, err := buildContextStore(cmd.Context(), db)
				if err != nil {
					return err
				}
				defer done()
				snap = cs.Snapshot()
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Query          string `json:"query"`
				Result         any    `json:"result"`
				ContextVersion int64  `json:"context_version"`
			}
			switch name {
			case "may_interrupt":
				return output.PrintSuccess(resp{
					Query:          name,
					Result:         contextstore.MayInterrupt(&snap),
					ContextVersion: snap.Version,
				})
			case "preferred_activity":
				return output.PrintSuccess(resp{
					Query:          name,
					Result:         contextstore.PreferredActivity(&snap),
					ContextVersion: snap.Version,
				})
			default:
				return cmdErr(fmt.Errorf("unknown query %q (supported: may_interrupt, preferred_activity)", name))
			}
		},
	}
	return cmd
}

func newContextRebuildCmd() *cobra.Command {
	var fromStart bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the context from the durable log",
		Long:  "Fold the log through the registered reducers. --from-start ignores checkpoints; use it after reducers change.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap models.ContextSnapshot
			if err := withDB(func(db *DB) error {
				b := bus.New(db, nil, bus.Config{})
				defer b.Close()
				cs := contextstore.New(db, b, nil, contextstore.Options{})
				if err := contextstore.RegisterDefaultReducers(cs); err != nil {
					return err
				}
				var err error
				if fromStart {
					err = cs.RebuildFromStart(cmd.Context())
				} else {
					err = cs.Rebuild(cmd.Context())
				}
				if err != nil {
					return err
				}
				snap = cs.Snapshot()
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Version      int64 `json:"version"`
				LastSequence int64 `json:"last_sequence"`
				FromStart    bool  `json:"from_start,omitempty"`
			}
			return output.PrintSuccess(resp{
				Version:      snap.Version,
				LastSequence: snap.LastSequence,
				FromStart:    fromStart,
			})
		},
	}

	cmd.Flags().BoolVar(&fromStart, "from-start", false, "Ignore checkpoints and fold from sequence 0")

	return cmd
}

func newContextCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Persist the current context so future rebuilds start from its cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				checkpointID int64
				snap         models.ContextSnapshot
			)
			if err := withDB(func(db *DB) error {
				cs, done, err := buildContextStore(cmd.Context(), db)
				if err != nil {
					return err
				}
				defer done()
				snap = cs.Snapshot()
				id, cpErr := cs.Checkpoint()
				if cpErr != nil {
					return cpErr
				}
				checkpointID = id
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				CheckpointID int64 `json:"checkpoint_id"`
				Version      int64 `json:"version"`
				LastSequence int64 `json:"last_sequence"`
			}
			return output.PrintSuccess(resp{
				CheckpointID: checkpointID,
				Version:      snap.Version,
				LastSequence: snap.LastSequence,
			})
		},
	}
	return cmd
}
