package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/chord/internal/app"
	"github.com/dotcommander/chord/internal/models"
	"github.com/dotcommander/chord/internal/output"
	"github.com/dotcommander/chord/internal/store"
)

// NewStatusCmd creates the status command: one machine-readable overview of
// the coordination core.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show coordination core status and log overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, dbSource, err := app.ResolveDBPathDetailed()
			if err != nil {
				return cmdErr(err)
			}

			type cursor struct {
				Subscriber   string `json:"subscriber"`
				Kind         string `json:"kind"`
				LastSequence int64  `json:"last_sequence"`
			}
			type resp struct {
				DBPath            string                       `json:"db_path"`
				DBSource          string                       `json:"db_source"`
				SchemaVersion     int64                        `json:"schema_version"`
				MaxSequence       int64                        `json:"max_sequence"`
				ActiveEvents      int64                        `json:"active_events"`
				ContextVersion    int64                        `json:"context_version"`
				ContextSequence   int64                        `json:"context_sequence"`
				CheckpointID      int64                        `json:"checkpoint_id,omitempty"`
				Cursors           []cursor                     `json:"subscriber_cursors,omitempty"`
				RecentDecisions   []*models.DecisionRecord     `json:"recent_decisions,omitempty"`
				MaintenanceConfig app.EventMaintenanceSettings `json:"maintenance"`
			}

			var r resp
			r.DBPath = dbPath
			r.DBSource = dbSource
			r.MaintenanceConfig = app.EffectiveEventMaintenanceSettings()

			if err := withDB(func(db *DB) error {
				current, _, verErr := store.SchemaVersion(db)
				if verErr != nil {
					return verErr
				}
				r.SchemaVersion = current

				maxSeq, seqErr := store.MaxSequence(db)
				if seqErr != nil {
					return seqErr
				}
				r.MaxSequence = maxSeq

				active, countErr := store.CountActiveEvents(db, "")
				if countErr != nil {
					return countErr
				}
				r.ActiveEvents = active

				cp, cpErr := store.LoadLatestContextCheckpoint(db)
				if cpErr != nil {
					return cpErr
				}
				if cp != nil {
					r.ContextVersion = cp.Version
					r.ContextSequence = cp.LastSequence
					r.CheckpointID = cp.ID
				}

				cursors, curErr := store.ListSubscriberCursors(db)
				if curErr != nil {
					return curErr
				}
				for _, c := range cursors {
					r.Cursors = append(r.Cursors, cursor{
						Subscriber:   c.Subscriber,
						Kind:         c.Kind,
						LastSequence: c.LastSequence,
					})
				}

				recs, decErr := store.ListDecisions(db, "", 5)
				if decErr != nil {
					return decErr
				}
				r.RecentDecisions = recs
				return nil
			}); err != nil {
				return err
			}

			return output.PrintSuccess(r)
		},
	}

	return cmd
}
