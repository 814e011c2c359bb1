package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/chord/internal/app"
	"github.com/dotcommander/chord/internal/output"
	"github.com/dotcommander/chord/internal/store"
)

func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database connectivity and log integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, dbSource, err := app.ResolveDBPathDetailed()
			if err != nil {
				return cmdErr(err)
			}

			var (
				dbOK          bool
				dbErr         string
				queryOK       bool
				queryErr      string
				schemaVersion int64
				contiguousOK  bool
				contiguousErr string
			)

			db, err := store.InitDBWithPath(dbPath)
			if err != nil {
				dbOK = false
				dbErr = err.Error()
			} else {
				dbOK = true
				defer db.Close()
			}

			if dbOK {
				var one int
				if err := db.QueryRow("SELECT 1").Scan(&one); err != nil {
					queryOK = false
					queryErr = err.Error()
				} else {
					queryOK = true
				}

				if current, _, verErr := store.SchemaVersion(db); verErr == nil {
					schemaVersion = current
				}

				// Contiguity from the checkpoint cursor: that is the range a
				// rebuild actually crosses. Pruned history below it is fine.
				var since int64
				if cp, cpErr := store.LoadLatestContextCheckpoint(db); cpErr == nil && cp != nil {
					since = cp.LastSequence
				}
				if gapErr := store.CheckReplayContiguity(db, since); gapErr != nil {
					contiguousOK = false
					contiguousErr = gapErr.Error()
				} else {
					contiguousOK = true
				}
			} else {
				queryOK = false
				queryErr = "db not available"
			}

			type resp struct {
				DBPath        string `json:"db_path"`
				DBSource      string `json:"db_source"`
				DBOK          bool   `json:"db_ok"`
				DBErr         string `json:"db_error,omitempty"`
				QueryOK       bool   `json:"query_ok"`
				QueryErr      string `json:"query_error,omitempty"`
				SchemaVersion int64  `json:"schema_version,omitempty"`
				ContiguousOK  bool   `json:"replay_contiguous"`
				ContiguousErr string `json:"replay_gap_error,omitempty"`
				Hint          string `json:"hint,omitempty"`
			}
			hint := ""
			if !dbOK {
				hint = "If this is running in a sandboxed environment, set db_path to a writable location or use --db-path."
			}
			return output.PrintSuccess(resp{
				DBPath:        dbPath,
				DBSource:      dbSource,
				DBOK:          dbOK,
				DBErr:         dbErr,
				QueryOK:       queryOK,
				QueryErr:      queryErr,
				SchemaVersion: schemaVersion,
				ContiguousOK:  contiguousOK,
				ContiguousErr: contiguousErr,
				Hint:          hint,
			})
		},
	}

	// keep a local hidden flag in case we want to expand later without changing UX
	cmd.Flags().Bool("verbose", false, "Show more details")
	_ = cmd.Flags().MarkHidden("verbose")

	return cmd
}
