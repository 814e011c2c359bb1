package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/chord/internal/app"
	"github.com/dotcommander/chord/internal/models"
	"github.com/dotcommander/chord/internal/output"
	"github.com/dotcommander/chord/internal/store"
)

func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the coordination event log",
	}

	cmd.AddCommand(newEventsListCmd())
	cmd.AddCommand(newEventsTailCmd())
	cmd.AddCommand(newEventsReplayCmd())
	cmd.AddCommand(newEventsSummarizeCmd())
	cmd.AddCommand(newEventsPruneCmd())
	return cmd
}

func newEventsListCmd() *cobra.Command {
	var (
		kind            string
		origin          string
		limit           int
		since           int64
		asc             bool
		includeArchived bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events (filterable)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var events []*models.Event
			if err := withDB(func(db *DB) error {
				ev, err := store.ReplayEvents(db, store.ReplayParams{
					Kind:          kind,
					Origin:        origin,
					SinceSequence: since,
					Limit:         limit,
					Desc:          !asc,
					ActiveOnly:    !includeArchived,
				})
				if err != nil {
					return err
				}
				events = ev
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Kind   string          `json:"kind,omitempty"`
				Origin string          `json:"origin,omitempty"`
				Since  int64           `json:"since_sequence,omitempty"`
				Count  int             `json:"count"`
				Events []*models.Event `json:"events"`
			}
			return output.PrintSuccess(resp{
				Kind:   kind,
				Origin: origin,
				Since:  since,
				Count:  len(events),
				Events: events,
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind")
	cmd.Flags().StringVar(&origin, "origin-filter", "", "Filter by producing module")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max events (<= 1000)")
	cmd.Flags().Int64Var(&since, "since-seq", 0, "Only events with sequence > since-seq")
	cmd.Flags().BoolVar(&asc, "asc", false, "Sort oldest first (default newest first)")
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "Include archived events")

	return cmd
}

func newEventsTailCmd() *cobra.Command {
	var (
		kind     string
		origin   string
		limit    int
		since    int64
		interval time.Duration
		once     bool
		jsonl    bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Continuously poll and print new events",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Module-facing default is machine output. For streaming, always emit JSONL.
			if !once {
				jsonl = true
			}

			printEvent := func(e *models.Event) error {
				if jsonl {
					// JSONL: one event per line, raw event object.
					return output.Print(e)
				}
				return output.PrintSuccess(e)
			}

			for {
				var events []*models.Event
				if err := withDB(func(db *DB) error {
					ev, err := store.ReplayEvents(db, store.ReplayParams{
						Kind:          kind,
						Origin:        origin,
						SinceSequence: since,
						Limit:         limit,
					})
					if err != nil {
						return err
					}
					events = ev
					return nil
				}); err != nil {
					return err
				}

				if once {
					if jsonl {
						for _, e := range events {
							if err := output.Print(e); err != nil {
								return err
							}
						}
						return nil
					}

					type resp struct {
						Kind   string          `json:"kind,omitempty"`
						Origin string          `json:"origin,omitempty"`
						Since  int64           `json:"since_sequence,omitempty"`
						Count  int             `json:"count"`
						Events []*models.Event `json:"events"`
					}
					return output.PrintSuccess(resp{
						Kind:   kind,
						Origin: origin,
						Since:  since,
						Count:  len(events),
						Events: events,
					})
				}

				for _, e := range events {
					if e.Sequence > since {
						since = e.Sequence
					}
					if err := printEvent(e); err != nil {
						return err
					}
				}

				time.Sleep(interval)
			}
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind")
	cmd.Flags().StringVar(&origin, "origin-filter", "", "Filter by producing module")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max events per poll (<= 1000)")
	cmd.Flags().Int64Var(&since, "since-seq", 0, "Only events with sequence > since-seq")
	cmd.Flags().DurationVar(&interval, "interval", 1*time.Second, "Poll interval")
	cmd.Flags().BoolVar(&once, "once", false, "Fetch once and exit")
	cmd.Flags().BoolVar(&jsonl, "jsonl", false, "Stream events as JSON Lines (one event per line)")

	return cmd
}

// newEventsReplayCmd reads a historical range in sequence order, the same
// read path the context store rebuilds from.
func newEventsReplayCmd() *cobra.Command {
	var (
		kind  string
		since int64
		limit int
		check bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Read historical events in sequence order",
		RunE: func(cmd *cobra.Command, args []string) error {
			var events []*models.Event
			if err := withDB(func(db *DB) error {
				if check {
					if err := store.CheckReplayContiguity(db, since); err != nil {
						return err
					}
				}
				ev, err := store.ReplayEvents(db, store.ReplayParams{
					Kind:          kind,
					SinceSequence: since,
					Limit:         limit,
				})
				if err != nil {
					return err
				}
				events = ev
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Since      int64           `json:"since_sequence"`
				Count      int             `json:"count"`
				Contiguous bool            `json:"contiguous,omitempty"`
				Events     []*models.Event `json:"events"`
			}
			return output.PrintSuccess(resp{
				Since:      since,
				Count:      len(events),
				Contiguous: check,
				Events:     events,
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind")
	cmd.Flags().Int64Var(&since, "since-seq", 0, "Replay events with sequence > since-seq")
	cmd.Flags().IntVar(&limit, "limit", 200, "Max events (<= 1000)")
	cmd.Flags().BoolVar(&check, "check-contiguity", false, "Fail when the range has missing sequences")

	return cmd
}

func newEventsSummarizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Archive an event range and append a summary event",
		Long:  "Mark events in a sequence range as archived and append one bus.events_summary event for compressed continuity. Archived events stay in the durable log; replay still sees them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, err := requireOrigin(cmd, "")
			if err != nil {
				return cmdErr(err)
			}
			requestID, generated := resolveOrGenerateRequestID(cmd)

			fromSeq, _ := cmd.Flags().GetInt64("from-seq")
			toSeq, _ := cmd.Flags().GetInt64("to-seq")
			summary, _ := cmd.Flags().GetString("summary")
			auto, _ := cmd.Flags().GetBool("auto")

			if err := withDB(func(db *DB) error {
				if auto {
					m := windowFromSettings()
					count, countErr := store.CountActiveEvents(db, "")
					if countErr != nil {
						return countErr
					}
					if count < int64(m.SummarizeThreshold) {
						fromSeq, toSeq = 0, 0
						return nil
					}
					var findErr error
					fromSeq, toSeq, findErr = store.FindArchiveWindow(db, m.SummarizeKeepRecent)
					return findErr
				}
				if fromSeq <= 0 {
					return fmt.Errorf("--from-seq is required and must be > 0")
				}
				if toSeq <= 0 {
					return fmt.Errorf("--to-seq is required and must be > 0")
				}
				if summary == "" {
					return fmt.Errorf("--summary is required")
				}
				return nil
			}); err != nil {
				return err
			}

			if auto && fromSeq == 0 && toSeq == 0 {
				type resp struct {
					Archived bool   `json:"archived"`
					Reason   string `json:"reason"`
				}
				return output.PrintSuccess(resp{Archived: false, Reason: "below summarize threshold"})
			}
			if auto && summary == "" {
				summary = fmt.Sprintf("archived sequences %d-%d for log compaction", fromSeq, toSeq)
			}

			var (
				summarySeq    int64
				archivedCount int64
			)
			if err := withDB(func(db *DB) error {
				seq, count, archiveErr := store.ArchiveEventsRangeWithSummaryIdempotent(db, origin, requestID, fromSeq, toSeq, summary)
				if archiveErr != nil {
					return archiveErr
				}
				summarySeq = seq
				archivedCount = count
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				SummarySequence    int64  `json:"summary_sequence"`
				ArchivedCount      int64  `json:"archived_count"`
				FromSeq            int64  `json:"from_seq"`
				ToSeq              int64  `json:"to_seq"`
				RequestID          string `json:"request_id"`
				RequestIDGenerated bool   `json:"request_id_generated,omitempty"`
			}
			return output.PrintSuccess(resp{
				SummarySequence:    summarySeq,
				ArchivedCount:      archivedCount,
				FromSeq:            fromSeq,
				ToSeq:              toSeq,
				RequestID:          requestID,
				RequestIDGenerated: generated,
			})
		},
	}

	cmd.Flags().Int64("from-seq", 0, "Archive events with sequence >= from-seq")
	cmd.Flags().Int64("to-seq", 0, "Archive events with sequence <= to-seq")
	cmd.Flags().String("summary", "", "Summary message to store in the replacement event")
	cmd.Flags().Bool("auto", false, "Compute the archive window from retention settings")

	return cmd
}

func newEventsPruneCmd() *cobra.Command {
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old archived events below the checkpoint watermark",
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, err := requireOrigin(cmd, "")
			if err != nil {
				return cmdErr(err)
			}
			requestID, generated := resolveOrGenerateRequestID(cmd)
			if retentionDays <= 0 {
				retentionDays = windowFromSettings().RetentionDays
			}

			var deleted int64
			if err := withDB(func(db *DB) error {
				n, pruneErr := store.PruneArchivedEventsIdempotent(db, origin, requestID, retentionDays, 500)
				if pruneErr != nil {
					return pruneErr
				}
				deleted = n
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Deleted            int64  `json:"deleted"`
				RetentionDays      int    `json:"retention_days"`
				RequestID          string `json:"request_id"`
				RequestIDGenerated bool   `json:"request_id_generated,omitempty"`
			}
			return output.PrintSuccess(resp{
				Deleted:            deleted,
				RetentionDays:      retentionDays,
				RequestID:          requestID,
				RequestIDGenerated: generated,
			})
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "Delete archived events older than this (default from settings)")

	return cmd
}

func windowFromSettings() app.EventMaintenanceSettings {
	return app.EffectiveEventMaintenanceSettings()
}
