package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotcommander/chord/internal/models"
	"github.com/dotcommander/chord/internal/output"
	"github.com/dotcommander/chord/internal/store"
)

// NewPublishCmd creates the publish command, the module-facing append path.
// The CLI appends to the durable log only; fan-out to subscribers happens in
// the process hosting the bus, which tails the log from its cursors.
func NewPublishCmd() *cobra.Command {
	var (
		kind     string
		payload  string
		priority int
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event to the coordination log",
		Long:  "Durably append one event. The command returns after the write is committed; delivery to subscribers is asynchronous.",
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, err := requireOrigin(cmd, "")
			if err != nil {
				return cmdErr(err)
			}
			if kind == "" {
				return fmt.Errorf("--kind is required")
			}
			if payload == "" {
				payload = "{}"
			}
			if !json.Valid([]byte(payload)) {
				return cmdErr(fmt.Errorf("--payload must be valid JSON"))
			}
			requestID, generated := resolveOrGenerateRequestID(cmd)

			ev := &models.Event{
				Kind:     kind,
				Origin:   origin,
				Payload:  json.RawMessage(payload),
				Priority: priority,
			}

			var sequence int64
			if err := withDB(func(db *DB) error {
				seq, appendErr := store.AppendEventIdempotent(db, requestID, ev)
				if appendErr != nil {
					return appendErr
				}
				sequence = seq
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Sequence           int64  `json:"sequence"`
				Kind               string `json:"kind"`
				Origin             string `json:"origin"`
				RequestID          string `json:"request_id"`
				RequestIDGenerated bool   `json:"request_id_generated,omitempty"`
			}
			return output.PrintSuccess(resp{
				Sequence:           sequence,
				Kind:               kind,
				Origin:             origin,
				RequestID:          requestID,
				RequestIDGenerated: generated,
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Event kind, namespaced module.event (required)")
	cmd.Flags().StringVar(&payload, "payload", "", "Payload JSON object (default {})")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority, higher is more urgent (default 5)")

	return cmd
}
