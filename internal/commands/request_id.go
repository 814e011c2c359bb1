package commands

import (
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func resolveRequestID(cmd *cobra.Command) string {
	if v, err := cmd.Flags().GetString("request-id"); err == nil && v != "" {
		return v
	}
	return os.Getenv("CHORD_REQUEST_ID")
}

// resolveOrGenerateRequestID returns the caller's idempotency key, minting
// one when absent. Mutating commands always run idempotently; a generated
// key just means retries need the key from the response to dedupe.
func resolveOrGenerateRequestID(cmd *cobra.Command) (string, bool) {
	if rid := resolveRequestID(cmd); rid != "" {
		return rid, false
	}
	return uuid.NewString(), true
}
