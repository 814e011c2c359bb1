package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// resolveOrigin resolves the module identifier used for event attribution
// and idempotency scoping.
// Precedence:
// 1) per-command flag (e.g. --origin on a subcommand)
// 2) global flag --origin
// 3) env var CHORD_ORIGIN
func resolveOrigin(cmd *cobra.Command, perCmdFlag string) string {
	if perCmdFlag != "" {
		if v, err := cmd.Flags().GetString(perCmdFlag); err == nil && v != "" {
			return v
		}
	}
	if v, err := cmd.Flags().GetString("origin"); err == nil && v != "" {
		return v
	}
	return os.Getenv("CHORD_ORIGIN")
}

func requireOrigin(cmd *cobra.Command, perCmdFlag string) (string, error) {
	origin := resolveOrigin(cmd, perCmdFlag)
	if origin == "" {
		return "", fmt.Errorf("origin is required (set --origin or CHORD_ORIGIN)")
	}
	return origin, nil
}
