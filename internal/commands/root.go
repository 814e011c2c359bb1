package commands

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dotcommander/chord/internal/app"
	"github.com/dotcommander/chord/internal/output"
)

// normalizeFlags lets callers write snake_case flag names; all flags are
// registered in kebab-case.
func normalizeFlags(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// Execute runs the CLI application.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "chord",
		Short:         "Event coordination core (durable bus, context store, policy, decisions)",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.EnsureConfigDir(); err != nil {
				return err
			}

			// Wire --db-path into app-level resolver.
			if dbPath, err := cmd.Flags().GetString("db-path"); err == nil && dbPath != "" {
				app.SetDBPathOverride(dbPath)
			}

			return nil
		},
	}

	root.SetGlobalNormalizationFunc(normalizeFlags)

	root.PersistentFlags().String("db-path", "", "Override database path")
	root.PersistentFlags().StringP("origin", "o", "", "Module identifier (default: $CHORD_ORIGIN)")
	root.PersistentFlags().String("request-id", "", "Idempotency key for mutating operations (default: $CHORD_REQUEST_ID)")
	root.Flags().BoolP("version", "v", false, "version for chord")

	root.AddCommand(NewPublishCmd())
	root.AddCommand(NewEventsCmd())
	root.AddCommand(NewContextCmd())
	root.AddCommand(NewDecideCmd())
	root.AddCommand(NewDecisionCmd())
	root.AddCommand(NewPolicyCmd())
	root.AddCommand(NewStatusCmd())
	root.AddCommand(NewDoctorCmd())

	err := root.Execute()
	if err != nil {
		var pe printedError
		if !errors.As(err, &pe) {
			slog.Error("command failed", "error", err.Error())
		}
	}
	return err
}
