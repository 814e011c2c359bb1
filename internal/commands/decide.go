package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/chord/internal/app"
	"github.com/dotcommander/chord/internal/bus"
	"github.com/dotcommander/chord/internal/models"
	"github.com/dotcommander/chord/internal/output"
	"github.com/dotcommander/chord/internal/reason"
	"github.com/dotcommander/chord/internal/resolver"
)

// NewDecideCmd resolves one situation from the command line. Module inputs
// arrive as --input flags; listed modules without one are recorded absent,
// exercising the same partial-input path as a dead in-process module.
func NewDecideCmd() *cobra.Command {
	var (
		situation string
		modules   []string
		options   []string
		inputs    []string
		explain   bool
		tool      string
	)

	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Resolve a cross-module situation into one persisted decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			if situation == "" {
				return cmdErr(fmt.Errorf("--situation is required"))
			}
			if len(options) == 0 {
				return cmdErr(fmt.Errorf("at least one --option is required"))
			}

			opts, err := parseOptions(options)
			if err != nil {
				return cmdErr(err)
			}
			provided, err := parseInputs(inputs)
			if err != nil {
				return cmdErr(err)
			}
			for id := range provided {
				if !contains(modules, id) {
					modules = append(modules, id)
				}
			}
			if len(modules) == 0 {
				return cmdErr(fmt.Errorf("at least one --module or --input is required"))
			}

			var rec *models.DecisionRecord
			if err := withDB(func(db *DB) error {
				b := bus.New(db, nil, bus.Config{})
				defer b.Close()

				cs, done, csErr := buildContextStore(cmd.Context(), db)
				if csErr != nil {
					return csErr
				}
				defer done()

				rcfg := resolver.Config{
					ModuleTimeout: time.Duration(app.EffectiveResolverSettings().ModuleTimeoutMS) * time.Millisecond,
				}
				r := resolver.New(db, b, cs, nil, rcfg)
				for _, id := range modules {
					id := id
					in, ok := provided[id]
					if ok {
						if regErr := r.Register(id, staticInput(in)); regErr != nil {
							return regErr
						}
						continue
					}
					if regErr := r.Register(id, absentInput(id)); regErr != nil {
						return regErr
					}
				}

				resolved, resErr := r.Resolve(cmd.Context(), situation, modules, opts)
				if resErr != nil {
					return resErr
				}
				rec = resolved
				return nil
			}); err != nil {
				return err
			}

			prose := ""
			if explain {
				if g, genErr := reason.NewGenerator(tool, 0); genErr == nil {
					prose, _ = g.Explain(cmd.Context(), rec)
				}
			}

			type resp struct {
				Decision *models.DecisionRecord `json:"decision"`
				Prose    string                 `json:"prose,omitempty"`
			}
			return output.PrintSuccess(resp{Decision: rec, Prose: prose})
		},
	}

	cmd.Flags().StringVar(&situation, "situation", "", "Situation identifier (required)")
	cmd.Flags().StringArrayVar(&modules, "module", nil, "Module id to consult (repeatable)")
	cmd.Flags().StringArrayVar(&options, "option", nil, "Candidate option, id or id:activity (repeatable, required)")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Module input as module=JSON (repeatable)")
	cmd.Flags().BoolVar(&explain, "explain", false, "Render the justification as prose via the reasoning CLI")
	cmd.Flags().StringVar(&tool, "tool", "", "Reasoning CLI to use with --explain (claude, opencode)")

	return cmd
}

func parseOptions(raw []string) ([]resolver.Option, error) {
	opts := make([]resolver.Option, 0, len(raw))
	for _, r := range raw {
		id, activity, _ := strings.Cut(r, ":")
		if id == "" {
			return nil, fmt.Errorf("option %q has an empty id", r)
		}
		opts = append(opts, resolver.Option{
			ID:       id,
			Activity: models.ActivityClass(activity),
		})
	}
	return opts, nil
}

func parseInputs(raw []string) (map[string]*resolver.Input, error) {
	provided := make(map[string]*resolver.Input, len(raw))
	for _, r := range raw {
		id, body, found := strings.Cut(r, "=")
		if !found || id == "" {
			return nil, fmt.Errorf("input %q must be module=JSON", r)
		}
		var in resolver.Input
		if err := json.Unmarshal([]byte(body), &in); err != nil {
			return nil, fmt.Errorf("input for %q is not valid JSON: %w", id, err)
		}
		provided[id] = &in
	}
	return provided, nil
}

func staticInput(in *resolver.Input) resolver.InputProvider {
	return resolver.InputProviderFunc(func(context.Context, string) (*resolver.Input, error) {
		return in, nil
	})
}

func absentInput(id string) resolver.InputProvider {
	return resolver.InputProviderFunc(func(context.Context, string) (*resolver.Input, error) {
		return nil, &resolver.ModuleUnavailableError{Module: id, Err: fmt.Errorf("no input supplied")}
	})
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
