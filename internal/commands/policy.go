package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotcommander/chord/internal/app"
	"github.com/dotcommander/chord/internal/models"
	"github.com/dotcommander/chord/internal/output"
	"github.com/dotcommander/chord/internal/policy"
)

func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Evaluate and inspect the action policy",
	}

	cmd.AddCommand(newPolicyEvalCmd())
	cmd.AddCommand(newPolicyShowCmd())
	return cmd
}

// policyConfigFromSettings binds the YAML policy section to the engine's
// config. Lives here so app stays import-free of the engine.
func policyConfigFromSettings(s app.PolicySettings) policy.Config {
	cfg := policy.Config{
		Default:              policy.Thresholds{IgnoreBelow: 0.3, AutoAbove: 0.85},
		NeverAuto:            s.NeverAuto,
		InterruptionAdjacent: s.InterruptionAdjacent,
		FocusAutoMargin:      0.10,
	}
	if s.DefaultIgnoreBelow > 0 || s.DefaultAutoAbove > 0 {
		cfg.Default = policy.Thresholds{
			IgnoreBelow: s.DefaultIgnoreBelow,
			AutoAbove:   s.DefaultAutoAbove,
		}
	}
	if s.FocusAutoMargin > 0 {
		cfg.FocusAutoMargin = s.FocusAutoMargin
	}
	if len(s.Thresholds) > 0 {
		cfg.PerKind = make(map[string]policy.Thresholds, len(s.Thresholds))
		for kind, t := range s.Thresholds {
			cfg.PerKind[kind] = policy.Thresholds{
				IgnoreBelow: t.IgnoreBelow,
				AutoAbove:   t.AutoAbove,
			}
		}
	}
	return cfg
}

func loadPolicyEngine() (*policy.Engine, error) {
	s, err := app.LoadSettings()
	if err != nil {
		return nil, err
	}
	return policy.New(policyConfigFromSettings(s.Policy))
}

func newPolicyEvalCmd() *cobra.Command {
	var (
		actionKind string
		confidence float64
		entities   []string
		liveCtx    bool
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate an opportunity against the policy and context",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actionKind == "" {
				return cmdErr(fmt.Errorf("--action-kind is required"))
			}
			if confidence < 0 || confidence > 1 {
				return cmdErr(fmt.Errorf("--confidence must lie in [0, 1]"))
			}

			engine, err := loadPolicyEngine()
			if err != nil {
				return cmdErr(err)
			}

			opp := &models.Opportunity{
				ActionKind: actionKind,
				Confidence: confidence,
				Entities:   map[string]string{},
			}
			for _, e := range entities {
				k, v, found := strings.Cut(e, "=")
				if !found || k == "" {
					return cmdErr(fmt.Errorf("entity %q must be key=value", e))
				}
				opp.Entities[k] = v
			}

			snap := models.ContextSnapshot{Fields: map[string]any{}}
			if liveCtx {
				if err := withDB(func(db *DB) error {
					cs, done, csErr := buildContextStore(cmd.Context(), db)
					if csErr != nil {
						return csErr
					}
					defer done()
					snap = cs.Snapshot()
					return nil
				}); err != nil {
					return err
				}
			}

			eval := engine.Evaluate(opp, &snap)

			type resp struct {
				ActionKind     string            `json:"action_kind"`
				Evaluation     policy.Evaluation `json:"evaluation"`
				ContextVersion int64             `json:"context_version,omitempty"`
			}
			return output.PrintSuccess(resp{
				ActionKind:     actionKind,
				Evaluation:     eval,
				ContextVersion: snap.Version,
			})
		},
	}

	cmd.Flags().StringVar(&actionKind, "action-kind", "", "Opportunity action kind (required)")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Detector confidence in [0, 1]")
	cmd.Flags().StringArrayVar(&entities, "entity", nil, "Extracted entity as key=value (repeatable)")
	cmd.Flags().BoolVar(&liveCtx, "live-context", true, "Fold the log and evaluate against the current context")

	return cmd
}

func newPolicyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective policy configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadPolicyEngine()
			if err != nil {
				return cmdErr(err)
			}
			s, err := app.LoadSettings()
			if err != nil {
				return cmdErr(err)
			}
			cfg := policyConfigFromSettings(s.Policy)

			type resp struct {
				Default              policy.Thresholds            `json:"default"`
				PerKind              map[string]policy.Thresholds `json:"per_kind,omitempty"`
				NeverAuto            []string                     `json:"never_auto,omitempty"`
				InterruptionAdjacent []string                     `json:"interruption_adjacent,omitempty"`
				FocusAutoMargin      float64                      `json:"focus_auto_margin"`
				Rules                []string                     `json:"rules"`
			}
			return output.PrintSuccess(resp{
				Default:              cfg.Default,
				PerKind:              cfg.PerKind,
				NeverAuto:            engine.NeverAutoKinds(),
				InterruptionAdjacent: cfg.InterruptionAdjacent,
				FocusAutoMargin:      cfg.FocusAutoMargin,
				Rules:                engine.RuleNames(),
			})
		},
	}
	return cmd
}
