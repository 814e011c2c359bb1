// Package policy decides whether a detected opportunity executes
// automatically, asks for confirmation, or is discarded.
//
// Evaluation is stateless per call. All deployment tuning lives in Config;
// building the engine validates the config so a thresholds typo can never
// silently re-enable automation for a never-auto kind.
package policy

import (
	"fmt"
	"sort"

	"github.com/dotcommander/chord/internal/models"
)

// Thresholds is one action kind's confidence band. Confidence below
// IgnoreBelow discards; at or above AutoAbove executes automatically;
// anything between asks for confirmation.
type Thresholds struct {
	IgnoreBelow float64
	AutoAbove   float64
}

// Config is the engine's complete tuning surface.
type Config struct {
	// Default band applied to kinds without an explicit entry.
	Default Thresholds
	// PerKind overrides the default band for specific action kinds.
	PerKind map[string]Thresholds
	// NeverAuto kinds can never produce Auto. This is a structural override
	// checked after thresholding, not a threshold of 1.0.
	NeverAuto []string
	// InterruptionAdjacent kinds have their AutoAbove raised by
	// FocusAutoMargin while a focus session is active.
	InterruptionAdjacent []string
	FocusAutoMargin      float64
}

// Rule is one named confidence adjustment. Applies inspects the
// opportunity's entities; Delta is added when it returns true.
type Rule struct {
	Name    string
	Delta   float64
	Applies func(*models.Opportunity) bool
}

// DefaultRules adjust confidence for entity completeness before
// thresholding. Kept as data so adding a rule never touches Evaluate.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:  "resolved_timestamp",
			Delta: 0.10,
			Applies: func(o *models.Opportunity) bool {
				return o.HasEntity("timestamp")
			},
		},
		{
			Name:  "verbal_confirmation",
			Delta: 0.15,
			Applies: func(o *models.Opportunity) bool {
				return o.HasEntity("confirmation_phrase")
			},
		},
		{
			Name:  "ambiguous_time",
			Delta: -0.20,
			Applies: func(o *models.Opportunity) bool {
				return o.HasEntity("ambiguous_time_ref")
			},
		},
	}
}

// Evaluation explains one policy decision: the outcome plus every input
// that produced it.
type Evaluation struct {
	Outcome            models.Outcome `json:"outcome"`
	RawConfidence      float64        `json:"raw_confidence"`
	AdjustedConfidence float64        `json:"adjusted_confidence"`
	AppliedRules       []string       `json:"applied_rules,omitempty"`
	IgnoreBelow        float64        `json:"ignore_below"`
	AutoAbove          float64        `json:"auto_above"`
	FocusTightened     bool           `json:"focus_tightened,omitempty"`
	NeverAuto          bool           `json:"never_auto,omitempty"`
}

// Engine maps (opportunity, context snapshot) to an outcome. Safe for
// concurrent use; it holds no mutable state.
type Engine struct {
	cfg       Config
	rules     []Rule
	neverAuto map[string]bool
	adjacent  map[string]bool
}

// New validates cfg and builds an engine with the default adjustment rules.
func New(cfg Config) (*Engine, error) {
	return NewWithRules(cfg, DefaultRules())
}

// NewWithRules builds an engine with a caller-supplied rule table.
func NewWithRules(cfg Config, rules []Rule) (*Engine, error) {
	if err := validate(cfg, rules); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		rules:     rules,
		neverAuto: make(map[string]bool, len(cfg.NeverAuto)),
		adjacent:  make(map[string]bool, len(cfg.InterruptionAdjacent)),
	}
	for _, k := range cfg.NeverAuto {
		e.neverAuto[k] = true
	}
	for _, k := range cfg.InterruptionAdjacent {
		e.adjacent[k] = true
	}
	return e, nil
}

func validate(cfg Config, rules []Rule) error {
	check := func(kind string, t Thresholds) error {
		if t.IgnoreBelow < 0 || t.AutoAbove > 1 {
			return &ViolationError{Kind: kind, Reason: "thresholds must lie in [0, 1]"}
		}
		if t.IgnoreBelow > t.AutoAbove {
			return &ViolationError{Kind: kind, Reason: "ignore_below exceeds auto_above"}
		}
		return nil
	}
	if err := check("(default)", cfg.Default); err != nil {
		return err
	}
	for kind, t := range cfg.PerKind {
		if err := check(kind, t); err != nil {
			return err
		}
	}
	if cfg.FocusAutoMargin < 0 {
		return &ViolationError{Kind: "(focus)", Reason: "focus margin must not loosen thresholds"}
	}
	for i, r := range rules {
		if r.Name == "" || r.Applies == nil {
			return fmt.Errorf("adjustment rule %d needs a name and predicate", i)
		}
	}
	return nil
}

// Evaluate decides the outcome for one opportunity against one context
// snapshot. The snapshot is read once; callers wanting attributable
// decisions pair the result with the snapshot's version.
func (e *Engine) Evaluate(opp *models.Opportunity, snap *models.ContextSnapshot) Evaluation {
	ev := Evaluation{
		RawConfidence: opp.Confidence,
		NeverAuto:     e.neverAuto[opp.ActionKind],
	}

	conf := opp.Confidence
	for _, r := range e.rules {
		if !r.Applies(opp) {
			continue
		}
		conf += r.Delta
		ev.AppliedRules = append(ev.AppliedRules, r.Name)
	}
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	ev.AdjustedConfidence = conf

	t := e.cfg.Default
	if pk, ok := e.cfg.PerKind[opp.ActionKind]; ok {
		t = pk
	}
	// Tighten only. An active focus session raises the bar for anything
	// that would interrupt; it never lowers one.
	if snap != nil && snap.ActiveFocus() && e.adjacent[opp.ActionKind] {
		t.AutoAbove += e.cfg.FocusAutoMargin
		if t.AutoAbove > 1 {
			t.AutoAbove = 1
		}
		ev.FocusTightened = true
	}
	ev.IgnoreBelow = t.IgnoreBelow
	ev.AutoAbove = t.AutoAbove

	switch {
	case conf < t.IgnoreBelow:
		ev.Outcome = models.OutcomeIgnore
	case conf >= t.AutoAbove:
		ev.Outcome = models.OutcomeAuto
	default:
		ev.Outcome = models.OutcomeConfirm
	}

	// Hard override, applied after thresholding so no tunable can undo it.
	if ev.Outcome == models.OutcomeAuto && e.neverAuto[opp.ActionKind] {
		ev.Outcome = models.OutcomeConfirm
	}
	return ev
}

// AuthorizeAuto rejects any attempt to record an automatic execution for a
// never-auto kind. Callers that receive an outcome from outside the engine
// (a CLI flag, a module's claim) must pass it through here before acting.
func (e *Engine) AuthorizeAuto(actionKind string) error {
	if e.neverAuto[actionKind] {
		return &ViolationError{Kind: actionKind, Reason: "kind is configured never-auto"}
	}
	return nil
}

// RuleNames returns the engine's adjustment rule names in evaluation order.
func (e *Engine) RuleNames() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name)
	}
	return names
}

// NeverAutoKinds returns the configured never-auto kinds, sorted.
func (e *Engine) NeverAutoKinds() []string {
	kinds := make([]string, 0, len(e.neverAuto))
	for k := range e.neverAuto {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
