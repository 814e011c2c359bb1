// Package resolver reconciles conflicting module recommendations into one
// persisted, auditable decision.
package resolver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/chord/internal/bus"
	"github.com/dotcommander/chord/internal/contextstore"
	"github.com/dotcommander/chord/internal/models"
	"github.com/dotcommander/chord/internal/store"
)

// Input is one module's contribution to a decision.
type Input struct {
	// Summary is a short human-readable description of the module's view.
	Summary string `json:"summary,omitempty"`
	// OptionPriorities scores options by id in [0, 1]. Options the module
	// has no opinion on are simply absent.
	OptionPriorities map[string]float64 `json:"option_priorities,omitempty"`
}

// InputProvider is the capability a module exposes to the resolver. It must
// be pure: same situation, same answer, no side effects.
type InputProvider interface {
	ProvideInput(ctx context.Context, situation string) (*Input, error)
}

// InputProviderFunc adapts a function to InputProvider.
type InputProviderFunc func(ctx context.Context, situation string) (*Input, error)

// ProvideInput implements InputProvider.
func (f InputProviderFunc) ProvideInput(ctx context.Context, situation string) (*Input, error) {
	return f(ctx, situation)
}

// Option is one candidate outcome for a situation.
type Option struct {
	ID string `json:"id"`
	// Activity classifies the option so context fit can be scored.
	Activity models.ActivityClass `json:"activity,omitempty"`
}

// Scoring weights, fixed and documented so justifications are reproducible.
// Weighted sum of: workload headroom, context activity fit, and the mean
// per-module priority signal.
const (
	weightHeadroom    = 0.40
	weightActivityFit = 0.35
	weightPriority    = 0.25
)

// ContextSource supplies the snapshot a decision is scored against.
type ContextSource interface {
	Snapshot() models.ContextSnapshot
}

// Config tunes the resolver.
type Config struct {
	// ModuleTimeout bounds each ProvideInput call. A dead module must never
	// stall resolution. 0 takes the 2s default.
	ModuleTimeout time.Duration
}

// Resolver gathers module inputs, ranks options against the context, and
// persists the decision. Stateless across calls; safe for concurrent use
// once providers are registered.
type Resolver struct {
	db  *sql.DB
	b   *bus.Bus
	cs  ContextSource
	log *zap.Logger
	cfg Config

	mu        sync.RWMutex
	providers map[string]InputProvider
}

// New creates a resolver. Providers are registered afterwards, before the
// first Resolve call.
func New(db *sql.DB, b *bus.Bus, cs ContextSource, log *zap.Logger, cfg Config) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ModuleTimeout <= 0 {
		cfg.ModuleTimeout = 2 * time.Second
	}
	return &Resolver{
		db:        db,
		b:         b,
		cs:        cs,
		log:       log,
		cfg:       cfg,
		providers: make(map[string]InputProvider),
	}
}

// Register adds a module's input provider. Duplicate ids are a wiring bug.
func (r *Resolver) Register(moduleID string, p InputProvider) error {
	if moduleID == "" || p == nil {
		return fmt.Errorf("provider registration requires id and provider")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[moduleID]; ok {
		return fmt.Errorf("provider %q already registered", moduleID)
	}
	r.providers[moduleID] = p
	return nil
}

// Resolve gathers inputs from the listed modules in parallel, ranks the
// options, persists a DecisionRecord and publishes decision.made. A module
// that is slow or failing is recorded as absent, never fatal. Calling
// Resolve again for the same situation produces a new independent record.
func (r *Resolver) Resolve(ctx context.Context, situation string, moduleIDs []string, options []Option) (*models.DecisionRecord, error) {
	if strings.TrimSpace(situation) == "" {
		return nil, fmt.Errorf("situation is required")
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("at least one option is required")
	}

	// Unknown module ids are a caller bug, checked before any work starts.
	r.mu.RLock()
	providers := make(map[string]InputProvider, len(moduleIDs))
	for _, id := range moduleIDs {
		p, ok := r.providers[id]
		if !ok {
			r.mu.RUnlock()
			return nil, fmt.Errorf("unknown module %q", id)
		}
		providers[id] = p
	}
	r.mu.RUnlock()

	snap := r.cs.Snapshot()
	inputs, absent := r.gather(ctx, situation, moduleIDs, providers)

	consulted := make([]string, 0, len(inputs))
	for _, id := range moduleIDs {
		if _, ok := inputs[id]; ok {
			consulted = append(consulted, id)
		}
	}

	ranked := rankOptions(options, &snap, inputs)
	best := ranked[0]

	rec := &models.DecisionRecord{
		Situation:         situation,
		ModulesConsulted:  consulted,
		ModulesAbsent:     absent,
		ContextVersion:    snap.Version,
		OptionsConsidered: optionIDs(options),
		ChosenOption:      best.Option.ID,
		Justification:     buildJustification(best, absent),
		Scores:            scoreMap(ranked),
	}
	if err := store.InsertDecision(r.db, rec); err != nil {
		return nil, fmt.Errorf("persist decision: %w", err)
	}

	r.publishDecisionMade(ctx, rec)
	return rec, nil
}

// MarkExecuted records the execution outcome once and publishes
// decision.executed. The record is otherwise immutable.
func (r *Resolver) MarkExecuted(ctx context.Context, decisionID, outcome string) error {
	if err := store.MarkDecisionExecuted(r.db, decisionID, outcome); err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{
		"decision_id": decisionID,
		"outcome":     outcome,
	})
	if err != nil {
		return err
	}
	if _, err := r.b.Publish(ctx, &models.Event{
		Kind:    models.EventKindDecisionExecuted,
		Origin:  "resolver",
		Payload: payload,
	}); err != nil {
		r.log.Error("failed to publish decision execution",
			zap.String("decision_id", decisionID),
			zap.Error(err))
	}
	return nil
}

// gather calls every provider in parallel under the per-module timeout.
// Returns the inputs that arrived and the module ids that did not.
func (r *Resolver) gather(ctx context.Context, situation string, moduleIDs []string, providers map[string]InputProvider) (map[string]*Input, []string) {
	var mu sync.Mutex
	inputs := make(map[string]*Input, len(moduleIDs))
	var absent []string

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range moduleIDs {
		id := id
		p := providers[id]
		g.Go(func() error {
			mctx, cancel := context.WithTimeout(gctx, r.cfg.ModuleTimeout)
			defer cancel()

			in, err := p.ProvideInput(mctx, situation)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || in == nil {
				absent = append(absent, id)
				r.log.Warn("module input unavailable",
					zap.String("module", id),
					zap.String("situation", situation),
					zap.Error(err))
				return nil // absence is recorded, never fatal
			}
			inputs[id] = in
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(absent)
	return inputs, absent
}

// scoredOption is one ranked option with its factor breakdown.
type scoredOption struct {
	Option  Option
	Total   float64
	Factors []factor
}

type factor struct {
	Name         string
	Contribution float64
}

// rankOptions scores every option and returns them best-first. Ties break
// by option id so the ranking is deterministic.
func rankOptions(options []Option, snap *models.ContextSnapshot, inputs map[string]*Input) []scoredOption {
	headroom := (100 - snap.WorkloadPct()) / 100
	if headroom < 0 {
		headroom = 0
	}
	preferred := contextstore.PreferredActivity(snap)

	ranked := make([]scoredOption, 0, len(options))
	for _, opt := range options {
		fit := 0.5
		if opt.Activity != "" {
			if opt.Activity == preferred {
				fit = 1.0
			} else {
				fit = 0.0
			}
		}

		var prioritySum float64
		var priorityN int
		for _, in := range inputs {
			if v, ok := in.OptionPriorities[opt.ID]; ok {
				prioritySum += v
				priorityN++
			}
		}
		priority := 0.0
		if priorityN > 0 {
			priority = prioritySum / float64(priorityN)
		}

		so := scoredOption{
			Option: opt,
			Factors: []factor{
				{Name: "workload_headroom", Contribution: weightHeadroom * headroom},
				{Name: "activity_fit", Contribution: weightActivityFit * fit},
				{Name: "module_priority", Contribution: weightPriority * priority},
			},
		}
		for _, f := range so.Factors {
			so.Total += f.Contribution
		}
		ranked = append(ranked, so)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Total != ranked[j].Total {
			return ranked[i].Total > ranked[j].Total
		}
		return ranked[i].Option.ID < ranked[j].Option.ID
	})
	return ranked
}

// buildJustification lists the chosen option's deciding factors in
// descending contribution order and notes any missing inputs. Deterministic
// for a given snapshot and input set.
func buildJustification(best scoredOption, absent []string) string {
	factors := make([]factor, len(best.Factors))
	copy(factors, best.Factors)
	sort.Slice(factors, func(i, j int) bool {
		if factors[i].Contribution != factors[j].Contribution {
			return factors[i].Contribution > factors[j].Contribution
		}
		return factors[i].Name < factors[j].Name
	})

	var b strings.Builder
	fmt.Fprintf(&b, "chose %q (score %.3f)", best.Option.ID, best.Total)
	for i, f := range factors {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %.3f", f.Name, f.Contribution)
	}
	if len(absent) > 0 {
		fmt.Fprintf(&b, "; no input from: %s", strings.Join(absent, ", "))
	}
	return b.String()
}

func (r *Resolver) publishDecisionMade(ctx context.Context, rec *models.DecisionRecord) {
	payload, err := json.Marshal(map[string]any{
		"decision_id":     rec.ID,
		"situation":       rec.Situation,
		"chosen_option":   rec.ChosenOption,
		"context_version": rec.ContextVersion,
		"modules_absent":  rec.ModulesAbsent,
	})
	if err != nil {
		return
	}
	if _, err := r.b.Publish(ctx, &models.Event{
		Kind:    models.EventKindDecisionMade,
		Origin:  "resolver",
		Payload: payload,
	}); err != nil {
		r.log.Error("failed to publish decision",
			zap.String("decision_id", rec.ID),
			zap.Error(err))
	}
}

func optionIDs(options []Option) []string {
	ids := make([]string, 0, len(options))
	for _, o := range options {
		ids = append(ids, o.ID)
	}
	return ids
}

func scoreMap(ranked []scoredOption) map[string]float64 {
	m := make(map[string]float64, len(ranked))
	for _, so := range ranked {
		m[so.Option.ID] = so.Total
	}
	return m
}
