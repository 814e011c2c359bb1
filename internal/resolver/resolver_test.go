package resolver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/chord/internal/bus"
	"github.com/dotcommander/chord/internal/models"
	"github.com/dotcommander/chord/internal/store"
)

// staticContext satisfies ContextSource with a fixed snapshot.
type staticContext struct {
	snap models.ContextSnapshot
}

func (s *staticContext) Snapshot() models.ContextSnapshot { return s.snap }

func contextWith(fields map[string]any) *staticContext {
	base := map[string]any{
		models.FieldCyclePhase:  "build",
		models.FieldWorkloadPct: 40.0,
		models.FieldEnergyLevel: 0.6,
	}
	for k, v := range fields {
		base[k] = v
	}
	return &staticContext{snap: models.ContextSnapshot{Fields: base, Version: 3}}
}

func setupResolver(t *testing.T, cs ContextSource) (*sql.DB, *bus.Bus, *Resolver) {
	t.Helper()

	db, err := store.InitDBWithPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New(db, nil, bus.Config{RetryInitialInterval: time.Millisecond})
	t.Cleanup(b.Close)

	r := New(db, b, cs, nil, Config{ModuleTimeout: 200 * time.Millisecond})
	return db, b, r
}

func staticProvider(in *Input) InputProvider {
	return InputProviderFunc(func(context.Context, string) (*Input, error) {
		return in, nil
	})
}

func TestResolve_PersistsAndPublishes(t *testing.T) {
	db, _, r := setupResolver(t, contextWith(nil))

	require.NoError(t, r.Register("tasks", staticProvider(&Input{
		Summary:          "report deadline close",
		OptionPriorities: map[string]float64{"deep_work": 0.9, "admin": 0.2},
	})))
	require.NoError(t, r.Register("wellness", staticProvider(&Input{
		OptionPriorities: map[string]float64{"deep_work": 0.7},
	})))

	rec, err := r.Resolve(context.Background(), "next_block", []string{"tasks", "wellness"}, []Option{
		{ID: "deep_work", Activity: models.ActivityDeepWork},
		{ID: "admin", Activity: models.ActivityAdmin},
	})
	require.NoError(t, err)
	require.Equal(t, "deep_work", rec.ChosenOption)
	require.Equal(t, []string{"tasks", "wellness"}, rec.ModulesConsulted)
	require.Empty(t, rec.ModulesAbsent)
	require.Equal(t, int64(3), rec.ContextVersion)
	require.Equal(t, []string{"deep_work", "admin"}, rec.OptionsConsidered)
	require.Len(t, rec.Scores, 2)
	require.Greater(t, rec.Scores["deep_work"], rec.Scores["admin"])

	// Persisted, not just returned.
	stored, err := store.GetDecision(db, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.ChosenOption, stored.ChosenOption)
	require.Equal(t, rec.Justification, stored.Justification)

	// decision.made is in the durable log.
	events, err := store.ReplayEvents(db, store.ReplayParams{Kind: models.EventKindDecisionMade, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	require.Equal(t, rec.ID, payload["decision_id"])
	require.Equal(t, "deep_work", payload["chosen_option"])
	require.Equal(t, float64(3), payload["context_version"])
}

func TestResolve_AbsentModuleIsRecordedNotFatal(t *testing.T) {
	_, _, r := setupResolver(t, contextWith(nil))

	require.NoError(t, r.Register("tasks", staticProvider(&Input{
		OptionPriorities: map[string]float64{"admin": 0.8},
	})))
	require.NoError(t, r.Register("social", InputProviderFunc(func(context.Context, string) (*Input, error) {
		return nil, &ModuleUnavailableError{Module: "social", Err: errors.New("no response")}
	})))
	require.NoError(t, r.Register("wellness", InputProviderFunc(func(ctx context.Context, _ string) (*Input, error) {
		<-ctx.Done() // slower than the module timeout
		return nil, ctx.Err()
	})))

	rec, err := r.Resolve(context.Background(), "next_block", []string{"tasks", "social", "wellness"}, []Option{
		{ID: "admin", Activity: models.ActivityAdmin},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"tasks"}, rec.ModulesConsulted)
	require.Equal(t, []string{"social", "wellness"}, rec.ModulesAbsent)
	require.Contains(t, rec.Justification, "no input from: social, wellness")
}

func TestResolve_UnknownModuleFailsFast(t *testing.T) {
	_, _, r := setupResolver(t, contextWith(nil))

	_, err := r.Resolve(context.Background(), "next_block", []string{"ghost"}, []Option{{ID: "admin"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown module "ghost"`)
}

func TestResolve_Validation(t *testing.T) {
	_, _, r := setupResolver(t, contextWith(nil))

	_, err := r.Resolve(context.Background(), "  ", nil, []Option{{ID: "admin"}})
	require.Error(t, err)

	_, err = r.Resolve(context.Background(), "next_block", nil, nil)
	require.Error(t, err)
}

func TestResolve_ScoringPrefersContextFit(t *testing.T) {
	// Preferred activity is deep_work (build phase, energy 0.6).
	_, _, r := setupResolver(t, contextWith(nil))

	rec, err := r.Resolve(context.Background(), "next_block", nil, []Option{
		{ID: "reply_messages", Activity: models.ActivitySocial},
		{ID: "write_report", Activity: models.ActivityDeepWork},
	})
	require.NoError(t, err)
	require.Equal(t, "write_report", rec.ChosenOption)
}

func TestResolve_PriorityDecidesWhenFitIsEqual(t *testing.T) {
	_, _, r := setupResolver(t, contextWith(nil))

	// Neither option matches the preferred activity, so the module priority
	// signal is the deciding factor.
	require.NoError(t, r.Register("tasks", staticProvider(&Input{
		OptionPriorities: map[string]float64{"urgent_admin": 1.0, "reply_messages": 0.1},
	})))

	rec, err := r.Resolve(context.Background(), "next_block", []string{"tasks"}, []Option{
		{ID: "urgent_admin", Activity: models.ActivityAdmin},
		{ID: "reply_messages", Activity: models.ActivitySocial},
	})
	require.NoError(t, err)
	require.Equal(t, "urgent_admin", rec.ChosenOption)
	require.Greater(t, rec.Scores["urgent_admin"], rec.Scores["reply_messages"])
}

func TestResolve_DeterministicTieBreakByOptionID(t *testing.T) {
	_, _, r := setupResolver(t, contextWith(nil))

	// No activities, no module input: every option scores the same.
	for i := 0; i < 3; i++ {
		rec, err := r.Resolve(context.Background(), "next_block", nil, []Option{
			{ID: "zeta"}, {ID: "alpha"}, {ID: "mid"},
		})
		require.NoError(t, err)
		require.Equal(t, "alpha", rec.ChosenOption)
	}
}

func TestResolve_JustificationIsDeterministic(t *testing.T) {
	_, _, r := setupResolver(t, contextWith(nil))

	require.NoError(t, r.Register("tasks", staticProvider(&Input{
		OptionPriorities: map[string]float64{"write_report": 0.8},
	})))

	first, err := r.Resolve(context.Background(), "next_block", []string{"tasks"}, []Option{
		{ID: "write_report", Activity: models.ActivityDeepWork},
	})
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "next_block", []string{"tasks"}, []Option{
		{ID: "write_report", Activity: models.ActivityDeepWork},
	})
	require.NoError(t, err)

	// Same situation, same inputs, same snapshot: identical justification,
	// independent records.
	require.Equal(t, first.Justification, second.Justification)
	require.NotEqual(t, first.ID, second.ID)

	// Factors appear in descending contribution order.
	// headroom 0.40*0.6=0.240, fit 0.35*1.0=0.350, priority 0.25*0.8=0.200.
	require.Equal(t,
		`chose "write_report" (score 0.790): activity_fit 0.350, workload_headroom 0.240, module_priority 0.200`,
		first.Justification)
}

func TestRegister_Validation(t *testing.T) {
	_, _, r := setupResolver(t, contextWith(nil))

	require.Error(t, r.Register("", staticProvider(&Input{})))
	require.Error(t, r.Register("tasks", nil))

	require.NoError(t, r.Register("tasks", staticProvider(&Input{})))
	require.Error(t, r.Register("tasks", staticProvider(&Input{})))
}

func TestMarkExecuted_PublishesAndIsOneShot(t *testing.T) {
	db, _, r := setupResolver(t, contextWith(nil))

	rec, err := r.Resolve(context.Background(), "next_block", nil, []Option{{ID: "admin"}})
	require.NoError(t, err)

	require.NoError(t, r.MarkExecuted(context.Background(), rec.ID, "completed"))

	stored, err := store.GetDecision(db, rec.ID)
	require.NoError(t, err)
	require.True(t, stored.Executed)
	require.Equal(t, "completed", stored.Outcome)

	err = r.MarkExecuted(context.Background(), rec.ID, "abandoned")
	require.Error(t, err)
	require.True(t, errors.Is(err, store.ErrDecisionAlreadyExecuted))

	events, err := store.ReplayEvents(db, store.ReplayParams{Kind: models.EventKindDecisionExecuted, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	require.Equal(t, rec.ID, payload["decision_id"])
	require.Equal(t, "completed", payload["outcome"])
}

func TestModuleUnavailableError(t *testing.T) {
	err := &ModuleUnavailableError{Module: "wellness", Err: errors.New("timeout")}
	require.True(t, errors.Is(err, ErrModuleUnavailable))
	require.Equal(t, "MODULE_UNAVAILABLE", err.ErrorCode())
	require.Equal(t, "wellness", err.Context()["module"])
	require.NotEmpty(t, err.SuggestedAction())
	require.ErrorContains(t, err, "timeout")
}
