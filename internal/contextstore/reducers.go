package contextstore

import (
	"encoding/json"

	"github.com/dotcommander/chord/internal/models"
)

// RegisterDefaultReducers wires the built-in domain event kinds to context
// fields. Modules that publish their own kinds register additional reducers
// next to these.
func RegisterDefaultReducers(s *Store) error {
	regs := []struct {
		kind  string
		field string
		fn    Reducer
	}{
		{models.EventKindPhaseChanged, models.FieldCyclePhase, reducePhase},
		{models.EventKindWorkloadUpdated, models.FieldWorkloadPct, reduceFloatPayload("workload_pct", 200)},
		{models.EventKindStressUpdated, models.FieldStressLevel, reduceFloatPayload("level", 1)},
		{models.EventKindEnergyUpdated, models.FieldEnergyLevel, reduceFloatPayload("level", 1)},
		{models.EventKindFocusStarted, models.FieldActiveFocus, reduceConst(true)},
		{models.EventKindFocusEnded, models.FieldActiveFocus, reduceConst(false)},
		{models.EventKindInterruptionQueued, models.FieldPendingInterruptions, reduceIncrement},
		{models.EventKindFocusEnded, models.FieldPendingInterruptions, reduceConst(float64(0))},
	}
	for _, r := range regs {
		if err := s.RegisterReducer(r.kind, r.field, r.fn); err != nil {
			return err
		}
	}
	return nil
}

// reducePhase accepts the known phases and keeps the current value for
// anything else. A malformed event must not corrupt the context.
func reducePhase(current any, ev *models.Event) any {
	var p struct {
		Phase string `json:"phase"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return current
	}
	switch models.CyclePhase(p.Phase) {
	case models.PhaseRest, models.PhaseBuild, models.PhasePeak, models.PhaseProtected:
		return p.Phase
	}
	return current
}

// reduceFloatPayload extracts one numeric payload field, clamped to [0, max].
func reduceFloatPayload(key string, max float64) Reducer {
	return func(current any, ev *models.Event) any {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(ev.Payload, &raw); err != nil {
			return current
		}
		var v float64
		if err := json.Unmarshal(raw[key], &v); err != nil {
			return current
		}
		if v < 0 {
			v = 0
		}
		if v > max {
			v = max
		}
		return v
	}
}

func reduceConst(v any) Reducer {
	return func(any, *models.Event) any { return v }
}

func reduceIncrement(current any, _ *models.Event) any {
	n, _ := current.(float64)
	return n + 1
}
