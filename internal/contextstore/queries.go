package contextstore

import "github.com/dotcommander/chord/internal/models"

// Derived queries are pure functions over a snapshot. Two callers holding
// the same snapshot always get the same answers, so query results can be
// reproduced from any persisted context version.

// MayInterrupt reports whether the user can be interrupted right now.
// Any of: active focus session, protected or rest phase, workload at or
// above 90% means no.
func MayInterrupt(snap *models.ContextSnapshot) bool {
	if snap.ActiveFocus() {
		return false
	}
	if snap.Phase().IsProtected() {
		return false
	}
	return snap.WorkloadPct() < 90
}

// PreferredActivity derives the class of work that fits the current context.
func PreferredActivity(snap *models.ContextSnapshot) models.ActivityClass {
	stress := snap.FloatField(models.FieldStressLevel)
	energy := snap.FloatField(models.FieldEnergyLevel)

	switch {
	case snap.Phase() == models.PhaseRest || stress >= 0.8:
		return models.ActivityRecovery
	case snap.Phase() == models.PhasePeak && energy >= 0.6 && snap.WorkloadPct() < 80:
		return models.ActivityDeepWork
	case energy < 0.3:
		return models.ActivityAdmin
	case snap.Phase() == models.PhaseBuild && energy >= 0.5:
		return models.ActivityDeepWork
	case snap.FloatField(models.FieldPendingInterruptions) >= 3 && MayInterrupt(snap):
		return models.ActivitySocial
	default:
		return models.ActivityAdmin
	}
}
