// Package contextstore maintains the global context: a single event-sourced
// aggregate rebuilt by folding the coordination log through registered
// per-field reducers.
//
// The store holds no authoritative state of its own. Live folding and
// startup rebuild share one code path — the fold worker always reads the
// durable log in sequence order from its cursor — which is what makes the
// final state deterministic regardless of process restarts in between.
package contextstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/dotcommander/chord/internal/bus"
	"github.com/dotcommander/chord/internal/models"
	"github.com/dotcommander/chord/internal/store"
)

// Reducer folds one event into one field's new value. Reducers must be pure:
// no I/O, no clock reads — everything they need is in the current value and
// the event.
type Reducer func(current any, ev *models.Event) any

type fieldReducer struct {
	field string
	fn    Reducer
}

// Options tunes the store.
type Options struct {
	// CheckpointEvery persists a context checkpoint after this many folded
	// events. 0 takes the default of 100.
	CheckpointEvery int
}

// Store owns the global context. All mutation flows through one serialized
// fold path; Snapshot readers never block on folding and never observe a
// partially-applied event.
type Store struct {
	db  *sql.DB
	b   *bus.Bus
	log *zap.Logger

	checkpointEvery int

	// foldMu serializes the fold path (single writer).
	foldMu sync.Mutex
	// snapMu guards the snapshot pointer; the snapshot itself is immutable
	// and replaced wholesale after each fold.
	snapMu sync.RWMutex
	snap   *models.ContextSnapshot

	reducers map[string][]fieldReducer

	// publishFloor is the log head observed when a rebuild started. Folds at
	// or below it are history being re-read, not new facts: re-publishing
	// context.updated for them would grow the log on every rebuild and
	// re-notify subscribers of changes they already saw. Guarded by foldMu.
	publishFloor int64

	foldsSinceCheckpoint int
}

// New creates a context store over an initialized database and bus.
// Reducers must be registered before Start.
func New(db *sql.DB, b *bus.Bus, log *zap.Logger, opts Options) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 100
	}
	return &Store{
		db:              db,
		b:               b,
		log:             log,
		checkpointEvery: opts.CheckpointEvery,
		snap: &models.ContextSnapshot{
			Fields: defaultFields(),
		},
		reducers: make(map[string][]fieldReducer),
	}
}

// RegisterReducer maps an event kind to the context field it affects.
// Multiple reducers per kind are allowed. Domain modules supply reducers at
// startup; the core treats them as configuration. Changing a reducer
// invalidates prior checkpoints — rebuild from sequence 0 after a change.
func (s *Store) RegisterReducer(eventKind, fieldName string, fn Reducer) error {
	if eventKind == "" || fieldName == "" || fn == nil {
		return fmt.Errorf("reducer registration requires kind, field and fn")
	}
	s.foldMu.Lock()
	defer s.foldMu.Unlock()
	s.reducers[eventKind] = append(s.reducers[eventKind], fieldReducer{field: fieldName, fn: fn})
	return nil
}

// Start rebuilds the context from the last checkpoint (or from the
// beginning), then subscribes to the bus so future events are folded live.
// A gap in the durable log aborts startup: running with a silently
// incomplete context is worse than not running.
func (s *Store) Start(ctx context.Context) error {
	if err := s.Rebuild(ctx); err != nil {
		return err
	}

	// The subscription is only a wakeup: the fold path always pulls from
	// the durable log in sequence order, so delivery order across kinds
	// doesn't matter.
	return s.b.Subscribe(bus.KindWildcard, "contextstore", func(ctx context.Context, _ *models.Event) error {
		return s.pump(ctx)
	})
}

// Rebuild loads the latest checkpoint and folds every later event through
// the registered reducers. Called by Start; exposed for diagnostics.
func (s *Store) Rebuild(ctx context.Context) error {
	return s.rebuild(ctx, true)
}

// RebuildFromStart folds the entire log from sequence 0, ignoring
// checkpoints. Required after a reducer change: old checkpoints were folded
// with the old reducers and no longer represent the log.
func (s *Store) RebuildFromStart(ctx context.Context) error {
	return s.rebuild(ctx, false)
}

func (s *Store) rebuild(ctx context.Context, useCheckpoint bool) error {
	s.foldMu.Lock()

	var cp *store.ContextCheckpoint
	if useCheckpoint {
		var err error
		cp, err = store.LoadLatestContextCheckpoint(s.db)
		if err != nil {
			s.foldMu.Unlock()
			return err
		}
	} else {
		s.setSnapshot(&models.ContextSnapshot{Fields: defaultFields()})
	}
	if cp != nil {
		var snap models.ContextSnapshot
		if err := json.Unmarshal(cp.Snapshot, &snap); err != nil {
			s.foldMu.Unlock()
			return fmt.Errorf("decode context checkpoint: %w", err)
		}
		if snap.Fields == nil {
			snap.Fields = defaultFields()
		}
		s.setSnapshot(&snap)
	}

	since := s.snapshotRef().LastSequence
	if err := store.CheckReplayContiguity(s.db, since); err != nil {
		s.foldMu.Unlock()
		return err
	}

	// Only folds past the current head are live; everything at or below it
	// is replayed history and must not publish again.
	head, err := store.MaxSequence(s.db)
	if err != nil {
		s.foldMu.Unlock()
		return err
	}
	if head > s.publishFloor {
		s.publishFloor = head
	}
	s.foldMu.Unlock()

	return s.pump(ctx)
}

// Snapshot returns the current context by value. Callers never get a live
// reference; the fields map is copied.
func (s *Store) Snapshot() models.ContextSnapshot {
	ref := s.snapshotRef()
	fields := make(map[string]any, len(ref.Fields))
	for k, v := range ref.Fields {
		fields[k] = v
	}
	return models.ContextSnapshot{
		Fields:       fields,
		Version:      ref.Version,
		LastSequence: ref.LastSequence,
		UpdatedAt:    ref.UpdatedAt,
	}
}

func (s *Store) snapshotRef() *models.ContextSnapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

func (s *Store) setSnapshot(snap *models.ContextSnapshot) {
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}

// pump folds every durable event past the cursor, in sequence order, until
// the log is drained. Safe to call concurrently; the fold mutex serializes.
func (s *Store) pump(ctx context.Context) error {
	s.foldMu.Lock()
	defer s.foldMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		events, err := store.ReplayEvents(s.db, store.ReplayParams{
			SinceSequence: s.snapshotRef().LastSequence,
			Limit:         500,
		})
		if err != nil {
			return fmt.Errorf("replay for fold: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		for _, ev := range events {
			if err := s.foldOne(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// foldOne applies every reducer registered for the event's kind, swaps in a
// new immutable snapshot, and publishes context.updated carrying the changed
// field names (not the values, to bound event size). Folds of replayed
// history (at or below publishFloor) update state without publishing. The
// cursor advances even when nothing changed, so every event is folded
// exactly once.
func (s *Store) foldOne(ctx context.Context, ev *models.Event) error {
	cur := s.snapshotRef()

	var changed []string
	fields := cur.Fields
	for _, r := range s.reducers[ev.Kind] {
		next := r.fn(fields[r.field], ev)
		if reflect.DeepEqual(fields[r.field], next) {
			continue
		}
		if len(changed) == 0 {
			// Copy-on-write: the old snapshot stays immutable.
			copied := make(map[string]any, len(fields)+1)
			for k, v := range fields {
				copied[k] = v
			}
			fields = copied
		}
		fields[r.field] = next
		changed = append(changed, r.field)
	}

	next := &models.ContextSnapshot{
		Fields:       fields,
		Version:      cur.Version,
		LastSequence: ev.Sequence,
		UpdatedAt:    cur.UpdatedAt,
	}
	if len(changed) > 0 {
		next.Version = cur.Version + 1
		next.UpdatedAt = ev.OccurredAt
	}
	s.setSnapshot(next)

	if len(changed) > 0 && ev.Sequence > s.publishFloor {
		s.publishUpdated(ctx, next, ev, changed)
	}

	s.foldsSinceCheckpoint++
	if s.foldsSinceCheckpoint >= s.checkpointEvery {
		s.foldsSinceCheckpoint = 0
		if _, err := store.SaveContextCheckpoint(s.db, next); err != nil {
			// Checkpoints are an optimization; a failed one only means a
			// longer replay next startup.
			s.log.Warn("context checkpoint failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Store) publishUpdated(ctx context.Context, snap *models.ContextSnapshot, cause *models.Event, changed []string) {
	payload, err := json.Marshal(map[string]any{
		"version":         snap.Version,
		"changed_fields":  changed,
		"source_sequence": cause.Sequence,
	})
	if err != nil {
		return
	}
	if _, err := s.b.Publish(ctx, &models.Event{
		Kind:    models.EventKindContextUpdated,
		Origin:  "context",
		Payload: payload,
	}); err != nil {
		s.log.Error("failed to publish context update",
			zap.Int64("source_sequence", cause.Sequence),
			zap.Error(err))
	}
}

// Checkpoint persists the current snapshot immediately. The periodic
// checkpoint path calls this implicitly; `chord context checkpoint` exposes
// it for operators.
func (s *Store) Checkpoint() (int64, error) {
	snap := s.Snapshot()
	return store.SaveContextCheckpoint(s.db, &snap)
}

func defaultFields() map[string]any {
	return map[string]any{
		models.FieldCyclePhase:           string(models.PhaseUnknown),
		models.FieldWorkloadPct:          float64(0),
		models.FieldActiveFocus:          false,
		models.FieldStressLevel:          float64(0),
		models.FieldEnergyLevel:          float64(0.5),
		models.FieldPendingInterruptions: float64(0),
	}
}
