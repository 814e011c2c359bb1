// Package bus provides the durable publish/subscribe core. Publish appends
// to the SQLite event log and returns once the write commits; delivery to
// subscribers happens asynchronously, one worker goroutine per subscription.
//
// Delivery semantics are at-least-once per subscriber. Workers never receive
// events directly: a publish only wakes them, and each worker pulls its
// events from the durable log in sequence order from its own cursor. The log
// is the single source of delivery order, so FIFO per (subscriber, kind)
// holds no matter how publishes, catch-up and wakeups interleave, and the
// cursor only ever advances along the ordered stream it actually delivered.
// No ordering is guaranteed across kinds: strengthening that to a global
// order would force a single delivery queue and turn the bus into a
// throughput bottleneck.
package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/dotcommander/chord/internal/models"
	"github.com/dotcommander/chord/internal/store"
)

// KindWildcard subscribes a handler to every kind. Wildcard subscriptions
// exist for log-driven consumers (the context store) and diagnostics; their
// durable cursor is tracked under the wildcard kind.
const KindWildcard = "*"

// Handler processes one delivered event. A non-nil error triggers bounded
// redelivery with backoff; after the configured attempts the event is marked
// permanently failed and surfaced as a bus.delivery_failed event. Handlers
// must be idempotent with respect to sequence: after a crash the same event
// may be observed again.
type Handler func(ctx context.Context, ev *models.Event) error

// Config tunes queues and redelivery. Zero values take the defaults below.
type Config struct {
	// QueueSize bounds the backlog a worker will deliver. When the backlog
	// past a subscription's cursor exceeds it, the oldest undelivered events
	// are shed (the durable log is never touched; they remain readable via
	// ReplayEvents) and a bus.subscriber_overloaded event is emitted.
	QueueSize int
	// DeliveryAttempts is the total tries per event, including the first.
	DeliveryAttempts int
	// RetryInitialInterval seeds the redelivery backoff. Tests shrink it.
	RetryInitialInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.DeliveryAttempts <= 0 {
		c.DeliveryAttempts = 3
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 100 * time.Millisecond
	}
	return c
}

type subscription struct {
	name    string
	kind    string
	handler Handler

	// wake is a capacity-1 signal channel. Publishers never push events
	// through it; the worker pulls from the durable log when woken.
	wake chan struct{}

	// lastSeq is the delivery cursor, loaded from the store at subscribe
	// time. Only the subscription's worker touches it afterwards.
	lastSeq int64
}

// notify requests a drain. Non-blocking: a pending wakeup already covers
// every event appended before the worker's next pull.
func (s *subscription) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Bus is the single point of concurrency control: publishers run on their
// own goroutines and never block on subscriber work.
type Bus struct {
	db  *sql.DB
	log *zap.Logger
	cfg Config

	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed bool

	wg sync.WaitGroup
}

// New creates a bus over an initialized store database.
func New(db *sql.DB, log *zap.Logger, cfg Config) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		db:   db,
		log:  log,
		cfg:  cfg.withDefaults(),
		subs: make(map[string][]*subscription),
	}
}

// Publish durably appends the event, assigning sequence and occurred_at,
// then wakes every subscription registered for its kind. Returns the
// assigned sequence once the append committed; subscriber execution never
// delays the caller.
func (b *Bus) Publish(ctx context.Context, ev *models.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	seq, err := store.AppendEvent(b.db, ev)
	if err != nil {
		return 0, err
	}
	ev.Sequence = seq
	b.wakeSubscribers(ev.Kind)
	return seq, nil
}

// PublishIdempotent is Publish deduplicated on (origin, request_id). On a
// replayed request the previously-assigned sequence is returned and no
// wakeup happens: the original delivery already covered it.
func (b *Bus) PublishIdempotent(ctx context.Context, requestID string, ev *models.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	type idemResult struct {
		Sequence int64 `json:"sequence"`
	}
	r, replayed, err := store.RunIdempotentWithRetry(b.db, ev.Origin, requestID, "bus.publish", 1, nil,
		func(tx *sql.Tx) (idemResult, error) {
			seq, appendErr := store.AppendEventTx(tx, ev)
			if appendErr != nil {
				return idemResult{}, appendErr
			}
			return idemResult{Sequence: seq}, nil
		})
	if err != nil {
		return 0, err
	}
	ev.Sequence = r.Sequence
	if !replayed {
		b.wakeSubscribers(ev.Kind)
	}
	return r.Sequence, nil
}

// Subscribe registers a named handler for events of kind and starts its
// worker. The subscription resumes from its durable cursor, so events
// published while the subscriber was offline are redelivered by the next
// CatchUp call rather than lost.
func (b *Bus) Subscribe(kind, name string, handler Handler) error {
	if kind == "" {
		return fmt.Errorf("subscription kind is required")
	}
	if name == "" {
		return fmt.Errorf("subscription name is required")
	}
	if handler == nil {
		return fmt.Errorf("subscription handler is required")
	}

	cursor, err := store.GetSubscriberCursor(b.db, name, kind)
	if err != nil {
		return err
	}

	sub := &subscription{
		name:    name,
		kind:    kind,
		handler: handler,
		wake:    make(chan struct{}, 1),
		lastSeq: cursor,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus is closed")
	}
	b.subs[kind] = append(b.subs[kind], sub)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.runWorker(sub)
	return nil
}

// CatchUp wakes every subscription so it drains the durable events past its
// cursor. Call once after startup subscriptions are registered; safe to call
// again at any time.
func (b *Bus) CatchUp(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	if !b.closed {
		for _, subs := range b.subs {
			for _, sub := range subs {
				sub.notify()
			}
		}
	}
	b.mu.RUnlock()
	return nil
}

// Close stops accepting publishes, lets each worker finish its pending
// drain and waits for them. Undelivered backlog stays in the durable log;
// the cursors pick it up on the next start.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.wake)
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
}

// wakeSubscribers notifies every subscription for the kind plus wildcards.
// The read lock pairs with Close taking the write lock, so a wake channel is
// never signalled after it is closed.
func (b *Bus) wakeSubscribers(kind string) {
	b.mu.RLock()
	if !b.closed {
		for _, sub := range b.subs[kind] {
			sub.notify()
		}
		for _, sub := range b.subs[KindWildcard] {
			sub.notify()
		}
	}
	b.mu.RUnlock()
}

// runWorker services one subscription. Being the only goroutine pulling for
// this cursor is what provides the per-(subscriber, kind) FIFO guarantee.
// A close of the wake channel still delivers any buffered wakeup first, so
// work published before Close is drained before the worker exits.
func (b *Bus) runWorker(sub *subscription) {
	defer b.wg.Done()

	for range sub.wake {
		b.drain(sub)
	}
}

// drain pulls events past the cursor in sequence order and delivers them
// until the backlog is empty. When the backlog exceeds the configured bound
// the oldest undelivered events are shed by advancing the cursor past them,
// keeping only the newest QueueSize; the shed is recorded as a
// bus.subscriber_overloaded event.
func (b *Bus) drain(sub *subscription) {
	kind := sub.kind
	if kind == KindWildcard {
		kind = "" // no filter: wildcard subscriptions see every kind
	}

	for {
		backlog, err := store.CountEventsSince(b.db, kind, sub.lastSeq)
		if err != nil {
			b.log.Error("failed to measure subscriber backlog",
				zap.String("subscriber", sub.name),
				zap.String("kind", sub.kind),
				zap.Error(err))
			return
		}
		if backlog == 0 {
			return
		}

		if overflow := backlog - int64(b.cfg.QueueSize); overflow > 0 {
			shed := b.shedOldest(sub, kind, overflow)
			if shed > 0 {
				b.log.Warn("subscriber overloaded, shed oldest undelivered events",
					zap.String("subscriber", sub.name),
					zap.String("kind", sub.kind),
					zap.Int64("shed", shed))
				b.emitOverloaded(sub, shed)
			}
		}

		batch := b.cfg.QueueSize
		if batch > 500 {
			batch = 500
		}
		events, err := store.ReplayEvents(b.db, store.ReplayParams{
			Kind:          kind,
			SinceSequence: sub.lastSeq,
			Limit:         batch,
		})
		if err != nil {
			b.log.Error("failed to read subscriber backlog",
				zap.String("subscriber", sub.name),
				zap.String("kind", sub.kind),
				zap.Error(err))
			return
		}

		for _, ev := range events {
			if err := b.deliver(sub, ev); err != nil {
				b.log.Error("delivery permanently failed",
					zap.String("subscriber", sub.name),
					zap.String("kind", sub.kind),
					zap.Int64("sequence", ev.Sequence),
					zap.Error(err))
				b.emitDeliveryFailed(sub, ev, err)
			}
			b.advanceCursor(sub, ev.Sequence)
		}
	}
}

// shedOldest moves the cursor past the oldest n undelivered events without
// invoking the handler. Returns how many were actually skipped.
func (b *Bus) shedOldest(sub *subscription, kind string, n int64) int64 {
	var shed int64
	for shed < n {
		batch := n - shed
		if batch > 500 {
			batch = 500
		}
		events, err := store.ReplayEvents(b.db, store.ReplayParams{
			Kind:          kind,
			SinceSequence: sub.lastSeq,
			Limit:         int(batch),
		})
		if err != nil || len(events) == 0 {
			break
		}
		b.advanceCursor(sub, events[len(events)-1].Sequence)
		shed += int64(len(events))
	}
	return shed
}

// advanceCursor moves the in-memory cursor and persists it. A persistence
// failure is logged, not fatal: the worst case is redelivery after restart,
// which at-least-once semantics already require handlers to tolerate.
func (b *Bus) advanceCursor(sub *subscription, seq int64) {
	sub.lastSeq = seq
	if err := store.AdvanceSubscriberCursor(b.db, sub.name, sub.kind, seq); err != nil {
		b.log.Error("failed to advance subscriber cursor",
			zap.String("subscriber", sub.name),
			zap.String("kind", sub.kind),
			zap.Int64("sequence", seq),
			zap.Error(err))
	}
}

func (b *Bus) emitOverloaded(sub *subscription, shed int64) {
	payload, err := json.Marshal(map[string]any{
		"subscriber": sub.name,
		"kind":       sub.kind,
		"shed_count": shed,
	})
	if err != nil {
		return
	}
	ev := &models.Event{
		Kind:    models.EventKindSubscriberOverloaded,
		Origin:  "bus",
		Payload: payload,
	}
	if _, appendErr := store.AppendEvent(b.db, ev); appendErr != nil {
		b.log.Error("failed to record subscriber overload",
			zap.String("subscriber", sub.name), zap.Error(appendErr))
		return
	}
	b.wakeSubscribers(ev.Kind)
}

// deliver invokes the handler with bounded exponential-backoff redelivery.
// Handler panics are contained here so one broken module cannot take down
// the bus.
func (b *Bus) deliver(sub *subscription, ev *models.Event) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.RetryInitialInterval
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	attempts := uint64(b.cfg.DeliveryAttempts)
	return backoff.Retry(func() error {
		return b.invoke(sub, ev)
	}, backoff.WithMaxRetries(bo, attempts-1))
}

func (b *Bus) invoke(sub *subscription, ev *models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return sub.handler(context.Background(), ev)
}

func (b *Bus) emitDeliveryFailed(sub *subscription, ev *models.Event, deliverErr error) {
	payload, err := json.Marshal(map[string]any{
		"subscriber": sub.name,
		"kind":       sub.kind,
		"sequence":   ev.Sequence,
		"error":      deliverErr.Error(),
		"attempts":   b.cfg.DeliveryAttempts,
	})
	if err != nil {
		return
	}
	failed := &models.Event{
		Kind:    models.EventKindDeliveryFailed,
		Origin:  "bus",
		Payload: payload,
	}
	if _, appendErr := store.AppendEvent(b.db, failed); appendErr != nil {
		b.log.Error("failed to record delivery failure",
			zap.String("subscriber", sub.name), zap.Error(appendErr))
		return
	}
	b.wakeSubscribers(failed.Kind)
}
