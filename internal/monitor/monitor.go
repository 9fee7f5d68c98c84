// Package monitor drives periodic observation rounds over registered
// entities: fetch, diff, commit, dispatch, with failures isolated per entity
// and per callback.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mzaremba/driftwatch/internal/diff"
	"github.com/mzaremba/driftwatch/internal/fetch"
	"github.com/mzaremba/driftwatch/internal/source"
	"github.com/mzaremba/driftwatch/internal/state"
)

const (
	defaultInterval      = time.Minute
	defaultFetchLimit    = 4
	defaultCommitRetries = 3
	defaultRetryBackoff  = 500 * time.Millisecond
)

// Callback receives the delta for one entity after it has been committed.
// A panicking callback is caught and logged; it never aborts the round.
type Callback func(entity source.Entity, delta diff.Delta)

// Result is the outcome of one entity's round.
type Result struct {
	Entity source.Entity
	Delta  diff.Delta
	Err    error
}

// Monitor owns the entity registry and runs the polling loop. Entities are
// processed concurrently up to the fetch limit, but all state transitions for
// one entity are serialized: round N+1 never starts for an entity before
// round N's commit completed.
type Monitor struct {
	store   state.Store
	sources map[string]source.Source
	log     *zap.Logger

	interval      time.Duration
	fetchLimit    int
	commitRetries int
	retryBackoff  time.Duration
	sleep         func(time.Duration)

	mu        sync.Mutex
	entities  []source.Entity
	locks     map[string]*sync.Mutex
	callbacks []subscription
}

type subscription struct {
	id uuid.UUID
	fn Callback
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the delay between rounds.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithFetchLimit bounds how many entities are fetched concurrently.
func WithFetchLimit(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.fetchLimit = n
		}
	}
}

// WithCommitRetries sets how many times a failed commit is retried before the
// entity's round is abandoned.
func WithCommitRetries(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.commitRetries = n
		}
	}
}

// WithRetryBackoff sets the base delay between commit retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.retryBackoff = d
		}
	}
}

// WithSleep overrides the retry sleep, used in tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(m *Monitor) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(m *Monitor) {
		if log != nil {
			m.log = log
		}
	}
}

// New creates a Monitor over the given state store and sources.
func New(store state.Store, sources map[string]source.Source, opts ...Option) *Monitor {
	m := &Monitor{
		store:         store,
		sources:       sources,
		log:           zap.NewNop(),
		interval:      defaultInterval,
		fetchLimit:    defaultFetchLimit,
		commitRetries: defaultCommitRetries,
		retryBackoff:  defaultRetryBackoff,
		sleep:         time.Sleep,
		locks:         make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add registers an entity for monitoring. Entities are processed in
// registration order. Registering the same entity twice is an error.
func (m *Monitor) Add(e source.Entity) error {
	if e.ID == "" {
		return errors.New("monitor: entity id is required")
	}
	if _, ok := m.sources[e.Source]; !ok {
		return fmt.Errorf("monitor: unknown source %q for entity %q", e.Source, e.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.Key()
	for _, existing := range m.entities {
		if existing.Key() == key {
			return fmt.Errorf("monitor: entity %s already registered", key)
		}
	}
	m.entities = append(m.entities, e)
	m.locks[key] = &sync.Mutex{}
	m.log.Info("entity registered", zap.String("entity", key), zap.String("label", e.DisplayLabel()))
	return nil
}

// Remove unregisters an entity. Persisted state is kept; deleting it is a
// separate explicit action on the store.
func (m *Monitor) Remove(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range m.entities {
		if e.Key() == key {
			m.entities = append(m.entities[:i], m.entities[i+1:]...)
			delete(m.locks, key)
			m.log.Info("entity removed", zap.String("entity", key))
			return true
		}
	}
	return false
}

// Entities returns the registered entities in registration order.
func (m *Monitor) Entities() []source.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]source.Entity, len(m.entities))
	copy(out, m.entities)
	return out
}

// Subscribe registers a callback and returns a handle for unsubscribing.
func (m *Monitor) Subscribe(cb Callback) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.callbacks = append(m.callbacks, subscription{id: id, fn: cb})
	return id
}

// Unsubscribe removes a previously registered callback.
func (m *Monitor) Unsubscribe(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.callbacks {
		if sub.id == id {
			m.callbacks = append(m.callbacks[:i], m.callbacks[i+1:]...)
			return true
		}
	}
	return false
}

// Run polls until the context is cancelled. Cancellation is observed between
// rounds; it never abandons a commit in progress.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("monitor started",
		zap.Duration("interval", m.interval),
		zap.Int("entities", len(m.Entities())))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.RunOnce(ctx)

		select {
		case <-ctx.Done():
			m.log.Info("monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single round over all registered entities and returns
// per-entity results in registration order. A failing entity is skipped for
// the round with its cursor unchanged; it never affects the others.
func (m *Monitor) RunOnce(ctx context.Context) []Result {
	entities := m.Entities()
	results := make([]Result, len(entities))

	g := &errgroup.Group{}
	g.SetLimit(m.fetchLimit)

	for i, e := range entities {
		i, e := i, e
		if ctx.Err() != nil {
			results[i] = Result{Entity: e, Err: ctx.Err()}
			continue
		}
		g.Go(func() error {
			delta, err := m.processEntity(ctx, e)
			results[i] = Result{Entity: e, Delta: delta, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	changed := 0
	for _, r := range results {
		if r.Err != nil {
			m.log.Warn("entity round failed",
				zap.String("entity", r.Entity.Key()),
				zap.Error(r.Err))
			continue
		}
		if !r.Delta.Empty() && !r.Delta.Initial {
			changed++
		}
	}
	m.log.Info("round complete",
		zap.Int("entities", len(entities)),
		zap.Int("changed", changed))
	return results
}

// processEntity runs fetch -> diff -> commit -> dispatch for one entity,
// holding its per-entity lock throughout.
func (m *Monitor) processEntity(ctx context.Context, e source.Entity) (diff.Delta, error) {
	key := e.Key()

	m.mu.Lock()
	lock := m.locks[key]
	m.mu.Unlock()
	if lock == nil {
		return diff.Delta{}, fmt.Errorf("monitor: entity %s not registered", key)
	}
	lock.Lock()
	defer lock.Unlock()

	src := m.sources[e.Source]
	log := m.log.With(zap.String("entity", key))

	rec, err := m.store.Load(ctx, key)
	if err != nil {
		return diff.Delta{}, fmt.Errorf("load state: %w", err)
	}

	log.Debug("fetching")
	var (
		delta diff.Delta
		up    state.Update
	)
	if src.Incremental() {
		cursor := ""
		if rec != nil {
			cursor = rec.Cursor
		}
		res, err := fetch.Since(ctx, src, e, cursor)
		if err != nil {
			return diff.Delta{}, fmt.Errorf("fetch: %w", err)
		}
		delta = diff.Fetched(res.Items, rec == nil)
		up = state.Update{EntityID: key, Cursor: res.Cursor, Items: res.Items}
	} else {
		res, err := fetch.Since(ctx, src, e, "")
		if err != nil {
			return diff.Delta{}, fmt.Errorf("fetch: %w", err)
		}

		log.Debug("diffing")
		var prev []source.Item
		if rec != nil {
			// A record with no snapshot keys still counts as observed.
			prev = rec.SnapshotItems()
			if prev == nil {
				prev = []source.Item{}
			}
		}
		delta = diff.Snapshots(prev, res.Items, diff.IgnoringFields(e.IgnoreFields))

		keys := make([]string, 0, len(res.Items))
		for _, it := range res.Items {
			keys = append(keys, it.ID)
		}
		up = state.Update{EntityID: key, Items: res.Items, Snapshot: keys}
	}

	log.Debug("committing",
		zap.Int("new_items", len(up.Items)),
		zap.String("cursor", up.Cursor))
	if err := m.commitWithRetry(ctx, up); err != nil {
		// State remains at the last good checkpoint; the round is abandoned
		// for this entity and nothing is dispatched.
		return diff.Delta{}, fmt.Errorf("commit: %w", err)
	}

	log.Debug("dispatching",
		zap.Int("added", len(delta.Added)),
		zap.Int("removed", len(delta.Removed)),
		zap.Int("updated", len(delta.Updated)))
	m.dispatch(e, delta)
	return delta, nil
}

func (m *Monitor) commitWithRetry(ctx context.Context, up state.Update) error {
	var lastErr error
	for attempt := 0; attempt < m.commitRetries; attempt++ {
		if attempt > 0 {
			m.sleep(m.retryBackoff * time.Duration(attempt))
		}
		if lastErr = m.store.Commit(ctx, up); lastErr == nil {
			return nil
		}
		m.log.Warn("commit failed",
			zap.String("entity", up.EntityID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return lastErr
}

// dispatch invokes every callback inside a recover boundary so one faulty
// handler cannot take down the round or starve the others.
func (m *Monitor) dispatch(e source.Entity, delta diff.Delta) {
	m.mu.Lock()
	subs := make([]subscription, len(m.callbacks))
	copy(subs, m.callbacks)
	m.mu.Unlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("callback panicked",
						zap.String("entity", e.Key()),
						zap.String("subscription", sub.id.String()),
						zap.Any("panic", r))
				}
			}()
			sub.fn(e, delta)
		}()
	}
}
