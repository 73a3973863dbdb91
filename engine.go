package fieldsync

import (
	"context"
	"sync"

	"github.com/goliatone/go-fieldsync/mapping"
	"github.com/goliatone/go-fieldsync/pkg/activity"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine keeps a form State consistent with field catalogs and set-key
// mappings. All methods are safe for concurrent use; callbacks registered on
// the engine run after its lock is released and may call back into it.
type Engine struct {
	mu sync.Mutex

	id       string
	cfg      engineConfig
	logger   *zap.Logger
	tracer   trace.Tracer
	resolver *mapping.Resolver
	emitter  *activity.Emitter

	ctx  context.Context
	stop context.CancelFunc

	source     Source
	state      State
	entries    []*entry
	generation uint64
	genCtx     context.Context
	genCancel  context.CancelFunc
	closed     bool

	sem      chan struct{}
	inflight int
	idle     chan struct{}

	pending     []func()
	subscribers map[uint64]func(Change)
	nextSub     uint64
}

// entry is one slot of the working configuration.
type entry struct {
	field      Field
	catalog    []Choice
	loading    bool
	err        error
	generation uint64
}

// New builds an engine over state, resolves catalogs for src and reconciles.
// A nil state is replaced by an empty map.
func New(src Source, state State, opts ...Option) *Engine {
	cfg := applyOptions(opts)
	if state == nil {
		state = State{}
	}
	id := uuid.NewString()
	ctx, stop := context.WithCancel(cfg.ctx)

	e := &Engine{
		id:          id,
		cfg:         cfg,
		logger:      cfg.logger.With(zap.String("engine_id", id)),
		tracer:      cfg.tracerProvider.Tracer(tracerName),
		emitter:     activity.NewEmitter(cfg.activityHooks, cfg.activityConfig),
		ctx:         ctx,
		stop:        stop,
		state:       state,
		subscribers: map[uint64]func(Change){},
	}
	e.resolver = mapping.NewResolver(
		mapping.WithCache(cfg.mappingCache),
		mapping.WithErrorHandler(func(spec string, err error) {
			e.logger.Debug("malformed set key", zap.String("spec", spec), zap.Error(err))
		}),
	)
	if cfg.maxLoads > 0 {
		e.sem = make(chan struct{}, cfg.maxLoads)
	}

	e.mu.Lock()
	e.rebuildLocked(src)
	e.unlockAndFlush()
	return e
}

// ID returns the engine instance identifier.
func (e *Engine) ID() string {
	return e.id
}

// SetConfig replaces the field configuration. Catalogs are resolved again,
// producers included, and loads from the previous configuration are
// cancelled and discarded.
func (e *Engine) SetConfig(src Source) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.rebuildLocked(src)
	e.unlockAndFlush()
}

// Reload resolves the current configuration again.
func (e *Engine) Reload() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.rebuildLocked(e.source)
	e.unlockAndFlush()
}

func (e *Engine) rebuildLocked(src Source) {
	e.generation++
	gen := e.generation
	if e.genCancel != nil {
		e.genCancel()
	}
	e.genCtx, e.genCancel = context.WithCancel(e.ctx)
	e.source = src

	fields := normalizeSource(src)
	e.entries = make([]*entry, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if _, dup := seen[field.Key]; dup {
			e.logger.Warn("duplicate field key, lookups use the first entry", zap.String("field", field.Key))
		}
		seen[field.Key] = struct{}{}
		e.entries = append(e.entries, &entry{field: field, generation: gen})
	}

	changed := e.applyDefaultsLocked()
	for _, ent := range e.entries {
		e.resolveCatalogLocked(gen, ent)
	}
	changed = mergeKeys(changed, e.reconcileLocked(""))

	e.logger.Debug("working configuration rebuilt",
		zap.Uint64("generation", gen),
		zap.Int("fields", len(e.entries)))
	e.queueChange(Change{Kind: ChangeConfig, Generation: gen})
	e.emitLocked(activity.BuildConfigRebuiltEvent(e.fieldEventInput("", nil, map[string]any{"fields": len(e.entries)})))
	if len(changed) > 0 {
		e.queueChange(Change{Kind: ChangeState, Keys: changed, Generation: gen})
	}
}

// Close cancels in-flight loads and drops subscribers. Later calls on the
// engine are no-ops.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.stop()
	e.subscribers = map[uint64]func(Change){}
	e.pending = nil
	return nil
}

// Wait blocks until no deferred catalog load is in flight.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	if e.inflight == 0 {
		e.mu.Unlock()
		return nil
	}
	idle := e.idle
	e.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Generation returns the working configuration generation.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// State returns the shared form state map. Reads that may race with
// catalog loads should go through View or Snapshot.
func (e *Engine) State() State {
	return e.state
}

// Snapshot returns a copy of the form state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Value returns the form value for key.
func (e *Engine) Value(key string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	value, ok := e.state[key]
	return value, ok
}

// View runs fn with the form state while holding the engine lock. fn must
// not call back into the engine.
func (e *Engine) View(fn func(State)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

// Fields returns the working configuration with resolved catalogs as
// static columns.
func (e *Engine) Fields() []Field {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Field, 0, len(e.entries))
	for _, ent := range e.entries {
		out = append(out, ent.view())
	}
	return out
}

// Catalog returns the resolved catalog for key. While a deferred load is
// pending the catalog is empty.
func (e *Engine) Catalog(key string) ([]Choice, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent := e.entryLocked(key)
	if ent == nil {
		return nil, false
	}
	return cloneCatalog(ent.catalog), true
}

// Loading reports whether the catalog for key is still loading.
func (e *Engine) Loading(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent := e.entryLocked(key)
	return ent != nil && ent.loading
}

// Err returns the last catalog failure for key in the current generation.
func (e *Engine) Err(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent := e.entryLocked(key); ent != nil {
		return ent.err
	}
	return nil
}

func (e *Engine) entryLocked(key string) *entry {
	for _, ent := range e.entries {
		if ent.field.Key == key {
			return ent
		}
	}
	return nil
}

func (ent *entry) view() Field {
	field := ent.field
	field.Columns = Static(cloneCatalog(ent.catalog)...)
	return field
}

func cloneCatalog(catalog []Choice) []Choice {
	if catalog == nil {
		return nil
	}
	out := make([]Choice, len(catalog))
	copy(out, catalog)
	return out
}
