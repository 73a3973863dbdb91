package fieldsync

import (
	"context"
	"fmt"

	"github.com/goliatone/go-fieldsync/pkg/activity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// resolveCatalogLocked fills the catalog of ent. Deferred producers leave an
// empty placeholder and settle on their own goroutine.
func (e *Engine) resolveCatalogLocked(gen uint64, ent *entry) {
	producer := ent.field.Columns.Producer()
	if producer == nil {
		ent.catalog = cloneCatalog(ent.field.Columns.Choices())
		return
	}

	result, err := e.invokeProducer(producer, ent.field)
	if err != nil {
		e.failCatalogLocked(gen, ent, err)
		return
	}

	switch r := result.(type) {
	case ready:
		ent.catalog = cloneCatalog(r)
	case *Deferred:
		ent.catalog = nil
		if r == nil || r.load == nil {
			return
		}
		ent.loading = true
		e.beginLoadLocked()
		go e.runLoad(e.genCtx, gen, ent, r)
	default:
		ent.catalog = nil
	}
}

func (e *Engine) invokeProducer(producer Producer, field Field) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("producer panicked: %v", r)
		}
	}()
	return producer(e.genCtx, e.state.Clone(), field), nil
}

func (e *Engine) runLoad(ctx context.Context, gen uint64, ent *entry, d *Deferred) {
	defer e.endLoad()

	key := ent.field.Key
	ctx, span := e.tracer.Start(ctx, "fieldsync.catalog.load",
		trace.WithAttributes(
			attribute.String("fieldsync.field", key),
			attribute.Int64("fieldsync.generation", int64(gen)),
		))
	defer span.End()

	choices, err := e.awaitLoad(ctx, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("fieldsync.catalog.size", len(choices)))
		span.SetStatus(codes.Ok, "")
	}

	e.settle(gen, ent, choices, err)
}

func (e *Engine) awaitLoad(ctx context.Context, d *Deferred) (choices []Choice, err error) {
	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("catalog load panicked: %v", r)
		}
	}()
	return d.load(ctx)
}

// settle applies a finished load unless the working configuration it
// belongs to was replaced in the meantime.
func (e *Engine) settle(gen uint64, ent *entry, choices []Choice, err error) {
	e.mu.Lock()
	if e.closed || gen != e.generation {
		e.mu.Unlock()
		e.logger.Debug("discarding stale catalog",
			zap.String("field", ent.field.Key),
			zap.Uint64("generation", gen))
		return
	}

	ent.loading = false
	if err != nil {
		e.failCatalogLocked(gen, ent, err)
	} else {
		ent.catalog = cloneCatalog(choices)
		ent.err = nil
		e.logger.Debug("catalog loaded",
			zap.String("field", ent.field.Key),
			zap.Uint64("generation", gen),
			zap.Int("size", len(choices)))
		e.emitLocked(activity.BuildCatalogLoadedEvent(e.fieldEventInput(ent.field.Key, nil,
			map[string]any{"size": len(choices)})))
	}
	e.queueChange(Change{Kind: ChangeCatalog, Field: ent.field.Key, Generation: gen})

	if changed := e.reconcileLocked(""); len(changed) > 0 {
		e.queueChange(Change{Kind: ChangeState, Field: ent.field.Key, Keys: changed, Generation: gen})
	}
	e.unlockAndFlush()
}

func (e *Engine) failCatalogLocked(gen uint64, ent *entry, err error) {
	catErr := &CatalogError{Field: ent.field.Key, Generation: gen, Err: err}
	ent.catalog = nil
	ent.loading = false
	ent.err = catErr
	e.logger.Warn("catalog load failed",
		zap.String("field", ent.field.Key),
		zap.Uint64("generation", gen),
		zap.Error(err))
	input := e.fieldEventInput(ent.field.Key, nil, nil)
	input.Err = err
	e.emitLocked(activity.BuildCatalogFailedEvent(input))
}

func (e *Engine) beginLoadLocked() {
	if e.inflight == 0 {
		e.idle = make(chan struct{})
	}
	e.inflight++
}

func (e *Engine) endLoad() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight--
	if e.inflight == 0 && e.idle != nil {
		close(e.idle)
	}
}
