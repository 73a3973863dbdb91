package fieldsync

import (
	"sort"

	"github.com/goliatone/go-fieldsync/pkg/activity"
	"go.uber.org/zap"
)

// NotifyChange queues cb to run with event, formData and field once the
// engine has finished its current reconciliation. A nil formData is replaced
// by a snapshot of the engine state taken when the callback is queued.
func (e *Engine) NotifyChange(event any, cb ChangeFunc, field Field, formData State) {
	if cb == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	data := formData
	if data == nil {
		data = e.state.Clone()
	}
	e.pending = append(e.pending, func() {
		cb(event, data, field)
	})
	e.unlockAndFlush()
}

// OnInputComplete calls every field's AllInput hook with formData and
// returns formData unchanged.
func (e *Engine) OnInputComplete(formData State) State {
	e.mu.Lock()
	type hook struct {
		fn    func(State, Field)
		field Field
	}
	var hooks []hook
	for _, ent := range e.entries {
		if ent.field.AllInput != nil {
			hooks = append(hooks, hook{fn: ent.field.AllInput, field: ent.view()})
		}
	}
	e.mu.Unlock()

	for _, h := range hooks {
		e.runCallback(func() { h.fn(formData, h.field) })
	}
	return formData
}

// Subscribe registers fn for engine changes. The returned function removes
// the subscription.
func (e *Engine) Subscribe(fn func(Change)) func() {
	if fn == nil {
		return func() {}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return func() {}
	}
	e.nextSub++
	id := e.nextSub
	e.subscribers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subscribers, id)
	}
}

func (e *Engine) queueChange(change Change) {
	if len(e.subscribers) == 0 {
		return
	}
	ids := make([]uint64, 0, len(e.subscribers))
	for id := range e.subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, e.subscribers[id])
	}
	if len(change.Keys) > 0 {
		change.Keys = append([]string{}, change.Keys...)
	}
	e.pending = append(e.pending, func() {
		for _, fn := range subs {
			e.runCallback(func() { fn(change) })
		}
	})
}

func (e *Engine) emitLocked(event activity.Event) {
	if !e.emitter.Enabled() {
		return
	}
	ctx := e.cfg.ctx
	e.pending = append(e.pending, func() {
		if err := e.emitter.Emit(ctx, event); err != nil {
			e.logger.Warn("activity hook failed",
				zap.String("verb", event.Verb),
				zap.Error(err))
		}
	})
}

func (e *Engine) fieldEventInput(field string, keys []string, metadata map[string]any) activity.FieldEventInput {
	return activity.FieldEventInput{
		EngineID:   e.id,
		Field:      field,
		Generation: e.generation,
		Keys:       keys,
		Metadata:   metadata,
	}
}

// unlockAndFlush releases the lock and drains the after-queue. Callbacks may
// re-enter the engine; anything they queue is drained before returning.
func (e *Engine) unlockAndFlush() {
	for {
		pending := e.pending
		e.pending = nil
		e.mu.Unlock()
		if len(pending) == 0 {
			return
		}
		for _, fn := range pending {
			e.runCallback(fn)
		}
		e.mu.Lock()
	}
}

func (e *Engine) runCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// ActivityHooks returns a copy of the configured activity hooks.
func (e *Engine) ActivityHooks() activity.Hooks {
	return cloneActivityHooks(e.cfg.activityHooks)
}
