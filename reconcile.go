package fieldsync

import (
	"encoding/json"
	"reflect"
	"sort"

	"github.com/goliatone/go-fieldsync/pkg/activity"
	"go.uber.org/zap"
)

// maxReconcilePasses caps fixed point iteration when mappings feed each other.
const maxReconcilePasses = 8

// Reconcile re-derives dependent fields from every field whose current value
// matches a choice in its catalog.
func (e *Engine) Reconcile() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if changed := e.reconcileLocked(""); len(changed) > 0 {
		e.queueChange(Change{Kind: ChangeState, Keys: changed, Generation: e.generation})
	}
	e.unlockAndFlush()
}

// OnSelection applies the set-key mapping of fieldKey with selection as the
// source. An empty selection is ignored.
func (e *Engine) OnSelection(fieldKey string, selection Choice) {
	if len(selection) == 0 {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	ent := e.entryLocked(fieldKey)
	if ent == nil {
		e.mu.Unlock()
		e.logger.Debug("selection for unknown field", zap.String("field", fieldKey))
		return
	}

	changed := e.applySelectionLocked(ent.field, selection)
	// The selected field's own value may not be written yet, so it is not
	// matched against its catalog here.
	changed = mergeKeys(changed, e.reconcileLocked(fieldKey))
	e.afterSelectionLocked(fieldKey, changed)
	e.unlockAndFlush()
}

// Select writes selection's value into fieldKey and applies its mapping.
func (e *Engine) Select(fieldKey string, selection Choice) {
	if len(selection) == 0 {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	field := Field{Key: fieldKey}
	if ent := e.entryLocked(fieldKey); ent != nil {
		field = ent.field
	}

	var changed []string
	if e.assignLocked(fieldKey, selection[field.valueKey()]) {
		changed = append(changed, fieldKey)
	}
	changed = mergeKeys(changed, e.applySelectionLocked(field, selection))
	changed = mergeKeys(changed, e.reconcileLocked(""))
	e.afterSelectionLocked(fieldKey, changed)
	e.unlockAndFlush()
}

func (e *Engine) afterSelectionLocked(fieldKey string, changed []string) {
	if len(changed) == 0 {
		return
	}
	e.queueChange(Change{Kind: ChangeState, Field: fieldKey, Keys: changed, Generation: e.generation})
	e.emitLocked(activity.BuildSelectionEvent(e.fieldEventInput(fieldKey, changed, nil)))
}

// OnBatch overwrites every key of values in the form state, then reconciles.
func (e *Engine) OnBatch(values map[string]any) {
	if len(values) == 0 {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	keys := make([]string, 0, len(values))
	for key, value := range values {
		e.state[key] = value
		keys = append(keys, key)
	}
	sort.Strings(keys)
	changed := mergeKeys(keys, e.reconcileLocked(""))
	e.queueChange(Change{Kind: ChangeState, Keys: changed, Generation: e.generation})
	e.emitLocked(activity.BuildBatchEvent(e.fieldEventInput("", keys, nil)))
	e.unlockAndFlush()
}

// Set writes a single form value and reconciles.
func (e *Engine) Set(key string, value any) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	var changed []string
	if e.assignLocked(key, value) {
		changed = append(changed, key)
	}
	changed = mergeKeys(changed, e.reconcileLocked(""))
	if len(changed) > 0 {
		e.queueChange(Change{Kind: ChangeState, Field: key, Keys: changed, Generation: e.generation})
	}
	e.unlockAndFlush()
}

// Update runs fn against the form state under the engine lock, then
// reconciles. fn must not call back into the engine.
func (e *Engine) Update(fn func(State)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	before := e.state.Clone()
	fn(e.state)
	changed := diffKeys(before, e.state)
	changed = mergeKeys(changed, e.reconcileLocked(""))
	if len(changed) > 0 {
		e.queueChange(Change{Kind: ChangeState, Keys: changed, Generation: e.generation})
	}
	e.unlockAndFlush()
}

// Choices returns the catalog for key narrowed by the field Filter. A choice
// whose filter fails to evaluate is kept.
func (e *Engine) Choices(key string) []Choice {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent := e.entryLocked(key)
	if ent == nil {
		return nil
	}
	if ent.field.Filter == "" {
		return cloneCatalog(ent.catalog)
	}

	out := make([]Choice, 0, len(ent.catalog))
	for _, choice := range ent.catalog {
		value, err := e.evaluate(ExprContext{State: e.state, Option: choice, Field: key}, ent.field.Filter)
		if err != nil {
			out = append(out, choice)
			continue
		}
		if keep, ok := value.(bool); ok && !keep {
			continue
		}
		out = append(out, choice)
	}
	return out
}

// reconcileLocked repeats reconciliation passes until the state settles.
// Entries keyed skip are not matched against their catalogs.
func (e *Engine) reconcileLocked(skip string) []string {
	var changed []string
	for pass := 0; pass < maxReconcilePasses; pass++ {
		passChanged := e.reconcilePassLocked(skip)
		if len(passChanged) == 0 {
			return changed
		}
		changed = mergeKeys(changed, passChanged)
	}
	e.logger.Warn("reconciliation did not settle",
		zap.Int("passes", maxReconcilePasses),
		zap.Strings("keys", changed))
	return changed
}

func (e *Engine) reconcilePassLocked(skip string) []string {
	var changed []string
	for _, ent := range e.entries {
		if ent.field.Key == skip || len(ent.catalog) == 0 || (ent.field.SetKey == "" && len(ent.field.Compute) == 0) {
			continue
		}
		value, ok := e.state[ent.field.Key]
		if !ok || value == nil {
			continue
		}
		choice, found := matchChoice(ent.catalog, ent.field.valueKey(), value)
		if !found {
			continue
		}
		changed = mergeKeys(changed, e.applySelectionLocked(ent.field, choice))
	}
	return changed
}

// applySelectionLocked runs the mapping and computed expressions of field
// with source as the selected choice.
func (e *Engine) applySelectionLocked(field Field, source Choice) []string {
	rules := e.resolver.Rules(field.SetKey)
	if len(rules) == 0 && len(field.Compute) == 0 {
		return nil
	}

	targets := rules.Targets()
	for target := range field.Compute {
		targets = append(targets, target)
	}
	before := make(map[string]prior, len(targets))
	for _, key := range targets {
		value, ok := e.state[key]
		before[key] = prior{value: value, present: ok}
	}

	rules.Apply(e.state, source)
	e.computeLocked(field, source)

	var changed []string
	for key, was := range before {
		now, ok := e.state[key]
		if ok != was.present || !reflect.DeepEqual(now, was.value) {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}

func (e *Engine) computeLocked(field Field, source Choice) {
	if len(field.Compute) == 0 {
		return
	}
	targets := make([]string, 0, len(field.Compute))
	for target := range field.Compute {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	for _, target := range targets {
		value, err := e.evaluate(ExprContext{State: e.state, Option: source, Field: field.Key}, field.Compute[target])
		if err != nil {
			continue
		}
		e.state[target] = value
	}
}

func (e *Engine) assignLocked(key string, value any) bool {
	prev, ok := e.state[key]
	e.state[key] = value
	return !ok || !reflect.DeepEqual(prev, value)
}

type prior struct {
	value   any
	present bool
}

// matchChoice returns the first choice whose valueKey attribute equals value.
func matchChoice(catalog []Choice, valueKey string, value any) (Choice, bool) {
	for _, choice := range catalog {
		if sameValue(choice[valueKey], value) {
			return choice, true
		}
	}
	return nil, false
}

// sameValue compares form values. Numbers compare by value across kinds;
// other values must share a type and be comparable.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	va := reflect.ValueOf(a)
	if !va.Comparable() || !reflect.ValueOf(b).Comparable() {
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func diffKeys(before, after State) []string {
	var changed []string
	for key, value := range after {
		prev, ok := before[key]
		if !ok || !reflect.DeepEqual(prev, value) {
			changed = append(changed, key)
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}

// mergeKeys returns the sorted union of a and b.
func mergeKeys(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return b
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, key := range append(append([]string{}, a...), b...) {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
