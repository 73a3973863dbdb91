package fieldsync

import "context"

// Choice is one record of a field catalog. Its attributes are open; the
// field's ValueKey names the attribute compared against the form value.
type Choice map[string]any

// State maps field keys to their current values. The engine mutates the map
// it was given in place and never swaps it for another map.
type State map[string]any

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for key, value := range s {
		out[key] = value
	}
	return out
}

// DefaultValueKey is used when a field does not set ValueKey.
const DefaultValueKey = "value"

// Field describes a single form field.
type Field struct {
	Key string
	// Columns holds either a static catalog or a producer for one.
	Columns Columns
	// SetKey is a mapping spec applied with the selected choice as source.
	SetKey string
	// ValueKey names the choice attribute holding its canonical value.
	ValueKey string
	// AllInput runs with the full form data on input completion.
	AllInput func(State, Field)
	// Filter is an expression deciding whether a choice is offered. The
	// choice is bound as `option`, form values by their keys.
	Filter string
	// Compute maps target keys to expressions evaluated after SetKey.
	Compute map[string]string
	// Default fills the form value when the key is absent.
	Default any
}

func (f Field) valueKey() string {
	if f.ValueKey == "" {
		return DefaultValueKey
	}
	return f.ValueKey
}

// Columns is either a static catalog or a producer. The zero value is an
// empty static catalog.
type Columns struct {
	choices  []Choice
	producer Producer
}

// Static builds columns from a fixed catalog.
func Static(choices ...Choice) Columns {
	return Columns{choices: choices}
}

// Produced builds columns resolved by calling producer.
func Produced(producer Producer) Columns {
	return Columns{producer: producer}
}

// Producer returns the producer, or nil for static columns.
func (c Columns) Producer() Producer {
	return c.producer
}

// Choices returns the static catalog, or nil for produced columns.
func (c Columns) Choices() []Choice {
	if c.producer != nil {
		return nil
	}
	return c.choices
}

// IsProduced reports whether the catalog comes from a producer.
func (c Columns) IsProduced() bool {
	return c.producer != nil
}

// Producer resolves a catalog for field. It runs while the engine holds its
// lock and receives a snapshot of the form state; slow work belongs in a
// Deferred result.
type Producer func(ctx context.Context, state State, field Field) Result

// Result is the outcome of a Producer: Ready or *Deferred.
type Result interface {
	catalogResult()
}

type ready []Choice

func (ready) catalogResult() {}

// Ready wraps a catalog that is available immediately.
func Ready(choices ...Choice) Result {
	return ready(choices)
}

// Deferred is a catalog that resolves asynchronously.
type Deferred struct {
	load func(ctx context.Context) ([]Choice, error)
}

func (*Deferred) catalogResult() {}

// Defer wraps load so the engine runs it on its own goroutine.
func Defer(load func(ctx context.Context) ([]Choice, error)) *Deferred {
	return &Deferred{load: load}
}

// Source is the configuration input: List or Wrapped.
type Source interface {
	fieldList() []Field
}

// List is a plain sequence of field configurations.
type List []Field

func (l List) fieldList() []Field {
	return l
}

// Wrapped carries field configurations under Columns.
type Wrapped struct {
	Columns []Field
}

func (w Wrapped) fieldList() []Field {
	return w.Columns
}

func normalizeSource(src Source) []Field {
	if src == nil {
		return nil
	}
	fields := src.fieldList()
	if len(fields) == 0 {
		return nil
	}
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// ChangeKind classifies a Change.
type ChangeKind int

const (
	// ChangeState reports form values written by the engine or its callers.
	ChangeState ChangeKind = iota
	// ChangeCatalog reports a catalog that settled.
	ChangeCatalog
	// ChangeConfig reports a rebuilt working configuration.
	ChangeConfig
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeState:
		return "state"
	case ChangeCatalog:
		return "catalog"
	case ChangeConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Change describes an observable engine update.
type Change struct {
	Kind ChangeKind
	// Field is set for catalog changes and field scoped state changes.
	Field string
	// Keys lists the state keys that changed.
	Keys       []string
	Generation uint64
}

// ChangeFunc is a field level change callback.
type ChangeFunc func(event any, formData State, field Field)
