// Package activity reports what a form engine did: selections, batch writes,
// catalog loads and configuration rebuilds. Events fan out to hooks such as
// CaptureHook or the go-users sink in usersink.
package activity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Event is one form engine occurrence. ObjectType is ObjectTypeField or
// ObjectTypeForm and ObjectID the field key or engine ID accordingly.
type Event struct {
	Verb           string
	ActorID        string
	UserID         string
	TenantID       string
	ObjectType     string
	ObjectID       string
	Channel        string
	DefinitionCode string
	Recipients     []string
	Metadata       map[string]any
	OccurredAt     time.Time
}

// Routable reports whether the event names a verb and an object. Hooks drop
// events that are not.
func (e Event) Routable() bool {
	return strings.TrimSpace(e.Verb) != "" &&
		strings.TrimSpace(e.ObjectType) != "" &&
		strings.TrimSpace(e.ObjectID) != ""
}

// Field returns the field key of a field scoped event, or "".
func (e Event) Field() string {
	if e.ObjectType != ObjectTypeField {
		return ""
	}
	return e.ObjectID
}

// ActivityHook receives normalized form events.
type ActivityHook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc adapts a function to ActivityHook.
type HookFunc func(ctx context.Context, event Event) error

// Notify calls fn.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks fans events out to every non-nil hook.
type Hooks []ActivityHook

// Enabled reports whether there is any hook to notify.
func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Notify normalizes event and hands it to each hook in order. Every hook runs
// even when an earlier one fails; failures come back joined.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 || !event.Routable() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	normalized := NormalizeEvent(event)
	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, normalized); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NormalizeEvent trims identifiers, copies metadata and recipients, and
// stamps OccurredAt when unset.
func NormalizeEvent(event Event) Event {
	out := event
	for _, s := range []*string{
		&out.Verb, &out.ActorID, &out.UserID, &out.TenantID,
		&out.ObjectType, &out.ObjectID, &out.Channel, &out.DefinitionCode,
	} {
		*s = strings.TrimSpace(*s)
	}
	out.Metadata = CloneMetadata(event.Metadata)
	out.Recipients = nil
	if len(event.Recipients) > 0 {
		out.Recipients = append([]string{}, event.Recipients...)
	}
	if out.OccurredAt.IsZero() {
		out.OccurredAt = time.Now()
	}
	return out
}

// CloneMetadata returns a shallow copy of src, or nil when it is empty.
func CloneMetadata(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
