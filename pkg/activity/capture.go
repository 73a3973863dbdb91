package activity

import (
	"context"
	"sync"
)

// CaptureHook keeps every event it receives. It is safe to share with an
// engine whose loads settle on other goroutines.
type CaptureHook struct {
	Events []Event
	// Err is returned from every Notify call.
	Err error
	mu  sync.Mutex
}

// Notify records the normalized event and returns Err.
func (h *CaptureHook) Notify(_ context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Events = append(h.Events, NormalizeEvent(event))
	return h.Err
}

// Verbs lists the verbs captured so far, in arrival order.
func (h *CaptureHook) Verbs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	verbs := make([]string, 0, len(h.Events))
	for _, event := range h.Events {
		verbs = append(verbs, event.Verb)
	}
	return verbs
}

// Last returns the most recent event with verb.
func (h *CaptureHook) Last(verb string) (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.Events) - 1; i >= 0; i-- {
		if h.Events[i].Verb == verb {
			return h.Events[i], true
		}
	}
	return Event{}, false
}

// ForField returns the captured events scoped to field key, in arrival order.
func (h *CaptureHook) ForField(key string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, event := range h.Events {
		if event.Field() == key {
			out = append(out, event)
		}
	}
	return out
}
