package fieldsync

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProducerRegistry stores catalog producers keyed by name so configuration
// documents can reference them.
type ProducerRegistry struct {
	mu        sync.RWMutex
	producers map[string]Producer
}

// NewProducerRegistry constructs an empty registry.
func NewProducerRegistry() *ProducerRegistry {
	return &ProducerRegistry{
		producers: make(map[string]Producer),
	}
}

// Register stores producer under name guarding against duplicates. Names
// are case insensitive.
func (r *ProducerRegistry) Register(name string, producer Producer) error {
	if producer == nil {
		return fmt.Errorf("fieldsync: producer %q is nil", name)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("fieldsync: producer name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.producers == nil {
		r.producers = make(map[string]Producer)
	}
	key := strings.ToLower(name)
	if _, exists := r.producers[key]; exists {
		return fmt.Errorf("fieldsync: producer %q already registered", name)
	}
	r.producers[key] = producer
	return nil
}

// MustRegister is Register that panics on error, for static wiring.
func (r *ProducerRegistry) MustRegister(name string, producer Producer) {
	if err := r.Register(name, producer); err != nil {
		panic(err)
	}
}

// Lookup returns the producer registered under name.
func (r *ProducerRegistry) Lookup(name string) (Producer, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	producer, ok := r.producers[strings.ToLower(strings.TrimSpace(name))]
	return producer, ok
}

// Names returns registered producer names sorted alphabetically.
func (r *ProducerRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.producers))
	for name := range r.producers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
