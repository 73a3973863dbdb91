package mapping

import "sync"

// Cache stores parsed rules keyed by the raw spec string.
type Cache interface {
	Get(spec string) (Rules, bool)
	Set(spec string, rules Rules)
}

// NewCache returns a concurrency safe in-memory Cache.
func NewCache() Cache {
	return &memoryCache{entries: map[string]Rules{}}
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]Rules
}

func (c *memoryCache) Get(spec string) (Rules, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rules, ok := c.entries[spec]
	return rules, ok
}

func (c *memoryCache) Set(spec string, rules Rules) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[spec] = rules
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache wires a rules cache into the resolver.
func WithCache(cache Cache) ResolverOption {
	return func(r *Resolver) {
		r.cache = cache
	}
}

// WithErrorHandler receives parse errors for malformed specs. Errors are
// reported once per spec when a cache is configured.
func WithErrorHandler(fn func(spec string, err error)) ResolverOption {
	return func(r *Resolver) {
		r.onError = fn
	}
}

// Resolver parses and applies specs, optionally caching parsed rules. The zero
// value is ready to use.
type Resolver struct {
	cache   Cache
	onError func(spec string, err error)
}

// NewResolver constructs a Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Rules returns the parsed rules for spec.
func (r *Resolver) Rules(spec string) Rules {
	if spec == "" {
		return nil
	}
	if r.cache != nil {
		if rules, ok := r.cache.Get(spec); ok {
			return rules
		}
	}
	rules, err := Parse(spec)
	if err != nil && r.onError != nil {
		r.onError(spec, err)
	}
	if r.cache != nil {
		r.cache.Set(spec, rules)
	}
	return rules
}

// Apply resolves spec and writes the result into target.
func (r *Resolver) Apply(spec string, target, source map[string]any) {
	if target == nil || spec == "" {
		return
	}
	r.Rules(spec).Apply(target, source)
}
