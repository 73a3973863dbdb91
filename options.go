package fieldsync

import (
	"context"

	"github.com/goliatone/go-fieldsync/mapping"
	"github.com/goliatone/go-fieldsync/pkg/activity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/goliatone/go-fieldsync"

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	ctx             context.Context
	logger          *zap.Logger
	tracerProvider  trace.TracerProvider
	evaluator       Evaluator
	evaluatorLogger EvaluatorLogger
	programCache    ProgramCache
	functions       *FunctionRegistry
	mappingCache    mapping.Cache
	activityHooks   activity.Hooks
	activityConfig  activity.Config
	maxLoads        int
}

func applyOptions(opts []Option) engineConfig {
	cfg := engineConfig{
		activityConfig: activity.Config{Enabled: true, Channel: "fieldsync"},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.ctx == nil {
		cfg.ctx = context.Background()
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.tracerProvider == nil {
		cfg.tracerProvider = otel.GetTracerProvider()
	}
	if cfg.mappingCache == nil {
		cfg.mappingCache = mapping.NewCache()
	}
	return cfg
}

// WithContext sets the parent context for producers and deferred loads.
// Cancelling it stops in-flight loads the same way Close does.
func WithContext(ctx context.Context) Option {
	return func(cfg *engineConfig) {
		cfg.ctx = ctx
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *engineConfig) {
		cfg.logger = logger
	}
}

// WithTracerProvider configures the provider used for catalog load spans.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(cfg *engineConfig) {
		cfg.tracerProvider = provider
	}
}

// WithEvaluator configures the evaluator used by Filter and Compute.
func WithEvaluator(e Evaluator) Option {
	return func(cfg *engineConfig) {
		cfg.evaluator = e
	}
}

// WithProgramCache registers a program cache for the default evaluator.
func WithProgramCache(cache ProgramCache) Option {
	return func(cfg *engineConfig) {
		cfg.programCache = cache
	}
}

// WithMappingCache replaces the cache holding parsed set-key rules.
func WithMappingCache(cache mapping.Cache) Option {
	return func(cfg *engineConfig) {
		cfg.mappingCache = cache
	}
}

// WithMaxConcurrentLoads bounds how many deferred catalogs load at once.
// Zero or negative means unbounded.
func WithMaxConcurrentLoads(n int) Option {
	return func(cfg *engineConfig) {
		cfg.maxLoads = n
	}
}

// WithActivityHooks attaches activity hooks. Hooks are cloned and nil
// entries dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := cloneActivityHooks(hooks)
	return func(cfg *engineConfig) {
		cfg.activityHooks = normalized
	}
}

// WithActivityConfig overrides activity emission defaults.
func WithActivityConfig(config activity.Config) Option {
	return func(cfg *engineConfig) {
		cfg.activityConfig = config
	}
}

func cloneActivityHooks(hooks activity.Hooks) activity.Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]activity.ActivityHook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	if len(normalized) == 0 {
		return nil
	}
	return activity.Hooks(normalized)
}
