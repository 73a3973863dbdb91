package fieldsync

import (
	"errors"
	"fmt"
	"time"
)

var ErrNoEvaluator = errors.New("fieldsync: evaluator not configured")

// ExprContext carries the inputs of a Filter or Compute expression.
type ExprContext struct {
	// State is the form data; its keys are bound as top level variables.
	State map[string]any
	// Option is the choice under evaluation, bound as `option`.
	Option map[string]any
	// Field is the key of the owning field, bound as `field`.
	Field    string
	Now      *time.Time
	Metadata map[string]any
}

func (ctx ExprContext) withDefaults() ExprContext {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.State == nil {
		ctx.State = map[string]any{}
	}
	if ctx.Option == nil {
		ctx.Option = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	return ctx
}

func (ctx ExprContext) timestamp() time.Time {
	if ctx.Now == nil {
		return time.Now()
	}
	return *ctx.Now
}

func (ctx ExprContext) fieldLabel() string {
	if ctx.Field != "" {
		return ctx.Field
	}
	return "unknown"
}

// Evaluator executes expressions against an expression context.
type Evaluator interface {
	Evaluate(ctx ExprContext, expr string) (any, error)
	Compile(expr string, opts ...CompileOption) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx ExprContext) (any, error)
}

// CompileOption configures evaluator compile behaviour.
type CompileOption interface {
	applyCompileOption(*compileConfig)
}

type compileConfig struct{}

type compileOptionFunc func(*compileConfig)

func (f compileOptionFunc) applyCompileOption(cfg *compileConfig) {
	if f != nil {
		f(cfg)
	}
}

// evaluate runs expr through the engine evaluator and logs the attempt.
func (e *Engine) evaluate(ctx ExprContext, expr string) (any, error) {
	if expr == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}
	evaluator, err := e.resolveEvaluator()
	if err != nil {
		return nil, err
	}
	ctx = ctx.withDefaults()
	engine := evaluatorEngineName(evaluator)
	start := time.Now()
	value, evalErr := evaluator.Evaluate(ctx, expr)
	duration := time.Since(start)
	evalErr = wrapEvaluationError(engine, expr, ctx.fieldLabel(), evalErr)
	e.evaluatorLogger().LogEvaluation(EvaluatorLogEvent{
		Engine:   engine,
		Expr:     expr,
		Field:    ctx.fieldLabel(),
		Duration: duration,
		Err:      evalErr,
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return value, nil
}

func (e *Engine) resolveEvaluator() (Evaluator, error) {
	if e.cfg.evaluator != nil {
		return e.cfg.evaluator, nil
	}
	var exprOpts []ExprEvaluatorOption
	if e.cfg.programCache != nil {
		exprOpts = append(exprOpts, ExprWithProgramCache(e.cfg.programCache))
	}
	if e.cfg.functions != nil {
		exprOpts = append(exprOpts, ExprWithFunctionRegistry(e.cfg.functions))
	}
	defaultEvaluator := NewExprEvaluator(exprOpts...)
	if defaultEvaluator == nil {
		return nil, ErrNoEvaluator
	}
	e.cfg.evaluator = defaultEvaluator
	return defaultEvaluator, nil
}

func evaluatorEngineName(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	switch fmt.Sprintf("%T", e) {
	case "*fieldsync.exprEvaluator":
		return "expr"
	case "*fieldsync.celEvaluator":
		return "cel"
	case "*fieldsync.jsEvaluator":
		return "js"
	default:
		return "custom"
	}
}
