package fieldsync

import (
	"time"

	"go.uber.org/zap"
)

// EvaluatorLogEvent describes an evaluation attempt for logging.
type EvaluatorLogEvent struct {
	Engine   string
	Expr     string
	Field    string
	Duration time.Duration
	Err      error
}

// EvaluatorLogger records evaluator events.
type EvaluatorLogger interface {
	LogEvaluation(EvaluatorLogEvent)
}

// EvaluatorLoggerFunc adapts a function to EvaluatorLogger.
type EvaluatorLoggerFunc func(EvaluatorLogEvent)

// LogEvaluation implements EvaluatorLogger.
func (f EvaluatorLoggerFunc) LogEvaluation(event EvaluatorLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopEvaluatorLogger struct{}

func (noopEvaluatorLogger) LogEvaluation(EvaluatorLogEvent) {}

type zapEvaluatorLogger struct {
	logger *zap.Logger
}

func (l zapEvaluatorLogger) LogEvaluation(event EvaluatorLogEvent) {
	fields := []zap.Field{
		zap.String("engine", event.Engine),
		zap.String("expr", event.Expr),
		zap.String("field", event.Field),
		zap.Duration("duration", event.Duration),
	}
	if event.Err != nil {
		l.logger.Warn("expression evaluation failed", append(fields, zap.Error(event.Err))...)
		return
	}
	l.logger.Debug("expression evaluated", fields...)
}

// WithEvaluatorLogger attaches an evaluator logger. Without one, evaluations
// are logged through the engine's zap logger.
func WithEvaluatorLogger(logger EvaluatorLogger) Option {
	return func(cfg *engineConfig) {
		if logger == nil {
			cfg.evaluatorLogger = noopEvaluatorLogger{}
			return
		}
		cfg.evaluatorLogger = logger
	}
}

func (e *Engine) evaluatorLogger() EvaluatorLogger {
	if e.cfg.evaluatorLogger != nil {
		return e.cfg.evaluatorLogger
	}
	return zapEvaluatorLogger{logger: e.logger}
}
