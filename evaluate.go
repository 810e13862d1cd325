package staging

import (
	"fmt"
	"time"
)

// evaluateValidator compiles and runs a source validator with the stage's
// engine, timing the call and reporting it to the evaluator logger.
func (cfg *stageConfig) evaluateValidator(expr string, rc RuleContext) (any, error) {
	if expr == "" {
		return nil, fmt.Errorf("staging: validator expression must not be empty")
	}
	evaluator := cfg.resolvedEvaluator
	if evaluator == nil {
		err := cfg.evaluatorErr
		if err == nil {
			err = ErrUnknownEngine
		}
		return nil, fmt.Errorf("%w: %q", err, cfg.engine)
	}

	rc = rc.withDefaults()
	engine := evaluatorEngineName(evaluator)
	start := time.Now()
	var value any
	rule, err := evaluator.Compile(expr)
	if err == nil {
		value, err = rule.Evaluate(rc)
	}
	duration := time.Since(start)
	err = annotateEvaluationError(err, engine, expr, rc.label())
	cfg.evaluatorLogger.LogEvaluation(EvaluatorLogEvent{
		Engine:     engine,
		Expr:       expr,
		Dependency: rc.label(),
		Result:     value,
		Duration:   duration,
		Err:        err,
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Validate runs expr against fields with the stage's validator engine. It is
// the same path dependency installs use, exposed for ad hoc checks.
func (s *Stage) Validate(expr string, fields map[string]any) (bool, error) {
	value, err := s.cfg.evaluateValidator(normalizeExpression(expr), RuleContext{Dependency: "adhoc", StageID: s.id, Fields: fields})
	if err != nil {
		return false, err
	}
	return truthy(value), nil
}

func evaluatorEngineName(e Evaluator) string {
	switch e.(type) {
	case nil:
		return "unknown"
	case *exprEvaluator:
		return EngineExpr
	case *celEvaluator:
		return EngineCEL
	case *jsEvaluator:
		return EngineJS
	default:
		return "custom"
	}
}
