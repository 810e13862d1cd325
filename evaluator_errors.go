package staging

import (
	"errors"
	"fmt"
	"strings"
)

// EvaluationPhase tells whether a validator failed to compile or to run.
type EvaluationPhase string

const (
	PhaseCompile EvaluationPhase = "compile"
	PhaseRun     EvaluationPhase = "run"
)

// EvaluationError reports a validator expression that could not be compiled
// or evaluated for a dependency.
type EvaluationError struct {
	Engine     string
	Phase      EvaluationPhase
	Expr       string
	Dependency string
	Err        error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "staging: %s validator", e.Engine)
	if e.Dependency != "" {
		fmt.Fprintf(&b, " of %q", e.Dependency)
	}
	phase := e.Phase
	if phase == "" {
		phase = PhaseRun
	}
	if e.Expr == "" {
		fmt.Fprintf(&b, " failed to %s <empty>: %v", phase, e.Err)
	} else {
		fmt.Fprintf(&b, " failed to %s %q: %v", phase, e.Expr, e.Err)
	}
	return b.String()
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func compileError(engine, expr, dependency string, err error) error {
	return newEvaluationError(engine, PhaseCompile, expr, dependency, err)
}

func runError(engine, expr, dependency string, err error) error {
	return newEvaluationError(engine, PhaseRun, expr, dependency, err)
}

func newEvaluationError(engine string, phase EvaluationPhase, expr, dependency string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return annotateEvaluationError(err, engine, expr, dependency)
	}
	return &EvaluationError{Engine: engine, Phase: phase, Expr: expr, Dependency: dependency, Err: err}
}

// annotateEvaluationError fills the blank fields of an *EvaluationError found
// in err. Other errors become run failures.
func annotateEvaluationError(err error, engine, expr, dependency string) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		return runError(engine, expr, dependency, err)
	}
	if evalErr.Engine == "" {
		evalErr.Engine = engine
	}
	if evalErr.Expr == "" {
		evalErr.Expr = expr
	}
	if evalErr.Dependency == "" || evalErr.Dependency == "unknown" {
		evalErr.Dependency = dependency
	}
	return err
}

// engineError prefixes failures that are not tied to an expression.
func engineError(engine string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) || strings.HasPrefix(err.Error(), "staging:") {
		return err
	}
	return fmt.Errorf("staging: %s engine: %w", engine, err)
}
