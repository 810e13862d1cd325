package staging

import (
	"time"
)

// RuleContext carries the inputs a validator expression is evaluated against.
// Every entry of Fields is exposed to the expression as a top-level variable
// and the whole map is also reachable as "fields".
type RuleContext struct {
	Dependency string
	StageID    string
	Fields     map[string]any
	Now        *time.Time
	Args       map[string]any
}

// Module returns the resolved module under validation.
func (ctx RuleContext) Module() any {
	return ctx.Fields[FieldModule]
}

// Field returns the named field.
func (ctx RuleContext) Field(name string) (any, bool) {
	value, ok := ctx.Fields[name]
	return value, ok
}

func (ctx RuleContext) withDefaults() RuleContext {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Fields == nil {
		ctx.Fields = map[string]any{}
	}
	return ctx
}

func (ctx RuleContext) timestamp() time.Time {
	return *ctx.withDefaults().Now
}

func (ctx RuleContext) label() string {
	if ctx.Dependency != "" {
		return ctx.Dependency
	}
	return "unknown"
}

// Evaluator executes validator expressions against a rule context.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}

// Engine names understood by WithValidatorEngine.
const (
	EngineJS   = "js"
	EngineExpr = "expr"
	EngineCEL  = "cel"
)

func newEngineEvaluator(engine string, cache ProgramCache, registry *FunctionRegistry) (Evaluator, error) {
	switch engine {
	case "", EngineJS:
		return NewJSEvaluator(JSWithProgramCache(cache), JSWithFunctionRegistry(registry)), nil
	case EngineExpr:
		return NewExprEvaluator(ExprWithProgramCache(cache), ExprWithFunctionRegistry(registry)), nil
	case EngineCEL:
		return NewCELEvaluator(CELWithProgramCache(cache), CELWithFunctionRegistry(registry)), nil
	default:
		return nil, ErrUnknownEngine
	}
}

// evaluatorBinding assembles the variables shared by every engine.
func evaluatorBinding(ctx RuleContext) map[string]any {
	binding := make(map[string]any, len(ctx.Fields)+4)
	for key, value := range ctx.Fields {
		binding[key] = value
	}
	binding["fields"] = ctx.Fields
	binding["args"] = ctx.Args
	binding["now"] = ctx.timestamp()
	binding["dependency"] = ctx.Dependency
	return binding
}
