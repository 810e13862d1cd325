package staging

import (
	"fmt"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// ExprEvaluatorOption configures an expr evaluator instance.
type ExprEvaluatorOption func(*exprEvaluator)

// ExprWithProgramCache shares compiled programs through cache.
func ExprWithProgramCache(cache ProgramCache) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		e.cache = cache
	}
}

// ExprWithFunctionRegistry binds every helper of registry as an expr function.
func ExprWithFunctionRegistry(registry *FunctionRegistry) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		e.registry = registry.Clone()
	}
}

// exprEvaluator runs validators with github.com/expr-lang/expr. Validators
// written for the js engine mostly work unchanged: strict equality operators
// are read as expr's == and !=.
type exprEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewExprEvaluator constructs an Evaluator backed by expr-lang/expr.
func NewExprEvaluator(opts ...ExprEvaluatorOption) Evaluator {
	e := &exprEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *exprEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *exprEvaluator) Compile(expression string) (CompiledRule, error) {
	source := exprSource(normalizeExpression(expression))
	if source == "" {
		return nil, engineError(EngineExpr, fmt.Errorf("expression must not be empty"))
	}

	key := fmt.Sprintf("%s|%p|%s", EngineExpr, e.registry, source)
	if e.cache != nil {
		if program, ok := e.cache.Get(key); ok {
			if program, ok := program.(*exprvm.Program); ok {
				return exprRule{program: program, source: source}, nil
			}
		}
	}

	options := []exprlang.Option{exprlang.AllowUndefinedVariables()}
	for _, name := range e.registry.Names() {
		registry, fn := e.registry, name
		options = append(options, exprlang.Function(fn, func(args ...any) (any, error) {
			return registry.Call(fn, args...)
		}))
	}
	program, err := exprlang.Compile(source, options...)
	if err != nil {
		return nil, compileError(EngineExpr, source, "", err)
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return exprRule{program: program, source: source}, nil
}

type exprRule struct {
	program *exprvm.Program
	source  string
}

func (r exprRule) Evaluate(ctx RuleContext) (any, error) {
	ctx = ctx.withDefaults()
	result, err := exprlang.Run(r.program, evaluatorBinding(ctx))
	if err != nil {
		return nil, runError(EngineExpr, r.source, ctx.label(), err)
	}
	return result, nil
}

// exprSource rewrites === and !== outside string literals.
func exprSource(expression string) string {
	var b strings.Builder
	b.Grow(len(expression))
	var quote byte
	for i := 0; i < len(expression); i++ {
		c := expression[i]
		switch {
		case quote != 0:
			if c == '\\' && i+1 < len(expression) {
				b.WriteByte(c)
				i++
				c = expression[i]
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case (c == '=' || c == '!') && strings.HasPrefix(expression[i+1:], "=="):
			b.WriteByte(c)
			b.WriteByte('=')
			i += 2
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
