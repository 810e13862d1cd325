package staging

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	celgo "github.com/google/cel-go/cel"
	functions "github.com/google/cel-go/common/functions"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// CELEvaluatorOption configures the CEL evaluator.
type CELEvaluatorOption func(*celEvaluator)

// CELWithProgramCache wires a ProgramCache into the CEL evaluator.
func CELWithProgramCache(cache ProgramCache) CELEvaluatorOption {
	return func(e *celEvaluator) {
		e.cache = cache
	}
}

// CELWithFunctionRegistry wires a FunctionRegistry into the CEL evaluator.
func CELWithFunctionRegistry(registry *FunctionRegistry) CELEvaluatorOption {
	return func(e *celEvaluator) {
		if registry == nil {
			return
		}
		e.registry = registry.Clone()
	}
}

var celIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Reserved by the CEL grammar; these fields stay reachable through fields["..."].
var celReserved = map[string]bool{
	"as": true, "break": true, "const": true, "continue": true, "else": true,
	"for": true, "function": true, "if": true, "import": true, "let": true,
	"loop": true, "package": true, "namespace": true, "return": true,
	"var": true, "void": true, "while": true, "in": true, "null": true,
	"true": true, "false": true,
}

type celProgram struct {
	env     *celgo.Env
	program celgo.Program
}

type celEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewCELEvaluator constructs an Evaluator backed by cel-go.
func NewCELEvaluator(opts ...CELEvaluatorOption) Evaluator {
	e := &celEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *celEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

// Compile defers type checking to the first evaluation because the declared
// variables depend on the fields of the record being validated.
func (e *celEvaluator) Compile(expression string) (CompiledRule, error) {
	expression = normalizeExpression(expression)
	if expression == "" {
		return nil, engineError(EngineCEL, fmt.Errorf("expression must not be empty"))
	}
	return &celCompiledRule{
		evaluator:  e,
		expression: expression,
	}, nil
}

func (e *celEvaluator) loadOrCompile(expression string, variables []string) (*celProgram, error) {
	key := fmt.Sprintf("%s|%p|%s|%s", EngineCEL, e.registry, strings.Join(variables, ","), expression)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*celProgram); ok {
				return program, nil
			}
		}
	}

	env, err := e.buildEnv(variables)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}

	bundle := &celProgram{env: env, program: prg}
	if e.cache != nil {
		e.cache.Set(key, bundle)
	}
	return bundle, nil
}

func (e *celEvaluator) buildEnv(variables []string) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("args", celgo.DynType),
		celgo.Variable("fields", celgo.MapType(celgo.StringType, celgo.DynType)),
		celgo.Variable("dependency", celgo.StringType),
	}
	if e.registry != nil {
		opts = append(opts, celgo.Function("call", celgo.Overload(
			"call_dyn",
			[]*celgo.Type{celgo.StringType, celgo.ListType(celgo.DynType)},
			celgo.DynType,
			celgo.FunctionBinding(functions.FunctionOp(e.callBinding())),
		)))
	}
	for _, name := range variables {
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	return celgo.NewEnv(opts...)
}

// variables lists the field names CEL can declare as top-level identifiers.
func (e *celEvaluator) variables(ctx RuleContext) []string {
	names := make([]string, 0, len(ctx.Fields))
	for name := range ctx.Fields {
		switch {
		case celReserved[name], !celIdentifier.MatchString(name):
			continue
		case name == "now" || name == "args" || name == "fields" || name == "dependency":
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *celEvaluator) activation(ctx RuleContext, variables []string) map[string]any {
	activation := map[string]any{
		"now":        ctx.timestamp(),
		"args":       ctx.Args,
		"fields":     ctx.Fields,
		"dependency": ctx.Dependency,
	}
	for _, name := range variables {
		activation[name] = ctx.Fields[name]
	}
	return activation
}

type celCompiledRule struct {
	evaluator  *celEvaluator
	expression string
}

func (r *celCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	if r.evaluator == nil {
		return nil, engineError(EngineCEL, fmt.Errorf("compiled rule missing evaluator"))
	}
	ctx = ctx.withDefaults()
	variables := r.evaluator.variables(ctx)
	program, err := r.evaluator.loadOrCompile(r.expression, variables)
	if err != nil {
		return nil, compileError(EngineCEL, r.expression, ctx.label(), err)
	}
	out, _, err := program.program.Eval(r.evaluator.activation(ctx, variables))
	if err != nil {
		return nil, runError(EngineCEL, r.expression, ctx.label(), err)
	}
	return out.Value(), nil
}

func (e *celEvaluator) callBinding() func(values ...ref.Val) ref.Val {
	return func(values ...ref.Val) ref.Val {
		if e.registry == nil {
			return types.NewErr("staging: function registry not configured")
		}
		if len(values) != 2 {
			return types.NewErr("staging: call expects a name and an argument list")
		}
		name, ok := values[0].Value().(string)
		if !ok {
			return types.NewErr("staging: call name must be string")
		}
		var args []any
		if list, ok := values[1].(interface{ Size() ref.Val }); ok {
			size, _ := list.Size().Value().(int64)
			indexer, _ := values[1].(interface{ Get(ref.Val) ref.Val })
			for i := int64(0); indexer != nil && i < size; i++ {
				args = append(args, indexer.Get(types.Int(i)).Value())
			}
		}
		result, err := e.registry.Call(name, args...)
		if err != nil {
			return types.NewErr("%s", err.Error())
		}
		if result == nil {
			return types.NullValue
		}
		return types.DefaultTypeAdapter.NativeToValue(result)
	}
}
