package staging

import (
	"context"
	"reflect"
)

// Predicate is a native validator.
type Predicate func(ctx context.Context, rc RuleContext) (bool, error)

type validatorKind int

const (
	validatorNone validatorKind = iota
	validatorNative
	validatorSource
)

// Validator is either a native predicate or expression source text evaluated
// by the stage's validator engine. The zero Validator declares nothing.
type Validator struct {
	kind   validatorKind
	native Predicate
	source string
}

// NativeValidator wraps a Go predicate. Native validators are not carried
// into snapshots.
func NativeValidator(fn Predicate) Validator {
	if fn == nil {
		return Validator{}
	}
	return Validator{kind: validatorNative, native: fn}
}

// SourceValidator wraps expression text such as "module === 42".
func SourceValidator(expr string) Validator {
	expr = normalizeExpression(expr)
	if expr == "" {
		return Validator{}
	}
	return Validator{kind: validatorSource, source: expr}
}

// IsZero reports whether no validator is declared.
func (v Validator) IsZero() bool {
	return v.kind == validatorNone
}

// IsNative reports whether v wraps a Go predicate.
func (v Validator) IsNative() bool {
	return v.kind == validatorNative
}

// Source returns the expression text of a source validator.
func (v Validator) Source() (string, bool) {
	return v.source, v.kind == validatorSource
}

func (v Validator) String() string {
	switch v.kind {
	case validatorNative:
		return "<native>"
	case validatorSource:
		return v.source
	default:
		return ""
	}
}

// truthy mirrors the loose truthiness validators are judged by.
func truthy(value any) bool {
	if value == nil {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != ""
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && f == f
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return false
		}
	}
	return true
}
