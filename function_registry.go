package staging

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"
)

// Function is a helper callable from validator expressions.
type Function func(args ...any) (any, error)

// FunctionRegistry holds the helpers exposed to validator expressions. Names
// are matched exactly, the way the engines bind them.
type FunctionRegistry struct {
	mu      sync.RWMutex
	entries map[string]Function
}

// NewFunctionRegistry constructs an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{entries: map[string]Function{}}
}

// StandardFunctions returns a registry holding the built in helpers:
//
//	exportKeys(module)           sorted export names of a map module
//	hasExports(module, "a", ...) true when every name is exported
func StandardFunctions() *FunctionRegistry {
	r := NewFunctionRegistry()
	r.Set("exportKeys", func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("exportKeys expects one module, got %d arguments", len(args))
		}
		return ExportKeys(args[0])
	})
	r.Set("hasExports", func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("hasExports expects a module")
		}
		keys, err := ExportKeys(args[0])
		if err != nil {
			return false, nil
		}
		for _, want := range flattenNames(args[1:]) {
			if _, found := slices.BinarySearch(keys, want); !found {
				return false, nil
			}
		}
		return true, nil
	})
	return r
}

// Register adds fn under name and refuses to replace an existing helper.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("staging: function name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("staging: function %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("staging: function %q already registered", name)
	}
	r.entries[name] = fn
	return nil
}

// Set adds or replaces the helper under name. Nil fn removes it.
func (r *FunctionRegistry) Set(name string, fn Function) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.entries, name)
		return
	}
	r.entries[name] = fn
}

// Has reports whether name is registered.
func (r *FunctionRegistry) Has(name string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Clone returns an independent copy.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &FunctionRegistry{entries: maps.Clone(r.entries)}
}

// Call runs the helper registered under name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("staging: function registry is nil")
	}
	r.mu.RLock()
	fn := r.entries[name]
	r.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("staging: function %q not registered", name)
	}
	return fn(args...)
}

// Names returns the registered names, sorted.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}

// WithFunctionRegistry exposes the helpers of registry to validator
// expressions, on top of the standard ones.
func WithFunctionRegistry(registry *FunctionRegistry) Option {
	return func(cfg *stageConfig) {
		if registry == nil {
			return
		}
		merged := cfg.functions.Clone()
		if merged == nil {
			merged = NewFunctionRegistry()
		}
		registry.mu.RLock()
		for name, fn := range registry.entries {
			merged.entries[name] = fn
		}
		registry.mu.RUnlock()
		cfg.functions = merged
	}
}

// WithValidatorFunction adds or replaces a single validator helper.
func WithValidatorFunction(name string, fn Function) Option {
	return func(cfg *stageConfig) {
		next := cfg.functions.Clone()
		if next == nil {
			next = NewFunctionRegistry()
		}
		next.Set(name, fn)
		cfg.functions = next
	}
}

// ExportKeys lists the export names of a module, sorted. Only maps keyed by
// strings have named exports.
func ExportKeys(module any) ([]string, error) {
	if exports, ok := module.(map[string]any); ok {
		return slices.Sorted(maps.Keys(exports)), nil
	}
	rv := reflect.ValueOf(module)
	if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("staging: module of type %T has no named exports", module)
	}
	keys := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		keys = append(keys, iter.Key().String())
	}
	slices.Sort(keys)
	return keys, nil
}

// flattenNames accepts names passed one by one or as lists.
func flattenNames(args []any) []string {
	var out []string
	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			out = append(out, v)
		case []string:
			out = append(out, v...)
		case []any:
			out = append(out, flattenNames(v)...)
		}
	}
	return out
}
