// Package container provides the generic registration/resolution primitive
// that stages and dependency records are built on.
//
// Registrations carry one of three lifetimes:
//
//   - Singleton: one instance for the whole container tree, cached at the root.
//   - Scoped: one instance per scope. Child scopes inherit the registration
//     and build their own instance unless they override it.
//   - Transient: the factory runs on every read.
//
// Dispose runs teardown hooks for every instance cached in the disposed scope
// and forgets them; registrations survive, so a disposed scope rebuilds
// instances on the next read.
package container

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Lifetime selects how long a resolved instance is cached.
type Lifetime int

const (
	// Scoped caches one instance per scope.
	Scoped Lifetime = iota
	// Singleton caches one instance at the root container.
	Singleton
	// Transient never caches.
	Transient
)

func (l Lifetime) String() string {
	switch l {
	case Singleton:
		return "singleton"
	case Transient:
		return "transient"
	default:
		return "scoped"
	}
}

var (
	// ErrNotRegistered is returned when a name has no registration in the
	// container or any of its ancestors.
	ErrNotRegistered = errors.New("container: name not registered")
	// ErrCycle is returned when factories depend on each other in a loop.
	ErrCycle = errors.New("container: resolution cycle")
)

// Resolver is the read side handed to factories.
type Resolver interface {
	Resolve(name string) (any, error)
}

// Factory builds an instance for a registration.
type Factory func(r Resolver) (any, error)

// Teardown releases an instance produced by a registration.
type Teardown func(ctx context.Context, value any) error

// Registration describes how a name resolves.
type Registration struct {
	Lifetime Lifetime
	// Value is returned as is when Factory is nil.
	Value    any
	Factory  Factory
	Teardown Teardown
}

// RegistrationOption configures a Registration built by the helpers below.
type RegistrationOption func(*Registration)

// WithTeardown attaches a teardown hook.
func WithTeardown(fn Teardown) RegistrationOption {
	return func(r *Registration) {
		r.Teardown = fn
	}
}

// Value registers a plain value with scoped lifetime.
func Value(value any, opts ...RegistrationOption) Registration {
	return build(Registration{Lifetime: Scoped, Value: value}, opts)
}

// NewScoped registers a factory evaluated once per scope.
func NewScoped(factory Factory, opts ...RegistrationOption) Registration {
	return build(Registration{Lifetime: Scoped, Factory: factory}, opts)
}

// NewSingleton registers a factory evaluated once per container tree.
func NewSingleton(factory Factory, opts ...RegistrationOption) Registration {
	return build(Registration{Lifetime: Singleton, Factory: factory}, opts)
}

// NewTransient registers a factory evaluated on every read.
func NewTransient(factory Factory, opts ...RegistrationOption) Registration {
	return build(Registration{Lifetime: Transient, Factory: factory}, opts)
}

func build(reg Registration, opts []RegistrationOption) Registration {
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	return reg
}

type cached struct {
	name     string
	value    any
	teardown Teardown
}

// Container holds registrations and the instances cached for one scope.
type Container struct {
	mu            sync.RWMutex
	parent        *Container
	registrations map[string]Registration
	cache         map[string]any
	created       []cached
}

// New constructs an empty root container.
func New() *Container {
	return &Container{
		registrations: make(map[string]Registration),
		cache:         make(map[string]any),
	}
}

// CreateScope returns a child container inheriting every registration.
func (c *Container) CreateScope() *Container {
	child := New()
	child.parent = c
	return child
}

// Parent returns the enclosing scope, nil for a root.
func (c *Container) Parent() *Container {
	return c.parent
}

func (c *Container) root() *Container {
	current := c
	for current.parent != nil {
		current = current.parent
	}
	return current
}

// Set stores reg under name in this scope, replacing any cached instance.
func (c *Container) Set(name string, reg Registration) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registrations[name] = reg
	delete(c.cache, name)
	return c
}

// Register stores values immediately in this scope. A value that is itself
// a Registration keeps its declared lifetime.
func (c *Container) Register(values map[string]any) *Container {
	for _, name := range sortedKeys(values) {
		value := values[name]
		if reg, ok := value.(Registration); ok {
			c.Set(name, reg)
			continue
		}
		c.Set(name, Value(value))
	}
	return c
}

// RegisterScoped registers factories with scoped lifetime.
func (c *Container) RegisterScoped(factories map[string]Factory) *Container {
	for _, name := range sortedKeys(factories) {
		c.Set(name, NewScoped(factories[name]))
	}
	return c
}

// RegisterSingleton registers factories with singleton lifetime.
func (c *Container) RegisterSingleton(factories map[string]Factory) *Container {
	for _, name := range sortedKeys(factories) {
		c.Set(name, NewSingleton(factories[name]))
	}
	return c
}

// RegisterTransient registers factories with transient lifetime.
func (c *Container) RegisterTransient(factories map[string]Factory) *Container {
	for _, name := range sortedKeys(factories) {
		c.Set(name, NewTransient(factories[name]))
	}
	return c
}

// Unregister removes name from this scope only.
func (c *Container) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.registrations, name)
	delete(c.cache, name)
}

// Has reports whether name resolves from this scope.
func (c *Container) Has(name string) bool {
	_, _, ok := c.lookup(name)
	return ok
}

// Names returns every name visible from this scope, sorted.
func (c *Container) Names() []string {
	seen := map[string]struct{}{}
	for current := c; current != nil; current = current.parent {
		current.mu.RLock()
		for name := range current.registrations {
			seen[name] = struct{}{}
		}
		current.mu.RUnlock()
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the instance registered under name.
func (c *Container) Resolve(name string) (any, error) {
	return c.resolve(name, nil)
}

// Cradle resolves every visible name into a flat read model. Names that fail
// to resolve are left out and reported through the joined error.
func (c *Container) Cradle() (map[string]any, error) {
	out := map[string]any{}
	var errs []error
	for _, name := range c.Names() {
		value, err := c.Resolve(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[name] = value
	}
	return out, errors.Join(errs...)
}

// Dispose tears down every instance cached in this scope, newest first, and
// forgets them. Disposing the root also releases singletons.
func (c *Container) Dispose(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	entries := c.created
	c.created = nil
	c.cache = make(map[string]any)
	c.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.teardown == nil {
			continue
		}
		if err := entry.teardown(ctx, entry.value); err != nil {
			errs = append(errs, &TeardownError{Name: entry.name, Err: err})
		}
	}
	return errors.Join(errs...)
}

func (c *Container) lookup(name string) (Registration, *Container, bool) {
	for current := c; current != nil; current = current.parent {
		current.mu.RLock()
		reg, ok := current.registrations[name]
		current.mu.RUnlock()
		if ok {
			return reg, current, true
		}
	}
	return Registration{}, nil, false
}

func (c *Container) resolve(name string, stack []string) (any, error) {
	if slices.Contains(stack, name) {
		return nil, &ResolveError{Name: name, Err: fmt.Errorf("%w: %v", ErrCycle, append(stack, name))}
	}
	reg, _, ok := c.lookup(name)
	if !ok {
		return nil, &ResolveError{Name: name, Err: ErrNotRegistered}
	}
	if reg.Factory == nil {
		return reg.Value, nil
	}

	holder := c
	switch reg.Lifetime {
	case Transient:
		return c.produce(name, reg, stack)
	case Singleton:
		holder = c.root()
	}

	holder.mu.RLock()
	value, hit := holder.cache[name]
	holder.mu.RUnlock()
	if hit {
		return value, nil
	}

	value, err := holder.produce(name, reg, stack)
	if err != nil {
		return nil, err
	}

	holder.mu.Lock()
	defer holder.mu.Unlock()
	if existing, raced := holder.cache[name]; raced {
		return existing, nil
	}
	holder.cache[name] = value
	holder.created = append(holder.created, cached{name: name, value: value, teardown: reg.Teardown})
	return value, nil
}

func (c *Container) produce(name string, reg Registration, stack []string) (any, error) {
	value, err := reg.Factory(&scopedResolver{container: c, stack: append(slices.Clone(stack), name)})
	if err != nil {
		return nil, &ResolveError{Name: name, Err: err}
	}
	return value, nil
}

type scopedResolver struct {
	container *Container
	stack     []string
}

func (r *scopedResolver) Resolve(name string) (any, error) {
	return r.container.resolve(name, r.stack)
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
