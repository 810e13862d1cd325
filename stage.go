package staging

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/goliatone/go-staging/container"
	"github.com/google/uuid"
)

// Stage is a named, ordered set of dependency records with its own scoped
// values. Stages form trees through Fork; records may be shared between
// stages of the same or different trees.
type Stage struct {
	mu     sync.RWMutex
	id     string
	rootID string
	depth  int
	parent *Stage
	forks  []*Stage
	deps   *dependencyMap

	cfg       *stageConfig
	container *container.Container
}

// NewRoot constructs a depth 0 stage that starts its own tree.
func NewRoot(opts ...Option) *Stage {
	id := uuid.NewString()
	s := &Stage{
		id:        id,
		rootID:    id,
		deps:      newDependencyMap(),
		cfg:       newStageConfig(opts),
		container: container.New(),
	}
	s.cfg.logger.Debug("stage created", "stage", s.id)
	return s
}

// ID returns the stage identifier.
func (s *Stage) ID() string { return s.id }

// RootID returns the id of the root of the stage's tree.
func (s *Stage) RootID() string { return s.rootID }

// Depth returns 0 for a root and parent depth + 1 for forks.
func (s *Stage) Depth() int { return s.depth }

// Parent returns the stage this one was forked from, nil for a root.
func (s *Stage) Parent() *Stage { return s.parent }

// Forks returns the live direct children.
func (s *Stage) Forks() []*Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.forks)
}

// RequireValidation reports the stage-wide validation default.
func (s *Stage) RequireValidation() bool {
	return s.cfg.requireValidation
}

// Container exposes the stage's scoped values.
func (s *Stage) Container() *container.Container {
	return s.container
}

// PutOption tunes a single put.
type PutOption func(*putConfig)

type putConfig struct {
	reinstall bool
}

// Reinstall replaces an existing record, installed or not, with a fresh one.
func Reinstall() PutOption {
	return func(cfg *putConfig) {
		cfg.reinstall = true
	}
}

// Put declares a dependency. An existing uninstalled record of the same name
// is updated in place; an installed one is only replaced with Reinstall().
// The record is then offered to direct forks that do not hold the name yet.
func (s *Stage) Put(d Descriptor, opts ...PutOption) (*Dependency, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return nil, newDependencyError(ErrCouldNotBeAdded, "", "name of dependency was not defined", nil)
	}
	var pc putConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&pc)
		}
	}

	s.mu.Lock()
	dep, exists := s.deps.get(d.Name)
	if exists && !pc.reinstall {
		if err := dep.redeclare(d); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	} else {
		dep = newDependency(d, s)
	}
	s.deps.set(d.Name, dep)
	forks := slices.Clone(s.forks)
	s.mu.Unlock()

	for _, fork := range forks {
		fork.adopt(d.Name, dep)
	}

	s.cfg.logger.Debug("dependency declared", "dependency", d.Name, "stage", s.id, "reinstall", pc.reinstall)
	s.cfg.emitDependency(context.Background(), dependencyDeclared, dep, "", nil)
	return dep, nil
}

// PutNamed declares d under name.
func (s *Stage) PutNamed(name string, d Descriptor, opts ...PutOption) (*Dependency, error) {
	return s.Put(d.Named(name), opts...)
}

// PutAll declares every descriptor in order and aggregates the failures.
func (s *Stage) PutAll(descriptors []Descriptor, opts ...PutOption) ([]*Dependency, error) {
	deps := make([]*Dependency, 0, len(descriptors))
	var errs []error
	for _, d := range descriptors {
		dep, err := s.Put(d, opts...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		deps = append(deps, dep)
	}
	return deps, aggregate("stage "+s.id+" put", errs)
}

// Add declares bare names, shorthand for PutNamed(name, Descriptor{}).
func (s *Stage) Add(names ...string) ([]*Dependency, error) {
	descriptors := make([]Descriptor, 0, len(names))
	for _, name := range names {
		descriptors = append(descriptors, Descriptor{Name: name})
	}
	return s.PutAll(descriptors)
}

// adopt stores dep under name unless the stage already holds that name.
func (s *Stage) adopt(name string, dep *Dependency) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.deps.has(name) {
		s.deps.set(name, dep)
	}
}

// Get returns the record for name, or nil.
func (s *Stage) Get(name string) *Dependency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dep, _ := s.deps.get(name)
	return dep
}

// GetMany returns the records for names; missing names yield nil entries.
func (s *Stage) GetMany(names ...string) []*Dependency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Dependency, len(names))
	for i, name := range names {
		out[i], _ = s.deps.get(name)
	}
	return out
}

// Execute returns the installed module for name.
func (s *Stage) Execute(name string) (any, error) {
	dep := s.Get(name)
	if dep == nil {
		return nil, newDependencyError(ErrNotInstalled, name, "dependency is not declared in this stage", nil)
	}
	dep.mu.RLock()
	defer dep.mu.RUnlock()
	if !dep.installed {
		return nil, newDependencyError(ErrNotInstalled, name, "", nil)
	}
	return dep.module, nil
}

// ExecuteMany returns the installed modules for names, failing on the first
// missing or uninstalled one.
func (s *Stage) ExecuteMany(names ...string) ([]any, error) {
	out := make([]any, 0, len(names))
	for _, name := range names {
		module, err := s.Execute(name)
		if err != nil {
			return nil, err
		}
		out = append(out, module)
	}
	return out, nil
}

// Exists reports whether every name is declared. It is false for no names.
func (s *Stage) Exists(names ...string) bool {
	if len(names) == 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range names {
		if !s.deps.has(name) {
			return false
		}
	}
	return true
}

// IfExists calls fn with the record when name is declared.
func IfExists[T any](s *Stage, name string, fn func(dep *Dependency, s *Stage) T) (T, bool) {
	var zero T
	dep := s.Get(name)
	if dep == nil {
		return zero, false
	}
	return fn(dep, s), true
}

// IfAllExist calls fn with the records when every name is declared.
func IfAllExist[T any](s *Stage, names []string, fn func(deps []*Dependency, s *Stage) T) (T, bool) {
	var zero T
	if !s.Exists(names...) {
		return zero, false
	}
	return fn(s.GetMany(names...), s), true
}

// Dependencies returns the records in declaration order.
func (s *Stage) Dependencies() []*Dependency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deps.values()
}

// Names returns the declared names in order.
func (s *Stage) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.deps.names)
}

// Len returns the number of declared names.
func (s *Stage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.deps.names)
}

// Set stores a scoped value on the stage. Forks inherit it unless they
// override the name.
func (s *Stage) Set(name string, value any) {
	s.container.Register(map[string]any{name: value})
}

// Value resolves a scoped value visible from the stage.
func (s *Stage) Value(name string) (any, error) {
	return s.container.Resolve(name)
}

// Dispose empties the mapping, drops the fork list, detaches the stage from
// its parent and releases its scoped values. Records are not reset: they may
// still be held by other stages.
func (s *Stage) Dispose(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	count := len(s.deps.names)
	s.deps = newDependencyMap()
	s.forks = nil
	parent := s.parent
	s.mu.Unlock()

	if parent != nil {
		parent.detach(s)
	}
	err := s.container.Dispose(ctx)
	s.cfg.logger.Debug("stage disposed", "stage", s.id, "dependencies", count)
	s.cfg.emitStage(ctx, stageDisposed, s, "", map[string]int{"dependencies": count})
	return err
}

func (s *Stage) detach(child *Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forks = slices.DeleteFunc(s.forks, func(f *Stage) bool { return f == child })
}

type dependencyMap struct {
	names  []string
	byName map[string]*Dependency
}

func newDependencyMap() *dependencyMap {
	return &dependencyMap{byName: map[string]*Dependency{}}
}

func (m *dependencyMap) get(name string) (*Dependency, bool) {
	dep, ok := m.byName[name]
	return dep, ok
}

func (m *dependencyMap) has(name string) bool {
	_, ok := m.byName[name]
	return ok
}

func (m *dependencyMap) set(name string, dep *Dependency) {
	if _, ok := m.byName[name]; !ok {
		m.names = append(m.names, name)
	}
	m.byName[name] = dep
}

func (m *dependencyMap) values() []*Dependency {
	out := make([]*Dependency, 0, len(m.names))
	for _, name := range m.names {
		out = append(out, m.byName[name])
	}
	return out
}

func (m *dependencyMap) clone() *dependencyMap {
	out := &dependencyMap{
		names:  slices.Clone(m.names),
		byName: make(map[string]*Dependency, len(m.byName)),
	}
	for name, dep := range m.byName {
		out.byName[name] = dep
	}
	return out
}
