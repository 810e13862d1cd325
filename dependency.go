package staging

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/goliatone/go-staging/container"
	"github.com/goliatone/go-staging/internal/structclone"
	"github.com/google/uuid"
)

// Dependency is a declared module record. The same record may be shared by
// several stages; every mutation is visible through all of them.
type Dependency struct {
	installMu sync.Mutex

	mu        sync.RWMutex
	decl      Descriptor
	module    any
	installed bool
	valid     bool

	container *container.Container
	cfg       *stageConfig
	stageID   string
	rootID    string
	depth     int
}

func newDependency(d Descriptor, owner *Stage) *Dependency {
	decl := Descriptor{}.overlay(d)
	if decl.ID == "" {
		decl.ID = uuid.NewString()
	}
	dep := &Dependency{
		decl:      decl,
		container: owner.container.CreateScope(),
		cfg:       owner.cfg,
		stageID:   owner.id,
		rootID:    owner.rootID,
		depth:     owner.depth,
	}
	dep.container.Register(decl.Extra)
	return dep
}

// redeclare merges next into an uninstalled record.
func (d *Dependency) redeclare(next Descriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.installed {
		return newDependencyError(ErrCouldNotBeAdded, d.decl.Name, "dependency is already installed, put it with Reinstall() to replace it", nil)
	}
	d.decl = d.decl.overlay(next)
	for _, field := range next.Unset {
		d.container.Unregister(field)
	}
	d.container.Register(next.Extra)
	return nil
}

// ID returns the record identifier.
func (d *Dependency) ID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.decl.ID
}

// Name returns the record name.
func (d *Dependency) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.decl.Name
}

func (d *Dependency) Code() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.decl.Code
}

func (d *Dependency) URI() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.decl.URI
}

func (d *Dependency) Package() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.decl.Package
}

func (d *Dependency) Sources() []Source {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.decl.Sources)
}

func (d *Dependency) Exports() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.decl.Exports)
}

func (d *Dependency) DefaultAs() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.decl.DefaultAs
}

func (d *Dependency) Optional() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.decl.Optional
}

func (d *Dependency) Validator() Validator {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.decl.Validator
}

// Module returns the resolved module, nil unless installed.
func (d *Dependency) Module() any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.module
}

func (d *Dependency) Installed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.installed
}

// Valid reports whether the last install passed validation.
func (d *Dependency) Valid() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.valid
}

// Descriptor returns a copy of the declared fields.
func (d *Dependency) Descriptor() Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.decl.clone()
}

// Container exposes the record's scoped values.
func (d *Dependency) Container() *container.Container {
	return d.container
}

// Extra resolves a scoped value declared through Descriptor.Extra.
func (d *Dependency) Extra(name string) (any, error) {
	return d.container.Resolve(name)
}

// StageID returns the id of the stage that created the record.
func (d *Dependency) StageID() string {
	return d.stageID
}

// Install resolves the module and, when validationRequired, runs the
// validator. On a typed failure the record is left reset. Context errors and
// panics are returned or propagated unchanged.
func (d *Dependency) Install(ctx context.Context, validationRequired bool) error {
	d.installMu.Lock()
	defer d.installMu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.RLock()
	installed := d.installed
	decl := d.decl.clone()
	d.mu.RUnlock()
	if installed {
		return newDependencyError(ErrCouldNotBeInstalled, decl.Name, "dependency is already installed", nil)
	}

	start := time.Now()
	module, err := d.cfg.resolveModule(ctx, decl.resolveInput())
	if err != nil {
		return d.fail(ctx, decl, err)
	}

	if !validationRequired {
		d.mu.Lock()
		d.module = module
		d.decl.Validator = Validator{}
		d.valid = false
		d.installed = true
		d.mu.Unlock()
		d.installedEvent(ctx, decl, time.Since(start), false)
		return nil
	}

	// The module stays unpublished until the validator accepts it.
	if err := d.validate(ctx, decl, module); err != nil {
		return d.fail(ctx, decl, err)
	}

	d.mu.Lock()
	d.module = module
	d.valid = true
	d.installed = true
	d.mu.Unlock()
	d.installedEvent(ctx, decl, time.Since(start), true)
	return nil
}

func (d *Dependency) fail(ctx context.Context, decl Descriptor, err error) error {
	resetErr := d.reset(context.WithoutCancel(ctx))
	var depErr *DependencyError
	if !errors.As(err, &depErr) {
		return err
	}
	if resetErr != nil {
		d.cfg.logger.Warn("dependency reset failed", "dependency", decl.Name, "error", resetErr)
	}
	d.cfg.emitDependency(ctx, dependencyRejected, d, depErr.Reason, err)
	return err
}

func (d *Dependency) validate(ctx context.Context, decl Descriptor, module any) error {
	rc, err := d.ruleContext(decl, module)
	if err != nil {
		return newDependencyError(ErrCouldNotBeValidated, decl.Name, "scoped values could not be resolved", err)
	}

	var (
		ok     bool
		reason string
	)
	switch {
	case decl.Validator.IsZero():
		return newDependencyError(ErrCouldNotBeValidated, decl.Name, "no validator declared", nil)
	case decl.Validator.IsNative():
		ok, err = decl.Validator.native(ctx, rc)
		reason = "validator rejected the module"
	default:
		expr, _ := decl.Validator.Source()
		var value any
		value, err = d.cfg.evaluateValidator(expr, rc)
		ok = truthy(value)
		reason = "validator " + expr + " rejected the module"
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return newDependencyError(ErrCouldNotBeValidated, decl.Name, "validator failed", err)
	}
	if !ok {
		return newDependencyError(ErrCouldNotBeValidated, decl.Name, reason, nil)
	}
	return nil
}

// ruleContext builds the validator's view of the record: every declared field
// except the validator itself, plus the resolved scoped extras.
func (d *Dependency) ruleContext(decl Descriptor, module any) (RuleContext, error) {
	fields := map[string]any{
		FieldModule:    module,
		FieldID:        decl.ID,
		FieldName:      decl.Name,
		FieldCode:      decl.Code,
		FieldURI:       decl.URI,
		FieldPackage:   decl.Package,
		FieldExports:   nonNilStrings(decl.Exports),
		FieldOptional:  decl.Optional,
		FieldDefaultAs: decl.DefaultAs,
		FieldInstalled: false,
	}
	for _, name := range sortedExtraKeys(decl.Extra) {
		if _, reserved := fields[name]; reserved {
			continue
		}
		value, err := d.container.Resolve(name)
		if err != nil {
			return RuleContext{}, err
		}
		fields[name] = value
	}
	return RuleContext{Dependency: decl.Name, StageID: d.stageID, Fields: fields}, nil
}

// Dispose resets the record: module, valid, installed and every scoped value
// are cleared. The record stays declared in every stage that holds it.
// Dispose waits for an in-flight install.
func (d *Dependency) Dispose(ctx context.Context) error {
	d.installMu.Lock()
	defer d.installMu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	err := d.reset(ctx)
	d.cfg.emitDependency(ctx, dependencyDisposed, d, "", err)
	return err
}

func (d *Dependency) reset(ctx context.Context) error {
	d.mu.Lock()
	d.module = nil
	d.installed = false
	d.valid = false
	d.mu.Unlock()
	return d.container.Dispose(ctx)
}

// IsSerializable reports whether the first present of code, uri, package and
// sources can be carried into a snapshot.
func (d *Dependency) IsSerializable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, value, ok := d.decl.primarySource()
	if !ok {
		return false
	}
	return structclone.Check(value) == nil
}

// Snapshot captures the record as plain data.
func (d *Dependency) Snapshot() (RecordSnapshot, error) {
	if !d.IsSerializable() {
		return RecordSnapshot{}, newDependencyError(ErrNotSerializable, d.Name(), "no serializable code, uri, package or sources", nil)
	}
	d.mu.RLock()
	decl := d.decl.clone()
	d.mu.RUnlock()

	snap := RecordSnapshot{
		ID:        decl.ID,
		Name:      decl.Name,
		Code:      decl.Code,
		URI:       decl.URI,
		Package:   decl.Package,
		Sources:   serializableSources(decl.Sources),
		Exports:   nonNilStrings(decl.Exports),
		DefaultAs: decl.DefaultAs,
		Optional:  decl.Optional,
	}
	if expr, ok := decl.Validator.Source(); ok {
		snap.Validator = expr
	}
	for _, name := range sortedExtraKeys(decl.Extra) {
		value, err := structclone.Clone(decl.Extra[name])
		if err != nil {
			d.cfg.logger.Debug("scoped value left out of snapshot", "dependency", decl.Name, "value", name, "error", err)
			continue
		}
		if snap.Extra == nil {
			snap.Extra = map[string]any{}
		}
		snap.Extra[name] = value
	}
	return snap, nil
}

func (d *Dependency) installedEvent(ctx context.Context, decl Descriptor, took time.Duration, validated bool) {
	d.cfg.logger.Debug("dependency installed",
		"dependency", decl.Name,
		"stage", d.stageID,
		"validated", validated,
		"duration", took,
	)
	d.cfg.emitDependency(ctx, dependencyInstalled, d, "", nil)
}

func serializableSources(sources []Source) []Source {
	var out []Source
	for _, source := range sources {
		if source.Kind == SourceFunc {
			continue
		}
		out = append(out, Source{Kind: source.Kind, Value: source.Value})
	}
	return out
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return slices.Clone(values)
}

func sortedExtraKeys(extra map[string]any) []string {
	return slices.Sorted(maps.Keys(extra))
}
