package staging

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/goliatone/go-staging/loader"
)

type resolveInput struct {
	name      string
	code      string
	uri       string
	pkg       string
	module    any
	sources   []Source
	exports   []string
	defaultAs string
}

func (d Descriptor) resolveInput() resolveInput {
	return resolveInput{
		name:      d.Name,
		code:      d.Code,
		uri:       d.URI,
		pkg:       d.Package,
		module:    d.Module,
		sources:   slices.Clone(d.Sources),
		exports:   slices.Clone(d.Exports),
		defaultAs: d.DefaultAs,
	}
}

type attempt struct {
	label string
	run   func(ctx context.Context) (any, error)
}

// resolveModule tries the declared sources in priority order: a supplied
// module short-circuits, then package, code, uri and the extra sources. The
// first success wins; loaded modules are normalized.
func (cfg *stageConfig) resolveModule(ctx context.Context, in resolveInput) (any, error) {
	if in.module != nil {
		return in.module, nil
	}

	attempts := cfg.attempts(in)
	if len(attempts) == 0 {
		return nil, newDependencyError(ErrCouldNotBeResolved, in.name, "no source declared", nil)
	}

	var errs []error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		module, err := a.run(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return nil, ctxErr
			}
			cfg.logger.Debug("dependency source failed", "dependency", in.name, "source", a.label, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", a.label, err))
			continue
		}
		normalized, err := normalizeModule(module, in.exports, in.defaultAs)
		if err != nil {
			return nil, newDependencyError(ErrCouldNotBeInstalled, in.name, "module shape rejected", err)
		}
		return normalized, nil
	}
	return nil, newDependencyError(ErrCouldNotBeResolved, in.name, "every source failed", errors.Join(errs...))
}

func (cfg *stageConfig) attempts(in resolveInput) []attempt {
	var attempts []attempt
	if in.pkg != "" {
		attempts = append(attempts, cfg.packageAttempt(in.pkg))
	}
	if in.code != "" {
		attempts = append(attempts, cfg.codeAttempt(in.name, in.code))
	}
	if in.uri != "" {
		attempts = append(attempts, cfg.uriAttempt(in.uri))
	}
	for _, source := range in.sources {
		switch source.Kind {
		case SourceCode:
			attempts = append(attempts, cfg.codeAttempt(in.name, source.Value))
		case SourceURI:
			attempts = append(attempts, cfg.uriAttempt(source.Value))
		case SourcePackage:
			attempts = append(attempts, cfg.packageAttempt(source.Value))
		case SourceFunc:
			fn := source.Fn
			attempts = append(attempts, attempt{label: "func source", run: func(ctx context.Context) (any, error) {
				if fn == nil {
					return nil, fmt.Errorf("func source is nil")
				}
				return fn(ctx)
			}})
		default:
			kind := source.Kind
			attempts = append(attempts, attempt{label: "source " + string(kind), run: func(context.Context) (any, error) {
				return nil, fmt.Errorf("unknown source kind %q", kind)
			}})
		}
	}
	return attempts
}

func (cfg *stageConfig) codeAttempt(name, code string) attempt {
	return attempt{label: "code", run: func(ctx context.Context) (any, error) {
		return cfg.resolvedLoader.LoadSource(ctx, code, loader.WithOrigin(name))
	}}
}

func (cfg *stageConfig) uriAttempt(uri string) attempt {
	return attempt{label: "uri " + uri, run: func(ctx context.Context) (any, error) {
		return cfg.resolvedLoader.LoadURI(ctx, uri)
	}}
}

func (cfg *stageConfig) packageAttempt(specifier string) attempt {
	return attempt{label: "package " + specifier, run: func(ctx context.Context) (any, error) {
		return cfg.loadPackage(ctx, specifier)
	}}
}

func (cfg *stageConfig) loadPackage(ctx context.Context, specifier string) (any, error) {
	if cfg.environment != EnvBrowser {
		return cfg.packages.ResolvePackage(ctx, specifier)
	}
	uri, ok := cfg.importMap.ResolveURI(specifier)
	if !ok && cfg.cdn != nil {
		uri, ok = cfg.cdn.ResolveURI(specifier)
	}
	if !ok {
		return nil, fmt.Errorf("no uri mapping for package %q", specifier)
	}
	return cfg.resolvedLoader.LoadURI(ctx, uri)
}

// normalizeModule shapes an export map: the default export is aliased under
// defaultAs, the exports allow-list is applied, and a map holding only a
// default export collapses to that export. Non-map modules pass through.
func normalizeModule(module any, exports []string, defaultAs string) (any, error) {
	exportMap, ok := module.(map[string]any)
	if !ok {
		if len(exports) > 0 {
			return nil, fmt.Errorf("exports %v declared but module is %T", exports, module)
		}
		return module, nil
	}

	out := maps.Clone(exportMap)
	if defaultAs != "" {
		if def, ok := out["default"]; ok {
			out[defaultAs] = def
		}
	}
	if len(exports) > 0 {
		for key := range out {
			if !slices.Contains(exports, key) {
				delete(out, key)
			}
		}
	}
	if def, ok := out["default"]; ok && len(out) == 1 {
		return def, nil
	}
	return out, nil
}
