// Package packages resolves package specifiers into modules (server side) or
// module URIs (browser side, through import maps and CDNs).
package packages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-staging/loader"
)

// ErrPackageNotFound is returned when no resolver knows a specifier.
var ErrPackageNotFound = errors.New("packages: package not found")

// Resolver turns a package specifier into a loaded module.
type Resolver interface {
	ResolvePackage(ctx context.Context, specifier string) (any, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, specifier string) (any, error)

// ResolvePackage implements Resolver.
func (fn ResolverFunc) ResolvePackage(ctx context.Context, specifier string) (any, error) {
	return fn(ctx, specifier)
}

// URIResolver maps a package specifier to a module URI.
type URIResolver interface {
	ResolveURI(specifier string) (string, bool)
}

// Registry is an in-process table of prebuilt modules.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]any
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{modules: map[string]any{}}
}

// Register binds specifier to module.
func (r *Registry) Register(specifier string, module any) error {
	specifier = strings.TrimSpace(specifier)
	if specifier == "" {
		return fmt.Errorf("packages: specifier must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[specifier] = module
	return nil
}

// Specifiers lists registered specifiers, sorted.
func (r *Registry) Specifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolvePackage implements Resolver.
func (r *Registry) ResolvePackage(ctx context.Context, specifier string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	module, ok := r.modules[specifier]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, specifier)
	}
	return module, nil
}

// NodeModules resolves specifiers against a node_modules directory.
type NodeModules struct {
	Root   string
	Loader loader.Loader
}

type packageManifest struct {
	Main    string          `json:"main"`
	Module  string          `json:"module"`
	Exports json.RawMessage `json:"exports"`
}

// ResolvePackage implements Resolver.
func (n NodeModules) ResolvePackage(ctx context.Context, specifier string) (any, error) {
	if n.Loader == nil {
		return nil, fmt.Errorf("packages: node_modules resolver has no loader")
	}
	path, err := n.entryPoint(specifier)
	if err != nil {
		return nil, err
	}
	return n.Loader.LoadURI(ctx, "file://"+filepath.ToSlash(path))
}

func (n NodeModules) entryPoint(specifier string) (string, error) {
	name, subpath := splitSpecifier(specifier)
	dir := filepath.Join(n.Root, "node_modules", filepath.FromSlash(name))
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrPackageNotFound, specifier)
	}

	if subpath != "" {
		return firstFile(filepath.Join(dir, filepath.FromSlash(subpath)), specifier)
	}

	entry := "index.js"
	if raw, err := os.ReadFile(filepath.Join(dir, "package.json")); err == nil {
		var manifest packageManifest
		if err := json.Unmarshal(raw, &manifest); err != nil {
			return "", fmt.Errorf("packages: parse %s/package.json: %w", name, err)
		}
		entry = manifest.entry(entry)
	}
	return firstFile(filepath.Join(dir, filepath.FromSlash(entry)), specifier)
}

func (m packageManifest) entry(fallback string) string {
	var exports string
	if len(m.Exports) > 0 && json.Unmarshal(m.Exports, &exports) == nil && exports != "" {
		return exports
	}
	var conditional map[string]json.RawMessage
	if len(m.Exports) > 0 && json.Unmarshal(m.Exports, &conditional) == nil {
		for _, key := range []string{"import", "default", "."} {
			var target string
			if raw, ok := conditional[key]; ok && json.Unmarshal(raw, &target) == nil && target != "" {
				return target
			}
		}
	}
	if m.Module != "" {
		return m.Module
	}
	if m.Main != "" {
		return m.Main
	}
	return fallback
}

func firstFile(base, specifier string) (string, error) {
	for _, candidate := range []string{base, base + ".js", base + ".mjs", filepath.Join(base, "index.js")} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s (no entry point at %s)", ErrPackageNotFound, specifier, base)
}

func splitSpecifier(specifier string) (string, string) {
	parts := strings.Split(specifier, "/")
	if strings.HasPrefix(specifier, "@") && len(parts) >= 2 {
		return parts[0] + "/" + parts[1], strings.Join(parts[2:], "/")
	}
	return parts[0], strings.Join(parts[1:], "/")
}

// Chain tries each resolver in order and returns the first success.
type Chain []Resolver

// ResolvePackage implements Resolver.
func (c Chain) ResolvePackage(ctx context.Context, specifier string) (any, error) {
	var errs []error
	for _, resolver := range c {
		if resolver == nil {
			continue
		}
		module, err := resolver.ResolvePackage(ctx, specifier)
		if err == nil {
			return module, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, specifier)
	}
	return nil, errors.Join(errs...)
}
