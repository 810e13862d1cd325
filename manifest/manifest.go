// Package manifest declares stage dependencies in HCL files.
//
//	region = "eu"
//
//	dependency "b4a" {
//	  package   = "b4a"
//	  exports   = ["alloc", "from"]
//	  validator = "typeof module.alloc === 'function'"
//	}
//
//	dependency "answer" {
//	  code      = "export default 42"
//	  validator = "module === expected"
//	  expected  = 42
//	}
//
// Top-level attributes become stage values. Attributes of a dependency
// block that are not descriptor fields become its scoped extras.
package manifest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/goliatone/go-staging"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Extension is the file extension Load picks up in directories.
const Extension = ".hcl"

// Manifest is the decoded form of one or more manifest files.
type Manifest struct {
	Dependencies []staging.Descriptor
	Values       map[string]any
}

type hclFile struct {
	Dependencies []*hclDependency `hcl:"dependency,block"`
	Remain       hcl.Body         `hcl:",remain"`
}

type hclDependency struct {
	Name      string       `hcl:"name,label"`
	ID        string       `hcl:"id,optional"`
	Code      string       `hcl:"code,optional"`
	URI       string       `hcl:"uri,optional"`
	Package   string       `hcl:"package,optional"`
	Exports   []string     `hcl:"exports,optional"`
	DefaultAs string       `hcl:"default_as,optional"`
	Optional  bool         `hcl:"optional,optional"`
	Validator string       `hcl:"validator,optional"`
	Sources   []*hclSource `hcl:"source,block"`
	Remain    hcl.Body     `hcl:",remain"`
}

type hclSource struct {
	Kind  string `hcl:"kind,label"`
	Value string `hcl:"value,attr"`
}

// Option configures Load.
type Option func(*loadConfig)

type loadConfig struct {
	logger *slog.Logger
}

// WithLogger routes load diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *loadConfig) {
		cfg.logger = logger
	}
}

// Parse decodes manifest source. filename is used in diagnostics only.
func Parse(src []byte, filename string) (*Manifest, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("manifest: failed to parse %s: %w", filename, diags)
	}
	return decode(file.Body, filename)
}

// ParseFile decodes the manifest at path.
func ParseFile(path string) (*Manifest, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Parse(src, path)
}

// Load decodes path, a manifest file or a directory whose manifest files are
// read recursively in lexical order and combined.
func Load(ctx context.Context, path string, opts ...Option) (*Manifest, error) {
	cfg := loadConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	files, err := findFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		cfg.logger.Warn("no manifest files found", "path", path)
		return &Manifest{}, nil
	}

	combined := &Manifest{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := ParseFile(file)
		if err != nil {
			return nil, err
		}
		if err := combined.merge(m, file); err != nil {
			return nil, err
		}
		cfg.logger.Debug("manifest loaded", "path", file, "dependencies", len(m.Dependencies), "values", len(m.Values))
	}
	return combined, nil
}

// Apply sets the manifest values on stage and puts every dependency.
func (m *Manifest) Apply(stage *staging.Stage, opts ...staging.PutOption) ([]*staging.Dependency, error) {
	for _, key := range sortedKeys(m.Values) {
		stage.Set(key, m.Values[key])
	}
	return stage.PutAll(m.Dependencies, opts...)
}

// Names returns the declared dependency names in order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Dependencies))
	for _, d := range m.Dependencies {
		names = append(names, d.Name)
	}
	return names
}

func (m *Manifest) merge(other *Manifest, origin string) error {
	for _, d := range other.Dependencies {
		if slices.Contains(m.Names(), d.Name) {
			return fmt.Errorf("manifest: dependency %q in %s is already declared", d.Name, origin)
		}
		m.Dependencies = append(m.Dependencies, d)
	}
	for key, value := range other.Values {
		if m.Values == nil {
			m.Values = map[string]any{}
		}
		m.Values[key] = value
	}
	return nil
}

func decode(body hcl.Body, filename string) (*Manifest, error) {
	var parsed hclFile
	diags := gohcl.DecodeBody(body, evalContext(), &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("manifest: failed to decode %s: %w", filename, diags)
	}

	values, err := attributes(parsed.Remain)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", filename, err)
	}

	m := &Manifest{Values: values}
	for _, block := range parsed.Dependencies {
		d, err := block.descriptor()
		if err != nil {
			return nil, fmt.Errorf("manifest: %s: dependency %q: %w", filename, block.Name, err)
		}
		if slices.Contains(m.Names(), d.Name) {
			return nil, fmt.Errorf("manifest: %s: dependency %q is declared twice", filename, d.Name)
		}
		m.Dependencies = append(m.Dependencies, d)
	}
	return m, nil
}

func (b *hclDependency) descriptor() (staging.Descriptor, error) {
	d := staging.Descriptor{
		ID:        b.ID,
		Name:      b.Name,
		Code:      b.Code,
		URI:       b.URI,
		Package:   b.Package,
		Exports:   b.Exports,
		DefaultAs: b.DefaultAs,
		Optional:  b.Optional,
		Validator: staging.SourceValidator(b.Validator),
	}
	for _, source := range b.Sources {
		switch kind := staging.SourceKind(source.Kind); kind {
		case staging.SourceCode, staging.SourceURI, staging.SourcePackage:
			d.Sources = append(d.Sources, staging.Source{Kind: kind, Value: source.Value})
		default:
			return staging.Descriptor{}, fmt.Errorf("unsupported source kind %q", source.Kind)
		}
	}
	extra, err := attributes(b.Remain)
	if err != nil {
		return staging.Descriptor{}, err
	}
	d.Extra = extra
	return d, nil
}

// attributes evaluates every attribute left in body to a Go value.
func attributes(body hcl.Body) (map[string]any, error) {
	if body == nil {
		return nil, nil
	}
	attrs, diags := body.JustAttributes()
	if diags = withoutBlockDiags(diags); diags.HasErrors() {
		return nil, diags
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(attrs))
	ctx := evalContext()
	for name, attr := range attrs {
		value, diags := attr.Expr.Value(ctx)
		if diags.HasErrors() {
			return nil, diags
		}
		native, err := ctyToNative(value)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		out[name] = native
	}
	return out, nil
}

// blocksNotAllowed is the detail JustAttributes reports for nested blocks.
// The schema already decoded the blocks it knows, so those reports are noise.
const blocksNotAllowed = "Blocks are not allowed here."

func withoutBlockDiags(diags hcl.Diagnostics) hcl.Diagnostics {
	var out hcl.Diagnostics
	for _, diag := range diags {
		if diag.Severity == hcl.DiagError && diag.Detail == blocksNotAllowed {
			continue
		}
		out = append(out, diag)
	}
	return out
}

func findFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(p), Extension) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: walk %s: %w", path, err)
	}
	slices.Sort(files)
	return files, nil
}
