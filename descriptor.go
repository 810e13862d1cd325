package staging

import (
	"context"
	"maps"
	"slices"
)

// Field names exposed to validators and accepted by Descriptor.Unset.
const (
	FieldModule    = "module"
	FieldID        = "id"
	FieldName      = "name"
	FieldCode      = "code"
	FieldURI       = "uri"
	FieldPackage   = "package"
	FieldSources   = "sources"
	FieldExports   = "exports"
	FieldDefaultAs = "defaultAs"
	FieldOptional  = "optional"
	FieldValidator = "validator"
	FieldInstalled = "installed"
	FieldValid     = "valid"
)

// SourceKind identifies how a Source is resolved.
type SourceKind string

const (
	SourceCode    SourceKind = "code"
	SourceURI     SourceKind = "uri"
	SourcePackage SourceKind = "package"
	SourceFunc    SourceKind = "func"
)

// Source is one extra way of producing a module, tried after the primary
// code, uri and package fields.
type Source struct {
	Kind  SourceKind                             `json:"kind"`
	Value string                                 `json:"value,omitempty"`
	Fn    func(ctx context.Context) (any, error) `json:"-"`
}

// CodeSource evaluates module source text.
func CodeSource(code string) Source {
	return Source{Kind: SourceCode, Value: code}
}

// URISource loads a module URI.
func URISource(uri string) Source {
	return Source{Kind: SourceURI, Value: uri}
}

// PackageSource resolves a package specifier.
func PackageSource(specifier string) Source {
	return Source{Kind: SourcePackage, Value: specifier}
}

// FuncSource produces the module from Go code. Records using it are not
// serializable.
func FuncSource(fn func(ctx context.Context) (any, error)) Source {
	return Source{Kind: SourceFunc, Fn: fn}
}

// Descriptor declares a dependency. Zero fields are "not set": when a put
// reuses an existing record only set fields overwrite it, and Unset names
// the fields to clear.
type Descriptor struct {
	ID        string
	Name      string
	Code      string
	URI       string
	Package   string
	Module    any
	Sources   []Source
	Exports   []string
	DefaultAs string
	Optional  bool
	Validator Validator
	// Extra values are registered into the record's own container. A
	// container.Registration keeps its declared lifetime.
	Extra map[string]any
	Unset []string
}

// Named returns a copy of d with Name set.
func (d Descriptor) Named(name string) Descriptor {
	d.Name = name
	return d
}

// primarySource returns the first serializable source field that is set, in
// the order code, uri, package, sources.
func (d Descriptor) primarySource() (string, any, bool) {
	switch {
	case d.Code != "":
		return FieldCode, d.Code, true
	case d.URI != "":
		return FieldURI, d.URI, true
	case d.Package != "":
		return FieldPackage, d.Package, true
	case len(d.Sources) > 0:
		return FieldSources, d.Sources, true
	}
	return "", nil, false
}

func (d Descriptor) clone() Descriptor {
	out := d
	out.Sources = slices.Clone(d.Sources)
	out.Exports = slices.Clone(d.Exports)
	out.Extra = maps.Clone(d.Extra)
	out.Unset = nil
	return out
}

// overlay applies the set fields of next onto d after clearing next.Unset.
func (d Descriptor) overlay(next Descriptor) Descriptor {
	out := d.clone()
	for _, field := range next.Unset {
		switch field {
		case FieldCode:
			out.Code = ""
		case FieldURI:
			out.URI = ""
		case FieldPackage:
			out.Package = ""
		case FieldModule:
			out.Module = nil
		case FieldSources:
			out.Sources = nil
		case FieldExports:
			out.Exports = nil
		case FieldDefaultAs:
			out.DefaultAs = ""
		case FieldOptional:
			out.Optional = false
		case FieldValidator:
			out.Validator = Validator{}
		default:
			delete(out.Extra, field)
		}
	}

	if next.ID != "" {
		out.ID = next.ID
	}
	if next.Name != "" {
		out.Name = next.Name
	}
	if next.Code != "" {
		out.Code = next.Code
	}
	if next.URI != "" {
		out.URI = next.URI
	}
	if next.Package != "" {
		out.Package = next.Package
	}
	if next.Module != nil {
		out.Module = next.Module
	}
	if next.Sources != nil {
		out.Sources = slices.Clone(next.Sources)
	}
	if next.Exports != nil {
		out.Exports = slices.Clone(next.Exports)
	}
	if next.DefaultAs != "" {
		out.DefaultAs = next.DefaultAs
	}
	if next.Optional {
		out.Optional = true
	}
	if !next.Validator.IsZero() {
		out.Validator = next.Validator
	}
	if len(next.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = map[string]any{}
		}
		maps.Copy(out.Extra, next.Extra)
	}
	return out
}
