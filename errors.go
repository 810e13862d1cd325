package staging

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. Every *DependencyError unwraps to exactly one of these.
var (
	ErrNotInstalled        = errors.New("staging: dependency is not installed")
	ErrCouldNotBeResolved  = errors.New("staging: dependency could not be resolved")
	ErrCouldNotBeInstalled = errors.New("staging: dependency could not be installed")
	ErrCouldNotBeValidated = errors.New("staging: dependency could not be validated")
	ErrCouldNotBeAdded     = errors.New("staging: dependency could not be added")
	ErrNotSerializable     = errors.New("staging: dependency is not serializable")
)

var (
	// ErrStageMerge is the kind of every *MergeError.
	ErrStageMerge = errors.New("staging: stages cannot be merged")
	// ErrUnknownEngine is returned for an unrecognised validator engine name.
	ErrUnknownEngine = errors.New("staging: unknown validator engine")
)

// DependencyError is the typed failure raised for a single dependency.
type DependencyError struct {
	Kind   error
	Name   string
	Reason string
	Err    error
}

func (e *DependencyError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	fmt.Fprintf(&b, " %q", e.Name)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the failure kind and the underlying cause.
func (e *DependencyError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newDependencyError(kind error, name, reason string, err error) *DependencyError {
	if name == "" {
		name = "<unnamed>"
	}
	return &DependencyError{Kind: kind, Name: name, Reason: reason, Err: err}
}

// IsDependencyError reports whether err carries a *DependencyError.
func IsDependencyError(err error) bool {
	var depErr *DependencyError
	return errors.As(err, &depErr)
}

// InstallationError wraps the single required failure of a batch install.
type InstallationError struct {
	Stage string
	Err   error
}

func (e *InstallationError) Error() string {
	return fmt.Sprintf("staging: installation of stage %s failed: %v", e.Stage, e.Err)
}

func (e *InstallationError) Unwrap() error {
	return e.Err
}

// MultipleErrors aggregates several failures under one header.
type MultipleErrors struct {
	Header string
	Errs   []error
}

func (e *MultipleErrors) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "staging: %s: %d errors occurred", e.Header, len(e.Errs))
	for _, err := range e.Errs {
		b.WriteString("\n - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *MultipleErrors) Unwrap() []error {
	return e.Errs
}

// MergeError reports a merge forbidden by stage lineage.
type MergeError struct {
	Receiver string
	Other    string
	Reason   string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("%s: stage %s cannot absorb stage %s: %s", ErrStageMerge, e.Receiver, e.Other, e.Reason)
}

func (e *MergeError) Unwrap() error {
	return ErrStageMerge
}

func aggregate(header string, errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return &MultipleErrors{Header: header, Errs: errs}
	}
}
