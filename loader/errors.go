package loader

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedScheme is returned for URIs the loader cannot open.
	ErrUnsupportedScheme = errors.New("loader: unsupported uri scheme")
	// ErrImportUnsupported is returned for sources that import other modules.
	ErrImportUnsupported = errors.New("loader: import statements are not supported, bundle the module first")
	// ErrUnsupportedCharset is returned for sources not encoded as utf-8.
	ErrUnsupportedCharset = errors.New("loader: unsupported charset")
	// ErrInvalidDataURI is returned for malformed data: URIs.
	ErrInvalidDataURI = errors.New("loader: invalid data uri")
)

// ModuleError reports a module that failed to compile or threw while
// evaluating.
type ModuleError struct {
	Origin string
	Phase  string
	Err    error
}

func (e *ModuleError) Error() string {
	origin := e.Origin
	if origin == "" {
		origin = "<inline>"
	}
	return fmt.Sprintf("loader: %s of module %s failed: %v", e.Phase, origin, e.Err)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}
