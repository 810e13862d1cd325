package container

import "fmt"

// ResolveError reports a failed resolution for a registered name.
type ResolveError struct {
	Name string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("container: resolve %q: %v", e.Name, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// TeardownError reports a failed teardown hook during Dispose.
type TeardownError struct {
	Name string
	Err  error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("container: teardown %q: %v", e.Name, e.Err)
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}
