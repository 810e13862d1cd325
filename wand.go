package staging

import "fmt"

// Wand is a by-name accessor over a stage. Get executes, Set puts.
type Wand struct {
	stage *Stage
}

// Wand returns the stage's accessor.
func (s *Stage) Wand() Wand {
	return Wand{stage: s}
}

// Get returns the installed module for name. A missing or uninstalled record
// fails with ErrNotInstalled.
func (w Wand) Get(name string) (any, error) {
	return w.stage.Execute(name)
}

// Set declares d under name.
func (w Wand) Set(name string, d Descriptor) error {
	_, err := w.stage.PutNamed(name, d)
	return err
}

// Has reports whether name is declared.
func (w Wand) Has(name string) bool {
	return w.stage.Exists(name)
}

// Lookup returns the installed module for name as T.
func Lookup[T any](s *Stage, name string) (T, error) {
	var zero T
	module, err := s.Execute(name)
	if err != nil {
		return zero, err
	}
	typed, ok := module.(T)
	if !ok {
		return zero, fmt.Errorf("staging: module %q is %T, not %T", name, module, zero)
	}
	return typed, nil
}
