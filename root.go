package staging

import (
	"context"
	"sync"
)

var (
	rootMu   sync.Mutex
	rootOnce = new(sync.Once)
	root     *Stage
)

// Root returns the process-wide root stage, built on first use with opts.
// Options passed after the first call are ignored.
func Root(opts ...Option) *Stage {
	rootMu.Lock()
	once := rootOnce
	rootMu.Unlock()

	once.Do(func() {
		stage := NewRoot(opts...)
		rootMu.Lock()
		root = stage
		rootMu.Unlock()
	})

	rootMu.Lock()
	defer rootMu.Unlock()
	return root
}

// DisposeRoot disposes the process-wide root stage, if built, so the next
// Root call builds a fresh one.
func DisposeRoot(ctx context.Context) error {
	rootMu.Lock()
	stage := root
	root = nil
	rootOnce = new(sync.Once)
	rootMu.Unlock()

	if stage == nil {
		return nil
	}
	return stage.Dispose(ctx)
}
