package resource

import (
	"sync"

	"go.uber.org/multierr"
)

// Arena collects disposer functions and runs them in reverse order of
// registration, exactly once.
type Arena struct {
	mu        sync.Mutex
	disposers []func() error
	done      bool
}

// Defer registers fn to run on Dispose. If the arena is already disposed,
// fn runs immediately.
func (a *Arena) Defer(fn func() error) {
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		_ = fn()
		return
	}
	a.disposers = append(a.disposers, fn)
	a.mu.Unlock()
}

// DeferRelease registers the release of h with m.
func (a *Arena) DeferRelease(m *Manager, h Handle) {
	a.Defer(func() error {
		m.Release(h)
		return nil
	})
}

// Dispose runs every registered disposer, last registered first, and
// returns their combined errors.
func (a *Arena) Dispose() error {
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		return nil
	}
	a.done = true
	disposers := a.disposers
	a.disposers = nil
	a.mu.Unlock()

	var err error
	for i := len(disposers) - 1; i >= 0; i-- {
		err = multierr.Append(err, disposers[i]())
	}
	return err
}
