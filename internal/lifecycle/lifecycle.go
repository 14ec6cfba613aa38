// Package lifecycle tracks whether process-wide startup has finished.
package lifecycle

import (
	"sync"
	"sync/atomic"
)

// ProcessLifecycle is built once in main and passed to whatever needs to
// know if startup completed. Init runs its hooks exactly once.
type ProcessLifecycle struct {
	once        sync.Once
	initialized atomic.Bool
	err         error
}

func New() *ProcessLifecycle {
	return &ProcessLifecycle{}
}

// Init runs hooks in order and marks the process initialized if all of
// them succeed. Later calls return the first call's result.
func (l *ProcessLifecycle) Init(hooks ...func() error) error {
	l.once.Do(func() {
		for _, hook := range hooks {
			if err := hook(); err != nil {
				l.err = err
				return
			}
		}
		l.initialized.Store(true)
	})
	return l.err
}

func (l *ProcessLifecycle) IsInitialized() bool {
	return l.initialized.Load()
}
