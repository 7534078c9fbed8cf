package model

import (
	"sync"
	"sync/atomic"
)

// Loader produces the pipeline a handle serves.
type Loader func() (*Pipeline, error)

// Handle holds the process-wide model snapshot. It is initialized at most
// once; readers never lock and the snapshot is never mutated after load.
type Handle struct {
	once    sync.Once
	current atomic.Pointer[Pipeline]
	initErr error
}

var shared Handle

// Shared returns the process-wide handle.
func Shared() *Handle { return &shared }

// Init runs loader on the first call and records its result. Later calls
// return the first outcome without loading again.
func (h *Handle) Init(loader Loader) error {
	h.once.Do(func() {
		p, err := loader()
		if err != nil {
			h.initErr = err
			return
		}
		h.current.Store(p)
	})
	return h.initErr
}

// Get returns the loaded snapshot or ErrModelUnavailable.
func (h *Handle) Get() (*Pipeline, error) {
	p := h.current.Load()
	if p == nil {
		return nil, ErrModelUnavailable
	}
	return p, nil
}

// Loaded reports whether a snapshot is available.
func (h *Handle) Loaded() bool {
	return h.current.Load() != nil
}

// Teardown drops the snapshot at shutdown. The handle cannot be
// reinitialized afterwards; replacing a model means restarting the process.
func (h *Handle) Teardown() {
	h.once.Do(func() {})
	h.current.Store(nil)
}
