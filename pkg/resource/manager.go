// Package resource manages temporary blob references and the generation
// tokens used to discard stale asynchronous results.
package resource

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrReleased is returned when a handle is read after it was released.
var ErrReleased = errors.New("resource: handle released")

// Handle is an opaque local reference to a blob held by a Manager.
type Handle string

// Manager creates and revokes blob handles. It is the only component that
// owns raw model bytes between the fetch layer and the loader.
type Manager struct {
	mu     sync.Mutex
	blobs  map[Handle][]byte
	nextID uint64
	log    *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		blobs: make(map[Handle][]byte),
		log:   log,
	}
}

// Acquire stores data and returns a new handle for it. Every handle must be
// passed to Release exactly once.
func (m *Manager) Acquire(data []byte) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	h := Handle(fmt.Sprintf("blob:roomview/%d", m.nextID))
	m.blobs[h] = data
	m.log.Debug("blob acquired", zap.String("handle", string(h)), zap.Int("bytes", len(data)))
	return h
}

// Open returns the bytes behind h.
func (m *Manager) Open(h Handle) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[h]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", h, ErrReleased)
	}
	return data, nil
}

// Release frees the blob behind h. It reports false if h was already
// released or never issued.
func (m *Manager) Release(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[h]; !ok {
		return false
	}
	delete(m.blobs, h)
	m.log.Debug("blob released", zap.String("handle", string(h)))
	return true
}

// Live returns the number of handles not yet released.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
