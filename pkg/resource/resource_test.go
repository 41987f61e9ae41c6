package resource

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerAcquireRelease(t *testing.T) {
	m := NewManager(nil)

	h1 := m.Acquire([]byte("one"))
	h2 := m.Acquire([]byte("two"))
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 2, m.Live())

	data, err := m.Open(h1)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)

	assert.True(t, m.Release(h1))
	assert.False(t, m.Release(h1), "second release must be a no-op")
	assert.Equal(t, 1, m.Live())

	_, err = m.Open(h1)
	assert.ErrorIs(t, err, ErrReleased)

	assert.True(t, m.Release(h2))
	assert.Equal(t, 0, m.Live())
}

func TestManagerConcurrentRelease(t *testing.T) {
	m := NewManager(nil)
	h := m.Acquire([]byte("x"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	released := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Release(h) {
				mu.Lock()
				released++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, released)
}

func TestSlotSupersedes(t *testing.T) {
	var s Slot

	t1, ctx1 := s.Begin(context.Background())
	t2, ctx2 := s.Begin(context.Background())

	assert.False(t, t1.Current())
	assert.True(t, t2.Current())
	assert.ErrorIs(t, ctx1.Err(), context.Canceled, "superseded generation is cancelled")
	assert.NoError(t, ctx2.Err())
	assert.Less(t, t1.Generation(), t2.Generation())
}

func TestSlotCommitOrder(t *testing.T) {
	var s Slot
	var state string

	g1, _ := s.Begin(context.Background())
	g2, _ := s.Begin(context.Background())

	// g2 resolves first, g1 arrives late and must be dropped.
	assert.True(t, s.Commit(g2, func() { state = "g2" }))
	assert.False(t, s.Commit(g1, func() { state = "g1" }))
	assert.Equal(t, "g2", state)
}

func TestSlotCancel(t *testing.T) {
	var s Slot
	tok, ctx := s.Begin(context.Background())
	s.Cancel()

	assert.False(t, tok.Current())
	assert.Error(t, ctx.Err())
	assert.False(t, s.Commit(tok, func() { t.Fatal("must not apply after cancel") }))

	tok2, ctx2 := s.Begin(context.Background())
	assert.False(t, tok2.Current())
	assert.Error(t, ctx2.Err())
}

func TestZeroTokenIsNeverCurrent(t *testing.T) {
	var tok Token
	assert.False(t, tok.Current())
}

func TestArenaRunsLIFOOnce(t *testing.T) {
	var a Arena
	var order []int
	for i := range 3 {
		a.Defer(func() error {
			order = append(order, i)
			return nil
		})
	}

	require.NoError(t, a.Dispose())
	assert.Equal(t, []int{2, 1, 0}, order)

	require.NoError(t, a.Dispose())
	assert.Len(t, order, 3)
}

func TestArenaCombinesErrors(t *testing.T) {
	var a Arena
	e1 := errors.New("first")
	e2 := errors.New("second")
	a.Defer(func() error { return e1 })
	a.Defer(func() error { return e2 })

	err := a.Dispose()
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
}

func TestArenaDeferAfterDispose(t *testing.T) {
	var a Arena
	m := NewManager(nil)
	require.NoError(t, a.Dispose())

	h := m.Acquire([]byte("late"))
	a.DeferRelease(m, h)
	assert.Equal(t, 0, m.Live(), "late registrations run immediately")
}
