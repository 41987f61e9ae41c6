package resource

import (
	"context"
	"errors"
	"sync"
)

// ErrStale is returned when an asynchronous result was superseded by a
// newer generation for the same slot. It is an internal outcome, never a
// user-facing error.
var ErrStale = errors.New("resource: stale result discarded")

// Slot hands out monotonically increasing generation tokens for one load
// target (a model slot or a texture slot).
type Slot struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	closed bool
}

// Token identifies one generation of a Slot.
type Token struct {
	slot *Slot
	gen  uint64
}

// Begin starts a new generation. The context of the previous generation is
// cancelled, and the returned context is cancelled when this generation is
// superseded or the slot is cancelled.
func (s *Slot) Begin(ctx context.Context) (Token, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	cctx, cancel := context.WithCancel(ctx)
	if s.closed {
		cancel()
	}
	s.cancel = cancel
	return Token{slot: s, gen: s.gen}, cctx
}

// Generation returns the latest generation issued.
func (s *Slot) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Commit runs apply only if tok is still the latest generation and the slot
// is open. The check and apply happen under the slot lock, so results for
// one slot are applied in generation order.
func (s *Slot) Commit(tok Token, apply func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok.slot != s || tok.gen != s.gen || s.closed {
		return false
	}
	apply()
	return true
}

// Cancel invalidates every outstanding token. Used on teardown; later
// Begin calls return already-cancelled contexts.
func (s *Slot) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Current reports whether t is still the latest generation of its slot.
func (t Token) Current() bool {
	if t.slot == nil {
		return false
	}
	t.slot.mu.Lock()
	defer t.slot.mu.Unlock()
	return t.gen == t.slot.gen && !t.slot.closed
}

// Generation returns the token's generation number.
func (t Token) Generation() uint64 {
	return t.gen
}
