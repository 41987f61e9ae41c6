package render

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// State is the lifecycle state of the drawing context.
type State int

const (
	Active State = iota
	ContextLost
	Restoring
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case ContextLost:
		return "context-lost"
	case Restoring:
		return "restoring"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ContextLostError is returned by any controller operation other than
// RestoreContext while the drawing context is lost. It is transient: the
// caller should wait for the restore signal.
type ContextLostError struct {
	Op string
}

func (e *ContextLostError) Error() string {
	return fmt.Sprintf("render: %s: drawing context lost", e.Op)
}

// OverlayMessage is shown over the last frame while the context is lost.
const OverlayMessage = "Display connection lost. Waiting to reconnect..."

// SurfaceFactory creates a fresh surface. remountKey identifies the
// remount generation it belongs to.
type SurfaceFactory func(remountKey uint64) (Surface, error)

// Controller owns a Surface and its loss and restore cycle. Frames are
// drawn on demand: only after Invalidate, a restore, or continuously while
// continuous mode is on.
type Controller struct {
	factory SurfaceFactory
	log     *zap.Logger

	mu         sync.Mutex
	state      State
	surface    Surface
	remountKey uint64
	scene      Scene
	dirty      bool
	continuous bool
	closed     bool
	lostAgain  bool // loss signalled while Restoring

	lmu       sync.Mutex
	listeners map[uint64]func(State)
	nextID    uint64
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithControllerLogger sets the logger.
func WithControllerLogger(log *zap.Logger) ControllerOption {
	return func(c *Controller) { c.log = log }
}

// WithContinuous starts the controller in continuous mode.
func WithContinuous(on bool) ControllerOption {
	return func(c *Controller) { c.continuous = on }
}

// NewController creates the initial surface (remount key 0).
func NewController(factory SurfaceFactory, opts ...ControllerOption) (*Controller, error) {
	c := &Controller{
		factory:   factory,
		log:       zap.NewNop(),
		dirty:     true,
		listeners: make(map[uint64]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	s, err := factory(0)
	if err != nil {
		return nil, fmt.Errorf("create surface: %w", err)
	}
	c.surface = s
	return c, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemountKey returns how many times the surface has been recreated.
func (c *Controller) RemountKey() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remountKey
}

// Surface returns the current surface, or a *ContextLostError.
func (c *Controller) Surface() (Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked("surface"); err != nil {
		return nil, err
	}
	return c.surface, nil
}

// InteractionEnabled reports whether user input should be applied.
func (c *Controller) InteractionEnabled() bool {
	return c.State() == Active
}

// Overlay returns the blocking message to show, or "" when active.
func (c *Controller) Overlay() string {
	if c.State() == Active {
		return ""
	}
	return OverlayMessage
}

func (c *Controller) checkLocked(op string) error {
	if c.state != Active {
		return &ContextLostError{Op: op}
	}
	return nil
}

// Submit makes sc the controller's scene, uploads it to the surface and
// schedules a redraw. The scene is resubmitted after every restore.
func (c *Controller) Submit(sc Scene) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked("submit"); err != nil {
		return err
	}
	if err := c.surface.Submit(sc); err != nil {
		return fmt.Errorf("submit scene: %w", err)
	}
	c.scene = sc
	c.dirty = true
	return nil
}

// Invalidate schedules a redraw.
func (c *Controller) Invalidate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked("invalidate"); err != nil {
		return err
	}
	c.dirty = true
	return nil
}

// SetContinuous turns continuous redrawing on or off.
func (c *Controller) SetContinuous(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked("set continuous"); err != nil {
		return err
	}
	c.continuous = on
	c.dirty = true
	return nil
}

// Frame draws the submitted scene if a redraw is due and reports whether
// it drew.
func (c *Controller) Frame(cam *Camera) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked("frame"); err != nil {
		return false, err
	}
	if c.scene == nil || (!c.dirty && !c.continuous) {
		return false, nil
	}
	if err := c.surface.Draw(c.scene, cam); err != nil {
		return false, fmt.Errorf("draw: %w", err)
	}
	c.dirty = false
	return true, nil
}

// LoseContext handles the platform's context-lost signal. Drawing and
// interaction stop until RestoreContext. Losing an already lost context is
// a no-op. A loss during a restore takes effect once the restore finishes.
func (c *Controller) LoseContext() {
	c.mu.Lock()
	if c.state == Restoring {
		c.lostAgain = true
		c.mu.Unlock()
		return
	}
	if c.state != Active {
		c.mu.Unlock()
		return
	}
	c.state = ContextLost
	c.mu.Unlock()

	c.log.Warn("drawing context lost")
	c.notify(ContextLost)
}

// RestoreContext handles the context-restored signal: the old surface is
// disposed, a new one is created under the next remount key, the scene is
// resubmitted and a redraw is scheduled. It does nothing unless the context
// is lost. If the new surface cannot be created the controller stays
// ContextLost and the remount key is unchanged.
func (c *Controller) RestoreContext() error {
	c.mu.Lock()
	if c.state != ContextLost || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Restoring
	c.lostAgain = false
	c.mu.Unlock()
	c.notify(Restoring)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if err := c.surface.Dispose(); err != nil {
		c.log.Debug("dispose lost surface", zap.Error(err))
	}
	key := c.remountKey + 1
	s, err := c.factory(key)
	if err != nil {
		c.state = ContextLost
		c.lostAgain = false
		c.mu.Unlock()
		c.log.Error("recreate surface", zap.Uint64("remount_key", key), zap.Error(err))
		c.notify(ContextLost)
		return fmt.Errorf("recreate surface: %w", err)
	}
	c.surface = s
	c.remountKey = key
	if c.scene != nil {
		if err := s.Submit(c.scene); err != nil {
			c.log.Error("resubmit scene", zap.Error(err))
		}
	}
	c.dirty = true
	if c.lostAgain {
		c.lostAgain = false
		c.state = ContextLost
		c.mu.Unlock()
		c.log.Warn("drawing context lost during restore", zap.Uint64("remount_key", key))
		c.notify(ContextLost)
		return nil
	}
	c.state = Active
	c.mu.Unlock()

	c.log.Info("drawing context restored", zap.Uint64("remount_key", key))
	c.notify(Active)
	return nil
}

// Subscribe registers fn for state changes. fn runs on the goroutine that
// caused the change, without controller locks held.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.lmu.Lock()
			delete(c.listeners, id)
			c.lmu.Unlock()
		})
	}
}

func (c *Controller) notify(s State) {
	c.lmu.Lock()
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Close disposes the current surface. The controller stays ContextLost
// and ignores restore signals afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.state = ContextLost
	return c.surface.Dispose()
}
