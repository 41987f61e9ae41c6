package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"time"

	uv "github.com/charmbracelet/ultraviolet"
	"go.uber.org/zap"

	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/render"
	"github.com/taigrr/roomview/pkg/scene"
)

const (
	dragImpulse = 0.03 // radians per dragged cell
	keyImpulse  = 0.08
	zoomStep    = 1.1
	moveStep    = 0.1 // meters
	turnStep    = math.Pi / 12
)

// viewer is the interactive terminal loop. Everything except the controller
// is touched only by the goroutine running view.
type viewer struct {
	*session
	term  *uv.Terminal
	ctrl  *render.Controller
	cam   *render.Camera
	orbit *render.Orbit

	width, height int
	mouseDown     bool
	lastX, lastY  int
	overlayShown  bool
}

// view runs the terminal viewer until the user quits or ctx is done.
func (s *session) view(ctx context.Context) error {
	term := uv.DefaultTerminal()

	width, height, err := term.GetSize()
	if err != nil {
		return fmt.Errorf("get terminal size: %w", err)
	}
	if err := term.Start(); err != nil {
		return fmt.Errorf("start terminal: %w", err)
	}

	term.EnterAltScreen()
	term.HideCursor()
	term.Resize(width, height)

	fmt.Fprint(os.Stdout, "\x1b[?1003h") // Enable any-event mouse tracking
	fmt.Fprint(os.Stdout, "\x1b[?1006h") // Enable SGR extended mouse mode
	fmt.Fprint(os.Stdout, "\x1b[?1004h") // Report focus in/out

	defer func() {
		fmt.Fprint(os.Stdout, "\x1b[?1004l")
		fmt.Fprint(os.Stdout, "\x1b[?1003l")
		fmt.Fprint(os.Stdout, "\x1b[?1006l")
		term.ExitAltScreen()
		term.ShowCursor()
		term.Shutdown(context.Background())
	}()

	s.setSize(render.FramebufferSize(width, height))
	ctrl, err := s.newController()
	if err != nil {
		return err
	}
	defer ctrl.Close()

	// Any scene change, including a texture finishing in the background,
	// schedules a redraw. While the context is lost this fails and the
	// restore redraws anyway.
	unsubscribe := s.room.Store().Subscribe(func(scene.Event) { _ = ctrl.Invalidate() })
	defer unsubscribe()
	unwatch := ctrl.Subscribe(func(st render.State) {
		s.log.Debug("render state", zap.Stringer("state", st))
	})
	defer unwatch()

	fps := s.cfg.Viewer.FPS
	v := &viewer{
		session: s,
		term:    term,
		ctrl:    ctrl,
		cam:     render.NewCamera(),
		orbit:   render.NewOrbit(fps),
		width:   width,
		height:  height,
	}
	v.orbit.AutoRotate = s.cfg.Viewer.AutoRotate / float64(fps)
	v.frameRoom()

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	events := term.Events()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok || v.handle(ev) {
				return nil
			}
		case <-ticker.C:
			if err := v.frame(); err != nil {
				return err
			}
		}
	}
}

func (v *viewer) frameRoom() {
	v.orbit.Frame(v.bounds(), v.cam)
	v.orbit.Apply(v.cam)
	_ = v.ctrl.Invalidate()
}

// frame advances the orbit and redraws if anything changed.
func (v *viewer) frame() error {
	if v.orbit.Update() {
		_ = v.ctrl.Invalidate()
	}
	v.orbit.Apply(v.cam)

	if v.ctrl.State() != render.Active {
		return v.drawOverlay()
	}
	v.overlayShown = false

	drew, err := v.ctrl.Frame(v.cam)
	var lost *render.ContextLostError
	if errors.As(err, &lost) {
		return nil
	}
	if err != nil {
		return err
	}
	if !drew {
		return nil
	}

	surf, err := v.ctrl.Surface()
	if err != nil {
		return nil
	}
	if soft, ok := surf.(*render.SoftwareSurface); ok {
		v.term.Draw(soft.Framebuffer())
	}
	v.drawStatus()
	return v.term.Display()
}

// drawOverlay covers the last frame with the reconnect message, once per
// loss.
func (v *viewer) drawOverlay() error {
	if v.overlayShown {
		return nil
	}
	v.overlayShown = true
	msg := v.ctrl.Overlay()
	x := max(0, (v.width-len(msg))/2)
	render.DrawText(v.term, x, v.height/2, msg, render.ColorWhite, render.ColorError)
	return v.term.Display()
}

func (v *viewer) drawStatus() {
	status := fmt.Sprintf(" %d items", len(v.room.Instances()))
	if sel := v.room.Selected(); sel != 0 {
		if in, ok := v.room.Instance(sel); ok {
			status += fmt.Sprintf(" | selected #%d %s (%.1f, %.1f)", sel, in.ItemID, in.Position.X, in.Position.Z)
		}
	}
	if m := v.room.Model(); m.Failed() {
		status += " | " + m.Message()
	}
	render.DrawText(v.term, 0, v.height-1, status, render.ColorWhite, render.ColorBlack)
}

// handle applies one terminal event and reports whether to quit.
func (v *viewer) handle(ev uv.Event) bool {
	switch ev := ev.(type) {
	case uv.WindowSizeEvent:
		v.width, v.height = ev.Width, ev.Height
		v.term.Erase()
		v.term.Resize(v.width, v.height)
		fbw, fbh := render.FramebufferSize(v.width, v.height)
		v.setSize(fbw, fbh)
		if surf, err := v.ctrl.Surface(); err == nil {
			if soft, ok := surf.(*render.SoftwareSurface); ok {
				soft.Resize(fbw, fbh)
			}
		}
		_ = v.ctrl.Invalidate()
		return false

	case uv.BlurEvent:
		v.ctrl.LoseContext()
		return false

	case uv.FocusEvent:
		if err := v.ctrl.RestoreContext(); err != nil {
			v.log.Warn("restore drawing context", zap.Error(err))
		}
		return false

	case uv.KeyPressEvent:
		if ev.MatchString("ctrl+c", "q") {
			return true
		}
		if !v.ctrl.InteractionEnabled() {
			return false
		}
		if ev.MatchString("escape") {
			if v.room.Selected() == 0 {
				return true
			}
			v.room.SelectInstance(0)
			return false
		}
		v.key(ev)

	case uv.MouseClickEvent:
		v.mouseDown = true
		v.lastX, v.lastY = ev.X, ev.Y

	case uv.MouseReleaseEvent:
		v.mouseDown = false

	case uv.MouseMotionEvent:
		if v.mouseDown && v.ctrl.InteractionEnabled() {
			dx := ev.X - v.lastX
			dy := ev.Y - v.lastY
			v.orbit.Impulse(float64(dy)*dragImpulse, float64(dx)*dragImpulse)
			v.lastX, v.lastY = ev.X, ev.Y
		}

	case uv.MouseWheelEvent:
		if !v.ctrl.InteractionEnabled() {
			return false
		}
		switch ev.Button {
		case uv.MouseWheelUp:
			v.orbit.Zoom(1 / zoomStep)
		case uv.MouseWheelDown:
			v.orbit.Zoom(zoomStep)
		}
		_ = v.ctrl.Invalidate()
	}
	return false
}

func (v *viewer) key(ev uv.KeyPressEvent) {
	switch {
	case ev.MatchString("w"):
		v.orbit.Impulse(-keyImpulse, 0)
	case ev.MatchString("s"):
		v.orbit.Impulse(keyImpulse, 0)
	case ev.MatchString("a"):
		v.orbit.Impulse(0, -keyImpulse)
	case ev.MatchString("d"):
		v.orbit.Impulse(0, keyImpulse)
	case ev.MatchString("+", "="):
		v.orbit.Zoom(1 / zoomStep)
	case ev.MatchString("-", "_"):
		v.orbit.Zoom(zoomStep)
	case ev.MatchString("f"):
		v.frameRoom()
	case ev.MatchString("r"):
		v.orbit.Reset()
		v.frameRoom()
	case ev.MatchString("g"):
		v.cfg.Viewer.ShowGrid = !v.cfg.Viewer.ShowGrid
		if surf, err := v.ctrl.Surface(); err == nil {
			if soft, ok := surf.(*render.SoftwareSurface); ok {
				soft.ShowGrid = v.cfg.Viewer.ShowGrid
			}
		}
	case ev.MatchString("tab"):
		v.selectNext()
	case ev.MatchString("delete", "backspace"):
		if sel := v.room.Selected(); sel != 0 {
			v.room.DeleteInstance(sel)
			v.forget(sel)
		}
	case ev.MatchString("up"):
		v.nudge(math3d.V3(0, 0, -moveStep), 0)
	case ev.MatchString("down"):
		v.nudge(math3d.V3(0, 0, moveStep), 0)
	case ev.MatchString("left"):
		v.nudge(math3d.V3(-moveStep, 0, 0), 0)
	case ev.MatchString("right"):
		v.nudge(math3d.V3(moveStep, 0, 0), 0)
	case ev.MatchString(","):
		v.nudge(math3d.Zero3(), -turnStep)
	case ev.MatchString("."):
		v.nudge(math3d.Zero3(), turnStep)
	default:
		return
	}
	_ = v.ctrl.Invalidate()
}

func (v *viewer) selectNext() {
	insts := v.room.Instances()
	if len(insts) == 0 {
		return
	}
	cur := v.room.Selected()
	i := slices.IndexFunc(insts, func(in scene.Instance) bool { return in.ID == cur })
	v.room.SelectInstance(insts[(i+1)%len(insts)].ID)
}

// nudge moves and turns the selected instance.
func (v *viewer) nudge(delta math3d.Vec3, turn float64) {
	sel := v.room.Selected()
	in, ok := v.room.Instance(sel)
	if !ok {
		return
	}
	v.room.MoveInstance(sel, in.Position.Add(delta), in.Rotation.Add(math3d.V3(0, turn, 0)))
}
