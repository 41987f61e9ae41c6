package render

import (
	"errors"
	"sync"

	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/models"
	"github.com/taigrr/roomview/pkg/scene"
)

// ErrSurfaceDisposed is returned by a surface used after Dispose.
var ErrSurfaceDisposed = errors.New("render: surface disposed")

// Scene is anything that can list what to draw; *scene.Room is one.
type Scene interface {
	Drawables() []scene.Drawable
}

// Surface is a drawing target whose resources can be lost. Submit makes a
// scene's graphs resident, Draw renders a frame and Dispose releases
// everything the surface holds.
type Surface interface {
	Submit(sc Scene) error
	Draw(sc Scene, cam *Camera) error
	Dispose() error
}

// SoftwareSurface rasterizes scenes into a Framebuffer.
type SoftwareSurface struct {
	Background Color
	LightDir   math3d.Vec3
	ShowGrid   bool

	mu       sync.Mutex
	rast     *Rasterizer
	resident map[*models.SceneGraph]struct{}
	disposed bool
}

// NewSoftwareSurface creates a width x height surface.
func NewSoftwareSurface(width, height int) *SoftwareSurface {
	return &SoftwareSurface{
		Background: RGB(30, 30, 40),
		LightDir:   math3d.V3(0.5, 1, 0.3).Normalize(),
		rast:       NewRasterizer(NewCamera(), NewFramebuffer(width, height)),
		resident:   make(map[*models.SceneGraph]struct{}),
	}
}

// Framebuffer returns the surface's color buffer.
func (s *SoftwareSurface) Framebuffer() *Framebuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rast.Framebuffer()
}

// Stats returns the rasterizer stats of the last frame.
func (s *SoftwareSurface) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rast.Stats
}

// Resize reallocates the color and depth buffers.
func (s *SoftwareSurface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.rast.SetFramebuffer(NewFramebuffer(width, height))
}

// Resident returns how many graphs have been submitted.
func (s *SoftwareSurface) Resident() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resident)
}

// Submit records sc's graphs as resident. Graphs no longer in the scene are
// dropped.
func (s *SoftwareSurface) Submit(sc Scene) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrSurfaceDisposed
	}
	s.submitLocked(sc.Drawables())
	return nil
}

func (s *SoftwareSurface) submitLocked(ds []scene.Drawable) {
	clear(s.resident)
	for _, d := range ds {
		if d.Graph != nil {
			s.resident[d.Graph] = struct{}{}
		}
	}
}

// Draw renders one frame of sc as seen from cam. The camera's aspect ratio
// is matched to the framebuffer.
func (s *SoftwareSurface) Draw(sc Scene, cam *Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrSurfaceDisposed
	}

	fb := s.rast.Framebuffer()
	if fb.Width > 0 && fb.Height > 0 {
		if aspect := float64(fb.Width) / float64(fb.Height); aspect != cam.AspectRatio {
			cam.SetAspectRatio(aspect)
		}
	}
	s.rast.camera = cam
	s.rast.BeginFrame(s.Background)

	ds := sc.Drawables()
	s.submitLocked(ds)

	if s.ShowGrid && len(ds) > 0 && ds[0].Instance == 0 {
		b := ds[0].Graph.Bounds()
		if !b.IsEmpty() {
			size := b.Size()
			s.rast.DrawGrid(math3d.V3(b.Center().X, b.Min.Y, b.Center().Z), max(size.X, size.Z), 0.5, ColorGrid)
		}
	}

	light := s.LightDir.Normalize()
	for _, d := range ds {
		if d.Graph == nil {
			continue
		}
		s.rast.DrawGraph(d.Graph, d.World, light)
	}
	for _, d := range ds {
		if d.Highlight && d.Graph != nil {
			s.rast.DrawBox(d.Graph.Bounds(), d.World, ColorSelection)
		}
	}
	return nil
}

// Dispose releases the buffers. Further calls fail with ErrSurfaceDisposed.
func (s *SoftwareSurface) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrSurfaceDisposed
	}
	s.disposed = true
	clear(s.resident)
	s.rast.SetFramebuffer(NewFramebuffer(0, 0))
	return nil
}
