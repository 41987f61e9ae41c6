package render

import (
	"os"
	"path/filepath"
	"testing"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"

	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/models"
	"github.com/taigrr/roomview/pkg/scene"
)

func viewingCamera() *Camera {
	cam := NewCamera()
	cam.SetPosition(math3d.V3(0, 0, 6))
	cam.LookAt(math3d.Zero3())
	return cam
}

func TestSoftwareSurfaceDraw(t *testing.T) {
	s := NewSoftwareSurface(80, 60)
	s.Background = ColorBlack
	cube := models.Placeholder().Graph
	sc := staticScene{
		{Graph: cube, World: math3d.Scale(math3d.V3(2, 2, 2))},
		{Instance: 7, Graph: cube, World: math3d.Translate(math3d.V3(30, 0, 0)), Highlight: true},
	}

	require.NoError(t, s.Submit(sc))
	assert.Equal(t, 1, s.Resident(), "the same graph is resident once")

	cam := viewingCamera()
	require.NoError(t, s.Draw(sc, cam))
	assert.InDelta(t, 80.0/60.0, cam.AspectRatio, 1e-9, "aspect follows the framebuffer")
	assert.Positive(t, countLit(s.Framebuffer()))

	stats := s.Stats()
	assert.Equal(t, 2, stats.MeshesTested)
	assert.Equal(t, 1, stats.MeshesCulled, "the off-screen instance is culled")
}

func TestSoftwareSurfaceHighlight(t *testing.T) {
	cube := models.Placeholder().Graph
	plain := staticScene{{Instance: 1, Graph: cube, World: math3d.Identity()}}
	selected := staticScene{{Instance: 1, Graph: cube, World: math3d.Identity(), Highlight: true}}

	a := NewSoftwareSurface(80, 60)
	require.NoError(t, a.Draw(plain, viewingCamera()))
	b := NewSoftwareSurface(80, 60)
	require.NoError(t, b.Draw(selected, viewingCamera()))

	highlighted := 0
	for _, p := range b.Framebuffer().Pixels {
		if p == ColorSelection {
			highlighted++
		}
	}
	assert.Positive(t, highlighted)
	assert.NotEqual(t, a.Framebuffer().Pixels, b.Framebuffer().Pixels)
}

func TestSoftwareSurfaceDispose(t *testing.T) {
	s := NewSoftwareSurface(10, 10)
	require.NoError(t, s.Submit(cubeScene()))
	require.NoError(t, s.Dispose())

	assert.Zero(t, s.Resident())
	assert.ErrorIs(t, s.Dispose(), ErrSurfaceDisposed)
	assert.ErrorIs(t, s.Submit(cubeScene()), ErrSurfaceDisposed)
	assert.ErrorIs(t, s.Draw(cubeScene(), NewCamera()), ErrSurfaceDisposed)
}

func TestControllerWithSoftwareSurface(t *testing.T) {
	var made []*SoftwareSurface
	c, err := NewController(func(uint64) (Surface, error) {
		s := NewSoftwareSurface(40, 30)
		made = append(made, s)
		return s, nil
	})
	require.NoError(t, err)
	defer c.Close()

	sc := staticScene{{Graph: models.Placeholder().Graph, World: math3d.Identity()}}
	require.NoError(t, c.Submit(sc))
	cam := viewingCamera()
	_, err = c.Frame(cam)
	require.NoError(t, err)
	before := append([]Color(nil), made[0].Framebuffer().Pixels...)

	c.LoseContext()
	require.NoError(t, c.RestoreContext())
	require.Len(t, made, 2)
	assert.Equal(t, 1, made[1].Resident())

	drawn, err := c.Frame(cam)
	require.NoError(t, err)
	require.True(t, drawn)
	assert.Equal(t, before, made[1].Framebuffer().Pixels, "the restored surface renders the same frame")
}

func TestFramebufferSave(t *testing.T) {
	fb := NewFramebuffer(4, 2)
	fb.Clear(RGB(10, 20, 30))
	dir := t.TempDir()

	png := filepath.Join(dir, "frame.png")
	require.NoError(t, fb.Save(png))

	path := filepath.Join(dir, "frame.webp")
	require.NoError(t, fb.Save(path))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := webp.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Width)
	assert.Equal(t, 2, cfg.Height)
}

func TestFramebufferTerminalDraw(t *testing.T) {
	fb := NewFramebuffer(3, 4)
	fb.SetPixel(0, 0, RGB(255, 0, 0))
	fb.SetPixel(0, 1, RGB(0, 0, 255))

	scr := uv.NewScreenBuffer(5, 3)
	fb.Draw(scr, scr.Bounds())

	cell := scr.CellAt(0, 0)
	require.NotNil(t, cell)
	assert.Equal(t, "▀", cell.Content)
	assert.Equal(t, RGB(255, 0, 0), cell.Style.Fg)
	assert.Equal(t, RGB(0, 0, 255), cell.Style.Bg)
	assert.Nil(t, scr.CellAt(1, 1).Style.Fg, "transparent pixels leave the color unset")

	DrawText(scr, 3, 2, "lost", ColorWhite, nil)
	assert.Equal(t, "l", scr.CellAt(3, 2).Content)
	assert.Equal(t, "o", scr.CellAt(4, 2).Content)
}

var _ Scene = (*scene.Room)(nil)
