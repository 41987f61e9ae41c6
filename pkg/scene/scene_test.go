package scene

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taigrr/roomview/pkg/binder"
	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/models"
	"github.com/taigrr/roomview/pkg/normalize"
)

// objBox writes an axis-aligned box as its own OBJ object using relative
// indices.
func objBox(w *strings.Builder, name string, min, max math3d.Vec3) {
	fmt.Fprintf(w, "o %s\n", name)
	for _, c := range [8][3]bool{
		{false, false, false}, {true, false, false}, {true, true, false}, {false, true, false},
		{false, false, true}, {true, false, true}, {true, true, true}, {false, true, true},
	} {
		p := min
		if c[0] {
			p.X = max.X
		}
		if c[1] {
			p.Y = max.Y
		}
		if c[2] {
			p.Z = max.Z
		}
		fmt.Fprintf(w, "v %g %g %g\n", p.X, p.Y, p.Z)
	}
	w.WriteString("f -8 -7 -6 -5\nf -4 -1 -2 -3\nf -8 -4 -3 -7\nf -5 -6 -2 -1\nf -8 -5 -1 -4\nf -7 -3 -2 -6\n")
}

var roomDims = normalize.Dimensions{Width: 4, Height: 2.5, Length: 4}

// roomOBJ is a 4 x 2.5 x 4 room: a named floor and wall, a wall and a rug
// recognizable only by shape, and a ceiling and beam that are neither.
func roomOBJ() []byte {
	var w strings.Builder
	objBox(&w, "Floor", math3d.V3(0, 0, 0), math3d.V3(4, 0.05, 4))
	objBox(&w, "Wall_North", math3d.V3(0, 0, 0), math3d.V3(4, 2.5, 0.1))
	objBox(&w, "Panel", math3d.V3(3.9, 0, 0), math3d.V3(4, 2.5, 4))
	objBox(&w, "Rug", math3d.V3(1, 0.05, 1), math3d.V3(2, 0.06, 2))
	objBox(&w, "Ceiling", math3d.V3(0, 2.45, 0), math3d.V3(4, 2.5, 4))
	objBox(&w, "Beam", math3d.V3(1, 1, 1), math3d.V3(2, 2, 2))
	return []byte(w.String())
}

func chairOBJ() []byte {
	var w strings.Builder
	objBox(&w, "chair", math3d.V3(0, 0, 0), math3d.V3(1, 2, 1))
	return []byte(w.String())
}

func pngBytes(c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

var errNotFound = errors.New("404 not found")

// textures serves a fixed set of PNGs. URLs listed in gates block until the
// gate is closed.
type textures struct {
	files map[string][]byte
	gates map[string]chan struct{}
}

func newTextures() *textures {
	return &textures{
		files: map[string][]byte{
			"oak.png":    pngBytes(color.RGBA{R: 120, G: 80, B: 40, A: 255}),
			"paint.png":  pngBytes(color.RGBA{R: 230, G: 230, B: 210, A: 255}),
			"velvet.png": pngBytes(color.RGBA{R: 90, G: 10, B: 40, A: 255}),
			"linen.png":  pngBytes(color.RGBA{R: 220, G: 210, B: 190, A: 255}),
			"walnut.png": pngBytes(color.RGBA{R: 60, G: 40, B: 20, A: 255}),
		},
		gates: make(map[string]chan struct{}),
	}
}

func (tx *textures) gate(url string) chan struct{} {
	ch := make(chan struct{})
	tx.gates[url] = ch
	return ch
}

func (tx *textures) Fetch(ctx context.Context, url string) ([]byte, error) {
	if ch, ok := tx.gates[url]; ok {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	data, ok := tx.files[url]
	if !ok {
		return nil, errNotFound
	}
	return data, nil
}

func meshURLs(g *models.SceneGraph) map[string]string {
	out := make(map[string]string)
	g.View(func(root *models.Node) {
		models.Walk(root, func(m *models.Mesh, _ math3d.Mat4) {
			out[m.Name] = m.Material.TextureURL()
		})
	})
	return out
}

func loadChair(t *testing.T) *Item {
	t.Helper()
	item, err := LoadItem(context.Background(), models.NewLoader(), "chair", "Chair", chairOBJ(),
		normalize.Dimensions{Width: 0.5, Height: 1, Length: 0.5})
	require.NoError(t, err)
	return item
}

// recorder collects events published to a store.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) of(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestRoom(t *testing.T, tx *textures, opts ...RoomOption) (*Room, *recorder) {
	t.Helper()
	rec := &recorder{}
	store := NewStore()
	store.Subscribe(rec.record)
	r := NewRoom(binder.New(tx), append([]RoomOption{WithStore(store)}, opts...)...)
	t.Cleanup(func() { require.NoError(t, r.Close()) })
	return r, rec
}
