package normalize

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/models"
)

// offsetCube returns a cube of the given size, rotated and moved away from
// the origin so normalization has real work to do.
func offsetCube(size math3d.Vec3) *models.SceneGraph {
	g := models.Placeholder().Graph
	g.Update(func(root *models.Node) {
		root.Local = math3d.Compose(math3d.V3(4, -2, 7), math3d.RotateY(0.3), size)
	})
	return g
}

func assertRelative(t *testing.T, want, got math3d.Vec3, tol float64) {
	t.Helper()
	for i := range 3 {
		assert.InDelta(t, want.Axis(i), got.Axis(i), tol*want.Axis(i), "axis %d: want %v got %v", i, want, got)
	}
}

func TestNormalizeHitsTargetDims(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for range 50 {
		dims := Dimensions{
			Width:  0.01 + rng.Float64()*10,
			Height: 0.01 + rng.Float64()*10,
			Length: 0.01 + rng.Float64()*10,
		}
		g := offsetCube(math3d.V3(0.2+rng.Float64()*5, 0.2+rng.Float64()*5, 0.2+rng.Float64()*5))

		scale := Normalize(g, dims, Center)
		require.True(t, scale.IsFinite())
		for i := range 3 {
			assert.Greater(t, scale.Axis(i), 0.0)
		}

		b := g.Bounds()
		assertRelative(t, dims.Vec3(), b.Size(), 1e-4)
		assert.True(t, b.Center().ApproxEqual(math3d.Zero3(), 1e-4), "center %v", b.Center())
		assert.True(t, Scaled(g, dims, 1e-4))
	}
}

func TestNormalizeNonFiniteBoundsKeepsUnitScale(t *testing.T) {
	g := models.Placeholder().Graph
	g.Update(func(root *models.Node) {
		models.Walk(root, func(m *models.Mesh, _ math3d.Mat4) {
			m.Vertices[0].Position.X = math.NaN()
			m.CalculateBounds()
		})
	})

	scale := Normalize(g, Dimensions{Width: 2, Height: 2, Length: 2}, Center)
	assert.Equal(t, math3d.One3(), scale)
}

func TestNormalizeFloorAnchor(t *testing.T) {
	g := offsetCube(math3d.V3(2, 3, 1))
	dims := Dimensions{Width: 4, Height: 2.5, Length: 5}
	Normalize(g, dims, Floor)

	b := g.Bounds()
	assertRelative(t, dims.Vec3(), b.Size(), 1e-4)
	assert.InDelta(t, 0, b.Min.Y, 1e-9)
	assert.InDelta(t, 0, b.Center().X, 1e-9)
	assert.InDelta(t, 0, b.Center().Z, 1e-9)
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, anchor := range []Anchor{Center, Floor} {
		t.Run(anchor.String(), func(t *testing.T) {
			g := offsetCube(math3d.V3(1, 2, 3))
			dims := Dimensions{Width: 0.8, Height: 1.9, Length: 0.6}

			Normalize(g, dims, anchor)
			first := g.Transform()
			scale := Normalize(g, dims, anchor)
			second := g.Transform()

			assert.True(t, scale.ApproxEqual(math3d.One3(), 1e-9), "second scale %v", scale)
			for i := range first {
				assert.InDelta(t, first[i], second[i], 1e-9)
			}
		})
	}
}

func TestNormalizeClampsDims(t *testing.T) {
	tests := []struct {
		name string
		dims Dimensions
	}{
		{"zero", Dimensions{}},
		{"negative", Dimensions{Width: -1, Height: -2, Length: -3}},
		{"nan", Dimensions{Width: math.NaN(), Height: math.Inf(1), Length: math.Inf(-1)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := offsetCube(math3d.V3(1, 1, 1))
			scale := Normalize(g, tc.dims, Center)

			assert.True(t, scale.IsFinite())
			size := g.Bounds().Size()
			for i := range 3 {
				assert.Greater(t, scale.Axis(i), 0.0)
				assert.InDelta(t, MinDimension, size.Axis(i), 1e-4*MinDimension)
			}
		})
	}
}

func TestNormalizeEmptyGraph(t *testing.T) {
	g := models.NewSceneGraph(nil)
	scale := Normalize(g, Dimensions{Width: 2, Height: 2, Length: 2}, Center)
	assert.Equal(t, math3d.One3(), scale)
	assert.Equal(t, math3d.Identity(), g.Transform())
}

func TestNormalizeFlatPlane(t *testing.T) {
	m := models.NewMesh("floor")
	m.Vertices = []models.MeshVertex{
		{Position: math3d.V3(-1, 0, -1)},
		{Position: math3d.V3(1, 0, -1)},
		{Position: math3d.V3(1, 0, 1)},
	}
	m.Faces = []models.Face{{V: [3]int{0, 2, 1}}}
	root := models.NewNode("root")
	root.Meshes = []*models.Mesh{m}
	g := models.NewSceneGraph(root)

	scale := Normalize(g, Dimensions{Width: 6, Height: 3, Length: 4}, Floor)
	assert.Equal(t, 1.0, scale.Y, "flat axis is left unscaled")

	size := g.Bounds().Size()
	assert.InDelta(t, 6, size.X, 1e-9)
	assert.InDelta(t, 0, size.Y, 1e-12)
	assert.InDelta(t, 4, size.Z, 1e-9)
}
