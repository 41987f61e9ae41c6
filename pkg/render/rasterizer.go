package render

import (
	"math"

	"github.com/taigrr/roomview/pkg/material"
	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/models"
)

// Lighting model: ambient floor plus Lambert diffuse, evaluated per vertex.
const (
	ambient = 0.3
	diffuse = 0.7
)

// Vertex is a world-space vertex ready for rasterization.
type Vertex struct {
	Position math3d.Vec3
	Normal   math3d.Vec3
	UV       math3d.Vec2
}

// Triangle is three world-space vertices, clockwise when front-facing.
type Triangle struct {
	V [3]Vertex
}

// Shading describes how a triangle's pixels are colored.
type Shading struct {
	Base        Color
	Texture     *material.Texture // nil for untextured
	DoubleSided bool
}

// ShadingFor resolves a material into shading. Missing or released
// materials and textures fall back to the default base color.
func ShadingFor(m *material.Material) Shading {
	if m == nil || m.Disposed() {
		return Shading{Base: material.DefaultColor}
	}
	s := Shading{Base: m.BaseColor, DoubleSided: m.DoubleSided}
	if m.Texture != nil && !m.Texture.Disposed() && m.Texture.Width > 0 {
		s.Texture = m.Texture
	}
	return s
}

// Rasterizer draws triangles into a framebuffer with a depth buffer.
type Rasterizer struct {
	camera       *Camera
	fb           *Framebuffer
	zbuffer      []float64
	frustum      Frustum
	frustumDirty bool
	Stats        Stats
}

// Stats counts work done since the last BeginFrame.
type Stats struct {
	MeshesTested    int
	MeshesCulled    int
	TrianglesDrawn  int
	TrianglesCulled int
}

// NewRasterizer creates a rasterizer drawing through camera into fb.
func NewRasterizer(camera *Camera, fb *Framebuffer) *Rasterizer {
	r := &Rasterizer{camera: camera, frustumDirty: true}
	r.SetFramebuffer(fb)
	return r
}

// Camera returns the camera.
func (r *Rasterizer) Camera() *Camera { return r.camera }

// Framebuffer returns the target framebuffer.
func (r *Rasterizer) Framebuffer() *Framebuffer { return r.fb }

// SetFramebuffer retargets the rasterizer and reallocates the depth buffer.
func (r *Rasterizer) SetFramebuffer(fb *Framebuffer) {
	r.fb = fb
	if fb == nil {
		r.zbuffer = nil
		return
	}
	r.zbuffer = make([]float64, fb.Width*fb.Height)
	r.ClearDepth()
}

// Width returns the framebuffer width.
func (r *Rasterizer) Width() int {
	if r.fb == nil {
		return 0
	}
	return r.fb.Width
}

// Height returns the framebuffer height.
func (r *Rasterizer) Height() int {
	if r.fb == nil {
		return 0
	}
	return r.fb.Height
}

// ClearDepth resets the depth buffer.
func (r *Rasterizer) ClearDepth() {
	n := len(r.zbuffer)
	if n == 0 {
		return
	}
	r.zbuffer[0] = math.MaxFloat64
	for i := 1; i < n; i *= 2 {
		copy(r.zbuffer[i:], r.zbuffer[:i])
	}
}

// BeginFrame clears color and depth, refreshes the frustum from the camera
// and resets the stats.
func (r *Rasterizer) BeginFrame(bg Color) {
	if r.fb != nil {
		r.fb.Clear(bg)
	}
	r.ClearDepth()
	r.frustumDirty = true
	r.Stats = Stats{}
}

// Frustum returns the current view frustum.
func (r *Rasterizer) Frustum() Frustum {
	if r.frustumDirty {
		r.frustum = r.camera.Frustum()
		r.frustumDirty = false
	}
	return r.frustum
}

// IsVisible tests a world-space box against the view frustum.
func (r *Rasterizer) IsVisible(box math3d.Box3) bool {
	return r.Frustum().IntersectsBox(box)
}

// DrawGraph draws every mesh in g with world applied on top of the node
// transforms. It holds the graph's read lock for the duration.
func (r *Rasterizer) DrawGraph(g *models.SceneGraph, world math3d.Mat4, lightDir math3d.Vec3) {
	g.View(func(root *models.Node) {
		models.Walk(root, func(m *models.Mesh, local math3d.Mat4) {
			r.DrawMesh(m, world.Mul(local), lightDir)
		})
	})
}

// DrawMesh draws a mesh with its bound material. Meshes whose bounds fall
// outside the frustum are skipped.
func (r *Rasterizer) DrawMesh(m *models.Mesh, transform math3d.Mat4, lightDir math3d.Vec3) {
	if m == nil || len(m.Faces) == 0 {
		return
	}
	r.Stats.MeshesTested++
	if !m.Bounds.IsEmpty() && !r.IsVisible(m.Bounds.Transform(transform)) {
		r.Stats.MeshesCulled++
		return
	}

	shade := ShadingFor(m.Material)
	light := lightDir.Normalize()
	for i := range m.Faces {
		face := m.GetFace(i)
		var tri Triangle
		for k, idx := range face {
			pos, normal, uv := m.GetVertex(idx)
			tri.V[k] = Vertex{
				Position: transform.MulVec3(pos),
				Normal:   transform.MulVec3Dir(normal).Normalize(),
				UV:       uv,
			}
		}
		r.DrawTriangle(tri, shade, light)
	}
}

type screenVertex struct {
	X, Y      float64
	Z         float64
	InvW      float64
	Intensity float64
	UV        math3d.Vec2
}

// DrawTriangle rasterizes one triangle with Gouraud lighting, optional
// perspective-correct texturing and depth testing. Back faces are culled
// unless the shading is double sided, in which case they are lit from the
// other side. lightDir must be normalized.
func (r *Rasterizer) DrawTriangle(tri Triangle, shade Shading, lightDir math3d.Vec3) {
	var sv [3]screenVertex
	viewProj := r.camera.ViewProjectionMatrix()
	w, h := float64(r.Width()), float64(r.Height())

	for i := range 3 {
		clip := viewProj.MulVec4(math3d.V4FromV3(tri.V[i].Position, 1))
		// No near-plane clipping: triangles crossing the camera plane are
		// dropped rather than drawn inside out.
		if clip.W <= 0 {
			r.Stats.TrianglesCulled++
			return
		}
		inv := 1 / clip.W
		sv[i] = screenVertex{
			X:    (clip.X*inv + 1) * 0.5 * w,
			Y:    (1 - clip.Y*inv) * 0.5 * h,
			Z:    clip.Z * inv,
			InvW: inv,
			UV:   tri.V[i].UV,
		}
	}

	e1x, e1y := sv[1].X-sv[0].X, sv[1].Y-sv[0].Y
	e2x, e2y := sv[2].X-sv[0].X, sv[2].Y-sv[0].Y
	cross := e1x*e2y - e1y*e2x
	if cross == 0 {
		return
	}
	back := cross < 0
	if back && !shade.DoubleSided {
		r.Stats.TrianglesCulled++
		return
	}

	for i := range 3 {
		n := tri.V[i].Normal
		if back {
			n = n.Negate()
		}
		sv[i].Intensity = ambient + diffuse*math.Max(0, n.Dot(lightDir))
	}

	minX := int(math.Max(0, math.Floor(min3(sv[0].X, sv[1].X, sv[2].X))))
	maxX := int(math.Min(w-1, math.Ceil(max3(sv[0].X, sv[1].X, sv[2].X))))
	minY := int(math.Max(0, math.Floor(min3(sv[0].Y, sv[1].Y, sv[2].Y))))
	maxY := int(math.Min(h-1, math.Ceil(max3(sv[0].Y, sv[1].Y, sv[2].Y))))
	if minX > maxX || minY > maxY {
		return
	}
	r.Stats.TrianglesDrawn++

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			px, py := float64(x)+0.5, float64(y)+0.5
			bc := barycentric(sv[0].X, sv[0].Y, sv[1].X, sv[1].Y, sv[2].X, sv[2].Y, px, py)
			if bc.X < 0 || bc.Y < 0 || bc.Z < 0 {
				continue
			}

			z := bc.X*sv[0].Z + bc.Y*sv[1].Z + bc.Z*sv[2].Z
			idx := y*r.fb.Width + x
			if z >= r.zbuffer[idx] {
				continue
			}

			// Perspective-correct attributes
			b0 := bc.X * sv[0].InvW
			b1 := bc.Y * sv[1].InvW
			b2 := bc.Z * sv[2].InvW
			invW := b0 + b1 + b2
			intensity := (b0*sv[0].Intensity + b1*sv[1].Intensity + b2*sv[2].Intensity) / invW

			c := shade.Base
			if shade.Texture != nil {
				u := (b0*sv[0].UV.X + b1*sv[1].UV.X + b2*sv[2].UV.X) / invW
				v := (b0*sv[0].UV.Y + b1*sv[1].UV.Y + b2*sv[2].UV.Y) / invW
				c = ModulateColor(shade.Texture.Sample(u, v), c)
			}

			r.zbuffer[idx] = z
			r.fb.SetPixel(x, y, MultiplyColor(c, intensity))
		}
	}
}

// DrawMeshWireframe draws a mesh's triangle edges without depth testing.
func (r *Rasterizer) DrawMeshWireframe(m *models.Mesh, transform math3d.Mat4, color Color) {
	for i := range m.Faces {
		f := m.GetFace(i)
		v0 := transform.MulVec3(m.Vertices[f[0]].Position)
		v1 := transform.MulVec3(m.Vertices[f[1]].Position)
		v2 := transform.MulVec3(m.Vertices[f[2]].Position)
		r.DrawLine3D(v0, v1, color)
		r.DrawLine3D(v1, v2, color)
		r.DrawLine3D(v2, v0, color)
	}
}

// DrawLine3D projects a world-space segment and draws it. Segments with an
// endpoint behind the camera are skipped.
func (r *Rasterizer) DrawLine3D(a, b math3d.Vec3, color Color) {
	viewProj := r.camera.ViewProjectionMatrix()
	clipA := viewProj.MulVec4(math3d.V4FromV3(a, 1))
	clipB := viewProj.MulVec4(math3d.V4FromV3(b, 1))
	if clipA.W <= 0 || clipB.W <= 0 {
		return
	}

	w, h := float64(r.Width()), float64(r.Height())
	x0 := int((clipA.X/clipA.W + 1) * 0.5 * w)
	y0 := int((1 - clipA.Y/clipA.W) * 0.5 * h)
	x1 := int((clipB.X/clipB.W + 1) * 0.5 * w)
	y1 := int((1 - clipB.Y/clipB.W) * 0.5 * h)

	// Bresenham walks every pixel between the endpoints; keep wildly
	// off-screen segments from stalling the frame.
	const limit = 1 << 14
	if abs(x0) > limit || abs(x1) > limit || abs(y0) > limit || abs(y1) > limit {
		return
	}
	r.fb.DrawLine(x0, y0, x1, y1, color)
}

// barycentric returns the barycentric weights of (px, py) in the triangle.
func barycentric(x0, y0, x1, y1, x2, y2, px, py float64) math3d.Vec3 {
	v0x, v0y := x2-x0, y2-y0
	v1x, v1y := x1-x0, y1-y0
	v2x, v2y := px-x0, py-y0

	dot00 := v0x*v0x + v0y*v0y
	dot01 := v0x*v1x + v0y*v1y
	dot02 := v0x*v2x + v0y*v2y
	dot11 := v1x*v1x + v1y*v1y
	dot12 := v1x*v2x + v1y*v2y

	invDenom := 1.0 / (dot00*dot11 - dot01*dot01)
	u := (dot11*dot02 - dot01*dot12) * invDenom
	v := (dot00*dot12 - dot01*dot02) * invDenom

	return math3d.V3(1-u-v, v, u)
}

func min3(a, b, c float64) float64 {
	return math.Min(a, math.Min(b, c))
}

func max3(a, b, c float64) float64 {
	return math.Max(a, math.Max(b, c))
}
