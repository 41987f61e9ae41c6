// Package normalize rescales scene graphs to real-world dimensions.
package normalize

import (
	"math"

	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/models"
)

const (
	// MinDimension replaces target dimensions that are not positive and
	// finite.
	MinDimension = 1e-3

	// Epsilon floors measured sizes so flat or degenerate axes never divide
	// by zero.
	Epsilon = 1e-6
)

// Anchor selects where the normalized graph sits relative to the origin.
type Anchor int

const (
	// Center puts the bounding-box center at the origin (previews).
	Center Anchor = iota
	// Floor centers X and Z and rests the minimum Y on Y=0 (placed objects).
	Floor
)

func (a Anchor) String() string {
	if a == Floor {
		return "floor"
	}
	return "center"
}

// Dimensions are target sizes along X (width), Y (height) and Z (length).
type Dimensions struct {
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
	Length float64 `yaml:"length" json:"length"`
}

// Vec3 returns the clamped dimensions as a vector.
func (d Dimensions) Vec3() math3d.Vec3 {
	return math3d.V3(clamp(d.Width), clamp(d.Height), clamp(d.Length))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return MinDimension
	}
	return v
}

// Normalize scales g so its world bounds measure dims and moves it to the
// anchor. The change is applied as a new root transform, so calling it again
// with the same dims leaves the graph unchanged. It returns the per-axis
// scale that was applied; an empty graph is left alone and reports (1,1,1).
//
// Axes narrower than Epsilon (a flat plane) cannot reach their target; they
// keep a scale of 1 and zero size. Bounds that are not finite leave the graph
// untouched.
func Normalize(g *models.SceneGraph, dims Dimensions, anchor Anchor) math3d.Vec3 {
	scale := math3d.One3()
	target := dims.Vec3()

	g.Update(func(root *models.Node) {
		b := models.WorldBounds(root)
		if b.IsEmpty() || !b.Min.IsFinite() || !b.Max.IsFinite() {
			return
		}
		size := b.Size()
		for i := range 3 {
			s := size.Axis(i)
			if s < Epsilon || math.IsInf(s, 0) {
				continue
			}
			if k := target.Axis(i) / s; k > 0 && !math.IsInf(k, 0) {
				scale = scale.WithAxis(i, k)
			}
		}

		// Scaling in world space maps the old bounds onto the new ones.
		b = math3d.NewBox(b.Min.Mul(scale), b.Max.Mul(scale))
		root.Local = math3d.Translate(offset(b, anchor)).Mul(math3d.Scale(scale)).Mul(root.Local)
	})
	return scale
}

// offset is the translation that moves b onto the anchor.
func offset(b math3d.Box3, anchor Anchor) math3d.Vec3 {
	c := b.Center()
	if anchor == Floor {
		return math3d.V3(-c.X, -b.Min.Y, -c.Z)
	}
	return c.Negate()
}

// Scaled reports whether g already measures dims within the relative
// tolerance tol.
func Scaled(g *models.SceneGraph, dims Dimensions, tol float64) bool {
	size := g.Bounds().Size()
	target := dims.Vec3()
	for i := range 3 {
		if math.Abs(size.Axis(i)-target.Axis(i)) > tol*target.Axis(i) {
			return false
		}
	}
	return true
}
