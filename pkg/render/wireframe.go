package render

import (
	"github.com/taigrr/roomview/pkg/math3d"
)

// boxEdges indexes math3d.Box3.Corners: bit 0 selects max X, bit 1 max Y,
// bit 2 max Z.
var boxEdges = [12][2]int{
	{0, 1}, {2, 3}, {4, 5}, {6, 7}, // along X
	{0, 2}, {1, 3}, {4, 6}, {5, 7}, // along Y
	{0, 4}, {1, 5}, {2, 6}, {3, 7}, // along Z
}

// DrawBox draws the 12 edges of a local-space box after transform. It is
// used for the selection highlight.
func (r *Rasterizer) DrawBox(box math3d.Box3, transform math3d.Mat4, color Color) {
	if box.IsEmpty() {
		return
	}
	corners := box.Corners()
	for i := range corners {
		corners[i] = transform.MulVec3(corners[i])
	}
	for _, e := range boxEdges {
		r.DrawLine3D(corners[e[0]], corners[e[1]], color)
	}
}

// DrawGrid draws a square grid on the XZ plane at height y, centered on
// center.
func (r *Rasterizer) DrawGrid(center math3d.Vec3, size, step float64, color Color) {
	if step <= 0 || size <= 0 {
		return
	}
	half := size / 2
	for d := -half; d <= half+1e-9; d += step {
		r.DrawLine3D(
			math3d.V3(center.X+d, center.Y, center.Z-half),
			math3d.V3(center.X+d, center.Y, center.Z+half), color)
		r.DrawLine3D(
			math3d.V3(center.X-half, center.Y, center.Z+d),
			math3d.V3(center.X+half, center.Y, center.Z+d), color)
	}
}
