package render

import (
	"math"
	"testing"

	"github.com/taigrr/roomview/pkg/math3d"
)

func TestPlaneDistanceToPoint(t *testing.T) {
	// Plane at Z=0, normal pointing +Z
	plane := Plane{Normal: math3d.V3(0, 0, 1), D: 0}

	tests := []struct {
		name     string
		point    math3d.Vec3
		expected float64
	}{
		{"origin", math3d.V3(0, 0, 0), 0},
		{"in front", math3d.V3(0, 0, 5), 5},
		{"behind", math3d.V3(0, 0, -3), -3},
		{"offset XY", math3d.V3(10, -5, 2), 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dist := plane.DistanceToPoint(tc.point)
			if math.Abs(dist-tc.expected) > 1e-9 {
				t.Errorf("got %v, want %v", dist, tc.expected)
			}
		})
	}
}

func TestPlaneNormalize(t *testing.T) {
	plane := Plane{Normal: math3d.V3(0, 3, 4), D: 10}
	plane.Normalize()

	if math.Abs(plane.Normal.Len()-1.0) > 1e-9 {
		t.Errorf("normalized normal length = %v, want 1.0", plane.Normal.Len())
	}
	if math.Abs(plane.Normal.Y-0.6) > 1e-9 || math.Abs(plane.Normal.Z-0.8) > 1e-9 {
		t.Errorf("normal = %v, want (0, 0.6, 0.8)", plane.Normal)
	}
	if math.Abs(plane.D-2.0) > 1e-9 {
		t.Errorf("D = %v, want 2.0", plane.D)
	}

	zero := Plane{D: 3}
	zero.Normalize()
	if zero.D != 3 {
		t.Error("degenerate plane should be left alone")
	}
}

func originFrustum(near, far float64) Frustum {
	proj := math3d.Perspective(math.Pi/3, 16.0/9.0, near, far)
	return NewFrustumFromMatrix(proj) // Camera at origin looking down -Z
}

func TestFrustumPlanesNormalized(t *testing.T) {
	for i, plane := range originFrustum(0.1, 100).Planes {
		if math.Abs(plane.Normal.Len()-1.0) > 1e-6 {
			t.Errorf("plane %d normal length = %v, want 1.0", i, plane.Normal.Len())
		}
	}
}

func TestFrustumContainsPoint(t *testing.T) {
	frustum := originFrustum(0.1, 100)

	tests := []struct {
		name     string
		point    math3d.Vec3
		expected bool
	}{
		{"center near", math3d.V3(0, 0, -1), true},
		{"center mid", math3d.V3(0, 0, -50), true},
		{"center far", math3d.V3(0, 0, -99), true},
		{"behind camera", math3d.V3(0, 0, 1), false},
		{"too far", math3d.V3(0, 0, -200), false},
		{"too close", math3d.V3(0, 0, -0.01), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := frustum.ContainsPoint(tc.point); got != tc.expected {
				t.Errorf("ContainsPoint(%v) = %v, want %v", tc.point, got, tc.expected)
			}
		})
	}
}

func TestFrustumIntersectsBox(t *testing.T) {
	frustum := originFrustum(1, 100)

	tests := []struct {
		name      string
		box       math3d.Box3
		intersect bool
		contained bool
	}{
		{"fully inside", math3d.NewBox(math3d.V3(-1, -1, -10), math3d.V3(1, 1, -5)), true, true},
		{"crosses near plane", math3d.NewBox(math3d.V3(-1, -1, -2), math3d.V3(1, 1, 2)), true, false},
		{"behind camera", math3d.NewBox(math3d.V3(-1, -1, 5), math3d.V3(1, 1, 10)), false, false},
		{"beyond far plane", math3d.NewBox(math3d.V3(-1, -1, -150), math3d.V3(1, 1, -120)), false, false},
		{"far to the right", math3d.NewBox(math3d.V3(100, -1, -10), math3d.V3(110, 1, -5)), false, false},
		{"contains frustum", math3d.NewBox(math3d.V3(-200, -200, -200), math3d.V3(200, 200, 200)), true, false},
		{"empty", math3d.EmptyBox(), false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := frustum.IntersectsBox(tc.box); got != tc.intersect {
				t.Errorf("IntersectsBox = %v, want %v", got, tc.intersect)
			}
			if got := frustum.ContainsBox(tc.box); got != tc.contained {
				t.Errorf("ContainsBox = %v, want %v", got, tc.contained)
			}
		})
	}
}

func TestCameraFrustumFollowsOrientation(t *testing.T) {
	cam := NewCamera()
	cam.SetPosition(math3d.Zero3())
	cam.LookAt(math3d.V3(10, 0, 0))
	frustum := cam.Frustum()

	if !frustum.ContainsPoint(math3d.V3(10, 0, 0)) {
		t.Error("point in front of rotated camera should be visible")
	}
	if frustum.ContainsPoint(math3d.V3(-10, 0, 0)) {
		t.Error("point behind rotated camera should not be visible")
	}
}

func BenchmarkFrustumIntersectsBox(b *testing.B) {
	frustum := originFrustum(1, 100)
	box := math3d.NewBox(math3d.V3(-1, -1, -10), math3d.V3(1, 1, -5))

	for b.Loop() {
		frustum.IntersectsBox(box)
	}
}

func BenchmarkFrustumExtraction(b *testing.B) {
	viewProj := math3d.Perspective(math.Pi/3, 16.0/9.0, 0.1, 100)

	for b.Loop() {
		NewFrustumFromMatrix(viewProj)
	}
}
