package math3d

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptyBox(t *testing.T) {
	b := EmptyBox()
	assert.True(t, b.IsEmpty())
	assert.Equal(t, Zero3(), b.Size())

	b = b.ExpandByPoint(V3(1, 2, 3))
	assert.False(t, b.IsEmpty())
	assert.Equal(t, Zero3(), b.Size())

	b = b.ExpandByPoint(V3(-1, 0, 5))
	assert.Equal(t, V3(2, 2, 2), b.Size())
	assert.Equal(t, V3(0, 1, 4), b.Center())
}

func TestBoxUnion(t *testing.T) {
	a := NewBox(V3(0, 0, 0), V3(1, 1, 1))
	b := NewBox(V3(-1, 0.5, 0), V3(0.5, 3, 1))

	u := a.Union(b)
	assert.Equal(t, V3(-1, 0, 0), u.Min)
	assert.Equal(t, V3(1, 3, 1), u.Max)

	assert.Equal(t, a, a.Union(EmptyBox()))
	assert.Equal(t, a, EmptyBox().Union(a))
}

func TestBoxTransform(t *testing.T) {
	b := NewBox(V3(-1, -1, -1), V3(1, 1, 1))

	moved := b.Transform(Translate(V3(5, 0, 0)))
	assert.True(t, moved.Min.ApproxEqual(V3(4, -1, -1), 1e-12))
	assert.True(t, moved.Max.ApproxEqual(V3(6, 1, 1), 1e-12))

	// A 45 degree turn around Y widens the X/Z extents by sqrt(2).
	turned := b.Transform(RotateY(math.Pi / 4))
	assert.InDelta(t, 2*math.Sqrt2, turned.Size().X, 1e-9)
	assert.InDelta(t, 2, turned.Size().Y, 1e-9)
}

func TestAxisAccess(t *testing.T) {
	v := V3(1, 2, 3)
	for i, want := range []float64{1, 2, 3} {
		assert.Equal(t, want, v.Axis(i))
	}
	assert.Equal(t, V3(1, 9, 3), v.WithAxis(1, 9))
	assert.Equal(t, V3(1, 2, 3), v, "WithAxis must not mutate the receiver")
}

func TestIsFinite(t *testing.T) {
	assert.True(t, V3(1, 2, 3).IsFinite())
	assert.False(t, V3(math.NaN(), 0, 0).IsFinite())
	assert.False(t, V3(0, math.Inf(-1), 0).IsFinite())
}

func TestQuatMatchesAxisRotation(t *testing.T) {
	angle := 0.7
	q := [4]float64{0, math.Sin(angle / 2), 0, math.Cos(angle / 2)}

	got := Quat(q).MulVec3(V3(1, 0, 0))
	want := RotateY(angle).MulVec3(V3(1, 0, 0))
	assert.True(t, got.ApproxEqual(want, 1e-12), "got %v want %v", got, want)

	assert.Equal(t, Identity(), Quat([4]float64{}))
}

func TestComposeOrder(t *testing.T) {
	m := Compose(V3(10, 0, 0), RotateZ(math.Pi/2), V3(2, 2, 2))

	// Scale first, then rotate, then translate.
	got := m.MulVec3(V3(1, 0, 0))
	assert.True(t, got.ApproxEqual(V3(10, 2, 0), 1e-12), "got %v", got)
}

func TestEulerIdentity(t *testing.T) {
	assert.Equal(t, Identity(), Euler(Zero3()))
}
