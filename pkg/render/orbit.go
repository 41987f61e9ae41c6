package render

import (
	"math"

	"github.com/charmbracelet/harmonica"

	"github.com/taigrr/roomview/pkg/math3d"
)

// Orbit limits.
const (
	MinPitch    = -math.Pi/2 + 0.05
	MaxPitch    = math.Pi/2 - 0.05
	MinDistance = 0.5
	MaxDistance = 100.0

	// Below this velocity (radians per frame) an axis counts as settled.
	restVelocity = 1e-4
)

// axis is one rotation angle whose velocity decays to zero through a
// critically damped spring.
type axis struct {
	Position float64
	Velocity float64
	spring   harmonica.Spring
	accel    float64
}

func newAxis(fps int) axis {
	return axis{spring: harmonica.NewSpring(harmonica.FPS(fps), 4.0, 1.0)}
}

func (a *axis) update() {
	a.Position += a.Velocity
	a.Velocity, a.accel = a.spring.Update(a.Velocity, a.accel, 0)
	if math.Abs(a.Velocity) < restVelocity && math.Abs(a.accel) < restVelocity {
		a.Velocity, a.accel = 0, 0
	}
}

func (a *axis) moving() bool {
	return a.Velocity != 0 || a.accel != 0
}

// Orbit is an orbit camera rig: yaw and pitch around a target at a
// distance. Impulses decay smoothly, and AutoRotate adds a constant yaw
// speed.
type Orbit struct {
	Target     math3d.Vec3
	Distance   float64
	AutoRotate float64 // radians per frame, 0 = off

	yaw, pitch axis
	fps        int
}

// NewOrbit creates a rig updated fps times per second.
func NewOrbit(fps int) *Orbit {
	if fps <= 0 {
		fps = 30
	}
	o := &Orbit{Distance: 5, fps: fps}
	o.Reset()
	return o
}

// Reset stops all motion and returns to the default angles.
func (o *Orbit) Reset() {
	o.yaw = newAxis(o.fps)
	o.pitch = newAxis(o.fps)
	o.pitch.Position = 0.35
}

// Yaw returns the current yaw in radians.
func (o *Orbit) Yaw() float64 { return o.yaw.Position }

// Pitch returns the current pitch in radians.
func (o *Orbit) Pitch() float64 { return o.pitch.Position }

// Impulse adds angular velocity.
func (o *Orbit) Impulse(dPitch, dYaw float64) {
	o.pitch.Velocity += dPitch
	o.yaw.Velocity += dYaw
}

// Zoom multiplies the distance by factor within the allowed range.
func (o *Orbit) Zoom(factor float64) {
	if factor <= 0 || math.IsNaN(factor) {
		return
	}
	o.Distance = math.Max(MinDistance, math.Min(MaxDistance, o.Distance*factor))
}

// Frame centers the rig on box at a distance that fits it in view.
func (o *Orbit) Frame(box math3d.Box3, cam *Camera) {
	if box.IsEmpty() {
		return
	}
	o.Target = box.Center()
	o.Distance = math.Max(MinDistance, math.Min(MaxDistance, cam.FitDistance(box)))
}

// Update advances one frame and reports whether the view changed.
func (o *Orbit) Update() bool {
	moving := o.Moving()
	o.yaw.Position += o.AutoRotate
	o.yaw.update()
	o.pitch.update()
	if o.pitch.Position > MaxPitch || o.pitch.Position < MinPitch {
		o.pitch.Position = math.Max(MinPitch, math.Min(MaxPitch, o.pitch.Position))
		o.pitch.Velocity, o.pitch.accel = 0, 0
	}
	return moving
}

// Moving reports whether the rig will change the view on the next Update.
func (o *Orbit) Moving() bool {
	return o.AutoRotate != 0 || o.yaw.moving() || o.pitch.moving()
}

// Apply positions cam according to the rig.
func (o *Orbit) Apply(cam *Camera) {
	cam.OrbitAround(o.Target, o.yaw.Position, o.pitch.Position, o.Distance)
}
