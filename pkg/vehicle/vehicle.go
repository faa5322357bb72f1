// Package vehicle contains a minimal kinematic car.
//
// Body local axes: +z is forward, +y is up. The race puts vehicles on the
// grid with a base orientation mapping local +z to world +x and local +y to
// world +z.
package vehicle

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/mpapenbr/racesim/pkg/model"
	"github.com/mpapenbr/racesim/pkg/sim"
)

var (
	localForward = mgl64.Vec3{0, 0, 1}
	worldUp      = mgl64.Vec3{0, 0, 1}
)

type (
	BodyRegistry interface {
		AddBody(b sim.Body)
	}

	// Body is the pose of a vehicle. Matrix is derived from Pos and Ori by
	// UpdateMatrices.
	Body struct {
		Pos    mgl64.Vec3
		Ori    mgl64.Quat
		Matrix mgl64.Mat4
	}

	// Controls are the driver inputs, both in [-1,1].
	// Negative throttle brakes, positive steer turns left.
	Controls struct {
		Throttle float64
		Steer    float64
	}

	Vehicle struct {
		Config   model.CarConfig
		Body     *Body
		Controls Controls
		// Disabled vehicles don't move and ignore their controls.
		Disabled bool
		speed    float64
	}
)

func NewBody() *Body {
	b := &Body{Ori: mgl64.QuatIdent()}
	b.UpdateMatrices()
	return b
}

func (b *Body) UpdateMatrices() {
	b.Ori = b.Ori.Normalize()
	b.Matrix = mgl64.Translate3D(b.Pos.X(), b.Pos.Y(), b.Pos.Z()).Mul4(b.Ori.Mat4())
}

// Forward returns the direction the body is pointing to in world space.
func (b *Body) Forward() mgl64.Vec3 {
	return b.Ori.Rotate(localForward)
}

// New creates a vehicle from cfg and registers it with the simulation.
func New(s BodyRegistry, cfg model.CarConfig) (*Vehicle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("creating vehicle: %w", err)
	}
	v := &Vehicle{
		Config: cfg,
		Body:   NewBody(),
	}
	s.AddBody(v)
	return v, nil
}

// Init prepares the vehicle for a (re)start at its current pose.
func (v *Vehicle) Init() {
	v.speed = 0
	v.Body.UpdateMatrices()
}

// Reset implements sim.Resetter
func (v *Vehicle) Reset() {
	v.speed = 0
}

func (v *Vehicle) Speed() float64 {
	return v.speed
}

// Step implements sim.Body
func (v *Vehicle) Step(dt float64) {
	if v.Disabled {
		v.speed = 0
		return
	}
	throttle := clamp(v.Controls.Throttle, -1, 1)
	if throttle >= 0 {
		v.speed = math.Min(v.speed+throttle*v.Config.Acceleration*dt, v.Config.MaxSpeed)
	} else {
		v.speed = math.Max(v.speed+throttle*v.Config.Braking*dt, 0)
	}
	if v.speed == 0 {
		return
	}

	if steer := clamp(v.Controls.Steer, -1, 1); steer != 0 && v.Config.TurnRate > 0 {
		yaw := mgl64.QuatRotate(steer*v.Config.TurnRate*dt, worldUp)
		v.Body.Ori = yaw.Mul(v.Body.Ori)
	}
	fwd := v.Body.Forward()
	planar := mgl64.Vec3{fwd.X(), fwd.Y(), 0}
	if l := planar.Len(); l > 0 {
		v.Body.Pos = v.Body.Pos.Add(planar.Mul(v.speed * dt / l))
	}
	v.Body.UpdateMatrices()
}

func clamp(val, lower, upper float64) float64 {
	return math.Max(lower, math.Min(upper, val))
}
