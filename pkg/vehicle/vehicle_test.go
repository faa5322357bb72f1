package vehicle

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/racesim/pkg/model"
	"github.com/mpapenbr/racesim/pkg/sim"
)

type registry struct {
	bodies []sim.Body
}

func (r *registry) AddBody(b sim.Body) {
	r.bodies = append(r.bodies, b)
}

func sampleCar() model.CarConfig {
	return model.CarConfig{Name: "buggy", MaxSpeed: 10, Acceleration: 5, Braking: 20, TurnRate: 1}
}

// gridOri maps local forward to world +x
func gridOri() mgl64.Quat {
	return mgl64.Quat{W: 1, V: mgl64.Vec3{1, 1, 1}}.Normalize()
}

func newVehicle(t *testing.T) *Vehicle {
	t.Helper()
	v, err := New(&registry{}, sampleCar())
	require.NoError(t, err)
	v.Body.Ori = gridOri()
	return v
}

func TestNew_RegistersBody(t *testing.T) {
	reg := &registry{}
	v, err := New(reg, sampleCar())
	require.NoError(t, err)
	assert.Equal(t, []sim.Body{v}, reg.bodies)
	assert.True(t, v.Body.Ori.ApproxEqual(mgl64.QuatIdent()))
}

func TestNew_InvalidConfig(t *testing.T) {
	reg := &registry{}
	_, err := New(reg, model.CarConfig{Name: "broken"})
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
	assert.Empty(t, reg.bodies)
}

func TestStep_AcceleratesToMaxSpeed(t *testing.T) {
	v := newVehicle(t)
	v.Controls.Throttle = 1

	v.Step(1)
	assert.InDelta(t, 5, v.Speed(), 1e-9)
	assert.InDelta(t, 5, v.Body.Pos.Len(), 1e-9)

	v.Step(1)
	v.Step(1)
	assert.InDelta(t, 10, v.Speed(), 1e-9)
}

func TestStep_MovesAlongHeadingOnGround(t *testing.T) {
	v := newVehicle(t)
	v.Body.Pos = mgl64.Vec3{0, 0, 2}
	v.Controls.Throttle = 1

	v.Step(1)

	assert.InDelta(t, 5, v.Body.Pos.X(), 1e-9)
	assert.InDelta(t, 0, v.Body.Pos.Y(), 1e-9)
	assert.InDelta(t, 2, v.Body.Pos.Z(), 1e-9)
	assert.InDelta(t, 5, v.Body.Matrix.At(0, 3), 1e-9)
}

func TestStep_Brakes(t *testing.T) {
	v := newVehicle(t)
	v.Controls.Throttle = 1
	v.Step(1)
	v.Controls.Throttle = -1
	v.Step(1)
	assert.Equal(t, 0.0, v.Speed())
}

func TestStep_Steers(t *testing.T) {
	v := newVehicle(t)
	v.Controls = Controls{Throttle: 1, Steer: 1}

	v.Step(math.Pi / 2)

	fwd := v.Body.Forward()
	assert.InDelta(t, 0, fwd.X(), 1e-9)
	assert.InDelta(t, 1, fwd.Y(), 1e-9)
}

func TestStep_DisabledHoldsStill(t *testing.T) {
	v := newVehicle(t)
	v.Controls.Throttle = 1
	v.Step(1)
	pos := v.Body.Pos

	v.Disabled = true
	v.Step(1)

	assert.Equal(t, 0.0, v.Speed())
	assert.Equal(t, pos, v.Body.Pos)
}

func TestInitAndReset(t *testing.T) {
	v := newVehicle(t)
	v.Controls.Throttle = 1
	v.Step(1)
	v.Reset()
	assert.Equal(t, 0.0, v.Speed())

	v.Step(1)
	v.Body.Pos = mgl64.Vec3{3, 4, 5}
	v.Init()
	assert.Equal(t, 0.0, v.Speed())
	assert.InDelta(t, 3, v.Body.Matrix.At(0, 3), 1e-9)
	assert.InDelta(t, 4, v.Body.Matrix.At(1, 3), 1e-9)
	assert.InDelta(t, 5, v.Body.Matrix.At(2, 3), 1e-9)
	assert.Equal(t, 1.0, v.Controls.Throttle, "controls survive init")
}
