// Package sim implements a fixed time step simulation clock.
//
// Every step advances all registered bodies by the step duration, moves the
// clock and then notifies the step subscribers. Subscribers therefore always
// see the fully updated state of the current step.
package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/racesim/log"
	"github.com/mpapenbr/racesim/pkg/eventbus"
)

const (
	instrumentationName = "github.com/mpapenbr/racesim/pkg/sim"
	// Advance never processes more real time than this in one call
	defaultMaxFrameTime = 0.25
)

var ErrInvalidTimeStep = errors.New("time step must be positive")

type (
	// StepEvent is published after each completed step.
	StepEvent struct {
		Time float64
		Step uint64
	}

	// Body is anything the simulation advances once per step.
	Body interface {
		Step(dt float64)
	}
	// Resetter is implemented by bodies with state to drop on Restart.
	Resetter interface {
		Reset()
	}
	// Geometry is static geometry registered with the simulation.
	// Implementations must be comparable (usually pointers).
	Geometry interface {
		Bounds() (lower, upper mgl64.Vec3)
	}

	Option func(*Simulation)

	Simulation struct {
		timeStep     float64
		steps        uint64
		accumulator  float64
		maxFrameTime float64
		bodies       []Body
		static       []Geometry
		stepping     bool
		onStep       *eventbus.Bus[StepEvent]
		stepCounter  metric.Int64Counter
		l            *log.Logger
	}
)

func WithLogger(l *log.Logger) Option {
	return func(s *Simulation) {
		s.l = l
	}
}

// WithMaxFrameTime limits the real time consumed by a single Advance call.
func WithMaxFrameTime(seconds float64) Option {
	return func(s *Simulation) {
		s.maxFrameTime = seconds
	}
}

func New(timeStep float64, opts ...Option) (*Simulation, error) {
	if timeStep <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimeStep, timeStep)
	}
	s := &Simulation{
		timeStep:     timeStep,
		maxFrameTime: defaultMaxFrameTime,
		onStep:       eventbus.New[StepEvent]("sim.step"),
		l:            log.Default().Named("sim"),
	}
	for _, opt := range opts {
		opt(s)
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"racesim.sim.steps",
		metric.WithDescription("Number of simulation steps"),
		metric.WithUnit("{count}"),
	)
	if err != nil {
		s.l.Warn("failed to register metric", log.ErrorField(err))
	}
	s.stepCounter = counter
	return s, nil
}

// Time is the simulated time of the last completed step.
func (s *Simulation) Time() float64 {
	return float64(s.steps) * s.timeStep
}

func (s *Simulation) TimeStep() float64 {
	return s.timeStep
}

func (s *Simulation) Steps() uint64 {
	return s.steps
}

// InterpolatedTime includes the real time accumulated since the last step.
// It is meant for smooth presentation, not for simulation logic.
func (s *Simulation) InterpolatedTime() float64 {
	return s.Time() + s.accumulator
}

func (s *Simulation) OnStep(h eventbus.Handler[StepEvent]) func() {
	return s.onStep.Subscribe(h)
}

func (s *Simulation) AddStaticObject(g Geometry) {
	if g == nil || slices.Contains(s.static, g) {
		return
	}
	s.static = append(s.static, g)
}

func (s *Simulation) RemoveStaticObject(g Geometry) bool {
	idx := slices.Index(s.static, g)
	if idx == -1 {
		return false
	}
	s.static = slices.Delete(s.static, idx, idx+1)
	return true
}

func (s *Simulation) StaticObjects() []Geometry {
	return slices.Clone(s.static)
}

func (s *Simulation) AddBody(b Body) {
	if b == nil || slices.Contains(s.bodies, b) {
		return
	}
	s.bodies = append(s.bodies, b)
}

func (s *Simulation) RemoveBody(b Body) bool {
	idx := slices.Index(s.bodies, b)
	if idx == -1 {
		return false
	}
	s.bodies = slices.Delete(s.bodies, idx, idx+1)
	return true
}

func (s *Simulation) NumBodies() int {
	return len(s.bodies)
}

// Restart resets the clock to zero and the state of all bodies.
func (s *Simulation) Restart() {
	s.steps = 0
	s.accumulator = 0
	for _, b := range s.bodies {
		if r, ok := b.(Resetter); ok {
			r.Reset()
		}
	}
	s.l.Debug("simulation restarted", log.Int("bodies", len(s.bodies)))
}

// Step performs exactly one simulation step.
func (s *Simulation) Step() {
	if s.stepping {
		s.l.Warn("step requested while stepping, ignored")
		return
	}
	s.stepping = true
	defer func() { s.stepping = false }()

	for _, b := range s.bodies {
		b.Step(s.timeStep)
	}
	s.steps++
	if s.stepCounter != nil {
		s.stepCounter.Add(context.Background(), 1)
	}
	s.onStep.Publish(StepEvent{Time: s.Time(), Step: s.steps})
}

// Advance consumes elapsed real time (seconds) and performs as many whole
// steps as fit. The remainder is kept for the next call and reflected by
// InterpolatedTime. Returns the number of steps performed.
func (s *Simulation) Advance(elapsed float64) int {
	if elapsed <= 0 {
		return 0
	}
	if s.maxFrameTime > 0 && elapsed > s.maxFrameTime {
		elapsed = s.maxFrameTime
	}
	s.accumulator += elapsed
	n := 0
	for s.accumulator >= s.timeStep {
		s.accumulator -= s.timeStep
		s.Step()
		n++
	}
	return n
}
