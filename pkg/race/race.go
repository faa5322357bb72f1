// Package race coordinates vehicles, their checkpoint progress and the track
// on top of a fixed step simulation.
//
// A Race is not safe for concurrent use. All methods must be called from the
// goroutine running the simulation (see package runner). Asynchronous
// operations post their completion to the scheduler of the race.
package race

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/mpapenbr/racesim/log"
	"github.com/mpapenbr/racesim/pkg/eventbus"
	"github.com/mpapenbr/racesim/pkg/fetch"
	"github.com/mpapenbr/racesim/pkg/model"
	"github.com/mpapenbr/racesim/pkg/runner"
	"github.com/mpapenbr/racesim/pkg/sim"
	"github.com/mpapenbr/racesim/pkg/track"
	"github.com/mpapenbr/racesim/pkg/vehicle"
)

const (
	DefaultTimeStep   = 1.0 / 150
	DefaultStartDelay = 3.0
)

var (
	ErrClosed    = errors.New("race closed")
	ErrNoFetcher = errors.New("no fetcher configured")
)

type (
	AddVehicleEvent struct {
		Vehicle  *vehicle.Vehicle
		Progress *Progress
	}
	DeleteVehicleEvent struct {
		Progress *Progress
	}
	SetTrackEvent struct {
		Track *track.Track
	}

	// Scheduler runs functions on the goroutine owning the race.
	Scheduler interface {
		Post(f func()) bool
	}

	AddCarCallback   func(p *Progress, err error)
	SetTrackCallback func(t *track.Track, err error)
	FatalHandler     func(err error)

	Option func(*Race)

	Race struct {
		track      *track.Track
		sim        *sim.Simulation
		progs      []*Progress
		vehicles   map[uuid.UUID]*vehicle.Vehicle
		timeStep   float64
		startDelay float64
		fetcher    fetch.Fetcher
		sched      Scheduler
		ownRunner  *runner.Runner
		runnerOpts []runner.Option
		fatal      FatalHandler
		geometry   []sim.Geometry // track geometry currently registered

		ctx         context.Context
		cancel      context.CancelFunc
		closed      bool
		unsubscribe func()

		onAddVehicle    *eventbus.Bus[AddVehicleEvent]
		onDeleteVehicle *eventbus.Bus[DeleteVehicleEvent]
		onSetTrack      *eventbus.Bus[SetTrackEvent]
		l               *log.Logger
	}
)

func WithTimeStep(seconds float64) Option {
	return func(r *Race) {
		r.timeStep = seconds
	}
}

// WithStartDelay sets the simulated time during which all vehicles are
// disabled and no progress is recorded.
func WithStartDelay(seconds float64) Option {
	return func(r *Race) {
		r.startDelay = seconds
	}
}

func WithLogger(l *log.Logger) Option {
	return func(r *Race) {
		r.l = l
	}
}

// WithFetcher sets the source used by AddCar.
func WithFetcher(f fetch.Fetcher) Option {
	return func(r *Race) {
		r.fetcher = f
	}
}

// WithScheduler replaces the runner the race creates by default.
func WithScheduler(s Scheduler) Option {
	return func(r *Race) {
		r.sched = s
	}
}

// WithRunnerOptions configures the runner created by New.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(r *Race) {
		r.runnerOpts = append(r.runnerOpts, opts...)
	}
}

// WithFatalHandler is called when AddCar fails and no callback was given.
// The default terminates the process via log.Fatal.
func WithFatalHandler(h FatalHandler) Option {
	return func(r *Race) {
		r.fatal = h
	}
}

// New creates a race on t. Unless WithScheduler is used, the race creates
// a runner for its simulation, available via Runner.
func New(t *track.Track, opts ...Option) (*Race, error) {
	r := &Race{
		track:           t,
		vehicles:        make(map[uuid.UUID]*vehicle.Vehicle),
		timeStep:        DefaultTimeStep,
		startDelay:      DefaultStartDelay,
		onAddVehicle:    eventbus.New[AddVehicleEvent]("race.addvehicle"),
		onDeleteVehicle: eventbus.New[DeleteVehicleEvent]("race.deletevehicle"),
		onSetTrack:      eventbus.New[SetTrackEvent]("race.settrack"),
		l:               log.Default().Named("race"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fatal == nil {
		r.fatal = func(err error) {
			r.l.Fatal("could not add car", log.ErrorField(err))
		}
	}
	s, err := sim.New(r.timeStep, sim.WithLogger(r.l.Named("sim")))
	if err != nil {
		return nil, err
	}
	r.sim = s
	if r.sched == nil {
		ro := append([]runner.Option{runner.WithLogger(r.l.Named("runner"))}, r.runnerOpts...)
		r.ownRunner = runner.New(s, ro...)
		r.sched = r.ownRunner
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.registerTrackGeometry()
	r.unsubscribe = s.OnStep(r.onSimStep)
	r.l.Debug("race created",
		log.String("track", t.Name),
		log.Float("timeStep", r.timeStep),
		log.Float("startDelay", r.startDelay))
	return r, nil
}

func (r *Race) OnAddVehicle(h eventbus.Handler[AddVehicleEvent]) func() {
	return r.onAddVehicle.Subscribe(h)
}

func (r *Race) OnDeleteVehicle(h eventbus.Handler[DeleteVehicleEvent]) func() {
	return r.onDeleteVehicle.Subscribe(h)
}

func (r *Race) OnSetTrack(h eventbus.Handler[SetTrackEvent]) func() {
	return r.onSetTrack.Subscribe(h)
}

func (r *Race) Simulation() *sim.Simulation {
	return r.sim
}

func (r *Race) Track() *track.Track {
	return r.track
}

// Runner returns the runner created by New, nil if WithScheduler was used.
func (r *Race) Runner() *runner.Runner {
	return r.ownRunner
}

func (r *Race) StartDelay() float64 {
	return r.startDelay
}

func (r *Race) Progresses() []*Progress {
	return slices.Clone(r.progs)
}

func (r *Race) Vehicle(id uuid.UUID) (*vehicle.Vehicle, bool) {
	v, ok := r.vehicles[id]
	return v, ok
}

// Restart puts all vehicles back on the grid and resets the clock.
func (r *Race) Restart() {
	for _, p := range r.progs {
		p.Restart()
		if v, ok := r.vehicles[p.VehicleID]; ok {
			r.SetupVehicle(v)
		}
	}
	r.sim.Restart()
	r.l.Info("race restarted", log.Int("vehicles", len(r.progs)))
}

// InterpolatedRaceTime is negative during the start delay.
func (r *Race) InterpolatedRaceTime() float64 {
	return r.sim.InterpolatedTime() - r.startDelay
}

// SetTrackConfig loads cfg onto the current track. On success the static
// geometry of the simulation is replaced, callback is called and a
// SetTrackEvent is published. Vehicles and their progress are not touched.
//
//nolint:whitespace // can't make both editor and linter happy
func (r *Race) SetTrackConfig(
	ctx context.Context,
	cfg model.TrackConfig,
	callback SetTrackCallback,
) {
	if r.closed {
		r.l.Debug("race closed, ignoring track config", log.String("track", cfg.Name))
		return
	}
	opCtx, cancel := r.operationContext(ctx)
	r.track.LoadWithConfig(opCtx, cfg, r.sched, func(err error) {
		cancel()
		if r.closed {
			return
		}
		if err != nil {
			err = fmt.Errorf("setting track %s: %w", cfg.Name, err)
			if callback != nil {
				callback(nil, err)
			} else {
				r.l.Error("could not set track", log.ErrorField(err))
			}
			return
		}
		r.registerTrackGeometry()
		if callback != nil {
			callback(r.track, nil)
		}
		r.onSetTrack.Publish(SetTrackEvent{Track: r.track})
	})
}

// AddCar fetches the car config at locator and adds the car once it arrived.
// Errors are passed to callback, or to the fatal handler if callback is nil.
//
//nolint:whitespace // can't make both editor and linter happy
func (r *Race) AddCar(
	ctx context.Context,
	locator string,
	callback AddCarCallback,
) {
	if r.closed {
		r.l.Debug("race closed, ignoring car", log.String("car", locator))
		return
	}
	fail := func(err error) {
		err = fmt.Errorf("adding car %s: %w", locator, err)
		if callback != nil {
			callback(nil, err)
		} else {
			r.fatal(err)
		}
	}
	if r.fetcher == nil {
		fail(ErrNoFetcher)
		return
	}
	opCtx, cancel := r.operationContext(ctx)
	fetcher := r.fetcher
	go func() {
		defer cancel()
		var cfg *model.CarConfig
		data, err := fetcher.Get(opCtx, locator)
		if err == nil {
			cfg, err = model.ParseCarConfig(data)
		}
		r.post(func() {
			if err != nil {
				fail(err)
				return
			}
			p, err := r.AddCarConfig(*cfg)
			if err != nil {
				fail(err)
				return
			}
			if callback != nil {
				callback(p, nil)
			}
		})
	}()
}

// AddCarConfig creates a vehicle on the grid and its progress tracker.
// Nothing is registered if the vehicle can't be created.
func (r *Race) AddCarConfig(cfg model.CarConfig) (*Progress, error) {
	if r.closed {
		return nil, ErrClosed
	}
	v, err := vehicle.New(r.sim, cfg)
	if err != nil {
		return nil, err
	}
	r.SetupVehicle(v)

	id := uuid.New()
	r.vehicles[id] = v
	p := NewProgress(r.track.Checkpoints, id, r.Vehicle)
	r.progs = append(r.progs, p)
	r.l.Info("car added",
		log.String("car", cfg.Name), log.String("id", id.String()))
	r.onAddVehicle.Publish(AddVehicleEvent{Vehicle: v, Progress: p})
	return p, nil
}

// SetupVehicle puts v on the start position of the track.
// The base orientation maps the vehicle forward axis to world +x, it is
// rotated about the vertical axis by the start rotation.
func (r *Race) SetupVehicle(v *vehicle.Vehicle) {
	pos, rot := r.track.StartPosition()
	v.Body.Ori = gridOrientation()
	v.Body.Pos = pos
	v.Body.Ori = mgl64.QuatRotate(rot, mgl64.Vec3{0, 0, 1}).Mul(v.Body.Ori)
	v.Body.UpdateMatrices()
	v.Init()
}

func gridOrientation() mgl64.Quat {
	return mgl64.Quat{W: 1, V: mgl64.Vec3{1, 1, 1}}.Normalize()
}

// DeleteCar removes p and its vehicle. Returns false if p is unknown.
func (r *Race) DeleteCar(p *Progress) bool {
	idx := slices.Index(r.progs, p)
	if idx == -1 {
		return false
	}
	r.progs = slices.Delete(r.progs, idx, idx+1)
	if v, ok := r.vehicles[p.VehicleID]; ok {
		r.sim.RemoveBody(v)
		delete(r.vehicles, p.VehicleID)
	}
	r.l.Info("car deleted", log.String("id", p.VehicleID.String()))
	r.onDeleteVehicle.Publish(DeleteVehicleEvent{Progress: p})
	return true
}

// Close detaches the race from its simulation and cancels pending fetches.
// Completions arriving later are ignored.
func (r *Race) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.cancel()
	r.unsubscribe()
	if r.ownRunner != nil {
		r.ownRunner.Close()
	}
	r.l.Debug("race closed")
}

func (r *Race) onSimStep(e sim.StepEvent) {
	disabled := r.sim.Time() < r.startDelay
	// handlers may delete cars while we iterate
	for _, p := range slices.Clone(r.progs) {
		if !disabled {
			p.Update(e.Time, r.sim.TimeStep())
		}
		if v, ok := r.vehicles[p.VehicleID]; ok {
			v.Disabled = disabled
		}
	}
}

func (r *Race) registerTrackGeometry() {
	for _, g := range r.geometry {
		r.sim.RemoveStaticObject(g)
	}
	r.sim.AddStaticObject(r.track.Terrain)
	if r.track.Scenery != nil {
		r.track.Scenery.AddToSim(r.sim)
	}
	r.geometry = r.track.Geometry()
}

// operationContext is cancelled by the caller or when the race is closed.
func (r *Race) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (r *Race) post(f func()) {
	ok := r.sched.Post(func() {
		if r.closed {
			return
		}
		f()
	})
	if !ok {
		r.l.Debug("scheduler closed, completion dropped")
	}
}
