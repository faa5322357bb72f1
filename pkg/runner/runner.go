// Package runner provides the loop owning the simulation.
//
// All race and simulation calls happen on the goroutine executing one of the
// Run methods. Other goroutines hand work to the loop via Post.
package runner

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/mpapenbr/racesim/log"
)

const defaultTickInterval = 10 * time.Millisecond

var ErrClosed = errors.New("runner closed")

type (
	Stepper interface {
		Step()
		Advance(elapsed float64) int
		TimeStep() float64
	}

	Option func(*Runner)

	Runner struct {
		sim       Stepper
		interval  time.Duration
		timeScale float64
		l         *log.Logger

		mu      sync.Mutex
		pending []func()
		closed  bool
		notify  chan struct{}
		done    chan struct{}
	}
)

// WithTickInterval sets the real time between two Advance calls in Run.
func WithTickInterval(d time.Duration) Option {
	return func(r *Runner) {
		r.interval = d
	}
}

// WithTimeScale speeds up (>1) or slows down (<1) the simulation in Run.
func WithTimeScale(scale float64) Option {
	return func(r *Runner) {
		r.timeScale = scale
	}
}

func WithLogger(l *log.Logger) Option {
	return func(r *Runner) {
		r.l = l
	}
}

func New(sim Stepper, opts ...Option) *Runner {
	r := &Runner{
		sim:       sim,
		interval:  defaultTickInterval,
		timeScale: 1,
		l:         log.Default().Named("runner"),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Post queues f for execution on the loop. Tasks run in the order they were
// posted, always between two simulation steps. Returns false if the runner is
// closed, f will not run in that case.
func (r *Runner) Post(f func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.pending = append(r.pending, f)
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting work and drops pending tasks. A running Run returns.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if n := len(r.pending); n > 0 {
		r.l.Debug("dropping pending tasks", log.Int("tasks", n))
	}
	r.pending = nil
	close(r.done)
}

// Run advances the simulation in real time until ctx is done or the runner
// is closed. Posted tasks are executed as soon as they arrive.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	last := time.Now()
	r.l.Debug("running in real time",
		log.Duration("interval", r.interval), log.Float("timeScale", r.timeScale))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case <-r.notify:
			r.drain()
		case now := <-ticker.C:
			r.drain()
			r.sim.Advance(now.Sub(last).Seconds() * r.timeScale)
			last = now
		}
	}
}

// RunFor performs the steps covering duration seconds of simulated time as
// fast as possible. Pending tasks are executed before every step.
// Returns the number of steps performed.
func (r *Runner) RunFor(ctx context.Context, duration float64) (int, error) {
	steps := int(math.Round(duration / r.sim.TimeStep()))
	for i := range steps {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if r.isClosed() {
			return i, ErrClosed
		}
		r.drain()
		r.sim.Step()
	}
	r.drain()
	return steps, nil
}

// Await executes posted tasks without stepping until cond returns true.
// Use it to wait for asynchronous completions such as car fetches.
func (r *Runner) Await(ctx context.Context, cond func() bool) error {
	for {
		r.drain()
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return ErrClosed
		case <-r.notify:
		}
	}
}

func (r *Runner) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Runner) drain() {
	for {
		r.mu.Lock()
		tasks := r.pending
		r.pending = nil
		r.mu.Unlock()
		if len(tasks) == 0 {
			return
		}
		for _, f := range tasks {
			if r.isClosed() {
				return
			}
			f()
		}
	}
}
