package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSim struct {
	mu       sync.Mutex
	steps    int
	advanced float64
	advances int
}

func (s *fakeSim) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps++
}

func (s *fakeSim) Advance(elapsed float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advances++
	s.advanced += elapsed
	return 0
}

func (s *fakeSim) TimeStep() float64 { return 0.1 }

func TestRunFor_TasksBeforeSteps(t *testing.T) {
	sim := &fakeSim{}
	r := New(sim)

	var seen []int
	require.True(t, r.Post(func() { seen = append(seen, sim.steps) }))
	require.True(t, r.Post(func() {
		seen = append(seen, sim.steps)
		// posted from the loop, runs before the next step
		r.Post(func() { seen = append(seen, sim.steps) })
	}))

	n, err := r.RunFor(context.Background(), 1.0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 10, sim.steps)
	assert.Equal(t, []int{0, 0, 0}, seen)
}

func TestRunFor_Cancelled(t *testing.T) {
	sim := &fakeSim{}
	r := New(sim)
	ctx, cancel := context.WithCancel(context.Background())
	r.Post(cancel)

	n, err := r.RunFor(ctx, 1.0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
}

func TestClose(t *testing.T) {
	sim := &fakeSim{}
	r := New(sim)
	ran := false
	r.Post(func() { ran = true })
	r.Close()
	r.Close()

	assert.False(t, r.Post(func() {}))
	n, err := r.RunFor(context.Background(), 1.0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, n)
	assert.False(t, ran)
}

func TestClose_FromTaskSkipsRemaining(t *testing.T) {
	r := New(&fakeSim{})
	ran := false
	r.Post(r.Close)
	r.Post(func() { ran = true })
	err := r.Await(context.Background(), func() bool { return false })
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, ran)
}

func TestAwait(t *testing.T) {
	r := New(&fakeSim{})
	count := 0
	for range 3 {
		go func() {
			r.Post(func() { count++ })
		}()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Await(ctx, func() bool { return count == 3 }))
	assert.Equal(t, 3, count)
}

func TestAwait_Timeout(t *testing.T) {
	r := New(&fakeSim{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Await(ctx, func() bool { return false })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_AdvancesInRealTime(t *testing.T) {
	sim := &fakeSim{}
	r := New(sim, WithTickInterval(time.Millisecond), WithTimeScale(2))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	sim.mu.Lock()
	defer sim.mu.Unlock()
	assert.Positive(t, sim.advances)
	assert.Greater(t, sim.advanced, 0.0)
}

func TestRun_StopsOnClose(t *testing.T) {
	r := New(&fakeSim{}, WithTickInterval(time.Millisecond))
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	require.True(t, r.Post(r.Close))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
}
