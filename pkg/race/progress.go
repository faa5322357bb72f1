package race

import (
	"math"
	"slices"

	"github.com/google/uuid"

	"github.com/mpapenbr/racesim/pkg/eventbus"
	"github.com/mpapenbr/racesim/pkg/model"
	"github.com/mpapenbr/racesim/pkg/vehicle"
)

type (
	// AdvanceEvent is published on every crossing and on restart.
	AdvanceEvent struct {
		Progress *Progress
	}

	VehicleLookup func(id uuid.UUID) (*vehicle.Vehicle, bool)

	// Progress tracks one vehicle through the checkpoint sequence.
	//
	// A vehicle passes at most one checkpoint per call to Update. Tracks must
	// keep consecutive checkpoints at least model.MinCheckpointSpacing apart,
	// which model.TrackConfig.Validate enforces.
	Progress struct {
		VehicleID   uuid.UUID
		checkpoints []model.Checkpoint
		lookup      VehicleLookup
		nextIdx     int
		lastDistSq  float64
		times       []float64
		onAdvance   *eventbus.Bus[AdvanceEvent]
	}
)

// NewProgress creates a tracker for the vehicle identified by id.
// checkpoints is shared, it must not be modified afterwards.
func NewProgress(checkpoints []model.Checkpoint, id uuid.UUID, lookup VehicleLookup) *Progress {
	p := &Progress{
		VehicleID:   id,
		checkpoints: checkpoints,
		lookup:      lookup,
		onAdvance:   eventbus.New[AdvanceEvent]("progress.advance"),
	}
	p.Restart()
	return p
}

func (p *Progress) OnAdvance(h eventbus.Handler[AdvanceEvent]) func() {
	return p.onAdvance.Subscribe(h)
}

// Restart drops all recorded crossings.
func (p *Progress) Restart() {
	p.nextIdx = 0
	p.lastDistSq = 0
	p.times = nil
	p.onAdvance.Publish(AdvanceEvent{Progress: p})
}

// NextCheckpoint returns the checkpoint offset positions after the next one.
func (p *Progress) NextCheckpoint(offset int) (model.Checkpoint, bool) {
	idx := p.nextIdx + offset
	if idx < 0 || idx >= len(p.checkpoints) {
		return model.Checkpoint{}, false
	}
	return p.checkpoints[idx], true
}

// Update checks whether the vehicle reached the next checkpoint during the
// step that ended at simTime. The crossing time is interpolated linearly
// between the distances at the start and the end of the step.
func (p *Progress) Update(simTime, timeStep float64) {
	next, ok := p.NextCheckpoint(0)
	if !ok {
		return
	}
	v := p.Vehicle()
	if v == nil {
		return
	}
	dx := v.Body.Pos.X() - next.X
	dy := v.Body.Pos.Y() - next.Y
	distSq := dx*dx + dy*dy
	if distSq < model.CheckpointRadius*model.CheckpointRadius {
		frac := crossingFraction(math.Sqrt(p.lastDistSq), math.Sqrt(distSq))
		p.AdvanceCheckpoint(simTime - timeStep*frac)
	}
	p.lastDistSq = distSq
}

// crossingFraction is the part of the step (counted back from its end) that
// elapsed after the vehicle entered the checkpoint radius.
func crossingFraction(lastDist, dist float64) float64 {
	if lastDist == dist {
		return 0
	}
	frac := (lastDist - model.CheckpointRadius) / (lastDist - dist)
	return math.Max(0, math.Min(1, frac))
}

func (p *Progress) AdvanceCheckpoint(t float64) {
	p.nextIdx++
	p.times = append(p.times, t)
	p.onAdvance.Publish(AdvanceEvent{Progress: p})
}

// FinishTime is the crossing time of the last checkpoint, once reached.
func (p *Progress) FinishTime() (float64, bool) {
	if len(p.checkpoints) == 0 || len(p.times) < len(p.checkpoints) {
		return 0, false
	}
	return p.times[len(p.checkpoints)-1], true
}

func (p *Progress) NextCheckpointIndex() int {
	return p.nextIdx
}

func (p *Progress) CheckpointTimes() []float64 {
	return slices.Clone(p.times)
}

func (p *Progress) NumCheckpoints() int {
	return len(p.checkpoints)
}

// Vehicle returns nil once the vehicle was removed from the race.
func (p *Progress) Vehicle() *vehicle.Vehicle {
	if p.lookup == nil {
		return nil
	}
	v, ok := p.lookup(p.VehicleID)
	if !ok {
		return nil
	}
	return v
}
