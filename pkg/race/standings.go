package race

import (
	"cmp"
	"slices"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Standing struct {
	Pos         int
	VehicleID   uuid.UUID
	Name        string
	Checkpoints int     // number of checkpoints passed
	LastTime    float64 // crossing time of the last passed checkpoint
	Finished    bool
}

// Standings orders the vehicles by the number of passed checkpoints. Ties are
// resolved by the time the last of those checkpoints was crossed.
// Vehicles without any crossing keep the order they were added in.
func (r *Race) Standings() []Standing {
	ret := lo.Map(r.progs, func(p *Progress, _ int) Standing {
		s := Standing{
			VehicleID:   p.VehicleID,
			Checkpoints: p.NextCheckpointIndex(),
		}
		if v := p.Vehicle(); v != nil {
			s.Name = v.Config.Name
		}
		if times := p.times; len(times) > 0 {
			s.LastTime = times[len(times)-1]
		}
		_, s.Finished = p.FinishTime()
		return s
	})
	slices.SortStableFunc(ret, func(a, b Standing) int {
		if c := cmp.Compare(b.Checkpoints, a.Checkpoints); c != 0 {
			return c
		}
		return cmp.Compare(a.LastTime, b.LastTime)
	})
	for i := range ret {
		ret[i].Pos = i + 1
	}
	return ret
}

// Finished reports whether every vehicle passed the last checkpoint.
func (r *Race) Finished() bool {
	return len(r.progs) > 0 && lo.EveryBy(r.progs, func(p *Progress) bool {
		_, ok := p.FinishTime()
		return ok
	})
}
