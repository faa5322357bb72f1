package model

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// CheckpointRadius is the distance (world units) at which a vehicle counts
// as having passed a checkpoint.
const CheckpointRadius = 18.0

var ErrInvalidConfig = errors.New("invalid config")

// Checkpoint is a point on the ground plane. Checkpoints are passed in the
// order given by the track, the last one is the finish.
type Checkpoint struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

type TrackConfig struct {
	Name        string          `json:"name" yaml:"name"`
	Checkpoints []Checkpoint    `json:"checkpoints" yaml:"checkpoints"`
	Terrain     TerrainConfig   `json:"terrain" yaml:"terrain"`
	Scenery     []SceneryObject `json:"scenery,omitempty" yaml:"scenery,omitempty"`
	Course      CourseConfig    `json:"course" yaml:"course"`
}

// TerrainConfig describes a flat ground patch between Min and Max (x,y).
type TerrainConfig struct {
	Height float64    `json:"height" yaml:"height"`
	Min    [2]float64 `json:"min" yaml:"min"`
	Max    [2]float64 `json:"max" yaml:"max"`
}

// SceneryObject is an axis aligned box centered at Pos.
type SceneryObject struct {
	Name string     `json:"name" yaml:"name"`
	Pos  [3]float64 `json:"pos" yaml:"pos"`
	Size [3]float64 `json:"size" yaml:"size"`
}

type CourseConfig struct {
	StartPosition StartPosition `json:"startposition" yaml:"startposition"`
}

// StartPosition holds the grid position. Rot is in radians, only the z
// component (rotation about the vertical axis) is used.
type StartPosition struct {
	Pos [3]float64 `json:"pos" yaml:"pos"`
	Rot [3]float64 `json:"rot" yaml:"rot"`
}

// ParseTrackConfig decodes a YAML track description and validates it.
func ParseTrackConfig(data []byte) (*TrackConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	cfg := &TrackConfig{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: track: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MinCheckpointSpacing keeps the detection circles of consecutive
// checkpoints from overlapping, so no position is within reach of two of them.
const MinCheckpointSpacing = 2 * CheckpointRadius

// Validate checks the track for values the race can't work with.
// Consecutive checkpoints must be at least MinCheckpointSpacing apart because
// a vehicle passes at most one checkpoint per simulation step.
func (c *TrackConfig) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: track %q: %s", ErrInvalidConfig, c.Name,
			fmt.Sprintf(format, args...))
	}
	if len(c.Checkpoints) == 0 {
		return invalid("no checkpoints")
	}
	for i, cp := range c.Checkpoints {
		if !finite(cp.X, cp.Y) {
			return invalid("checkpoint %d is not finite", i)
		}
		if i == 0 {
			continue
		}
		prev := c.Checkpoints[i-1]
		if math.Hypot(cp.X-prev.X, cp.Y-prev.Y) < MinCheckpointSpacing {
			return invalid("checkpoints %d and %d are closer than %.0f",
				i-1, i, MinCheckpointSpacing)
		}
	}
	if c.Terrain.Max[0] <= c.Terrain.Min[0] || c.Terrain.Max[1] <= c.Terrain.Min[1] {
		return invalid("terrain max must be greater than min")
	}
	sp := c.Course.StartPosition
	if !finite(sp.Pos[:]...) || !finite(sp.Rot[:]...) {
		return invalid("start position is not finite")
	}
	for i, s := range c.Scenery {
		if s.Size[0] <= 0 || s.Size[1] <= 0 || s.Size[2] <= 0 {
			return invalid("scenery %d (%s) has empty size", i, s.Name)
		}
	}
	return nil
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
