// Package basedata provides track and car configurations shared by tests.
package basedata

import (
	"github.com/mpapenbr/racesim/pkg/model"
)

// SampleTrackYAML is a straight along the x axis with three checkpoints.
const SampleTrackYAML = `name: straight
checkpoints:
  - {x: 50, y: 0}
  - {x: 100, y: 0}
  - {x: 150, y: 0}
terrain:
  height: 0
  min: [-100, -100]
  max: [300, 100]
scenery:
  - name: grandstand
    pos: [75, 40, 5]
    size: [60, 10, 10]
course:
  startposition:
    pos: [0, 0, 0]
    rot: [0, 0, 0]
`

const SampleCarJSON = `{
  "name": "buggy",
  "maxSpeed": 30,
  "acceleration": 10,
  "braking": 20,
  "turnRate": 1,
  "length": 4,
  "width": 2
}`

func SampleTrack() model.TrackConfig {
	return model.TrackConfig{
		Name: "straight",
		Checkpoints: []model.Checkpoint{
			{X: 50, Y: 0},
			{X: 100, Y: 0},
			{X: 150, Y: 0},
		},
		Terrain: model.TerrainConfig{
			Height: 0,
			Min:    [2]float64{-100, -100},
			Max:    [2]float64{300, 100},
		},
		Scenery: []model.SceneryObject{
			{Name: "grandstand", Pos: [3]float64{75, 40, 5}, Size: [3]float64{60, 10, 10}},
		},
	}
}

// SampleLoop has no scenery and starts at (10,20,0) facing +y.
func SampleLoop() model.TrackConfig {
	return model.TrackConfig{
		Name: "loop",
		Checkpoints: []model.Checkpoint{
			{X: 10, Y: 60},
			{X: 60, Y: 60},
			{X: 60, Y: 10},
		},
		Terrain: model.TerrainConfig{
			Height: 0,
			Min:    [2]float64{0, 0},
			Max:    [2]float64{100, 100},
		},
		Course: model.CourseConfig{
			StartPosition: model.StartPosition{
				Pos: [3]float64{10, 20, 0},
				Rot: [3]float64{0, 0, 1.5707963267948966},
			},
		},
	}
}

func SampleCar() model.CarConfig {
	return model.CarConfig{
		Name:         "buggy",
		MaxSpeed:     30,
		Acceleration: 10,
		Braking:      20,
		TurnRate:     1,
		Length:       4,
		Width:        2,
	}
}
