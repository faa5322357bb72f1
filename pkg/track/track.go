package track

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/mpapenbr/racesim/log"
	"github.com/mpapenbr/racesim/pkg/model"
	"github.com/mpapenbr/racesim/pkg/sim"
)

type (
	GeometryRegistry interface {
		AddStaticObject(g sim.Geometry)
	}

	// Scheduler runs f on the goroutine owning the track.
	// It returns false if f will never run.
	Scheduler interface {
		Post(f func()) bool
	}

	// Terrain is a flat ground patch.
	Terrain struct {
		Height float64
		Min    mgl64.Vec2
		Max    mgl64.Vec2
	}

	// Box is an axis aligned scenery object.
	Box struct {
		Name   string
		Center mgl64.Vec3
		Size   mgl64.Vec3
	}

	Scenery struct {
		Objects []*Box
	}

	Track struct {
		Name        string
		Config      model.TrackConfig
		Checkpoints []model.Checkpoint
		Terrain     *Terrain
		Scenery     *Scenery // nil if the track has none
		l           *log.Logger
	}

	Option func(*Track)

	layout struct {
		checkpoints []model.Checkpoint
		terrain     *Terrain
		scenery     *Scenery
	}
)

func (t *Terrain) Bounds() (lower, upper mgl64.Vec3) {
	return mgl64.Vec3{t.Min.X(), t.Min.Y(), t.Height},
		mgl64.Vec3{t.Max.X(), t.Max.Y(), t.Height}
}

func (b *Box) Bounds() (lower, upper mgl64.Vec3) {
	half := b.Size.Mul(0.5)
	return b.Center.Sub(half), b.Center.Add(half)
}

// AddToSim registers all scenery objects as static geometry.
func (s *Scenery) AddToSim(r GeometryRegistry) {
	for _, o := range s.Objects {
		r.AddStaticObject(o)
	}
}

// Geometry returns the terrain followed by all scenery objects.
func (t *Track) Geometry() []sim.Geometry {
	ret := []sim.Geometry{t.Terrain}
	if t.Scenery != nil {
		for _, o := range t.Scenery.Objects {
			ret = append(ret, o)
		}
	}
	return ret
}

func WithLogger(l *log.Logger) Option {
	return func(t *Track) {
		t.l = l
	}
}

// New builds a track from a validated copy of cfg.
func New(cfg model.TrackConfig, opts ...Option) (*Track, error) {
	t := &Track{l: log.Default().Named("track")}
	for _, opt := range opts {
		opt(t)
	}
	lay, err := buildLayout(&cfg)
	if err != nil {
		return nil, err
	}
	t.apply(&cfg, lay)
	return t, nil
}

// Load reads a YAML track file.
func Load(path string, opts ...Option) (*Track, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	return New(*cfg, opts...)
}

func ReadConfig(path string) (*model.TrackConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading track %s: %w", path, err)
	}
	cfg, err := model.ParseTrackConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parsing track %s: %w", path, err)
	}
	return cfg, nil
}

// StartPosition returns the grid position and the rotation about the
// vertical axis (radians).
func (t *Track) StartPosition() (pos mgl64.Vec3, rotZ float64) {
	sp := t.Config.Course.StartPosition
	return mgl64.Vec3{sp.Pos[0], sp.Pos[1], sp.Pos[2]}, sp.Rot[2]
}

// LoadWithConfig prepares cfg on a separate goroutine and applies it to t
// via sched. onDone is called through sched as well, after the track was
// updated, or with an error if cfg is invalid or ctx was cancelled first.
// The checkpoint slice is replaced, never modified in place, so holders of
// the previous slice keep a consistent sequence.
//
//nolint:whitespace // can't make both editor and linter happy
func (t *Track) LoadWithConfig(
	ctx context.Context,
	cfg model.TrackConfig,
	sched Scheduler,
	onDone func(error),
) {
	go func() {
		lay, err := buildLayout(&cfg)
		if err == nil {
			err = ctx.Err()
		}
		posted := sched.Post(func() {
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				t.l.Warn("track config rejected",
					log.String("track", cfg.Name), log.ErrorField(err))
			} else {
				t.apply(&cfg, lay)
				t.l.Info("track config loaded",
					log.String("track", t.Name),
					log.Int("checkpoints", len(t.Checkpoints)))
			}
			if onDone != nil {
				onDone(err)
			}
		})
		if !posted {
			t.l.Debug("track load completion dropped", log.String("track", cfg.Name))
		}
	}()
}

func (t *Track) apply(cfg *model.TrackConfig, lay *layout) {
	t.Name = cfg.Name
	t.Config = *cfg
	t.Checkpoints = lay.checkpoints
	t.Terrain = lay.terrain
	t.Scenery = lay.scenery
}

func buildLayout(cfg *model.TrackConfig) (*layout, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lay := &layout{
		checkpoints: slices.Clone(cfg.Checkpoints),
		terrain: &Terrain{
			Height: cfg.Terrain.Height,
			Min:    mgl64.Vec2{cfg.Terrain.Min[0], cfg.Terrain.Min[1]},
			Max:    mgl64.Vec2{cfg.Terrain.Max[0], cfg.Terrain.Max[1]},
		},
	}
	if len(cfg.Scenery) > 0 {
		lay.scenery = &Scenery{Objects: make([]*Box, 0, len(cfg.Scenery))}
		for _, s := range cfg.Scenery {
			lay.scenery.Objects = append(lay.scenery.Objects, &Box{
				Name:   s.Name,
				Center: mgl64.Vec3{s.Pos[0], s.Pos[1], s.Pos[2]},
				Size:   mgl64.Vec3{s.Size[0], s.Size[1], s.Size[2]},
			})
		}
	}
	return lay, nil
}
