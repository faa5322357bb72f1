//nolint:thelper // ok for tests
package run

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/racesim/pkg/config"
	"github.com/mpapenbr/racesim/pkg/fetch"
	"github.com/mpapenbr/racesim/pkg/race"
	"github.com/mpapenbr/racesim/testsupport/basedata"
)

func setup(t *testing.T) (dir string, p *params) {
	dir = t.TempDir()
	trackFile := filepath.Join(dir, "track.yml")
	require.NoError(t, os.WriteFile(trackFile, []byte(basedata.SampleTrackYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "buggy.json"),
		[]byte(basedata.SampleCarJSON), 0o600))

	config.TimeStep = race.DefaultTimeStep
	config.StartDelay = 1
	return dir, &params{
		trackFile: trackFile,
		cars:      []string{"buggy.json", "buggy.json"},
		duration:  60,
		throttle:  1,
		timeScale: 1,
	}
}

func TestRunRace_AllFinish(t *testing.T) {
	dir, p := setup(t)

	standings, err := runRace(context.Background(), p, fetch.NewFileFetcher(dir))
	require.NoError(t, err)

	require.Len(t, standings, 2)
	for i, s := range standings {
		assert.Equal(t, i+1, s.Pos)
		assert.Equal(t, "buggy", s.Name)
		assert.Equal(t, 3, s.Checkpoints)
		assert.True(t, s.Finished)
	}
}

func TestRunRace_CachedFetcher(t *testing.T) {
	dir, p := setup(t)

	standings, err := runRace(context.Background(), p,
		fetch.NewCachingFetcher(fetch.NewFileFetcher(dir)))
	require.NoError(t, err)
	assert.Len(t, standings, 2)
}

func TestRunRace_NoThrottle(t *testing.T) {
	dir, p := setup(t)
	p.throttle = 0
	p.duration = 5

	standings, err := runRace(context.Background(), p, fetch.NewFileFetcher(dir))
	require.NoError(t, err)
	require.Len(t, standings, 2)
	assert.Equal(t, 0, standings[0].Checkpoints)
	assert.False(t, standings[0].Finished)
}

func TestRunRace_MissingCar(t *testing.T) {
	dir, p := setup(t)
	p.cars = []string{"buggy.json", "nope.json"}

	_, err := runRace(context.Background(), p, fetch.NewFileFetcher(dir))
	assert.ErrorIs(t, err, fetch.ErrNotFound)
}

func TestRunRace_MissingTrack(t *testing.T) {
	dir, p := setup(t)
	p.trackFile = filepath.Join(dir, "none.yml")

	_, err := runRace(context.Background(), p, fetch.NewFileFetcher(dir))
	assert.Error(t, err)
}

func TestRunRace_InvalidTimeScale(t *testing.T) {
	dir, p := setup(t)
	p.timeScale = 0

	_, err := runRace(context.Background(), p, fetch.NewFileFetcher(dir))
	assert.Error(t, err)
}

func TestRunRace_Realtime(t *testing.T) {
	dir, p := setup(t)
	p.realtime = true
	p.duration = 0.2
	p.watch = true

	standings, err := runRace(context.Background(), p, fetch.NewFileFetcher(dir))
	require.NoError(t, err)
	assert.Len(t, standings, 2)
}

func TestNewFetcher(t *testing.T) {
	config.CarSource = t.TempDir()
	f, err := newFetcher(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &fetch.FileFetcher{}, f)

	config.CarSource = "http://localhost:1"
	config.WaitForCarSource = "0s"
	f, err = newFetcher(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &fetch.HTTPFetcher{}, f)

	config.WaitForCarSource = "soon"
	_, err = newFetcher(context.Background())
	assert.Error(t, err)
}
