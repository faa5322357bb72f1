package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // by design
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/mpapenbr/racesim/log"
	"github.com/mpapenbr/racesim/pkg/config"
	"github.com/mpapenbr/racesim/pkg/fetch"
	"github.com/mpapenbr/racesim/pkg/model"
	"github.com/mpapenbr/racesim/pkg/race"
	"github.com/mpapenbr/racesim/pkg/runner"
	"github.com/mpapenbr/racesim/pkg/track"
)

type params struct {
	trackFile string
	cars      []string
	duration  float64
	throttle  float64
	realtime  bool
	timeScale float64
	watch     bool
}

var runParams params

//nolint:funlen // by design
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <track-file>",
		Short: "runs a headless race on a track",
		Long: `Loads the track, adds the cars and drives them with a constant throttle.
Checkpoint crossings are logged, the standings are printed at the end.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runParams.trackFile = args[0]
			return startRun(cmd.Context())
		},
	}
	cmd.Flags().StringSliceVar(&runParams.cars,
		"car",
		[]string{"buggy.json"},
		"car config to add (path relative to the car source), may be repeated")
	cmd.Flags().StringVar(&config.CarSource,
		"car-source",
		".",
		"base URL or directory of car configs")
	cmd.Flags().StringVar(&config.WaitForCarSource,
		"wait-for-car-source",
		"0s",
		"duration to wait for an HTTP car source to be ready")
	cmd.Flags().Float64Var(&runParams.duration,
		"duration",
		60,
		"simulated seconds to run")
	cmd.Flags().Float64Var(&runParams.throttle,
		"throttle",
		1,
		"constant throttle applied to all cars [-1,1]")
	cmd.Flags().BoolVar(&runParams.realtime,
		"realtime",
		false,
		"run in real time instead of as fast as possible")
	cmd.Flags().Float64Var(&runParams.timeScale,
		"time-scale",
		1,
		"speed factor in real time mode")
	cmd.Flags().BoolVar(&runParams.watch,
		"watch",
		false,
		"reload the track whenever the track file changes")
	cmd.Flags().Float64Var(&config.TimeStep,
		"time-step",
		race.DefaultTimeStep,
		"simulation time step in seconds")
	cmd.Flags().Float64Var(&config.StartDelay,
		"start-delay",
		race.DefaultStartDelay,
		"seconds before the cars are released")
	cmd.Flags().StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	cmd.Flags().StringVar(&config.LogFormat,
		"log-format",
		"text",
		"controls the log output format (json, text)")
	cmd.Flags().StringVar(&config.LogFilter,
		"log-filter",
		"",
		"zapfilter rules, e.g. '*:* -debug:race.runner'")
	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint",
		"",
		"Endpoint that receives open telemetry data (stdout if empty)")
	cmd.Flags().IntVar(&config.ProfilingPort,
		"profiling-port",
		0,
		"port to use for providing profiling data")
	return cmd
}

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

func setupLogger() (*log.Logger, error) {
	var logger *log.Logger
	switch config.LogFormat {
	case "json":
		logger = log.New(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	default:
		logger = log.DevLogger(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.DebugLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	}
	if config.LogFilter != "" {
		return logger.WithFilter(config.LogFilter)
	}
	return logger, nil
}

//nolint:funlen // by design
func startRun(ctx context.Context) error {
	logger, err := setupLogger()
	if err != nil {
		return err
	}
	log.ResetDefault(logger)
	defer log.Sync() //nolint:errcheck // nothing left to report to

	if config.ProfilingPort > 0 {
		log.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
		go func() {
			//nolint:gosec // by design
			err := http.ListenAndServe(
				fmt.Sprintf("localhost:%d", config.ProfilingPort),
				nil)
			if err != nil {
				log.Error("Profiling server stopped", log.ErrorField(err))
			}
		}()
	}

	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		if telemetry, err := config.SetupTelemetry(ctx); err == nil {
			defer telemetry.Shutdown()
		} else {
			log.Warn("Could not setup telemetry", log.ErrorField(err))
		}
		err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
		if err != nil {
			log.Warn("Could not start runtime metrics", log.ErrorField(err))
		}
	}

	fetcher, err := newFetcher(ctx)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	// the same car is usually added more than once
	standings, err := runRace(ctx, &runParams, fetch.NewCachingFetcher(fetcher))
	if err != nil {
		log.Error("race failed", log.ErrorField(err))
		return err
	}
	for _, s := range standings {
		fields := []log.Field{
			log.Int("pos", s.Pos),
			log.String("car", s.Name),
			log.Int("checkpoints", s.Checkpoints),
			log.Bool("finished", s.Finished),
		}
		if s.Checkpoints > 0 {
			fields = append(fields, log.Float("time", s.LastTime))
		}
		log.Info("standing", fields...)
	}
	return nil
}

func newFetcher(ctx context.Context) (fetch.Fetcher, error) {
	src := config.CarSource
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return fetch.NewFileFetcher(src), nil
	}
	wait, err := time.ParseDuration(config.WaitForCarSource)
	if err != nil {
		return nil, fmt.Errorf("invalid wait duration: %w", err)
	}
	if wait > 0 {
		if err := fetch.WaitForHTTPResponse(ctx, src, wait); err != nil {
			return nil, err
		}
	}
	return fetch.NewHTTPFetcher(src), nil
}

// runRace performs a complete race and returns the final standings.
//
//nolint:funlen,cyclop // by design
func runRace(ctx context.Context, p *params, fetcher fetch.Fetcher) ([]race.Standing, error) {
	if p.timeScale <= 0 {
		return nil, fmt.Errorf("time scale must be positive: %v", p.timeScale)
	}
	tr, err := track.Load(p.trackFile)
	if err != nil {
		return nil, err
	}
	r, err := race.New(tr,
		race.WithTimeStep(config.TimeStep),
		race.WithStartDelay(config.StartDelay),
		race.WithFetcher(fetcher),
		race.WithRunnerOptions(runner.WithTimeScale(p.timeScale)),
	)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	rn := r.Runner()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.OnAddVehicle(func(e race.AddVehicleEvent) {
		name := e.Vehicle.Config.Name
		e.Progress.OnAdvance(func(a race.AdvanceEvent) {
			idx := a.Progress.NextCheckpointIndex()
			if idx == 0 {
				return
			}
			times := a.Progress.CheckpointTimes()
			log.Info("checkpoint",
				log.String("car", name),
				log.Int("checkpoint", idx),
				log.Float("time", times[idx-1]-r.StartDelay()))
			if finish, ok := a.Progress.FinishTime(); ok {
				log.Info("finished", log.String("car", name),
					log.Float("time", finish-r.StartDelay()))
			}
			if r.Finished() {
				cancel()
			}
		})
	})
	r.OnSetTrack(func(e race.SetTrackEvent) {
		log.Info("track changed", log.String("track", e.Track.Name))
	})

	pending := len(p.cars)
	var errs []error
	for _, loc := range p.cars {
		r.AddCar(ctx, loc, func(prog *race.Progress, err error) {
			pending--
			if err != nil {
				errs = append(errs, err)
				return
			}
			prog.Vehicle().Controls.Throttle = p.throttle
		})
	}
	if err := rn.Await(ctx, func() bool { return pending == 0 }); err != nil {
		return nil, err
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if p.watch {
		if err := watchTrack(ctx, p.trackFile, r, rn); err != nil {
			return nil, err
		}
	}

	if p.realtime {
		err = runRealtime(ctx, p, rn)
	} else {
		_, err = rn.RunFor(ctx, p.duration)
	}
	// the race finishing early cancels ctx
	if err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	return r.Standings(), nil
}

func runRealtime(ctx context.Context, p *params, rn *runner.Runner) error {
	scaled := time.Duration(p.duration / p.timeScale * float64(time.Second))
	ctx, cancel := context.WithTimeout(ctx, scaled)
	defer cancel()
	err := rn.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

//nolint:whitespace // can't make both editor and linter happy
func watchTrack(
	ctx context.Context, path string, r *race.Race, rn *runner.Runner,
) error {
	w, err := track.NewWatcher(path, log.Default().Named("track.watcher"))
	if err != nil {
		return err
	}
	go w.Run(ctx, func(cfg *model.TrackConfig) {
		rn.Post(func() {
			r.SetTrackConfig(ctx, *cfg, nil)
		})
	})
	return nil
}
