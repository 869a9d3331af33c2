// Command lynxbench spawns a configurable population, runs the scheduler for a
// number of steps and reports step timings.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/profile"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	ecs "github.com/DangerosoDavo/lynx"
	"github.com/DangerosoDavo/lynx/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lynxbench: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a TOML or YAML config file")
	profileMode := flag.String("profile", "", "profile the run: cpu or mem")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	switch *profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	default:
		return eris.Errorf("unknown profile mode %q", *profileMode)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return eris.Wrap(err, "build logger")
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b, err := newBench(cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	var traceOut io.Writer
	if cfg.Scheduler.Trace {
		f, err := os.Create("lynxbench.trace")
		if err != nil {
			return eris.Wrap(err, "open trace file")
		}
		defer f.Close()
		traceOut = f
	}

	var stats stepStats
	err = b.sched.RunWithTrace(ctx, traceOut, func(ctx context.Context) error {
		var runErr error
		stats, runErr = b.run(ctx)
		return runErr
	})
	if err != nil {
		return err
	}
	fmt.Printf("entities=%d steps=%d workers=%d\n", cfg.Bench.Entities, stats.steps, b.sched.Workers())
	fmt.Printf("step min=%v max=%v avg=%v\n", stats.min, stats.max, stats.avg())
	fmt.Printf("alive=%d visible=%d respawned=%d\n", b.world.Len(), b.counters.Visible, b.counters.Respawned)
	return b.writeMetrics()
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

type stepStats struct {
	steps int
	total time.Duration
	min   time.Duration
	max   time.Duration
}

func (s *stepStats) add(d time.Duration) {
	if s.steps == 0 || d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
	s.total += d
	s.steps++
}

func (s *stepStats) avg() time.Duration {
	if s.steps == 0 {
		return 0
	}
	return s.total / time.Duration(s.steps)
}

type bench struct {
	cfg      *config.Config
	logger   *zap.Logger
	world    *ecs.World
	sched    *ecs.Scheduler
	metrics  *ecs.MetricsCollector
	spans    io.Closer
	counters *Counters
}

func newBench(cfg *config.Config, logger *zap.Logger) (*bench, error) {
	world := ecs.NewWorld(append(ecs.WorldOptionsFromConfig(cfg.World), ecs.WithLogger(logger))...)
	ids, err := registerComponents(world)
	if err != nil {
		return nil, err
	}

	b := &bench{cfg: cfg, logger: logger, world: world, counters: &Counters{}}
	ecs.SetResource(world, b.counters)

	opts := ecs.SchedulerOptionsFromConfig(cfg.Scheduler)
	if cfg.Metrics.Enabled {
		b.metrics = ecs.NewMetricsCollector(nil)
		opts = append(opts, ecs.WithObserver(b.metrics))
	}
	if cfg.Metrics.Spans != "" {
		f, err := os.Create(cfg.Metrics.Spans)
		if err != nil {
			return nil, eris.Wrap(err, "open span file")
		}
		b.spans = f
		opts = append(opts, ecs.WithObserver(ecs.NewSpanExporter(&ecs.SpanOptions{Writer: f, ServiceName: "lynxbench"})))
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		opts = append(opts, ecs.WithObserver(ecs.NewLoggingObserver(logger)))
	}
	b.sched = ecs.NewScheduler(world, opts...)

	if err := registerSystems(b.sched, ids); err != nil {
		b.close()
		return nil, err
	}
	if err := populate(world, cfg.Bench); err != nil {
		b.close()
		return nil, err
	}
	logger.Info("bench ready",
		zap.Int("entities", world.Len()),
		zap.Strings("plan", b.sched.Plan()),
		zap.Int("stages", len(b.sched.Stages())),
	)
	return b, nil
}

func (b *bench) run(ctx context.Context) (stepStats, error) {
	var stats stepStats
	dt := time.Duration(b.cfg.Bench.DeltaMillis) * time.Millisecond
	for i := 0; i < b.cfg.Bench.Steps; i++ {
		start := time.Now()
		if err := b.sched.Step(ctx, dt); err != nil {
			return stats, err
		}
		stats.add(time.Since(start))
	}
	return stats, nil
}

func (b *bench) writeMetrics() error {
	if b.metrics == nil {
		return nil
	}
	if b.cfg.Metrics.Path == "" || b.cfg.Metrics.Path == "-" {
		return b.metrics.WriteMetrics(os.Stdout)
	}
	f, err := os.Create(b.cfg.Metrics.Path)
	if err != nil {
		return eris.Wrap(err, "open metrics file")
	}
	defer f.Close()
	return b.metrics.WriteMetrics(f)
}

func (b *bench) close() {
	b.sched.Close()
	if b.spans != nil {
		_ = b.spans.Close()
	}
}

func populate(w *ecs.World, cfg config.BenchConfig) error {
	rng := rand.New(rand.NewSource(cfg.Seed))
	enemies := int(float64(cfg.Entities) * cfg.EnemyRatio)
	players := cfg.Entities - enemies

	spawned, err := ecs.SpawnBatch(w, players,
		Transform{}, RigidBody{}, Sprite{Atlas: 1}, HP{Current: 100, Max: 100}, Player{})
	if err != nil {
		return eris.Wrap(err, "spawn players")
	}
	for _, e := range spawned {
		body, _ := ecs.Get[RigidBody](w, e)
		body.VX = rng.Float32()*2 - 1
		body.VY = rng.Float32()*2 - 1
	}

	spawned, err = ecs.SpawnBatch(w, enemies,
		Transform{}, RigidBody{}, Sprite{Atlas: 2}, HP{Current: 30, Max: 30}, Enemy{})
	if err != nil {
		return eris.Wrap(err, "spawn enemies")
	}
	for _, e := range spawned {
		t, _ := ecs.Get[Transform](w, e)
		t.X = rng.Float32() * worldSize
		t.Y = rng.Float32() * worldSize
		hp, _ := ecs.Get[HP](w, e)
		hp.Current = 1 + rng.Int31n(hp.Max)
	}
	return nil
}
