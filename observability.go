package ecs

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SystemStatus records what happened to a system during a step.
type SystemStatus uint8

const (
	// SystemPending means the system was never dispatched, usually because the
	// step aborted first.
	SystemPending SystemStatus = iota
	SystemExecuted
	SystemSkipped
	SystemFailed
)

func (s SystemStatus) String() string {
	switch s {
	case SystemExecuted:
		return "executed"
	case SystemSkipped:
		return "skipped"
	case SystemFailed:
		return "failed"
	default:
		return "pending"
	}
}

// SystemSummary captures one system's part in a step.
type SystemSummary struct {
	Name            string
	Stage           int
	Status          SystemStatus
	Duration        time.Duration
	Retried         bool
	Commands        int
	CommandsApplied int
	Err             error
}

// StepSummary captures execution metadata for one step. Systems are listed in
// plan order.
type StepSummary struct {
	Step            uint64
	Duration        time.Duration
	SystemsTotal    int
	SystemsExecuted int
	SystemsSkipped  int
	SystemsFailed   int
	CommandsApplied int
	Aborted         bool
	Err             error
	ReplayErr       error
	Systems         []SystemSummary
}

func (s *StepSummary) tally() {
	s.SystemsExecuted, s.SystemsSkipped, s.SystemsFailed = 0, 0, 0
	for _, sys := range s.Systems {
		switch sys.Status {
		case SystemExecuted:
			s.SystemsExecuted++
		case SystemSkipped:
			s.SystemsSkipped++
		case SystemFailed:
			s.SystemsFailed++
		}
	}
}

// StepObserver receives a summary after every step, aborted or not.
type StepObserver interface {
	StepCompleted(summary StepSummary)
}

// StepObserverFunc adapts a function to StepObserver.
type StepObserverFunc func(StepSummary)

func (f StepObserverFunc) StepCompleted(summary StepSummary) { f(summary) }

type noopObserver struct{}

func (noopObserver) StepCompleted(StepSummary) {}

type compositeObserver struct {
	observers []StepObserver
}

func (c compositeObserver) StepCompleted(summary StepSummary) {
	for _, observer := range c.observers {
		observer.StepCompleted(summary)
	}
}

func chainObservers(current, next StepObserver) StepObserver {
	switch cur := current.(type) {
	case nil, noopObserver:
		return next
	case compositeObserver:
		return compositeObserver{observers: append(append([]StepObserver(nil), cur.observers...), next)}
	default:
		return compositeObserver{observers: []StepObserver{cur, next}}
	}
}

type loggingObserver struct {
	logger *zap.Logger
}

// NewLoggingObserver logs one line per step, plus one line per failed system.
func NewLoggingObserver(logger *zap.Logger) StepObserver {
	if logger == nil {
		return noopObserver{}
	}
	return loggingObserver{logger: logger}
}

func (o loggingObserver) StepCompleted(summary StepSummary) {
	fields := []zap.Field{
		zap.Uint64("step", summary.Step),
		zap.Duration("duration", summary.Duration),
		zap.Int("systems_total", summary.SystemsTotal),
		zap.Int("systems_executed", summary.SystemsExecuted),
		zap.Int("systems_skipped", summary.SystemsSkipped),
		zap.Int("systems_failed", summary.SystemsFailed),
		zap.Int("commands_applied", summary.CommandsApplied),
	}
	for _, sys := range summary.Systems {
		if sys.Err != nil {
			o.logger.Warn("system summary",
				zap.Uint64("step", summary.Step),
				zap.String("system", sys.Name),
				zap.Bool("retried", sys.Retried),
				zap.Error(sys.Err),
			)
		}
	}
	switch {
	case summary.Aborted:
		o.logger.Error("step aborted", append(fields, zap.Error(summary.Err))...)
	case summary.ReplayErr != nil:
		o.logger.Warn("step summary", append(fields, zap.NamedError("replay_error", summary.ReplayErr))...)
	default:
		o.logger.Info("step summary", fields...)
	}
}

// MetricsOptions configures a MetricsCollector.
type MetricsOptions struct {
	// Writer, when set, receives the full exposition after every step.
	Writer          io.Writer
	DurationBuckets []time.Duration
}

// MetricsCollector aggregates step summaries and renders them in the
// Prometheus text exposition format.
type MetricsCollector struct {
	options *MetricsOptions
	mu      sync.Mutex
	steps   stepSample
	samples map[string]*systemSample
}

type stepSample struct {
	durationSum   float64
	durationCount float64
	aborted       float64
	applied       float64
	replayErrors  float64
}

type systemSample struct {
	durationSum   float64
	durationCount float64
	buckets       []float64
	executed      float64
	skipped       float64
	errors        float64
	retries       float64
}

// NewMetricsCollector returns an empty collector. A nil opts uses defaults.
func NewMetricsCollector(opts *MetricsOptions) *MetricsCollector {
	if opts == nil {
		opts = &MetricsOptions{}
	}
	return &MetricsCollector{
		options: opts,
		samples: make(map[string]*systemSample),
	}
}

// StepCompleted folds summary into the aggregates.
func (c *MetricsCollector) StepCompleted(summary StepSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps.durationSum += summary.Duration.Seconds()
	c.steps.durationCount++
	c.steps.applied += float64(summary.CommandsApplied)
	if summary.Aborted {
		c.steps.aborted++
	}
	if summary.ReplayErr != nil {
		c.steps.replayErrors++
	}

	for _, sys := range summary.Systems {
		sample, ok := c.samples[sys.Name]
		if !ok {
			sample = &systemSample{}
			if buckets := c.options.DurationBuckets; len(buckets) > 0 {
				sample.buckets = make([]float64, len(buckets))
			}
			c.samples[sys.Name] = sample
		}
		if sys.Retried {
			sample.retries++
		}
		switch sys.Status {
		case SystemSkipped:
			sample.skipped++
			continue
		case SystemFailed:
			sample.errors++
		case SystemExecuted:
			sample.executed++
		default:
			continue
		}
		durSeconds := sys.Duration.Seconds()
		sample.durationSum += durSeconds
		sample.durationCount++
		for i := range sample.buckets {
			if durSeconds <= c.options.DurationBuckets[i].Seconds() {
				sample.buckets[i]++
			}
		}
	}

	if writer := c.options.Writer; writer != nil {
		_ = c.writeMetricsLocked(writer)
	}
}

// WriteMetrics renders the current aggregates to w.
func (c *MetricsCollector) WriteMetrics(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeMetricsLocked(w)
}

func (c *MetricsCollector) writeMetricsLocked(w io.Writer) error {
	if w == nil {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteString("# HELP ecs_step_duration_seconds Step duration including command replay.\n")
	buf.WriteString("# TYPE ecs_step_duration_seconds summary\n")
	fmt.Fprintf(&buf, "ecs_step_duration_seconds_sum %f\n", c.steps.durationSum)
	fmt.Fprintf(&buf, "ecs_step_duration_seconds_count %f\n", c.steps.durationCount)
	writeCounter(&buf, "ecs_steps_aborted_total", "Aborted steps.", c.steps.aborted)
	writeCounter(&buf, "ecs_commands_applied_total", "Replayed commands.", c.steps.applied)
	writeCounter(&buf, "ecs_replay_errors_total", "Steps whose replay skipped operations.", c.steps.replayErrors)

	names := make([]string, 0, len(c.samples))
	for name := range c.samples {
		names = append(names, name)
	}
	sort.Strings(names)

	buf.WriteString("# HELP ecs_system_duration_seconds System execution duration.\n")
	buf.WriteString("# TYPE ecs_system_duration_seconds summary\n")
	for _, name := range names {
		sample := c.samples[name]
		labels := fmt.Sprintf("system=%q", name)
		fmt.Fprintf(&buf, "ecs_system_duration_seconds_sum{%s} %f\n", labels, sample.durationSum)
		fmt.Fprintf(&buf, "ecs_system_duration_seconds_count{%s} %f\n", labels, sample.durationCount)
		for i, bucket := range sample.buckets {
			le := c.options.DurationBuckets[i].Seconds()
			fmt.Fprintf(&buf, "ecs_system_duration_seconds_bucket{%s,le=\"%.6f\"} %f\n", labels, le, bucket)
		}
	}

	series := []struct {
		name, help string
		value      func(*systemSample) float64
	}{
		{"ecs_system_executed_total", "Successful system runs.", func(s *systemSample) float64 { return s.executed }},
		{"ecs_system_skipped_total", "Skipped system runs.", func(s *systemSample) float64 { return s.skipped }},
		{"ecs_system_errors_total", "Failed system runs.", func(s *systemSample) float64 { return s.errors }},
		{"ecs_system_retries_total", "System retries.", func(s *systemSample) float64 { return s.retries }},
	}
	for _, m := range series {
		fmt.Fprintf(&buf, "# HELP %s %s\n# TYPE %s counter\n", m.name, m.help, m.name)
		for _, name := range names {
			fmt.Fprintf(&buf, "%s{system=%q} %f\n", m.name, name, m.value(c.samples[name]))
		}
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func writeCounter(buf *bytes.Buffer, name, help string, value float64) {
	fmt.Fprintf(buf, "# HELP %s %s\n# TYPE %s counter\n%s %f\n", name, help, name, name, value)
}

// SpanOptions configures a SpanExporter.
type SpanOptions struct {
	Writer      io.Writer
	ServiceName string
}

// SpanExporter writes one JSON span per step and per executed system, one
// object per line, for ingestion by a tracing backend.
type SpanExporter struct {
	logger *zap.Logger
}

// NewSpanExporter writes spans to opts.Writer. Without a writer it discards them.
func NewSpanExporter(opts *SpanOptions) *SpanExporter {
	if opts == nil || opts.Writer == nil {
		return &SpanExporter{logger: zap.NewNop()}
	}
	service := opts.ServiceName
	if service == "" {
		service = "ecs-scheduler"
	}
	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		MessageKey:     "name",
		TimeKey:        "timestamp",
		EncodeTime:     zapcore.EpochNanosTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
	})
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(opts.Writer)), zapcore.DebugLevel)
	return &SpanExporter{logger: zap.New(core).With(zap.String("service_name", service))}
}

// StepCompleted writes a step span followed by one span per executed system.
func (e *SpanExporter) StepCompleted(summary StepSummary) {
	fields := []zap.Field{
		zap.Duration("duration_ms", summary.Duration),
		zap.Namespace("attributes"),
		zap.Uint64("step", summary.Step),
		zap.Int("systems_total", summary.SystemsTotal),
		zap.Int("systems_executed", summary.SystemsExecuted),
		zap.Int("systems_skipped", summary.SystemsSkipped),
		zap.Int("commands_applied", summary.CommandsApplied),
		zap.Bool("aborted", summary.Aborted),
	}
	if summary.Err != nil {
		fields = append(fields, zap.String("error", summary.Err.Error()))
	}
	e.logger.Info("step", fields...)

	for _, sys := range summary.Systems {
		if sys.Status != SystemExecuted && sys.Status != SystemFailed {
			continue
		}
		sysFields := []zap.Field{
			zap.Duration("duration_ms", sys.Duration),
			zap.Namespace("attributes"),
			zap.Uint64("step", summary.Step),
			zap.String("system", sys.Name),
			zap.Int("stage", sys.Stage),
			zap.Stringer("status", sys.Status),
			zap.Int("commands", sys.Commands),
			zap.Bool("retried", sys.Retried),
		}
		if sys.Err != nil {
			sysFields = append(sysFields, zap.String("error", sys.Err.Error()))
		}
		e.logger.Info("system:"+sys.Name, sysFields...)
	}
}
