package ecs_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	ecs "github.com/DangerosoDavo/lynx"
)

func TestMetricsCollectorWritesMetrics(t *testing.T) {
	collector := ecs.NewMetricsCollector(&ecs.MetricsOptions{
		DurationBuckets: []time.Duration{time.Millisecond, time.Second},
	})
	collector.StepCompleted(ecs.StepSummary{
		Step:            3,
		Duration:        5 * time.Millisecond,
		SystemsTotal:    3,
		CommandsApplied: 4,
		ReplayErr:       eris.New("boom"),
		Systems: []ecs.SystemSummary{
			{Name: "movement", Status: ecs.SystemExecuted, Duration: 500 * time.Microsecond},
			{Name: "reaper", Status: ecs.SystemSkipped},
			{Name: "damage", Status: ecs.SystemFailed, Retried: true, Duration: 2 * time.Millisecond},
		},
	})

	var buf bytes.Buffer
	require.NoError(t, collector.WriteMetrics(&buf))
	metrics := buf.String()
	for _, want := range []string{
		"ecs_step_duration_seconds_count 1.000000",
		"ecs_commands_applied_total 4.000000",
		"ecs_replay_errors_total 1.000000",
		`ecs_system_executed_total{system="movement"} 1.000000`,
		`ecs_system_skipped_total{system="reaper"} 1.000000`,
		`ecs_system_errors_total{system="damage"} 1.000000`,
		`ecs_system_retries_total{system="damage"} 1.000000`,
		`ecs_system_duration_seconds_bucket{system="movement",le="0.001000"} 1.000000`,
		`ecs_system_duration_seconds_bucket{system="damage",le="0.001000"} 0.000000`,
	} {
		assert.Contains(t, metrics, want)
	}
}

func TestMetricsCollectorStreamsToWriter(t *testing.T) {
	var buf bytes.Buffer
	collector := ecs.NewMetricsCollector(&ecs.MetricsOptions{Writer: &buf})
	collector.StepCompleted(ecs.StepSummary{Aborted: true})
	assert.Contains(t, buf.String(), "ecs_steps_aborted_total 1.000000")
}

func TestSpanExporterWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	exporter := ecs.NewSpanExporter(&ecs.SpanOptions{Writer: &buf, ServiceName: "ecs-test"})
	exporter.StepCompleted(ecs.StepSummary{
		Step:            13,
		Duration:        10 * time.Millisecond,
		SystemsTotal:    2,
		SystemsExecuted: 1,
		Systems: []ecs.SystemSummary{
			{Name: "movement", Stage: 0, Status: ecs.SystemExecuted, Duration: time.Millisecond, Commands: 2},
			{Name: "idle", Status: ecs.SystemSkipped},
		},
	})

	var spans []map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var payload map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &payload))
		spans = append(spans, payload)
	}
	require.Len(t, spans, 2, "skipped systems produce no span")

	step := spans[0]
	assert.Equal(t, "step", step["name"])
	assert.Equal(t, "ecs-test", step["service_name"])
	assert.Equal(t, 10.0, step["duration_ms"])
	attrs, ok := step["attributes"].(map[string]any)
	require.True(t, ok, "attributes missing in %v", step)
	assert.Equal(t, 13.0, attrs["step"])

	sys := spans[1]
	assert.Equal(t, "system:movement", sys["name"])
	sysAttrs, ok := sys["attributes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "executed", sysAttrs["status"])
	assert.Equal(t, 2.0, sysAttrs["commands"])
}

func TestSpanExporterWithoutWriter(t *testing.T) {
	exporter := ecs.NewSpanExporter(nil)
	assert.NotPanics(t, func() { exporter.StepCompleted(ecs.StepSummary{}) })
}

func TestLoggingObserver(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	obs := ecs.NewLoggingObserver(zap.New(core))

	obs.StepCompleted(ecs.StepSummary{Step: 1})
	obs.StepCompleted(ecs.StepSummary{
		Step:    2,
		Aborted: true,
		Err:     ecs.ErrStepAborted,
		Systems: []ecs.SystemSummary{{Name: "damage", Err: eris.New("bad input")}},
	})
	obs.StepCompleted(ecs.StepSummary{Step: 3, ReplayErr: ecs.ErrStaleHandle})

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "system summary", entries[1].Message)
	assert.Equal(t, "damage", entries[1].ContextMap()["system"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "step aborted", entries[2].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[3].Level)
	assert.Contains(t, entries[3].ContextMap(), "replay_error")

	assert.NotPanics(t, func() { ecs.NewLoggingObserver(nil).StepCompleted(ecs.StepSummary{}) })
}

func TestSchedulerFeedsObservers(t *testing.T) {
	f := newFixture(t)
	f.spawn(t, Position{}, Velocity{DX: 1})

	var spans bytes.Buffer
	collector := ecs.NewMetricsCollector(nil)
	sched := ecs.NewScheduler(f.world,
		ecs.WithWorkers(1),
		ecs.WithObserver(collector),
		ecs.WithObserver(ecs.NewSpanExporter(&ecs.SpanOptions{Writer: &spans})),
	)
	t.Cleanup(sched.Close)
	require.NoError(t, sched.RegisterSystem("movement", ids(f.velocity), ids(f.position),
		func(w *ecs.World, cmd *ecs.CommandBuffer) error {
			cmd.Create()
			return nil
		}))

	require.NoError(t, sched.Run(context.Background(), 2, time.Millisecond))

	var buf bytes.Buffer
	require.NoError(t, collector.WriteMetrics(&buf))
	assert.Contains(t, buf.String(), `ecs_system_executed_total{system="movement"} 2.000000`)
	assert.Contains(t, buf.String(), "ecs_commands_applied_total 2.000000")
	assert.Contains(t, spans.String(), `"name":"system:movement"`)
	assert.Contains(t, spans.String(), `"service_name":"ecs-scheduler"`)
}
