package ecs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// System is a unit of per-step logic with declared component access.
type System interface {
	Descriptor() SystemDescriptor
	Run(ctx context.Context, exec *ExecutionContext) SystemResult
}

// SystemDescriptor describes a system's component access and scheduling
// preferences. Two systems conflict when one writes a component the other
// reads or writes.
type SystemDescriptor struct {
	Name   string
	Reads  []ComponentID
	Writes []ComponentID
	// After names systems that must finish before this one in every step.
	After       []string
	RunEvery    TickInterval
	ErrorPolicy ErrorPolicy
}

// TickInterval controls how frequently a system runs.
type TickInterval struct {
	Every  uint32
	Offset uint32
}

// ErrorPolicy defines how the scheduler responds to system failures.
type ErrorPolicy uint8

const (
	// ErrorPolicyAbort aborts the step and discards every buffer.
	ErrorPolicyAbort ErrorPolicy = iota
	// ErrorPolicyContinue discards the failed system's commands and carries on.
	ErrorPolicyContinue
	// ErrorPolicyRetry reruns the system once before aborting.
	ErrorPolicyRetry
)

func (p ErrorPolicy) String() string {
	switch p {
	case ErrorPolicyContinue:
		return "continue"
	case ErrorPolicyRetry:
		return "retry"
	default:
		return "abort"
	}
}

// SystemResult indicates how a system behaved during execution.
type SystemResult struct {
	Skipped bool
	Err     error
}

// ExecutionContext supplies a system with scoped access to the world.
type ExecutionContext struct {
	world    *World
	commands *CommandBuffer
	dt       time.Duration
	step     uint64
	logger   *zap.Logger
}

func (c *ExecutionContext) World() *World { return c.world }

// Commands returns the buffer structural changes must be recorded into.
func (c *ExecutionContext) Commands() *CommandBuffer { return c.commands }

func (c *ExecutionContext) TimeDelta() time.Duration { return c.dt }

func (c *ExecutionContext) StepIndex() uint64 { return c.step }

func (c *ExecutionContext) Logger() *zap.Logger { return c.logger }

// SystemFunc is the body of a system registered with RegisterSystem.
type SystemFunc func(w *World, cmd *CommandBuffer) error

type funcSystem struct {
	desc SystemDescriptor
	body SystemFunc
}

func (s *funcSystem) Descriptor() SystemDescriptor { return s.desc }

func (s *funcSystem) Run(_ context.Context, exec *ExecutionContext) SystemResult {
	return SystemResult{Err: s.body(exec.World(), exec.Commands())}
}

// SystemOption adjusts the descriptor of a system registered with RegisterSystem.
type SystemOption func(*SystemDescriptor)

// RunAfter orders the system after the named systems.
func RunAfter(names ...string) SystemOption {
	return func(d *SystemDescriptor) {
		d.After = append(d.After, names...)
	}
}

// RunEvery runs the system only on steps where (step+offset)%every == 0.
func RunEvery(every, offset uint32) SystemOption {
	return func(d *SystemDescriptor) {
		d.RunEvery = TickInterval{Every: every, Offset: offset}
	}
}

// OnError sets the system's error policy.
func OnError(policy ErrorPolicy) SystemOption {
	return func(d *SystemDescriptor) {
		d.ErrorPolicy = policy
	}
}

func shouldRunTick(tick uint64, interval TickInterval) bool {
	every := uint64(interval.Every)
	if every == 0 {
		return true
	}
	offset := uint64(interval.Offset % interval.Every)
	return (tick+offset)%every == 0
}
