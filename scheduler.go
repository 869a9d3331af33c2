package ecs

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"runtime/trace"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Scheduler runs registered systems once per Step. Systems whose declared
// access does not conflict run concurrently on the worker pool; conflicting
// systems run in registration order. Structural changes recorded by systems
// are replayed at the end of the step, in plan order.
type Scheduler struct {
	mu sync.Mutex

	world         *World
	logger        *zap.Logger
	pool          *workerPool
	workers       int
	buffers       *CommandBufferPool
	observer      StepObserver
	tracing       bool
	stageBarriers bool

	nodes  []*systemNode
	byName map[string]int
	plan   []int
	stages [][]int
	preds  [][]int
	succs  [][]int

	stepIndex uint64
	abort     atomic.Bool
	last      StepSummary
}

type systemNode struct {
	sys    System
	desc   SystemDescriptor
	reads  componentSet
	writes componentSet
	stage  int
}

func (n *systemNode) conflicts(o *systemNode) bool {
	return n.writes.intersects(o.writes) || n.writes.intersects(o.reads) || n.reads.intersects(o.writes)
}

// StepInfo is published as a world resource at the start of every step.
type StepInfo struct {
	Index uint64
	Delta time.Duration
}

// SchedulerOption configures a Scheduler at construction.
type SchedulerOption func(*Scheduler)

// WithWorkers sets the number of worker goroutines. One or fewer runs systems
// on the stepping goroutine.
func WithWorkers(n int) SchedulerOption {
	return func(s *Scheduler) {
		s.workers = n
	}
}

// WithSchedulerLogger overrides the logger inherited from the world.
func WithSchedulerLogger(logger *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver adds a step observer.
func WithObserver(o StepObserver) SchedulerOption {
	return func(s *Scheduler) {
		if o == nil {
			return
		}
		s.observer = chainObservers(s.observer, o)
	}
}

// WithTracing wraps steps and systems in runtime/trace tasks and regions.
func WithTracing(enabled bool) SchedulerOption {
	return func(s *Scheduler) {
		s.tracing = enabled
	}
}

// WithStageBarriers makes every dependency level finish before the next one
// starts.
func WithStageBarriers(enabled bool) SchedulerOption {
	return func(s *Scheduler) {
		s.stageBarriers = enabled
	}
}

// NewScheduler constructs a scheduler bound to the provided world.
func NewScheduler(world *World, opts ...SchedulerOption) *Scheduler {
	if world == nil {
		world = NewWorld()
	}
	s := &Scheduler{
		world:    world,
		logger:   world.Logger().Named("scheduler"),
		workers:  runtime.GOMAXPROCS(0),
		buffers:  NewCommandBufferPool(),
		observer: noopObserver{},
		byName:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers > 1 {
		s.pool = newWorkerPool(s.workers)
	}
	return s
}

// World returns the world the scheduler drives.
func (s *Scheduler) World() *World { return s.world }

// Workers reports the effective worker count.
func (s *Scheduler) Workers() int { return s.pool.Size() }

// RegisterSystem registers body under name with the given component access.
func (s *Scheduler) RegisterSystem(name string, reads, writes []ComponentID, body SystemFunc, opts ...SystemOption) error {
	if body == nil {
		return eris.Wrapf(ErrInvalidSystem, "%q has no body", name)
	}
	desc := SystemDescriptor{
		Name:   name,
		Reads:  slices.Clone(reads),
		Writes: slices.Clone(writes),
	}
	for _, opt := range opts {
		opt(&desc)
	}
	return s.Register(&funcSystem{desc: desc, body: body})
}

// Register adds sys to the plan. It fails with ErrSchedulerBusy during a step
// and with ErrDependencyCycle when its ordering constraints cannot be met.
func (s *Scheduler) Register(sys System) error {
	if sys == nil {
		return eris.Wrap(ErrInvalidSystem, "nil system")
	}
	desc := sys.Descriptor()
	if desc.Name == "" {
		return eris.Wrap(ErrInvalidSystem, "system requires a name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.world.Phase() != PhaseIdle {
		return eris.Wrapf(ErrSchedulerBusy, "register %s", desc.Name)
	}
	if _, exists := s.byName[desc.Name]; exists {
		return eris.Wrapf(ErrDuplicateSystem, "%s", desc.Name)
	}

	node := &systemNode{sys: sys, desc: desc}
	for _, id := range desc.Reads {
		if _, err := s.world.poolByID(id); err != nil {
			return eris.Wrapf(err, "system %s reads", desc.Name)
		}
		node.reads = node.reads.with(id)
	}
	for _, id := range desc.Writes {
		if _, err := s.world.poolByID(id); err != nil {
			return eris.Wrapf(err, "system %s writes", desc.Name)
		}
		node.writes = node.writes.with(id)
	}

	s.nodes = append(s.nodes, node)
	s.byName[desc.Name] = len(s.nodes) - 1
	if err := s.rebuild(); err != nil {
		s.nodes = s.nodes[:len(s.nodes)-1]
		delete(s.byName, desc.Name)
		if rerr := s.rebuild(); rerr != nil {
			return multierr.Append(err, rerr)
		}
		return err
	}
	s.logger.Debug("system registered",
		zap.String("system", desc.Name),
		zap.Int("stage", node.stage),
		zap.Int("systems", len(s.nodes)),
	)
	return nil
}

// rebuild recomputes the dependency graph, the topological plan and the
// stages. Conflict edges point from the earlier registration to the later one.
// After constraints naming systems that are not registered yet are ignored
// until those systems arrive.
func (s *Scheduler) rebuild() error {
	n := len(s.nodes)
	preds := make([][]int, n)
	succs := make([][]int, n)
	link := func(from, to int) {
		if slices.Contains(succs[from], to) {
			return
		}
		succs[from] = append(succs[from], to)
		preds[to] = append(preds[to], from)
	}
	for j := 0; j < n; j++ {
		for i := 0; i < j; i++ {
			if s.nodes[i].conflicts(s.nodes[j]) {
				link(i, j)
			}
		}
		for _, name := range s.nodes[j].desc.After {
			i, ok := s.byName[name]
			if !ok {
				continue
			}
			if i == j {
				return eris.Wrapf(ErrDependencyCycle, "%s runs after itself", name)
			}
			link(i, j)
		}
	}

	// Kahn's algorithm; among ready systems the earliest registration goes first.
	indegree := make([]int, n)
	for j := range preds {
		indegree[j] = len(preds[j])
	}
	ready := make([]int, 0, n)
	for j := 0; j < n; j++ {
		if indegree[j] == 0 {
			ready = append(ready, j)
		}
	}
	plan := make([]int, 0, n)
	level := make([]int, n)
	for len(ready) > 0 {
		slices.Sort(ready)
		next := ready[0]
		ready = ready[1:]
		plan = append(plan, next)
		for _, succ := range succs[next] {
			level[succ] = max(level[succ], level[next]+1)
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}
	if len(plan) < n {
		var stuck []string
		for j := 0; j < n; j++ {
			if indegree[j] > 0 {
				stuck = append(stuck, s.nodes[j].desc.Name)
			}
		}
		return eris.Wrapf(ErrDependencyCycle, "between %v", stuck)
	}

	var stages [][]int
	for _, idx := range plan {
		l := level[idx]
		for len(stages) <= l {
			stages = append(stages, nil)
		}
		stages[l] = append(stages[l], idx)
		s.nodes[idx].stage = l
	}

	s.preds, s.succs, s.plan, s.stages = preds, succs, plan, stages
	return nil
}

// Plan returns system names in the order their commands are replayed.
func (s *Scheduler) Plan() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.plan))
	for i, idx := range s.plan {
		out[i] = s.nodes[idx].desc.Name
	}
	return out
}

// Stages returns system names grouped by dependency level. Systems within a
// stage never conflict with each other.
func (s *Scheduler) Stages() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.stages))
	for i, stage := range s.stages {
		for _, idx := range stage {
			out[i] = append(out[i], s.nodes[idx].desc.Name)
		}
	}
	return out
}

// StepIndex returns the number of completed steps.
func (s *Scheduler) StepIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepIndex
}

// LastStep returns the summary of the most recent step.
func (s *Scheduler) LastStep() StepSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Abort asks the in-flight step to stop dispatching systems. Systems already
// running finish; the step then discards every recorded command. A request
// made while no step is dispatching applies to the next step.
func (s *Scheduler) Abort() {
	s.abort.Store(true)
}

func (s *Scheduler) aborting(ctx context.Context) bool {
	return s.abort.Load() || ctx.Err() != nil
}

// stepRun is the state of one step shared by the systems running in it.
type stepRun struct {
	index   uint64
	dt      time.Duration
	buffers []*CommandBuffer
	systems []SystemSummary
}

// Step runs every system once and then replays their command buffers.
func (s *Scheduler) Step(ctx context.Context, dt time.Duration) error {
	s.mu.Lock()
	for _, node := range s.nodes {
		for _, name := range node.desc.After {
			if _, ok := s.byName[name]; !ok {
				s.mu.Unlock()
				return eris.Wrapf(ErrUnknownSystem, "%s runs after %s", node.desc.Name, name)
			}
		}
	}
	if !s.world.phase.CompareAndSwap(uint32(PhaseIdle), uint32(PhaseRunning)) {
		s.mu.Unlock()
		return eris.Wrap(ErrSchedulerBusy, "step already in progress")
	}
	nodes := s.nodes
	plan := s.plan
	stages := s.stages
	succs := s.succs
	preds := s.preds
	index := s.stepIndex
	s.mu.Unlock()

	if s.tracing {
		var task *trace.Task
		ctx, task = trace.NewTask(ctx, "ecs.step")
		defer task.End()
	}

	SetResource(s.world, &StepInfo{Index: index, Delta: dt})
	run := &stepRun{
		index:   index,
		dt:      dt,
		buffers: make([]*CommandBuffer, len(nodes)),
		systems: make([]SystemSummary, len(nodes)),
	}
	for i, node := range nodes {
		run.systems[i] = SystemSummary{Name: node.desc.Name, Stage: node.stage}
	}
	start := time.Now()

	var runErr error
	if s.stageBarriers {
		runErr = s.runStages(ctx, run, nodes, stages)
	} else {
		runErr = s.runGraph(ctx, run, nodes, preds, succs)
	}

	summary := StepSummary{Step: index, SystemsTotal: len(nodes)}
	if runErr != nil {
		s.abort.Store(false)
		for _, buf := range run.buffers {
			s.buffers.Put(buf)
		}
		s.world.setPhase(PhaseIdle)
		summary.Aborted = true
		summary.Err = runErr
		summary.Duration = time.Since(start)
		summary.Systems = orderSummaries(run.systems, plan)
		summary.tally()
		s.finish(summary, false)
		return runErr
	}

	s.world.setPhase(PhaseSyncing)
	syncRegion := func() {
		for _, idx := range plan {
			buf := run.buffers[idx]
			if buf == nil {
				continue
			}
			applied, err := buf.Replay(s.world)
			run.systems[idx].CommandsApplied = applied
			summary.CommandsApplied += applied
			if err != nil {
				summary.ReplayErr = multierr.Append(summary.ReplayErr, eris.Wrapf(err, "replay %s", nodes[idx].desc.Name))
			}
			s.buffers.Put(buf)
		}
	}
	if s.tracing {
		trace.WithRegion(ctx, "ecs.sync", syncRegion)
	} else {
		syncRegion()
	}
	s.world.setPhase(PhaseIdle)

	if summary.ReplayErr != nil {
		s.logger.Warn("command replay skipped operations",
			zap.Uint64("step", index),
			zap.Error(summary.ReplayErr),
		)
	}
	summary.Duration = time.Since(start)
	summary.Systems = orderSummaries(run.systems, plan)
	summary.tally()
	s.finish(summary, true)
	return nil
}

func (s *Scheduler) finish(summary StepSummary, completed bool) {
	s.mu.Lock()
	if completed {
		s.stepIndex++
	}
	s.last = summary
	s.mu.Unlock()

	s.logger.Debug("step finished",
		zap.Uint64("step", summary.Step),
		zap.Duration("duration", summary.Duration),
		zap.Int("systems_executed", summary.SystemsExecuted),
		zap.Int("systems_skipped", summary.SystemsSkipped),
		zap.Int("commands_applied", summary.CommandsApplied),
		zap.Bool("aborted", summary.Aborted),
	)
	s.observer.StepCompleted(summary)
}

// runGraph dispatches each system as soon as every system it depends on has
// finished.
func (s *Scheduler) runGraph(ctx context.Context, run *stepRun, nodes []*systemNode, preds, succs [][]int) error {
	n := len(nodes)
	remaining := make([]int, n)
	ready := make([]int, 0, n)
	for j := 0; j < n; j++ {
		remaining[j] = len(preds[j])
		if remaining[j] == 0 {
			ready = append(ready, j)
		}
	}
	done := make(chan jobResult, n)
	inflight := 0
	var runErr error
	stopped := false

	for len(ready) > 0 || inflight > 0 {
		if !stopped {
			slices.Sort(ready)
			for len(ready) > 0 {
				if s.aborting(ctx) {
					stopped = true
					break
				}
				idx := ready[0]
				ready = ready[1:]
				inflight++
				s.submit(ctx, run, nodes, idx, done)
			}
		}
		if inflight == 0 {
			break
		}
		res := <-done
		inflight--
		if res.err != nil {
			runErr = multierr.Append(runErr, res.err)
			stopped = true
		}
		for _, succ := range succs[res.id] {
			remaining[succ]--
			if remaining[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}
	return s.stepError(ctx, runErr, stopped)
}

// runStages runs one dependency level at a time.
func (s *Scheduler) runStages(ctx context.Context, run *stepRun, nodes []*systemNode, stages [][]int) error {
	done := make(chan jobResult, len(nodes))
	var runErr error
	stopped := false
	for _, stage := range stages {
		inflight := 0
		for _, idx := range stage {
			if s.aborting(ctx) {
				stopped = true
				break
			}
			inflight++
			s.submit(ctx, run, nodes, idx, done)
		}
		for ; inflight > 0; inflight-- {
			if res := <-done; res.err != nil {
				runErr = multierr.Append(runErr, res.err)
				stopped = true
			}
		}
		if stopped {
			break
		}
	}
	return s.stepError(ctx, runErr, stopped)
}

// stepError also catches an abort requested while the last systems ran, after
// dispatch had already finished.
func (s *Scheduler) stepError(ctx context.Context, runErr error, stopped bool) error {
	if !stopped && !s.aborting(ctx) {
		return nil
	}
	reason := "abort requested"
	if err := ctx.Err(); err != nil {
		reason = err.Error()
	}
	if runErr != nil {
		reason = "system failed"
	}
	return multierr.Append(eris.Wrap(ErrStepAborted, reason), runErr)
}

func (s *Scheduler) submit(ctx context.Context, run *stepRun, nodes []*systemNode, idx int, done chan<- jobResult) {
	s.pool.Submit(ctx, idx, func(ctx context.Context) error {
		return s.runSystem(ctx, run, nodes[idx], idx)
	}, done)
}

// runSystem executes one system with its own command buffer and applies the
// system's error policy. A non-nil return aborts the step.
func (s *Scheduler) runSystem(ctx context.Context, run *stepRun, node *systemNode, idx int) error {
	desc := node.desc
	sum := &run.systems[idx]
	if !shouldRunTick(run.index, desc.RunEvery) {
		sum.Status = SystemSkipped
		return nil
	}

	buf := s.buffers.Get()
	run.buffers[idx] = buf
	logger := s.logger.With(zap.String("system", desc.Name))
	exec := &ExecutionContext{
		world:    s.world,
		commands: buf,
		dt:       run.dt,
		step:     run.index,
		logger:   logger,
	}

	start := time.Now()
	result := s.invoke(ctx, node, exec)
	if result.Err != nil && desc.ErrorPolicy == ErrorPolicyRetry {
		logger.Warn("system failed, retrying", zap.Error(result.Err))
		buf.Reset()
		sum.Retried = true
		result = s.invoke(ctx, node, exec)
	}
	sum.Duration = time.Since(start)
	sum.Commands = buf.Len()

	if result.Err == nil {
		sum.Status = SystemExecuted
		if result.Skipped {
			sum.Status = SystemSkipped
		}
		return nil
	}
	buf.Reset()
	sum.Status = SystemFailed
	sum.Commands = 0
	sum.Err = result.Err
	logger.Error("system failed",
		zap.Stringer("policy", desc.ErrorPolicy),
		zap.Error(result.Err),
	)
	if desc.ErrorPolicy == ErrorPolicyContinue {
		return nil
	}
	return eris.Wrapf(result.Err, "system %s", desc.Name)
}

func (s *Scheduler) invoke(ctx context.Context, node *systemNode, exec *ExecutionContext) (result SystemResult) {
	defer func() {
		if r := recover(); r != nil {
			result = SystemResult{Err: eris.New(fmt.Sprintf("panic: %v", r))}
		}
	}()
	if s.tracing {
		trace.WithRegion(ctx, node.desc.Name, func() {
			result = node.sys.Run(ctx, exec)
		})
		return result
	}
	return node.sys.Run(ctx, exec)
}

func orderSummaries(systems []SystemSummary, plan []int) []SystemSummary {
	out := make([]SystemSummary, 0, len(plan))
	for _, idx := range plan {
		out = append(out, systems[idx])
	}
	return out
}

// Run executes steps steps, stopping at the first error.
func (s *Scheduler) Run(ctx context.Context, steps int, dt time.Duration) error {
	for i := 0; i < steps; i++ {
		if err := s.Step(ctx, dt); err != nil {
			return err
		}
	}
	return nil
}

// RunWithTrace records an execution trace of fn to w when tracing is enabled.
func (s *Scheduler) RunWithTrace(ctx context.Context, w io.Writer, fn func(context.Context) error) error {
	if s.tracing && w != nil {
		if err := trace.Start(w); err != nil {
			return eris.Wrap(err, "start trace")
		}
		defer trace.Stop()
	}
	return fn(ctx)
}

// Close stops the worker pool. The scheduler must not be stepped afterwards.
func (s *Scheduler) Close() {
	s.pool.Close()
}
