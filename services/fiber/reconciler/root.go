// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianFiber/services/fiber/host"
	"github.com/AleutianAI/AleutianFiber/services/fiber/scheduler"
	"github.com/AleutianAI/AleutianFiber/services/fiber/vnode"
)

var (
	tracer = otel.Tracer("aleutian.fiber")
	meter  = otel.Meter("aleutian.fiber")
)

// RootType is the type of the synthetic fiber that owns the container.
const RootType = "#root"

// State is the lifecycle state of a Root.
type State int32

const (
	// StateIdle means no cycle is in flight.
	StateIdle State = iota

	// StateReconciling means units of work remain for the current cycle.
	StateReconciling

	// StateCommitPending means the work-in-progress tree is complete and is
	// being applied to the host.
	StateCommitPending
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReconciling:
		return "reconciling"
	case StateCommitPending:
		return "commit-pending"
	default:
		return "unknown"
	}
}

// RenderPolicy selects how Render behaves while a cycle is in flight.
type RenderPolicy int

const (
	// PolicyQueue parks the newest request and starts it after the in-flight
	// cycle commits. Older parked requests are dropped.
	PolicyQueue RenderPolicy = iota

	// PolicyReject makes Render fail with ErrRenderInProgress.
	PolicyReject
)

// String returns the policy name as used in configuration.
func (p RenderPolicy) String() string {
	switch p {
	case PolicyQueue:
		return "queue"
	case PolicyReject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParsePolicy parses "queue" or "reject".
func ParsePolicy(s string) (RenderPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "queue":
		return PolicyQueue, nil
	case "reject":
		return PolicyReject, nil
	default:
		return PolicyQueue, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// CommitHook observes every successful commit. It runs after the root lock
// is released, so it may call back into the root.
type CommitHook func(CycleReport)

// Option configures a Root.
type Option func(*Root)

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Root) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithScheduler attaches a scheduler. Render then schedules the work loop on
// it instead of waiting for Step or Flush.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(r *Root) { r.sched = s }
}

// WithRenderPolicy sets the policy for renders requested mid-cycle.
func WithRenderPolicy(p RenderPolicy) Option {
	return func(r *Root) { r.policy = p }
}

// WithCommitHook registers a hook called after each commit.
func WithCommitHook(h CommitHook) Option {
	return func(r *Root) {
		if h != nil {
			r.hooks = append(r.hooks, h)
		}
	}
}

// deletion is a current-tree fiber scheduled for removal, with the tag it
// carried before so an abandoned cycle can restore it.
type deletion struct {
	id   FiberID
	prev EffectTag
}

// cycle holds the bookkeeping of one render cycle.
type cycle struct {
	id      string
	started time.Time
	units   int
	slices  int
	busy    time.Duration
}

// Root reconciles virtual trees into one host container.
//
// Description:
//
//	Root owns the committed fiber tree for its container and at most one
//	work-in-progress tree. Render starts a cycle, Step advances it one slice
//	at a time, and the final Step of a cycle commits it to the host.
//	Each Root is independent; any number may coexist.
//
// Thread Safety:
//
//	Root is safe for concurrent use. A slice holds the root lock for its
//	whole duration, so slices of one root never overlap. State may be read
//	at any time, including from host adapter calls made during commit.
type Root struct {
	mu sync.Mutex

	id        string
	adapter   host.Adapter
	container host.Handle
	logger    *slog.Logger
	sched     scheduler.Scheduler
	policy    RenderPolicy
	hooks     []CommitHook

	arenas [2]*Arena
	cur    int

	currentRoot FiberID
	wipRoot     FiberID
	next        FiberID
	deletions   []deletion
	cycle       cycle

	pending    *vnode.Node
	hasPending bool
	scheduled  bool

	state   atomic.Int32
	report  *CycleReport
	lastErr error

	// Metrics (initialized lazily)
	metricsOnce    sync.Once
	unitsCounter   metric.Int64Counter
	slicesCounter  metric.Int64Counter
	effectsCounter metric.Int64Counter
	commitLatency  metric.Float64Histogram
}

// NewRoot creates a root for container.
//
// Inputs:
//
//	adapter - Host adapter used for every host mutation. Must not be nil.
//	container - Host node the tree is rendered into. Must not be nil.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Root - The root, idle and with an empty committed tree.
//	error - ErrInvalidInput if adapter or container is nil.
func NewRoot(adapter host.Adapter, container host.Handle, opts ...Option) (*Root, error) {
	if adapter == nil {
		return nil, fmt.Errorf("%w: adapter must not be nil", ErrInvalidInput)
	}
	if container == nil {
		return nil, fmt.Errorf("%w: container must not be nil", ErrInvalidInput)
	}

	r := &Root{
		id:        uuid.NewString()[:8],
		adapter:   adapter,
		container: container,
		logger:    slog.Default(),
		arenas:    [2]*Arena{newArena(64), newArena(64)},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("root", r.id))
	return r, nil
}

// ID returns the short identifier used in logs.
func (r *Root) ID() string {
	return r.id
}

// State returns the lifecycle state.
func (r *Root) State() State {
	return State(r.state.Load())
}

// Err returns the error of the last scheduled cycle, if it failed. Starting
// a new cycle through Render clears it.
func (r *Root) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Busy reports whether a cycle is in flight or a scheduled work loop has
// not yet finished. Once Busy returns false, Err reflects the last cycle.
func (r *Root) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wipRoot != NoFiber || r.scheduled
}

// Render requests that node become the committed tree.
//
// Description:
//
//	When the root is idle a new cycle starts: a work-in-progress root fiber
//	that owns the container and has node as its only element. A nil node
//	renders an empty tree, unmounting everything. Nothing touches the host
//	until the cycle commits. While a cycle is in flight the render policy
//	decides whether the request is parked or rejected.
//
// Inputs:
//
//	ctx - Context for logging and tracing. Must not be nil.
//	node - The new virtual tree. May be nil.
//
// Outputs:
//
//	error - ErrNilContext, or ErrRenderInProgress under PolicyReject.
func (r *Root) Render(ctx context.Context, node *vnode.Node) error {
	if ctx == nil {
		return ErrNilContext
	}

	r.mu.Lock()
	if r.wipRoot != NoFiber {
		if r.policy == PolicyReject {
			r.mu.Unlock()
			return ErrRenderInProgress
		}
		dropped := r.hasPending
		r.pending, r.hasPending = node, true
		cycleID := r.cycle.id
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "render parked behind in-flight cycle",
			slog.String("cycle_id", cycleID),
			slog.Bool("replaced_parked", dropped),
		)
		return nil
	}

	r.beginCycle(ctx, node)
	r.lastErr = nil
	schedule := r.sched != nil && !r.scheduled
	if schedule {
		r.scheduled = true
	}
	r.mu.Unlock()

	if schedule {
		r.sched.ScheduleWork(r.workLoop)
	}
	return nil
}

// Step processes one slice of the in-flight cycle.
//
// Description:
//
//	Runs units of work while work remains, re-checking the deadline after
//	each unit; at least one unit runs per call. When the last unit finishes
//	the cycle commits in the same call, and a parked render, if any, starts.
//	A cancelled context stops the slice between units and keeps progress.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//	d - Slice deadline. Nil means unbounded.
//
// Outputs:
//
//	bool - True if work remains after this slice.
//	error - Context, unit, or commit error. Unit and commit errors abandon
//	        the cycle and keep the committed tree.
//
// Thread Safety:
//
//	Holds the root lock for the duration of the slice.
func (r *Root) Step(ctx context.Context, d scheduler.Deadline) (bool, error) {
	if ctx == nil {
		return false, ErrNilContext
	}
	if d == nil {
		d = scheduler.Unbounded()
	}

	r.mu.Lock()
	if r.wipRoot == NoFiber {
		r.mu.Unlock()
		return false, nil
	}

	r.initMetrics()
	ctx, span := tracer.Start(ctx, "fiber.Slice",
		trace.WithAttributes(
			attribute.String("fiber.root", r.id),
			attribute.String("fiber.cycle_id", r.cycle.id),
		),
	)
	defer span.End()

	start := time.Now()
	units, err := r.runUnits(ctx, d)
	r.cycle.slices++
	r.cycle.busy += time.Since(start)

	span.SetAttributes(attribute.Int("fiber.units", units))
	if r.unitsCounter != nil {
		r.unitsCounter.Add(ctx, int64(units))
	}
	if r.slicesCounter != nil {
		r.slicesCounter.Add(ctx, 1)
	}

	r.logger.DebugContext(ctx, "slice finished",
		slog.String("cycle_id", r.cycle.id),
		slog.Int("units", units),
		slog.Bool("exhausted", r.next == NoFiber),
		slog.Duration("elapsed", time.Since(start)),
	)

	var report *CycleReport
	if err == nil && r.next == NoFiber {
		report, err = r.commit(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !isContextErr(err) {
			r.abandon(ctx, err)
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if r.wipRoot == NoFiber && r.hasPending {
		node := r.pending
		r.pending, r.hasPending = nil, false
		r.beginCycle(ctx, node)
	}
	more := r.wipRoot != NoFiber
	hooks := r.hooks
	r.mu.Unlock()

	if report != nil {
		for _, h := range hooks {
			h(*report)
		}
	}
	return more, err
}

// Flush runs the in-flight cycle, and any parked render, to commit with an
// unbounded deadline.
func (r *Root) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	for {
		more, err := r.Step(ctx, scheduler.Unbounded())
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// LastReport returns the report of the most recent commit.
func (r *Root) LastReport() (CycleReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.report == nil {
		return CycleReport{}, false
	}
	return *r.report, true
}

// workLoop is the scheduler callback. It runs one slice and reschedules
// itself while work remains.
func (r *Root) workLoop(ctx context.Context, d scheduler.Deadline) {
	_, err := r.Step(ctx, d)

	r.mu.Lock()
	if err != nil {
		r.lastErr = err
	}
	more := r.wipRoot != NoFiber
	r.scheduled = more
	r.mu.Unlock()

	if err != nil {
		r.logger.ErrorContext(ctx, "scheduled slice failed", slog.String("error", err.Error()))
	}
	if more {
		r.sched.ScheduleWork(r.workLoop)
	}
}

// runUnits is the inner work loop. The caller holds the lock.
func (r *Root) runUnits(ctx context.Context, d scheduler.Deadline) (int, error) {
	units := 0
	for r.next != NoFiber {
		if err := ctx.Err(); err != nil {
			return units, err
		}
		next, err := r.performUnitOfWork(r.next)
		if err != nil {
			return units, err
		}
		r.next = next
		units++
		r.cycle.units++
		if d.TimeRemaining() <= 0 {
			break
		}
	}
	return units, nil
}

// performUnitOfWork processes one fiber and returns the next one in
// depth-first pre-order, or NoFiber when the tree is exhausted.
func (r *Root) performUnitOfWork(id FiberID) (FiberID, error) {
	wip := r.wipArena()
	f := wip.Get(id)
	if id != r.wipRoot {
		if f.Parent == NoFiber {
			return NoFiber, &UnitError{CycleID: r.cycle.id, Type: f.Type, Err: ErrOrphanFiber}
		}
		if f.Host == nil {
			h, err := r.adapter.CreateNode(f.Type, f.Props)
			if err != nil {
				return NoFiber, &UnitError{CycleID: r.cycle.id, Type: f.Type, Err: err}
			}
			f.Host = h
		}
	}

	r.reconcileChildren(id, f.Elements)
	return nextPreOrder(wip, id, r.wipRoot), nil
}

// nextPreOrder returns the fiber after id in depth-first pre-order, never
// leaving the subtree of stop.
func nextPreOrder(a *Arena, id, stop FiberID) FiberID {
	if f := a.Get(id); f.Child != NoFiber {
		return f.Child
	}
	for cur := id; cur != NoFiber && cur != stop; {
		f := a.Get(cur)
		if f.Sibling != NoFiber {
			return f.Sibling
		}
		cur = f.Parent
	}
	return NoFiber
}

// beginCycle starts a cycle for node. The caller holds the lock.
func (r *Root) beginCycle(ctx context.Context, node *vnode.Node) {
	wip := r.wipArena()
	wip.reset()

	var elements []*vnode.Node
	if node != nil {
		elements = []*vnode.Node{node}
	}
	r.wipRoot = wip.alloc(Fiber{
		Type:      RootType,
		Host:      r.container,
		Elements:  elements,
		Alternate: r.currentRoot,
	})
	r.next = r.wipRoot
	r.deletions = r.deletions[:0]
	r.cycle = cycle{id: uuid.NewString()[:12], started: time.Now()}
	r.state.Store(int32(StateReconciling))

	r.logger.InfoContext(ctx, "render cycle started",
		slog.String("cycle_id", r.cycle.id),
		slog.Bool("unmount", node == nil),
	)
}

// abandon drops the work-in-progress tree and restores the tags of fibers
// that were marked for deletion. The caller holds the lock.
func (r *Root) abandon(ctx context.Context, cause error) {
	cur := r.currentArena()
	for _, d := range r.deletions {
		if f := cur.Get(d.id); f != nil {
			f.Effect = d.prev
		}
	}
	r.logger.ErrorContext(ctx, "render cycle abandoned",
		slog.String("cycle_id", r.cycle.id),
		slog.String("error", cause.Error()),
	)
	r.dropWIP()
}

func (r *Root) dropWIP() {
	r.wipArena().reset()
	r.wipRoot = NoFiber
	r.next = NoFiber
	r.deletions = r.deletions[:0]
	r.state.Store(int32(StateIdle))
}

func (r *Root) currentArena() *Arena { return r.arenas[r.cur] }

func (r *Root) wipArena() *Arena { return r.arenas[1-r.cur] }

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution (graceful degradation).
func (r *Root) initMetrics() {
	r.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		r.unitsCounter, err = meter.Int64Counter("fiber_units_total",
			metric.WithDescription("Number of fiber units of work processed"),
		)
		if err != nil {
			initErrors = append(initErrors, "units: "+err.Error())
		}

		r.slicesCounter, err = meter.Int64Counter("fiber_slices_total",
			metric.WithDescription("Number of work loop slices run"),
		)
		if err != nil {
			initErrors = append(initErrors, "slices: "+err.Error())
		}

		r.effectsCounter, err = meter.Int64Counter("fiber_effects_total",
			metric.WithDescription("Number of effects committed, by effect tag"),
		)
		if err != nil {
			initErrors = append(initErrors, "effects: "+err.Error())
		}

		r.commitLatency, err = meter.Float64Histogram("fiber_commit_duration_seconds",
			metric.WithDescription("Time spent applying a cycle to the host"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "commit_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			r.logger.Error("failed to initialize some fiber metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}
