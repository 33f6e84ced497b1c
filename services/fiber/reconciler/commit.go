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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianFiber/services/fiber/host"
)

// EffectRecord describes one effect applied by a commit.
type EffectRecord struct {
	// Path is the sibling index at each depth below the container.
	Path   []int
	Type   string
	Effect EffectTag
	Host   host.Handle

	// Ops holds the property mutations of an UPDATE. Empty when nothing
	// changed.
	Ops []PropOp
}

// CycleReport summarizes a committed cycle.
type CycleReport struct {
	CycleID string

	Units  int
	Slices int

	Placements     int
	Updates        int
	UpdatesChanged int
	Deletions      int
	PropOps        int

	// Effects lists deletions first, then placements and updates in
	// pre-order, which is the order they were applied.
	Effects []EffectRecord

	ReconcileDuration time.Duration
	CommitDuration    time.Duration
}

// HostMutations returns the number of host calls the commit made.
func (c CycleReport) HostMutations() int {
	return c.Placements + c.Deletions + c.PropOps
}

// commit applies the work-in-progress tree to the host and promotes it.
//
// Description:
//
//	Deletions run first, in collection order, removing each deleted host
//	node from its parent without descending. Then the work-in-progress tree
//	is walked in pre-order below the synthetic root: PLACEMENT inserts the
//	host node before the next mounted sibling or appends it, UPDATE applies
//	DiffProps against the alternate. On success the work-in-progress tree
//	becomes current. The caller holds the lock and handles failure.
func (r *Root) commit(ctx context.Context) (*CycleReport, error) {
	r.state.Store(int32(StateCommitPending))

	ctx, span := tracer.Start(ctx, "fiber.Commit",
		trace.WithAttributes(
			attribute.String("fiber.cycle_id", r.cycle.id),
			attribute.Int("fiber.deletions", len(r.deletions)),
		),
	)
	defer span.End()

	start := time.Now()
	report := &CycleReport{
		CycleID:           r.cycle.id,
		Units:             r.cycle.units,
		Slices:            r.cycle.slices,
		ReconcileDuration: r.cycle.busy,
	}

	if err := r.commitDeletions(report); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	wip := r.wipArena()
	root := wip.Get(r.wipRoot)
	for id := root.Child; id != NoFiber; id = nextPreOrder(wip, id, r.wipRoot) {
		if err := r.commitWork(id, report); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	r.promote()
	report.CommitDuration = time.Since(start)
	r.report = report

	span.SetAttributes(
		attribute.Int("fiber.placements", report.Placements),
		attribute.Int("fiber.updates", report.Updates),
		attribute.Int("fiber.prop_ops", report.PropOps),
	)
	span.SetStatus(codes.Ok, "")
	r.recordCommitMetrics(ctx, report)

	r.logger.InfoContext(ctx, "render cycle committed",
		slog.String("cycle_id", report.CycleID),
		slog.Int("units", report.Units),
		slog.Int("slices", report.Slices),
		slog.Int("placements", report.Placements),
		slog.Int("updates", report.Updates),
		slog.Int("deletions", report.Deletions),
		slog.Int("prop_ops", report.PropOps),
		slog.Duration("commit_duration", report.CommitDuration),
	)
	return report, nil
}

func (r *Root) commitDeletions(report *CycleReport) error {
	cur := r.currentArena()
	for _, d := range r.deletions {
		f := cur.Get(d.id)
		parent := cur.Get(f.Parent)
		if parent == nil {
			return r.commitError(EffectDeletion, f.Type, cur.pathOf(d.id), ErrOrphanFiber)
		}
		if err := r.adapter.RemoveChild(parent.Host, f.Host); err != nil {
			return r.commitError(EffectDeletion, f.Type, cur.pathOf(d.id), err)
		}
		report.Deletions++
		report.Effects = append(report.Effects, EffectRecord{
			Path:   cur.pathOf(d.id),
			Type:   f.Type,
			Effect: EffectDeletion,
			Host:   f.Host,
		})
	}
	return nil
}

func (r *Root) commitWork(id FiberID, report *CycleReport) error {
	wip := r.wipArena()
	f := wip.Get(id)
	parent := wip.Get(f.Parent)
	if parent == nil {
		return r.commitError(f.Effect, f.Type, wip.pathOf(id), ErrOrphanFiber)
	}

	rec := EffectRecord{Path: wip.pathOf(id), Type: f.Type, Effect: f.Effect, Host: f.Host}
	switch f.Effect {
	case EffectPlacement:
		var err error
		if ref := hostSibling(wip, id); ref != nil {
			err = r.adapter.InsertBefore(parent.Host, f.Host, ref)
		} else {
			err = r.adapter.AppendChild(parent.Host, f.Host)
		}
		if err != nil {
			return r.commitError(f.Effect, f.Type, rec.Path, err)
		}
		report.Placements++

	case EffectUpdate:
		alt := r.currentArena().Get(f.Alternate)
		if alt == nil {
			return r.commitError(f.Effect, f.Type, rec.Path, ErrInvalidInput)
		}
		rec.Ops = DiffProps(alt.Props, f.Props)
		if err := applyPropOps(r.adapter, f.Host, rec.Ops); err != nil {
			return r.commitError(f.Effect, f.Type, rec.Path, err)
		}
		report.Updates++
		report.PropOps += len(rec.Ops)
		if len(rec.Ops) > 0 {
			report.UpdatesChanged++
		}

	default:
		return nil
	}

	report.Effects = append(report.Effects, rec)
	return nil
}

// hostSibling returns the host node of the first following sibling that is
// already mounted, or nil if the fiber goes last.
func hostSibling(a *Arena, id FiberID) host.Handle {
	for s := a.Get(id).Sibling; s != NoFiber; s = a.Get(s).Sibling {
		f := a.Get(s)
		if f.Effect != EffectPlacement && f.Host != nil {
			return f.Host
		}
	}
	return nil
}

// promote makes the work-in-progress tree current and recycles the arena of
// the old tree on the next cycle.
func (r *Root) promote() {
	wip := r.wipArena()
	wip.clearAlternates()
	r.cur = 1 - r.cur
	r.currentRoot = r.wipRoot
	r.wipRoot = NoFiber
	r.next = NoFiber
	r.deletions = r.deletions[:0]
	r.state.Store(int32(StateIdle))
}

func (r *Root) commitError(effect EffectTag, typ string, path []int, err error) error {
	return &CommitError{CycleID: r.cycle.id, Effect: effect, Type: typ, Path: path, Err: err}
}

func (r *Root) recordCommitMetrics(ctx context.Context, report *CycleReport) {
	if r.commitLatency != nil {
		r.commitLatency.Record(ctx, report.CommitDuration.Seconds())
	}
	if r.effectsCounter == nil {
		return
	}
	for effect, n := range map[EffectTag]int{
		EffectPlacement: report.Placements,
		EffectUpdate:    report.Updates,
		EffectDeletion:  report.Deletions,
	} {
		if n > 0 {
			r.effectsCounter.Add(ctx, int64(n),
				metric.WithAttributes(attribute.String("effect", effect.String())),
			)
		}
	}
}
