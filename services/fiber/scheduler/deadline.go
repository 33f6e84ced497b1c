// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler provides the cooperative yield primitive used by the
// reconciler: deadlines, schedulers that invoke callbacks with a deadline,
// and helpers that drive workers slice by slice.
//
// The reconciler never preempts a unit of work. It asks the deadline how
// much time is left after each unit and returns when none is.
package scheduler

import (
	"context"
	"math"
	"sync"
	"time"
)

// Deadline reports the time left in the current slice. A value <= 0 means
// the worker should yield.
type Deadline interface {
	TimeRemaining() time.Duration
}

// Callback is work scheduled on a Scheduler. It receives the deadline of
// the slice it runs in.
type Callback func(ctx context.Context, d Deadline)

// Scheduler runs callbacks at some later point with a deadline.
type Scheduler interface {
	ScheduleWork(cb Callback)
}

// Worker processes one slice of work given a deadline and reports whether
// more work remains.
type Worker interface {
	Step(ctx context.Context, d Deadline) (bool, error)
}

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// TimeDeadline is a wall-clock budget measured from its start.
type TimeDeadline struct {
	end time.Time
	now Clock
}

// NewTimeDeadline returns a deadline expiring budget after now.
// A nil clock uses time.Now.
func NewTimeDeadline(budget time.Duration, now Clock) *TimeDeadline {
	if now == nil {
		now = time.Now
	}
	return &TimeDeadline{end: now().Add(budget), now: now}
}

// TimeRemaining implements Deadline.
func (d *TimeDeadline) TimeRemaining() time.Duration {
	return d.end.Sub(d.now())
}

// CountDeadline expires after a fixed number of checks, independent of
// wall-clock time. A worker that checks after every unit therefore runs
// exactly n units per slice.
type CountDeadline struct {
	mu     sync.Mutex
	n      int
	checks int
}

// NewCountDeadline returns a deadline that expires on the n-th check.
func NewCountDeadline(n int) *CountDeadline {
	return &CountDeadline{n: n}
}

// TimeRemaining implements Deadline. The returned duration is nominal: it
// is the number of checks left, expressed in nanoseconds.
func (d *CountDeadline) TimeRemaining() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checks++
	if d.checks >= d.n {
		return 0
	}
	return time.Duration(d.n - d.checks)
}

// Checks returns how many times TimeRemaining was called.
func (d *CountDeadline) Checks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checks
}

type unbounded struct{}

func (unbounded) TimeRemaining() time.Duration { return math.MaxInt64 }

// Unbounded returns a deadline that never expires.
func Unbounded() Deadline {
	return unbounded{}
}

// Budget returns a factory of wall-clock deadlines of the given budget,
// for use with Drive and Manual.
func Budget(budget time.Duration) func() Deadline {
	return func() Deadline { return NewTimeDeadline(budget, nil) }
}

// Count returns a factory of count deadlines of n checks.
func Count(n int) func() Deadline {
	return func() Deadline { return NewCountDeadline(n) }
}
