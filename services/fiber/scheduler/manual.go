// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"sync"
)

// Manual queues callbacks until the caller runs them.
//
// It makes interleavings deterministic: tests decide exactly when each
// slice runs and what deadline it gets.
type Manual struct {
	mu          sync.Mutex
	queue       []Callback
	newDeadline func() Deadline
	ran         int
}

// NewManual creates a manual scheduler. newDeadline is called once per
// callback; nil means Unbounded.
func NewManual(newDeadline func() Deadline) *Manual {
	if newDeadline == nil {
		newDeadline = Unbounded
	}
	return &Manual{newDeadline: newDeadline}
}

// ScheduleWork implements Scheduler.
func (m *Manual) ScheduleWork(cb Callback) {
	if cb == nil {
		return
	}
	m.mu.Lock()
	m.queue = append(m.queue, cb)
	m.mu.Unlock()
}

// Pending returns the number of queued callbacks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Ran returns the number of callbacks run so far.
func (m *Manual) Ran() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ran
}

// RunNext runs the oldest queued callback. It returns false if the queue
// was empty.
func (m *Manual) RunNext(ctx context.Context) bool {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return false
	}
	cb := m.queue[0]
	m.queue = m.queue[1:]
	m.ran++
	m.mu.Unlock()

	cb(ctx, m.newDeadline())
	return true
}

// Drain runs callbacks, including ones scheduled while draining, until the
// queue is empty or ctx is done. It returns the number run.
func (m *Manual) Drain(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil && m.RunNext(ctx) {
		n++
	}
	return n
}
