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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrAlreadyRunning is returned when Run is called on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler already running")

// FrameConfig configures a Frame scheduler.
type FrameConfig struct {
	// Interval is the minimum time between frame starts. Zero runs frames
	// back to back.
	Interval time.Duration

	// Budget is the deadline handed to each callback.
	Budget time.Duration

	// Burst is the number of frames that may start without waiting after an
	// idle period. Values < 1 are treated as 1.
	Burst int

	// Clock overrides time.Now for deadlines.
	Clock Clock
}

// Frame runs scheduled callbacks on a single goroutine, one frame at a time.
//
// Description:
//
//	Each frame takes every callback queued when the frame starts and runs
//	them in order, each with a fresh Budget deadline. Callbacks scheduled
//	while a frame runs wait for the next frame. Frame starts are paced by a
//	token bucket of one token per Interval.
//
// Thread Safety:
//
//	ScheduleWork and Idle are safe for concurrent use. Callbacks never run
//	concurrently with each other.
type Frame struct {
	cfg     FrameConfig
	limiter *rate.Limiter
	logger  *slog.Logger

	mu    sync.Mutex
	queue []Callback
	wake  chan struct{}

	running atomic.Bool
	frames  atomic.Int64
}

// NewFrame creates a frame scheduler.
//
// Inputs:
//
//	cfg - Frame pacing and budget. Budget must be positive.
//	logger - Logger for panics and frame detail. If nil, uses slog.Default().
//
// Outputs:
//
//	*Frame - The scheduler, not yet running.
//	error - Non-nil if cfg is invalid.
func NewFrame(cfg FrameConfig, logger *slog.Logger) (*Frame, error) {
	if cfg.Budget <= 0 {
		return nil, fmt.Errorf("frame budget must be positive, got %s", cfg.Budget)
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("frame interval must not be negative, got %s", cfg.Interval)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}

	return &Frame{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}, nil
}

// ScheduleWork implements Scheduler.
func (f *Frame) ScheduleWork(cb Callback) {
	if cb == nil {
		return
	}
	f.mu.Lock()
	f.queue = append(f.queue, cb)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Idle reports whether no callback is queued.
func (f *Frame) Idle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) == 0
}

// Frames returns the number of frames run so far.
func (f *Frame) Frames() int64 {
	return f.frames.Load()
}

// Run processes frames until ctx is done.
//
// Outputs:
//
//	error - ErrAlreadyRunning if another Run is active, otherwise ctx.Err().
func (f *Frame) Run(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer f.running.Store(false)

	for {
		if f.Idle() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.wake:
				continue
			}
		}

		if err := f.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("frame pacing: %w", err)
		}
		f.runFrame(ctx)
	}
}

func (f *Frame) runFrame(ctx context.Context) {
	f.mu.Lock()
	batch := f.queue
	f.queue = nil
	f.mu.Unlock()

	n := f.frames.Add(1)
	for _, cb := range batch {
		if ctx.Err() != nil {
			return
		}
		f.safeExecute(ctx, cb, NewTimeDeadline(f.cfg.Budget, f.cfg.Clock))
	}

	f.logger.Debug("frame finished",
		slog.Int64("frame", n),
		slog.Int("callbacks", len(batch)),
	)
}

// safeExecute runs cb and recovers a panic so that one callback cannot stop
// the frame loop.
func (f *Frame) safeExecute(ctx context.Context, cb Callback, d Deadline) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("scheduled callback panicked",
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	cb(ctx, d)
}
