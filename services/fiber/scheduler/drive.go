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

	"golang.org/x/sync/errgroup"
)

// ErrNilWorker is returned when a nil worker is driven.
var ErrNilWorker = errors.New("worker must not be nil")

// Drive runs w slice after slice until it reports no more work.
//
// Inputs:
//
//	ctx - Checked between slices.
//	w - The worker. Must not be nil.
//	newDeadline - Called once per slice. Nil means Unbounded.
//
// Outputs:
//
//	int - Number of slices run.
//	error - The first worker error, or ctx.Err().
func Drive(ctx context.Context, w Worker, newDeadline func() Deadline) (int, error) {
	if w == nil {
		return 0, ErrNilWorker
	}
	if newDeadline == nil {
		newDeadline = Unbounded
	}

	slices := 0
	for {
		if err := ctx.Err(); err != nil {
			return slices, err
		}
		more, err := w.Step(ctx, newDeadline())
		slices++
		if err != nil {
			return slices, err
		}
		if !more {
			return slices, nil
		}
	}
}

// DriveAll drives independent workers concurrently, one goroutine each.
// The first error cancels the others and is returned.
func DriveAll(ctx context.Context, workers []Worker, newDeadline func() Deadline) error {
	g, gCtx := errgroup.WithContext(ctx)
	for i, w := range workers {
		g.Go(func() error {
			if _, err := Drive(gCtx, w, newDeadline); err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}
