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
	"errors"
	"fmt"
)

// Sentinel errors for reconciler operations.
var (
	// ErrInvalidInput is returned when a required argument is missing.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrRenderInProgress is returned by Render under PolicyReject while a
	// render cycle has not committed yet.
	ErrRenderInProgress = errors.New("render cycle in progress")

	// ErrOrphanFiber is returned when a fiber other than the synthetic root
	// has no parent. The tree is malformed and the cycle is abandoned.
	ErrOrphanFiber = errors.New("fiber has no parent")

	// ErrUnknownPolicy is returned when parsing an unknown render policy.
	ErrUnknownPolicy = errors.New("unknown render policy")

	// ErrSnapshotCorrupt is returned when a snapshot fails verification.
	ErrSnapshotCorrupt = errors.New("snapshot checksum mismatch")

	// ErrNoCommittedTree is returned when snapshotting a root that has
	// never committed.
	ErrNoCommittedTree = errors.New("no committed tree")
)

// CommitError reports a host failure during the commit phase.
//
// The host tree may be partially mutated when this error is returned; the
// committed fiber tree is left unchanged.
type CommitError struct {
	CycleID string
	Effect  EffectTag
	Type    string
	Path    []int
	Err     error
}

// Error implements error.
func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s: %s %q at %v: %v", e.CycleID, e.Effect, e.Type, e.Path, e.Err)
}

// Unwrap returns the underlying host error.
func (e *CommitError) Unwrap() error {
	return e.Err
}

// UnitError reports a failure while processing one unit of work.
type UnitError struct {
	CycleID string
	Type    string
	Err     error
}

// Error implements error.
func (e *UnitError) Error() string {
	return fmt.Sprintf("cycle %s: unit %q: %v", e.CycleID, e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *UnitError) Unwrap() error {
	return e.Err
}

// isContextErr reports whether err only signals cancellation, in which case
// the in-flight cycle is kept so a later slice can resume it.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
