// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package host

import "errors"

// Sentinel errors for host operations.
var (
	// ErrUnknownHandle is returned when a handle was not created by this host.
	ErrUnknownHandle = errors.New("unknown host handle")

	// ErrNotAChild is returned when removing or referencing a node that is
	// not a child of the given parent.
	ErrNotAChild = errors.New("node is not a child of parent")

	// ErrHasParent is returned when attaching a node that is already attached.
	ErrHasParent = errors.New("node already has a parent")

	// ErrCycle is returned when attaching a node below itself.
	ErrCycle = errors.New("node cannot be attached below itself")

	// ErrTextChildren is returned when appending children to a text node.
	ErrTextChildren = errors.New("text nodes cannot have children")
)
