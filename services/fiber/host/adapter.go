// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package host defines the boundary between the reconciler and a concrete
// host tree, and ships an in-memory host used by tests and the CLI.
//
// # Contract
//
// The reconciler creates host nodes while it diffs (a freshly created node
// is detached and invisible) and performs every other call only during the
// commit phase. Adapters may fail; the reconciler does not retry and
// surfaces the error to the caller of the render cycle.
//
// # Thread Safety
//
// The reconciler never calls an Adapter concurrently for the same root.
// Memory is additionally safe for concurrent reads (Render, Snapshot,
// Calls) while a commit is in progress.
package host

import "github.com/AleutianAI/AleutianFiber/services/fiber/vnode"

// Handle is an opaque reference to a host node, owned by the Adapter.
type Handle any

// Adapter creates and mutates host nodes on behalf of the reconciler.
type Adapter interface {
	// CreateNode returns a new detached host node of type typ with the
	// initial attributes and listeners of props applied.
	CreateNode(typ string, props vnode.Props) (Handle, error)

	// SetProperty assigns value to key on h.
	SetProperty(h Handle, key string, value any) error

	// RemoveProperty resets key on h to its empty value.
	RemoveProperty(h Handle, key string) error

	// AddListener attaches l to the event named event on h.
	AddListener(h Handle, event string, l *vnode.Listener) error

	// RemoveListener detaches l from the event named event on h.
	RemoveListener(h Handle, event string, l *vnode.Listener) error

	// AppendChild makes child the last child of parent.
	AppendChild(parent, child Handle) error

	// InsertBefore makes child a child of parent, placed right before ref.
	InsertBefore(parent, child, ref Handle) error

	// RemoveChild detaches child, and with it child's subtree, from parent.
	RemoveChild(parent, child Handle) error
}
