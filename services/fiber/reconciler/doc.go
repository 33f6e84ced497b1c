// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reconciler turns virtual trees into host mutations incrementally.
//
// A Root keeps two fiber trees in two arenas: the committed tree and, while
// a cycle is in flight, a work-in-progress tree. Render starts a cycle. Each
// Step runs units of work until its deadline expires; a unit creates the
// fiber's host node if needed and diffs its children against the committed
// tree, tagging fibers PLACEMENT, UPDATE or DELETION. Nothing reaches the
// host until the last unit finishes, at which point the commit applies all
// effects in one pass and the work-in-progress tree becomes current.
//
// Basic usage:
//
//	mem := host.NewMemory()
//	root, _ := reconciler.NewRoot(mem, mem.Container())
//	_ = root.Render(ctx, vnode.CreateElement("div", nil, "hello"))
//	_ = root.Flush(ctx)
//
// Interruptible usage drives Step with a deadline, or attaches a scheduler
// with WithScheduler.
package reconciler
