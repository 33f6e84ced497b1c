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

import "github.com/AleutianAI/AleutianFiber/services/fiber/vnode"

// reconcileChildren builds the child fibers of wipID from elements.
//
// Description:
//
//	Walks the new element list and the old child chain of the alternate in
//	lockstep until both are exhausted. Matching is positional: the element
//	at index i is compared only with the old fiber at index i.
//
//	  same type          -> UPDATE, reusing the old host node
//	  new only / differs -> PLACEMENT with no host node yet
//	  old only / differs -> old fiber tagged DELETION and queued
//
//	Deleted fibers stay in the current arena and are never linked into the
//	new chain. Nil elements are skipped. The caller holds the lock.
func (r *Root) reconcileChildren(wipID FiberID, elements []*vnode.Node) {
	wipArena, curArena := r.wipArena(), r.currentArena()
	parent := wipArena.Get(wipID)

	old := NoFiber
	if alt := curArena.Get(parent.Alternate); alt != nil {
		old = alt.Child
	}

	prev := NoFiber
	i := 0
	for i < len(elements) || old != NoFiber {
		var el *vnode.Node
		for el == nil && i < len(elements) {
			el = elements[i]
			i++
		}
		oldFiber := curArena.Get(old)
		if el == nil && oldFiber == nil {
			break
		}

		sameType := el != nil && oldFiber != nil && el.Type == oldFiber.Type

		next := NoFiber
		switch {
		case sameType:
			next = wipArena.alloc(Fiber{
				Type:      el.Type,
				Props:     el.Props,
				Elements:  el.Children,
				Host:      oldFiber.Host,
				Parent:    wipID,
				Alternate: old,
				Effect:    EffectUpdate,
			})
		case el != nil:
			next = wipArena.alloc(Fiber{
				Type:     el.Type,
				Props:    el.Props,
				Elements: el.Children,
				Parent:   wipID,
				Effect:   EffectPlacement,
			})
		}

		if oldFiber != nil && !sameType {
			r.deletions = append(r.deletions, deletion{id: old, prev: oldFiber.Effect})
			oldFiber.Effect = EffectDeletion
		}
		if oldFiber != nil {
			old = oldFiber.Sibling
		}

		if next != NoFiber {
			if prev == NoFiber {
				parent.Child = next
			} else {
				wipArena.Get(prev).Sibling = next
			}
			prev = next
		}
	}
}
