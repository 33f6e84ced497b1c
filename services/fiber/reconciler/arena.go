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
	"github.com/AleutianAI/AleutianFiber/services/fiber/host"
	"github.com/AleutianAI/AleutianFiber/services/fiber/vnode"
)

// FiberID addresses a fiber inside an Arena. NoFiber is the null reference.
type FiberID uint32

// NoFiber is the zero FiberID; it never addresses a fiber.
const NoFiber FiberID = 0

// EffectTag classifies the commit-time action a fiber requires.
type EffectTag int

const (
	// EffectNone marks fibers with nothing to commit (the synthetic root).
	EffectNone EffectTag = iota

	// EffectPlacement inserts the fiber's host node under its parent.
	EffectPlacement

	// EffectUpdate patches the properties of a reused host node.
	EffectUpdate

	// EffectDeletion removes the host node of a fiber of the current tree.
	EffectDeletion
)

// String returns the effect name.
func (e EffectTag) String() string {
	switch e {
	case EffectNone:
		return "NONE"
	case EffectPlacement:
		return "PLACEMENT"
	case EffectUpdate:
		return "UPDATE"
	case EffectDeletion:
		return "DELETION"
	default:
		return "UNKNOWN"
	}
}

// Fiber is one unit of reconciled work.
//
// Parent, Child and Sibling address fibers of the same arena. Alternate
// addresses the fiber at the same tree coordinate in the other live tree,
// which lives in the other arena of the root.
type Fiber struct {
	Type  string
	Props vnode.Props

	// Elements is the ordered child description copied from the source
	// virtual node.
	Elements []*vnode.Node

	// Host is the host node of this fiber. It is created at most once per
	// tree position and carried over by UPDATE fibers.
	Host host.Handle

	Parent    FiberID
	Child     FiberID
	Sibling   FiberID
	Alternate FiberID

	Effect EffectTag
}

// Arena is dense storage for the fibers of one tree.
//
// Slots are recycled by reset, but a *Fiber returned by Get stays valid until
// the arena is reset. Slot 0 is reserved so that NoFiber never resolves.
type Arena struct {
	slots []*Fiber
	used  int
}

func newArena(capacity int) *Arena {
	a := &Arena{slots: make([]*Fiber, 1, capacity+1)}
	a.slots[0] = &Fiber{}
	a.used = 1
	return a
}

// alloc stores a copy of f and returns its ID.
func (a *Arena) alloc(f Fiber) FiberID {
	if a.used < len(a.slots) {
		*a.slots[a.used] = f
	} else {
		cp := f
		a.slots = append(a.slots, &cp)
	}
	id := FiberID(a.used)
	a.used++
	return id
}

// Get returns the fiber addressed by id, or nil for NoFiber and IDs that
// are not allocated.
func (a *Arena) Get(id FiberID) *Fiber {
	if id == NoFiber || int(id) >= a.used {
		return nil
	}
	return a.slots[id]
}

// Len returns the number of allocated fibers.
func (a *Arena) Len() int {
	return a.used - 1
}

// reset releases every fiber. Slots are zeroed so that dropped host handles
// and props can be collected.
func (a *Arena) reset() {
	for i := 1; i < a.used; i++ {
		*a.slots[i] = Fiber{}
	}
	a.used = 1
}

// clearAlternates drops every cross-arena link, used when the other arena is
// about to be recycled.
func (a *Arena) clearAlternates() {
	for i := 1; i < a.used; i++ {
		a.slots[i].Alternate = NoFiber
	}
}

// pathOf returns the sibling indexes from the tree root down to id.
func (a *Arena) pathOf(id FiberID) []int {
	var rev []int
	for cur := id; cur != NoFiber; {
		f := a.Get(cur)
		if f == nil || f.Parent == NoFiber {
			break
		}
		idx := 0
		for s := a.Get(f.Parent).Child; s != NoFiber && s != cur; s = a.Get(s).Sibling {
			idx++
		}
		rev = append(rev, idx)
		cur = f.Parent
	}
	path := make([]int, len(rev))
	for i := range rev {
		path[i] = rev[len(rev)-1-i]
	}
	return path
}
