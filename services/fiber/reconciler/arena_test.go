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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFiber/services/fiber/scheduler"
)

func TestArena_AllocGetReset(t *testing.T) {
	a := newArena(1)
	assert.Nil(t, a.Get(NoFiber))
	assert.Nil(t, a.Get(1))

	id1 := a.alloc(Fiber{Type: "a"})
	id2 := a.alloc(Fiber{Type: "b"})
	assert.Equal(t, FiberID(1), id1)
	assert.Equal(t, FiberID(2), id2)
	assert.Equal(t, 2, a.Len())

	f := a.Get(id1)
	a.alloc(Fiber{Type: "c"})
	assert.Same(t, f, a.Get(id1), "pointers stay valid while the arena grows")

	a.reset()
	assert.Equal(t, 0, a.Len())
	assert.Nil(t, a.Get(id1))
	assert.Equal(t, "", f.Type, "reset zeroes recycled slots")

	id := a.alloc(Fiber{Type: "d"})
	assert.Equal(t, id1, id)
	assert.Same(t, f, a.Get(id), "slots are reused")
}

func TestArena_PathOf(t *testing.T) {
	a := newArena(8)
	root := a.alloc(Fiber{Type: RootType})
	x := a.alloc(Fiber{Type: "x", Parent: root})
	a.Get(root).Child = x
	y := a.alloc(Fiber{Type: "y", Parent: x})
	z := a.alloc(Fiber{Type: "z", Parent: x})
	a.Get(x).Child = y
	a.Get(y).Sibling = z

	assert.Empty(t, a.pathOf(root))
	assert.Equal(t, []int{0}, a.pathOf(x))
	assert.Equal(t, []int{0, 0}, a.pathOf(y))
	assert.Equal(t, []int{0, 1}, a.pathOf(z))
	assert.Equal(t, z, nextPreOrder(a, y, root))
	assert.Equal(t, NoFiber, nextPreOrder(a, z, root))
}

func TestEffectTag_String(t *testing.T) {
	assert.Equal(t, "NONE", EffectNone.String())
	assert.Equal(t, "PLACEMENT", EffectPlacement.String())
	assert.Equal(t, "UPDATE", EffectUpdate.String())
	assert.Equal(t, "DELETION", EffectDeletion.String())
	assert.Equal(t, "UNKNOWN", EffectTag(9).String())
}

func TestRoot_TreesNeverShareFibers(t *testing.T) {
	r, _ := newTestRoot(t)
	ctx := context.Background()
	renderAndFlush(t, r, h("div", h("p", "a")))

	require.NoError(t, r.Render(ctx, h("div", h("p", "b"))))
	more, err := r.Step(ctx, scheduler.NewCountDeadline(3))
	require.NoError(t, err)
	require.True(t, more)

	wip, cur := r.wipArena(), r.currentArena()
	require.NotSame(t, wip, cur)
	updates := 0
	for id := FiberID(1); int(id) <= wip.Len(); id++ {
		f := wip.Get(id)
		if f.Effect != EffectUpdate {
			continue
		}
		updates++
		alt := cur.Get(f.Alternate)
		require.NotNil(t, alt)
		assert.NotSame(t, f, alt)
		assert.Equal(t, alt.Host, f.Host, "UPDATE shares the host node with its alternate")
	}
	assert.Equal(t, 3, updates)

	require.NoError(t, r.Flush(ctx))
	promoted := r.currentArena()
	for id := FiberID(1); int(id) <= promoted.Len(); id++ {
		assert.Equal(t, NoFiber, promoted.Get(id).Alternate, "alternates cleared on promotion")
	}
}
