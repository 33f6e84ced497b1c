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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianFiber/services/fiber/host"
	"github.com/AleutianAI/AleutianFiber/services/fiber/vnode"
)

// FiberView is a detached copy of one committed fiber and its subtree.
//
// Props are cloned; mutating a view never affects the root.
type FiberView struct {
	Type     string
	Props    vnode.Props
	Host     host.Handle
	Effect   EffectTag
	Children []*FiberView
}

// Current returns a view of the committed tree rooted at the synthetic root
// fiber, or nil if nothing has been committed yet.
func (r *Root) Current() *FiberView {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentRoot == NoFiber {
		return nil
	}
	return viewOf(r.currentArena(), r.currentRoot)
}

// Inspect returns the committed fiber at path, where each element is a
// sibling index starting below the synthetic root. An empty path returns the
// synthetic root.
func (r *Root) Inspect(path ...int) (*FiberView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentRoot == NoFiber {
		return nil, false
	}

	a := r.currentArena()
	id := r.currentRoot
	for _, idx := range path {
		if idx < 0 {
			return nil, false
		}
		id = a.Get(id).Child
		for i := 0; i < idx && id != NoFiber; i++ {
			id = a.Get(id).Sibling
		}
		if id == NoFiber {
			return nil, false
		}
	}
	return viewOf(a, id), true
}

func viewOf(a *Arena, id FiberID) *FiberView {
	f := a.Get(id)
	v := &FiberView{
		Type:   f.Type,
		Props:  f.Props.Clone(),
		Host:   f.Host,
		Effect: f.Effect,
	}
	for c := f.Child; c != NoFiber; c = a.Get(c).Sibling {
		v.Children = append(v.Children, viewOf(a, c))
	}
	return v
}

// String renders the view as an indented outline, one fiber per line.
func (v *FiberView) String() string {
	var b strings.Builder
	v.write(&b, 0)
	return b.String()
}

func (v *FiberView) write(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	if v.Type == vnode.TextType {
		fmt.Fprintf(b, "%q", fmt.Sprint(v.Props.Attrs[vnode.NodeValueKey]))
	} else {
		b.WriteString(v.Type)
	}
	if v.Effect != EffectNone {
		fmt.Fprintf(b, " [%s]", v.Effect)
	}
	b.WriteByte('\n')
	for _, c := range v.Children {
		c.write(b, depth+1)
	}
}
