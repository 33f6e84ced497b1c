// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vnode

import "reflect"

// Props is the property bag of a virtual node.
//
// Attrs holds plain host properties. Events holds listener bindings keyed
// by host event name ("click", "input"). Both maps may be nil; readers treat
// nil as empty.
type Props struct {
	Attrs  map[string]any
	Events map[string]*Listener
}

// Empty reports whether the bag has neither attributes nor events.
func (p Props) Empty() bool {
	return len(p.Attrs) == 0 && len(p.Events) == 0
}

// Clone returns a copy with fresh maps. Values are copied shallowly.
func (p Props) Clone() Props {
	out := Props{
		Attrs:  make(map[string]any, len(p.Attrs)),
		Events: make(map[string]*Listener, len(p.Events)),
	}
	for k, v := range p.Attrs {
		out.Attrs[k] = v
	}
	for k, v := range p.Events {
		out.Events[k] = v
	}
	return out
}

// Event is delivered to a Listener when the host fires an event.
type Event struct {
	Type    string
	Payload any
}

// Listener is an event handler with pointer identity.
//
// Go functions are not comparable, so two bindings are the same handler
// exactly when they point at the same Listener. Keep a Listener around
// between renders to avoid detaching and re-attaching it on every commit.
type Listener struct {
	name string
	fn   func(Event)
}

// Listen wraps fn into a Listener. name is only used for diagnostics.
func Listen(name string, fn func(Event)) *Listener {
	return &Listener{name: name, fn: fn}
}

// Name returns the diagnostic name given to Listen.
func (l *Listener) Name() string {
	if l == nil {
		return ""
	}
	return l.name
}

// Invoke calls the wrapped function. A nil Listener or function is a no-op.
func (l *Listener) Invoke(e Event) {
	if l == nil || l.fn == nil {
		return
	}
	l.fn(e)
}

// SameValue reports whether two attribute values are shallowly equal.
//
// Comparable values use ==. Values whose dynamic type is not comparable
// (slices, maps, funcs) fall back to reflect.DeepEqual, since == would
// panic on them.
func SameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if reflect.ValueOf(a).Comparable() && reflect.ValueOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
