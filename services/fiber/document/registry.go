// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document

import (
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianFiber/services/fiber/vnode"
)

// Registry maps handler names to listeners with stable identity.
//
// Thread Safety:
//
//	Safe for concurrent use. A nil *Registry has no handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*vnode.Listener
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*vnode.Listener)}
}

// Register binds name to fn and returns the listener. Registering a name
// again replaces the listener, so documents parsed afterwards bind the new
// one.
func (r *Registry) Register(name string, fn func(vnode.Event)) *vnode.Listener {
	l := vnode.Listen(name, fn)
	r.mu.Lock()
	r.handlers[name] = l
	r.mu.Unlock()
	return l
}

// Lookup returns the listener registered under name.
func (r *Registry) Lookup(name string) (*vnode.Listener, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.handlers[name]
	return l, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
