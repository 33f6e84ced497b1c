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
	"sort"

	"github.com/AleutianAI/AleutianFiber/services/fiber/host"
	"github.com/AleutianAI/AleutianFiber/services/fiber/vnode"
)

// PropOpKind is the kind of a single host property mutation.
//
// Kinds are declared in application order.
type PropOpKind int

const (
	OpRemoveListener PropOpKind = iota
	OpRemoveProperty
	OpSetProperty
	OpAddListener
)

// String returns the kind name.
func (k PropOpKind) String() string {
	switch k {
	case OpRemoveListener:
		return "remove-listener"
	case OpRemoveProperty:
		return "remove-property"
	case OpSetProperty:
		return "set-property"
	case OpAddListener:
		return "add-listener"
	default:
		return "unknown"
	}
}

// PropOp is one mutation produced by DiffProps.
//
// Value is set for OpSetProperty. Listener is set for both listener kinds and
// is the old listener for removals.
type PropOp struct {
	Kind     PropOpKind
	Key      string
	Value    any
	Listener *vnode.Listener
}

// String renders the op for logs and CLI output.
func (op PropOp) String() string {
	switch op.Kind {
	case OpSetProperty:
		return fmt.Sprintf("%s %s=%v", op.Kind, op.Key, op.Value)
	case OpRemoveListener, OpAddListener:
		return fmt.Sprintf("%s %s(%s)", op.Kind, op.Key, op.Listener.Name())
	default:
		return fmt.Sprintf("%s %s", op.Kind, op.Key)
	}
}

// DiffProps computes the host mutations that turn old into new.
//
// Description:
//
//	The result is grouped by kind in the order remove listeners, remove
//	properties, set properties, add listeners. Within a group keys are
//	sorted. A listener that changed identity yields a removal of the old
//	one and an addition of the new one. Attribute values are compared with
//	vnode.SameValue.
//
// Inputs:
//
//	old - Props of the committed fiber.
//	new - Props of the work-in-progress fiber.
//
// Outputs:
//
//	[]PropOp - Mutations to apply, empty when the props are equivalent.
//
// Thread Safety:
//
//	Pure function; safe for concurrent use.
func DiffProps(old, new vnode.Props) []PropOp {
	var ops []PropOp

	for _, k := range sortedKeys(old.Events) {
		prev := old.Events[k]
		if next, ok := new.Events[k]; !ok || next != prev {
			ops = append(ops, PropOp{Kind: OpRemoveListener, Key: k, Listener: prev})
		}
	}

	for _, k := range sortedKeys(old.Attrs) {
		if _, ok := new.Attrs[k]; !ok {
			ops = append(ops, PropOp{Kind: OpRemoveProperty, Key: k})
		}
	}

	for _, k := range sortedKeys(new.Attrs) {
		next := new.Attrs[k]
		if prev, ok := old.Attrs[k]; !ok || !vnode.SameValue(prev, next) {
			ops = append(ops, PropOp{Kind: OpSetProperty, Key: k, Value: next})
		}
	}

	for _, k := range sortedKeys(new.Events) {
		next := new.Events[k]
		if prev, ok := old.Events[k]; !ok || prev != next {
			ops = append(ops, PropOp{Kind: OpAddListener, Key: k, Listener: next})
		}
	}

	return ops
}

// applyPropOps applies ops to h in order and stops at the first host error.
func applyPropOps(a host.Adapter, h host.Handle, ops []PropOp) error {
	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpRemoveListener:
			err = a.RemoveListener(h, op.Key, op.Listener)
		case OpRemoveProperty:
			err = a.RemoveProperty(h, op.Key)
		case OpSetProperty:
			err = a.SetProperty(h, op.Key, op.Value)
		case OpAddListener:
			err = a.AddListener(h, op.Key, op.Listener)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op.Kind, err)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
