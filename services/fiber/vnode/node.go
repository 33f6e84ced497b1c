// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vnode describes desired trees as immutable virtual nodes.
//
// A virtual node carries a type tag, a property bag and an ordered child
// list. The property bag keeps plain host properties and event bindings in
// two separate maps, so nothing downstream has to guess from a key name
// whether a value is a listener.
//
// # Usage
//
//	onClick := vnode.Listen("increment", func(e vnode.Event) { count++ })
//	tree := vnode.CreateElement("div", map[string]any{"id": "app"},
//	    vnode.CreateElement("h1", map[string]any{"title": "greeting"}, "Hello"),
//	    vnode.CreateElement("button", map[string]any{"onClick": onClick}, "+1"),
//	)
//
// Nodes are never mutated after construction. Build a new tree for every
// render.
package vnode

import (
	"fmt"
	"strings"
)

// TextType is the reserved type tag of text leaves.
const TextType = "TEXT_ELEMENT"

// NodeValueKey is the only meaningful attribute of a text leaf.
const NodeValueKey = "nodeValue"

// ChildrenKey is the structural key skipped when building property bags.
const ChildrenKey = "children"

// eventPrefix marks a property key that may carry a listener.
const eventPrefix = "on"

// Node is an immutable description of one node of a desired tree.
type Node struct {
	Type     string
	Props    Props
	Children []*Node
}

// IsText reports whether the node is a text leaf.
func (n *Node) IsText() bool {
	return n != nil && n.Type == TextType
}

// Text returns the node value of a text leaf as a string.
// It returns "" for non-text nodes.
func (n *Node) Text() string {
	if !n.IsText() {
		return ""
	}
	v, ok := n.Props.Attrs[NodeValueKey]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// String renders the node as a compact tag tree, mostly for debugging and
// test failure messages.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	if n.IsText() {
		return fmt.Sprintf("%q", n.Text())
	}
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(n.Type)
	b.WriteString(">")
	for _, c := range n.Children {
		b.WriteString(c.String())
	}
	b.WriteString("</")
	b.WriteString(n.Type)
	b.WriteString(">")
	return b.String()
}

// CreateElement builds a virtual node.
//
// Description:
//
//	Keys of props that start with "on" and hold a *Listener become event
//	bindings named by the lower-cased rest of the key ("onClick" binds
//	"click"). The "children" key is structural and ignored. Every other key
//	is a plain attribute.
//
//	Children that are *Node are kept as they are. Scalar children (strings,
//	numbers, booleans, fmt.Stringer values) are wrapped into text leaves.
//	Nil children are skipped.
//
// Inputs:
//
//	typ - The host type tag (for example "div").
//	props - Property bag. May be nil.
//	children - Child nodes or scalars.
//
// Outputs:
//
//	*Node - The immutable virtual node.
func CreateElement(typ string, props map[string]any, children ...any) *Node {
	return &Node{
		Type:     typ,
		Props:    splitProps(props),
		Children: wrapChildren(children),
	}
}

// CreateText builds a text leaf holding value.
func CreateText(value any) *Node {
	return &Node{
		Type: TextType,
		Props: Props{
			Attrs:  map[string]any{NodeValueKey: value},
			Events: map[string]*Listener{},
		},
	}
}

// splitProps separates plain attributes from event bindings.
func splitProps(props map[string]any) Props {
	out := Props{
		Attrs:  make(map[string]any, len(props)),
		Events: make(map[string]*Listener),
	}
	for key, value := range props {
		if key == ChildrenKey {
			continue
		}
		if l, ok := value.(*Listener); ok && isEventKey(key) {
			out.Events[EventName(key)] = l
			continue
		}
		out.Attrs[key] = value
	}
	return out
}

func wrapChildren(children []any) []*Node {
	out := make([]*Node, 0, len(children))
	for _, c := range children {
		switch v := c.(type) {
		case nil:
			continue
		case *Node:
			if v == nil {
				continue
			}
			out = append(out, v)
		case []*Node:
			for _, n := range v {
				if n != nil {
					out = append(out, n)
				}
			}
		default:
			out = append(out, CreateText(v))
		}
	}
	return out
}

func isEventKey(key string) bool {
	return len(key) > len(eventPrefix) && strings.HasPrefix(key, eventPrefix)
}

// EventName converts an "onXxx" property key into the host event name.
func EventName(key string) string {
	return strings.ToLower(strings.TrimPrefix(key, eventPrefix))
}
