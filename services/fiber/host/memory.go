// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package host

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianFiber/services/fiber/vnode"
)

// NodeID identifies a node of a Memory host. IDs are never reused.
type NodeID uint64

// Op names a host call recorded in the Memory call log.
type Op string

const (
	OpCreate         Op = "create"
	OpSetProperty    Op = "set"
	OpRemoveProperty Op = "unset"
	OpAddListener    Op = "listen"
	OpRemoveListener Op = "unlisten"
	OpAppendChild    Op = "append"
	OpInsertBefore   Op = "insert"
	OpRemoveChild    Op = "remove"
)

// Mutates reports whether the call changes attached host state.
// Creating a node does not: a new node is detached until it is appended.
func (o Op) Mutates() bool {
	return o != OpCreate
}

// Call is one entry of the Memory call log.
type Call struct {
	Op Op
	// Node is the node the call acts on (the parent for child operations).
	Node NodeID
	// Target is the child for child operations, 0 otherwise.
	Target NodeID
	// Key is the property key or event name, "" for child operations.
	Key   string
	Value any
}

// String formats the call for logs and test failures.
func (c Call) String() string {
	switch c.Op {
	case OpAppendChild, OpInsertBefore, OpRemoveChild:
		return fmt.Sprintf("%s(%d, %d)", c.Op, c.Node, c.Target)
	case OpCreate:
		return fmt.Sprintf("%s(%d:%s)", c.Op, c.Node, c.Key)
	default:
		return fmt.Sprintf("%s(%d, %s)", c.Op, c.Node, c.Key)
	}
}

// MemNode is a host node of a Memory host. It is the Handle type Memory
// hands out.
type MemNode struct {
	id        NodeID
	typ       string
	attrs     map[string]any
	listeners map[string][]*vnode.Listener
	parent    *MemNode
	children  []*MemNode
}

// ID returns the node identifier.
func (n *MemNode) ID() NodeID { return n.id }

// Type returns the node type tag.
func (n *MemNode) Type() string { return n.typ }

// Parent returns the parent node, nil when detached or for the container.
func (n *MemNode) Parent() *MemNode { return n.parent }

// Children returns a copy of the child list.
func (n *MemNode) Children() []*MemNode {
	out := make([]*MemNode, len(n.children))
	copy(out, n.children)
	return out
}

// Attr returns the value of attribute key.
func (n *MemNode) Attr(key string) (any, bool) {
	v, ok := n.attrs[key]
	return v, ok
}

// Listeners returns the listeners bound to event, in attach order.
func (n *MemNode) Listeners(event string) []*vnode.Listener {
	out := make([]*vnode.Listener, len(n.listeners[event]))
	copy(out, n.listeners[event])
	return out
}

func (n *MemNode) isText() bool { return n.typ == vnode.TextType }

// Memory is an in-memory host tree.
//
// Description:
//
//	Memory implements Adapter over plain Go structs. Every call is recorded
//	in a call log so tests can assert the order of host mutations. Failures
//	can be injected per operation with FailOn.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	nextID    NodeID
	nodes     map[NodeID]*MemNode
	container *MemNode
	calls     []Call
	failures  map[Op]error
}

// NewMemory returns an empty host whose container node has type "root".
func NewMemory() *Memory {
	m := &Memory{
		nodes:    make(map[NodeID]*MemNode),
		failures: make(map[Op]error),
	}
	m.container = m.newNode("root", vnode.Props{})
	return m
}

// Container returns the handle of the container node.
func (m *Memory) Container() Handle {
	return m.container
}

// Len returns the number of nodes ever created, the container included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// FailOn makes the next call of op return err. A nil err clears it.
func (m *Memory) FailOn(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns a copy of the call log.
func (m *Memory) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// ResetCalls clears the call log.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = m.calls[:0]
}

// CreateNode implements Adapter.
func (m *Memory) CreateNode(typ string, props vnode.Props) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(OpCreate); err != nil {
		return nil, err
	}
	n := m.newNode(typ, props)
	m.record(Call{Op: OpCreate, Node: n.id, Key: typ})
	return n, nil
}

// SetProperty implements Adapter.
func (m *Memory) SetProperty(h Handle, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.lookup(h)
	if err != nil {
		return err
	}
	if err := m.takeFailure(OpSetProperty); err != nil {
		return err
	}
	n.attrs[key] = value
	m.record(Call{Op: OpSetProperty, Node: n.id, Key: key, Value: value})
	return nil
}

// RemoveProperty implements Adapter.
func (m *Memory) RemoveProperty(h Handle, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.lookup(h)
	if err != nil {
		return err
	}
	if err := m.takeFailure(OpRemoveProperty); err != nil {
		return err
	}
	delete(n.attrs, key)
	m.record(Call{Op: OpRemoveProperty, Node: n.id, Key: key})
	return nil
}

// AddListener implements Adapter.
func (m *Memory) AddListener(h Handle, event string, l *vnode.Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.lookup(h)
	if err != nil {
		return err
	}
	if err := m.takeFailure(OpAddListener); err != nil {
		return err
	}
	n.listeners[event] = append(n.listeners[event], l)
	m.record(Call{Op: OpAddListener, Node: n.id, Key: event, Value: l})
	return nil
}

// RemoveListener implements Adapter. Removing a listener that is not bound
// is a no-op, matching browser semantics.
func (m *Memory) RemoveListener(h Handle, event string, l *vnode.Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.lookup(h)
	if err != nil {
		return err
	}
	if err := m.takeFailure(OpRemoveListener); err != nil {
		return err
	}
	bound := n.listeners[event]
	for i, b := range bound {
		if b == l {
			n.listeners[event] = append(bound[:i:i], bound[i+1:]...)
			break
		}
	}
	if len(n.listeners[event]) == 0 {
		delete(n.listeners, event)
	}
	m.record(Call{Op: OpRemoveListener, Node: n.id, Key: event, Value: l})
	return nil
}

// AppendChild implements Adapter.
func (m *Memory) AppendChild(parent, child Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, c, err := m.attachable(parent, child)
	if err != nil {
		return err
	}
	if err := m.takeFailure(OpAppendChild); err != nil {
		return err
	}
	p.children = append(p.children, c)
	c.parent = p
	m.record(Call{Op: OpAppendChild, Node: p.id, Target: c.id})
	return nil
}

// InsertBefore implements Adapter.
func (m *Memory) InsertBefore(parent, child, ref Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, c, err := m.attachable(parent, child)
	if err != nil {
		return err
	}
	r, err := m.lookup(ref)
	if err != nil {
		return err
	}
	idx := indexOf(p.children, r)
	if idx < 0 {
		return fmt.Errorf("%w: ref %d under %d", ErrNotAChild, r.id, p.id)
	}
	if err := m.takeFailure(OpInsertBefore); err != nil {
		return err
	}
	p.children = append(p.children, nil)
	copy(p.children[idx+1:], p.children[idx:])
	p.children[idx] = c
	c.parent = p
	m.record(Call{Op: OpInsertBefore, Node: p.id, Target: c.id})
	return nil
}

// RemoveChild implements Adapter.
func (m *Memory) RemoveChild(parent, child Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.lookup(parent)
	if err != nil {
		return err
	}
	c, err := m.lookup(child)
	if err != nil {
		return err
	}
	idx := indexOf(p.children, c)
	if idx < 0 {
		return fmt.Errorf("%w: %d under %d", ErrNotAChild, c.id, p.id)
	}
	if err := m.takeFailure(OpRemoveChild); err != nil {
		return err
	}
	p.children = append(p.children[:idx:idx], p.children[idx+1:]...)
	c.parent = nil
	m.record(Call{Op: OpRemoveChild, Node: p.id, Target: c.id})
	return nil
}

// Dispatch fires event on h, invoking its listeners in attach order.
// Listeners run without the host lock held.
func (m *Memory) Dispatch(h Handle, event string, payload any) error {
	m.mu.RLock()
	n, err := m.lookup(h)
	var bound []*vnode.Listener
	if err == nil {
		bound = n.Listeners(event)
	}
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	for _, l := range bound {
		l.Invoke(vnode.Event{Type: event, Payload: payload})
	}
	return nil
}

// Render serializes the children of the container as HTML-like markup.
// Attributes are written in key order; listeners are not rendered.
func (m *Memory) Render() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var b strings.Builder
	for _, c := range m.container.children {
		renderNode(&b, c)
	}
	return b.String()
}

// NodeSnapshot is a JSON-friendly copy of a host subtree.
type NodeSnapshot struct {
	ID       NodeID         `json:"id"`
	Type     string         `json:"type"`
	Attrs    map[string]any `json:"attrs,omitempty"`
	Events   []string       `json:"events,omitempty"`
	Children []NodeSnapshot `json:"children,omitempty"`
}

// Snapshot copies the host tree below (and including) the container.
func (m *Memory) Snapshot() NodeSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshotNode(m.container)
}

func (m *Memory) newNode(typ string, props vnode.Props) *MemNode {
	m.nextID++
	n := &MemNode{
		id:        m.nextID,
		typ:       typ,
		attrs:     make(map[string]any, len(props.Attrs)),
		listeners: make(map[string][]*vnode.Listener, len(props.Events)),
	}
	for k, v := range props.Attrs {
		n.attrs[k] = v
	}
	for event, l := range props.Events {
		n.listeners[event] = []*vnode.Listener{l}
	}
	m.nodes[n.id] = n
	return n
}

func (m *Memory) lookup(h Handle) (*MemNode, error) {
	n, ok := h.(*MemNode)
	if !ok || n == nil {
		return nil, fmt.Errorf("%w: %T", ErrUnknownHandle, h)
	}
	if m.nodes[n.id] != n {
		return nil, fmt.Errorf("%w: node %d", ErrUnknownHandle, n.id)
	}
	return n, nil
}

func (m *Memory) attachable(parent, child Handle) (*MemNode, *MemNode, error) {
	p, err := m.lookup(parent)
	if err != nil {
		return nil, nil, err
	}
	c, err := m.lookup(child)
	if err != nil {
		return nil, nil, err
	}
	if p.isText() {
		return nil, nil, fmt.Errorf("%w: node %d", ErrTextChildren, p.id)
	}
	if c.parent != nil {
		return nil, nil, fmt.Errorf("%w: node %d under %d", ErrHasParent, c.id, c.parent.id)
	}
	for a := p; a != nil; a = a.parent {
		if a == c {
			return nil, nil, fmt.Errorf("%w: node %d", ErrCycle, c.id)
		}
	}
	return p, c, nil
}

func (m *Memory) takeFailure(op Op) error {
	err, ok := m.failures[op]
	if !ok {
		return nil
	}
	delete(m.failures, op)
	return err
}

func (m *Memory) record(c Call) {
	m.calls = append(m.calls, c)
}

func indexOf(list []*MemNode, n *MemNode) int {
	for i, c := range list {
		if c == n {
			return i
		}
	}
	return -1
}

func renderNode(b *strings.Builder, n *MemNode) {
	if n.isText() {
		if v, ok := n.attrs[vnode.NodeValueKey]; ok && v != nil {
			b.WriteString(html.EscapeString(fmt.Sprint(v)))
		}
		return
	}
	b.WriteString("<")
	b.WriteString(n.typ)
	for _, k := range sortedKeys(n.attrs) {
		fmt.Fprintf(b, " %s=%q", k, fmt.Sprint(n.attrs[k]))
	}
	b.WriteString(">")
	for _, c := range n.children {
		renderNode(b, c)
	}
	b.WriteString("</")
	b.WriteString(n.typ)
	b.WriteString(">")
}

func snapshotNode(n *MemNode) NodeSnapshot {
	s := NodeSnapshot{ID: n.id, Type: n.typ}
	if len(n.attrs) > 0 {
		s.Attrs = make(map[string]any, len(n.attrs))
		for k, v := range n.attrs {
			s.Attrs[k] = v
		}
	}
	for event := range n.listeners {
		s.Events = append(s.Events, event)
	}
	sort.Strings(s.Events)
	for _, c := range n.children {
		s.Children = append(s.Children, snapshotNode(c))
	}
	return s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ Adapter = (*Memory)(nil)
