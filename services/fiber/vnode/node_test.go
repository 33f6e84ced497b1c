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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateElement_WrapsScalarChildren(t *testing.T) {
	el := CreateElement("div", nil,
		"hello",
		42,
		true,
		CreateElement("span", nil),
	)

	require.Len(t, el.Children, 4)
	assert.Equal(t, TextType, el.Children[0].Type)
	assert.Equal(t, "hello", el.Children[0].Props.Attrs[NodeValueKey])
	assert.Equal(t, 42, el.Children[1].Props.Attrs[NodeValueKey])
	assert.Equal(t, true, el.Children[2].Props.Attrs[NodeValueKey])
	assert.Equal(t, "span", el.Children[3].Type)
	assert.Empty(t, el.Children[0].Children)
}

func TestCreateElement_SkipsNilChildren(t *testing.T) {
	var missing *Node
	el := CreateElement("ul", nil, nil, missing, CreateElement("li", nil))

	require.Len(t, el.Children, 1)
	assert.Equal(t, "li", el.Children[0].Type)
}

func TestCreateElement_FlattensNodeSlices(t *testing.T) {
	items := []*Node{CreateElement("li", nil, "a"), CreateElement("li", nil, "b")}
	el := CreateElement("ul", nil, items)

	require.Len(t, el.Children, 2)
	assert.Equal(t, "a", el.Children[0].Children[0].Text())
	assert.Equal(t, "b", el.Children[1].Children[0].Text())
}

func TestCreateElement_SplitsEventsFromAttrs(t *testing.T) {
	click := Listen("click", func(Event) {})
	el := CreateElement("button", map[string]any{
		"onClick":  click,
		"onlyText": "kept as attr",
		"title":    "press",
		"children": []any{"ignored"},
	})

	assert.Equal(t, map[string]*Listener{"click": click}, el.Props.Events)
	assert.Equal(t, map[string]any{"onlyText": "kept as attr", "title": "press"}, el.Props.Attrs)
	assert.Empty(t, el.Children)
}

func TestCreateElement_OnKeyWithoutListenerIsAttr(t *testing.T) {
	el := CreateElement("a", map[string]any{"onClick": "javascript:void(0)"})

	assert.Empty(t, el.Props.Events)
	assert.Equal(t, "javascript:void(0)", el.Props.Attrs["onClick"])
}

func TestCreateElement_DoesNotAliasInputProps(t *testing.T) {
	in := map[string]any{"id": "a"}
	el := CreateElement("div", in)
	in["id"] = "b"

	assert.Equal(t, "a", el.Props.Attrs["id"])
}

func TestEventName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"onClick", "click"},
		{"onMouseOver", "mouseover"},
		{"oninput", "input"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, EventName(tt.key))
		})
	}
}

func TestNode_TextAndString(t *testing.T) {
	tree := CreateElement("div", nil, CreateElement("h1", nil, "Some Text"))

	assert.Equal(t, `<div><h1>"Some Text"</h1></div>`, tree.String())
	assert.Equal(t, "", tree.Text())
	assert.Equal(t, "Some Text", tree.Children[0].Children[0].Text())
	assert.True(t, tree.Children[0].Children[0].IsText())
	assert.False(t, tree.IsText())
}

func TestProps_CloneIsIndependent(t *testing.T) {
	l := Listen("x", nil)
	p := Props{Attrs: map[string]any{"a": 1}, Events: map[string]*Listener{"x": l}}
	c := p.Clone()
	c.Attrs["a"] = 2
	delete(c.Events, "x")

	assert.Equal(t, 1, p.Attrs["a"])
	assert.Same(t, l, p.Events["x"])
	assert.False(t, p.Empty())
	assert.True(t, Props{}.Empty())
}

func TestListener_Invoke(t *testing.T) {
	var got Event
	l := Listen("record", func(e Event) { got = e })
	l.Invoke(Event{Type: "click", Payload: 3})

	assert.Equal(t, Event{Type: "click", Payload: 3}, got)
	assert.Equal(t, "record", l.Name())

	var nilListener *Listener
	assert.NotPanics(t, func() { nilListener.Invoke(Event{}) })
	assert.Equal(t, "", nilListener.Name())
}

func TestSameValue(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"equal strings", "x", "x", true},
		{"different strings", "x", "y", false},
		{"different types", 1, int64(1), false},
		{"both nil", nil, nil, true},
		{"one nil", nil, "x", false},
		{"equal slices", []string{"a"}, []string{"a"}, true},
		{"different maps", map[string]int{"a": 1}, map[string]int{"a": 2}, false},
		{"struct holding slice", struct{ V any }{[]int{1}}, struct{ V any }{[]int{1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SameValue(tt.a, tt.b))
		})
	}
}
