// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package document reads virtual trees from YAML or JSON files.
//
// A document node has the shape
//
//	type: div
//	props: {id: app}
//	on: {click: increment}
//	children:
//	  - Hello
//	  - type: span
//	    children: [world]
//
// Scalar children become text leaves. Handler names under "on" are
// resolved through a Registry, so the same name maps to the same listener
// on every parse and re-rendering an unchanged file does not touch the host.
package document

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianFiber/services/fiber/vnode"
)

var (
	// ErrMissingType is returned for a document node without a type.
	ErrMissingType = errors.New("document node has no type")

	// ErrUnknownHandler is returned when "on" names an unregistered handler.
	ErrUnknownHandler = errors.New("unknown handler")

	// ErrEmptyDocument is returned when the input holds no document.
	ErrEmptyDocument = errors.New("empty document")
)

// Doc is one node of a tree document.
type Doc struct {
	Type     string            `yaml:"type"`
	Props    map[string]any    `yaml:"props"`
	On       map[string]string `yaml:"on"`
	Children []Child           `yaml:"children"`
}

// Child is either a nested document node or a scalar text value.
type Child struct {
	Doc  *Doc
	Text any
}

// UnmarshalYAML decodes a mapping as a nested node and a scalar as text.
func (c *Child) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		var d Doc
		if err := value.Decode(&d); err != nil {
			return err
		}
		c.Doc = &d
		return nil
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			return nil
		}
		var v any
		if err := value.Decode(&v); err != nil {
			return err
		}
		c.Text = v
		return nil
	default:
		return fmt.Errorf("line %d: child must be a node or a scalar", value.Line)
	}
}

// Parse decodes data and builds the virtual tree it describes.
//
// Inputs:
//
//	data - YAML or JSON document.
//	reg - Handler registry. May be nil if the document binds no events.
//
// Outputs:
//
//	*vnode.Node - The tree.
//	error - Decode errors, ErrEmptyDocument, ErrMissingType or
//	        ErrUnknownHandler, annotated with the node path.
func Parse(data []byte, reg *Registry) (*vnode.Node, error) {
	var d Doc
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if d.Type == "" && d.Props == nil && d.On == nil && d.Children == nil {
		return nil, ErrEmptyDocument
	}
	return Build(&d, reg)
}

// ParseFile reads path and parses it.
func ParseFile(path string, reg *Registry) (*vnode.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	node, err := Parse(data, reg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return node, nil
}

// Build converts a decoded document into a virtual tree.
func Build(d *Doc, reg *Registry) (*vnode.Node, error) {
	if d == nil {
		return nil, ErrEmptyDocument
	}
	path := d.Type
	if path == "" {
		path = "(root)"
	}
	return build(d, reg, path)
}

func build(d *Doc, reg *Registry, path string) (*vnode.Node, error) {
	if d.Type == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrMissingType)
	}

	props := make(map[string]any, len(d.Props)+len(d.On))
	for k, v := range d.Props {
		props[k] = v
	}
	for event, name := range d.On {
		l, ok := reg.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%s: on %s: %w %q", path, event, ErrUnknownHandler, name)
		}
		props[eventKey(event)] = l
	}

	children := make([]any, 0, len(d.Children))
	for i, c := range d.Children {
		if c.Doc == nil {
			children = append(children, c.Text)
			continue
		}
		child, err := build(c.Doc, reg, fmt.Sprintf("%s/%d:%s", path, i, c.Doc.Type))
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	return vnode.CreateElement(d.Type, props, children...), nil
}

// eventKey turns an event name into the property key CreateElement expects.
func eventKey(event string) string {
	return "on" + event
}
