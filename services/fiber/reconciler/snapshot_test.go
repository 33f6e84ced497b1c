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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFiber/services/fiber/vnode"
)

func TestSnapshot_NoCommittedTree(t *testing.T) {
	r, _ := newTestRoot(t)
	_, err := r.Snapshot()
	assert.ErrorIs(t, err, ErrNoCommittedTree)
}

func TestSnapshot_SaveLoad(t *testing.T) {
	r, _ := newTestRoot(t)
	click := vnode.Listen("go", nil)
	report := renderAndFlush(t, r, hp("form", map[string]any{"action": "/x", "onSubmit": click},
		hp("input", map[string]any{"value": "hi"}),
	))

	snap, err := r.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Verify())
	assert.Equal(t, report.CycleID, snap.CycleID)
	assert.Equal(t, RootType, snap.Tree.Type)

	path := filepath.Join(t.TempDir(), "tree.json")
	require.NoError(t, SaveSnapshot(snap, path))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	require.Len(t, loaded.Tree.Children, 1)
	form := loaded.Tree.Children[0]
	assert.Equal(t, "form", form.Type)
	assert.Equal(t, "/x", form.Attrs["action"])
	assert.Equal(t, []string{"submit"}, form.Events)
	assert.Equal(t, "hi", form.Children[0].Attrs["value"])
}

func TestSnapshot_Invalid(t *testing.T) {
	assert.ErrorIs(t, SaveSnapshot(nil, "x"), ErrInvalidInput)
	assert.ErrorIs(t, SaveSnapshot(&Snapshot{}, ""), ErrInvalidInput)
	_, err := LoadSnapshot("")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.False(t, (*Snapshot)(nil).Verify())
}

func TestSnapshot_DetectsTampering(t *testing.T) {
	r, _ := newTestRoot(t)
	renderAndFlush(t, r, hp("p", map[string]any{"title": "original"}))
	snap, err := r.Snapshot()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tree.json")
	require.NoError(t, SaveSnapshot(snap, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "original", "changed", 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	_, err = LoadSnapshot(path)
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)
}

func TestInspect(t *testing.T) {
	r, _ := newTestRoot(t)
	_, ok := r.Inspect()
	assert.False(t, ok)

	renderAndFlush(t, r, h("div", h("a", "x"), h("b")))

	root, ok := r.Inspect()
	require.True(t, ok)
	assert.Equal(t, RootType, root.Type)

	b, ok := r.Inspect(0, 1)
	require.True(t, ok)
	assert.Equal(t, "b", b.Type)

	_, ok = r.Inspect(0, 2)
	assert.False(t, ok)
	_, ok = r.Inspect(-1)
	assert.False(t, ok)

	text, ok := r.Inspect(0, 0, 0)
	require.True(t, ok)
	text.Props.Attrs[vnode.NodeValueKey] = "mutated"
	again, _ := r.Inspect(0, 0, 0)
	assert.Equal(t, "x", again.Props.Attrs[vnode.NodeValueKey], "views are detached copies")

	want := "#root\n  div [PLACEMENT]\n    a [PLACEMENT]\n      \"x\" [PLACEMENT]\n    b [PLACEMENT]\n"
	assert.Equal(t, want, r.Current().String())
}
