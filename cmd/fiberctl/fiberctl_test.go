// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFiber/services/fiber/history"
	"github.com/AleutianAI/AleutianFiber/services/fiber/reconciler"
)

const listDoc = `
type: ul
props: {id: list}
children:
  - type: li
    children: [one]
  - type: li
    children: [two]
`

const shorterDoc = `
type: ul
props: {id: list, class: short}
children:
  - type: li
    on: {click: log}
    children: [one]
`

func resetFlags(t *testing.T) {
	t.Helper()
	configPath, logLevel, snapshotPath, listenAddr, historyDir = "", "", "", "", ""
	yieldEvery, historyRetain = 0, 100
	handlerNames = nil
	t.Setenv("OTEL_TRACES_EXPORTER", "none")
	t.Setenv("OTEL_METRICS_EXPORTER", "prometheus")
	t.Setenv("FIBER_LOG_LEVEL", "")
	t.Setenv("FIBER_RENDER_POLICY", "")
	t.Setenv("FIBER_SLICE_BUDGET", "")
}

func writeDoc(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRender_ManualScheduler(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	a := writeDoc(t, dir, "a.yaml", listDoc)
	b := writeDoc(t, dir, "b.yaml", shorterDoc)
	snap := filepath.Join(dir, "tree.json")

	out, err := execute(t, "render", "--log-level", "error", "--yield-every", "2", "--snapshot", snap, a, b)
	require.NoError(t, err)

	assert.Contains(t, out, "PLACEMENT ul @0")
	assert.Contains(t, out, "DELETION  li @0/1")
	assert.Contains(t, out, "set-property class=short")
	assert.Contains(t, out, "add-listener click(log)")
	assert.Contains(t, out, `<ul class="short" id="list"><li>one</li></ul>`)

	// root, ul, two li and two text fibers, two units per slice.
	assert.Contains(t, out, "6 units in 3 slices")
	assert.Contains(t, out, "4 units in 2 slices")

	out, err = execute(t, "snapshot", snap)
	require.NoError(t, err)
	assert.Contains(t, out, "#root\n  ul class=short id=list\n    li onclick\n")
}

func TestRender_FrameScheduler(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	a := writeDoc(t, dir, "a.yaml", listDoc)

	out, err := execute(t, "render", "--log-level", "error", a)
	require.NoError(t, err)
	assert.Contains(t, out, `<ul id="list"><li>one</li><li>two</li></ul>`)
}

func TestRender_Errors(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	bad := writeDoc(t, dir, "bad.yaml", "type: div\non: {click: missing}\n")

	_, err := execute(t, "render", "--log-level", "error", "--yield-every", "1", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown handler")

	resetFlags(t)
	_, err = execute(t, "render", "--log-level", "error", "--handler", "missing", "--yield-every", "1", bad)
	assert.NoError(t, err, "--handler registers the name")

	resetFlags(t)
	_, err = execute(t, "render", "--log-level", "shout", bad)
	assert.Error(t, err)

	resetFlags(t)
	_, err = execute(t, "render")
	assert.Error(t, err, "render needs a file")
}

func TestConfigInit(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "fiber.yaml")
	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	doc := writeDoc(t, t.TempDir(), "d.yaml", "type: p\n")
	_, err = execute(t, "render", "--config", path, "--log-level", "error", "--yield-every", "1", doc)
	assert.NoError(t, err)
}

func newTestSession(t *testing.T) (*app, *session, *bytes.Buffer) {
	t.Helper()
	resetFlags(t)
	var out bytes.Buffer
	a, err := newApp(context.Background(), "", "debug", &out, &bytes.Buffer{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	s, err := a.newSession(1, nil)
	require.NoError(t, err)
	return a, s, &out
}

func TestServer(t *testing.T) {
	a, s, _ := newTestSession(t)
	router := newServer(a, s, newHub(), nil)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	assert.Equal(t, http.StatusNotFound, get("/report").Code)

	doc := writeDoc(t, t.TempDir(), "d.yaml", shorterDoc)
	_, err := s.renderFile(context.Background(), doc)
	require.NoError(t, err)

	w := get("/report")
	require.Equal(t, http.StatusOK, w.Code)
	var report reportView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 3, report.Placements)
	assert.Equal(t, "PLACEMENT", report.Effects[0].Effect)

	w = get("/tree")
	require.Equal(t, http.StatusOK, w.Code)
	var tree map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tree))
	assert.Contains(t, string(tree["markup"]), "<li>one</li>")
	assert.Contains(t, tree, "fibers")

	body := strings.NewReader(`{"path": [0, 0], "event": "click", "payload": {"x": 1}}`)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/dispatch", body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/dispatch", strings.NewReader(`{"path": [5], "event": "click"}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/dispatch", strings.NewReader(`{"path": [0]}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = get("/logs")
	require.Equal(t, http.StatusOK, w.Code)
	var logs []logView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	var handled bool
	for _, l := range logs {
		if l.Message == "event handled" && l.Attrs["handler"] == "log" {
			handled = true
		}
	}
	assert.True(t, handled, "dispatch reaches the registered handler")

	assert.Equal(t, http.StatusOK, get("/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get("/history").Code, "history routes need a store")
}

func TestServer_History(t *testing.T) {
	resetFlags(t)
	a, err := newApp(context.Background(), "", "error", &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	store, err := history.Open(history.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var s *session
	s, err = a.newSession(1, nil, func(reconciler.CycleReport) { recordSnapshot(s, store) })
	require.NoError(t, err)
	router := newServer(a, s, newHub(), store)

	dir := t.TempDir()
	var cycles []string
	for _, doc := range []string{listDoc, shorterDoc} {
		report, err := s.renderFile(context.Background(), writeDoc(t, dir, "d.yaml", doc))
		require.NoError(t, err)
		cycles = append(cycles, report.CycleID)
		time.Sleep(time.Millisecond)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Cycles []string `json:"cycles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, []string{cycles[1], cycles[0]}, list.Cycles)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history/"+cycles[0], nil))
	require.Equal(t, http.StatusOK, w.Code)
	var snap reconciler.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.True(t, snap.Verify())
	assert.Len(t, snap.Tree.Children[0].Children, 2, "the first cycle committed two items")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Events(t *testing.T) {
	resetFlags(t)
	a, err := newApp(context.Background(), "", "error", &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	events := newHub()
	s, err := a.newSession(1, nil, events.publish)
	require.NoError(t, err)

	srv := httptest.NewServer(newServer(a, s, events, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return events.subscribers() == 1 }, 5*time.Second, 5*time.Millisecond)

	report, err := s.renderFile(context.Background(), writeDoc(t, t.TempDir(), "d.yaml", listDoc))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got reportView
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, report.CycleID, got.CycleID)
	assert.Equal(t, 6, got.Units)
	assert.Equal(t, 5, got.Placements)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return events.subscribers() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestWatchLoop_Rerenders(t *testing.T) {
	a, s, out := newTestSession(t)
	dir := t.TempDir()
	path := writeDoc(t, dir, "live.yaml", listDoc)

	w, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Add(dir))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watchLoop(ctx, a, s, w, path) }()

	require.Eventually(t, func() bool {
		_, ok := s.root.LastReport()
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	first, _ := s.root.LastReport()

	require.NoError(t, os.WriteFile(path, []byte(shorterDoc), 0o600))
	require.Eventually(t, func() bool {
		r, _ := s.root.LastReport()
		return r.CycleID != first.CycleID
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, `<ul class="short" id="list"><li>one</li></ul>`, s.mem.Render())
	assert.Contains(t, out.String(), "live.yaml")
}
