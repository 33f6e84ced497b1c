// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFiber/pkg/logging"
	"github.com/AleutianAI/AleutianFiber/services/fiber/reconciler"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"FIBER_SLICE_BUDGET", "FIBER_LOG_LEVEL", "FIBER_RENDER_POLICY", "OTEL_TRACES_EXPORTER", "OTEL_METRICS_EXPORTER"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fiber.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 5*time.Millisecond, cfg.Scheduler.SliceBudget)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, reconciler.PolicyQueue, policy)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
scheduler:
  frame_interval: 33ms
  slice_budget: 2ms
reconciler:
  render_policy: reject
logging:
  level: debug
  json: true
telemetry:
  service_name: fiber-test
  trace_exporter: stdout
  metric_exporter: none
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 33*time.Millisecond, cfg.Scheduler.FrameInterval)
	assert.Equal(t, 2*time.Millisecond, cfg.Scheduler.SliceBudget)
	assert.Equal(t, 1, cfg.Scheduler.FrameBurst, "unset fields keep defaults")
	assert.Equal(t, "fiber-test", cfg.Telemetry.ServiceName)

	fc := cfg.FrameConfig()
	assert.Equal(t, 33*time.Millisecond, fc.Interval)
	assert.Equal(t, 2*time.Millisecond, fc.Budget)
	assert.Equal(t, 1, fc.Burst)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, reconciler.PolicyReject, policy)

	lc, err := cfg.LoggerConfig("fiberctl")
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.True(t, lc.JSON)
	assert.Equal(t, "fiberctl", lc.Service)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FIBER_SLICE_BUDGET", "750us")
	t.Setenv("FIBER_LOG_LEVEL", "warn")
	t.Setenv("FIBER_RENDER_POLICY", "reject")

	path := writeFile(t, "scheduler:\n  slice_budget: 9ms\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Microsecond, cfg.Scheduler.SliceBudget)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "reject", cfg.Reconciler.RenderPolicy)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		env     map[string]string
		invalid bool
	}{
		{name: "bad yaml", body: "scheduler: [1, 2"},
		{name: "bad duration", body: "scheduler:\n  slice_budget: soon\n"},
		{name: "zero budget", body: "scheduler:\n  slice_budget: 0s\n", invalid: true},
		{name: "zero burst", body: "scheduler:\n  frame_burst: 0\n", invalid: true},
		{name: "bad policy", body: "reconciler:\n  render_policy: drop\n", invalid: true},
		{name: "bad level", body: "logging:\n  level: loud\n", invalid: true},
		{name: "bad exporter", body: "telemetry:\n  trace_exporter: zipkin\n", invalid: true},
		{name: "bad env budget", env: map[string]string{"FIBER_SLICE_BUDGET": "fast"}},
		{name: "bad env policy", env: map[string]string{"FIBER_RENDER_POLICY": "drop"}, invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, tt.body))
			require.Error(t, err)
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "fiber.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
