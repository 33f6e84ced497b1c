// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads fiberctl settings from YAML.
//
// Example file:
//
//	scheduler:
//	  frame_interval: 16ms
//	  slice_budget: 5ms
//	  frame_burst: 1
//	reconciler:
//	  render_policy: queue
//	logging:
//	  level: info
//	telemetry:
//	  service_name: fiber
//	  trace_exporter: none
//	  metric_exporter: prometheus
//
// Missing sections keep their defaults. FIBER_SLICE_BUDGET, FIBER_LOG_LEVEL
// and FIBER_RENDER_POLICY override the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianFiber/pkg/logging"
	"github.com/AleutianAI/AleutianFiber/services/fiber/reconciler"
	"github.com/AleutianAI/AleutianFiber/services/fiber/scheduler"
	"github.com/AleutianAI/AleutianFiber/services/fiber/telemetry"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// configValidate is shared by all Validate calls. Custom rules are
// registered in init().
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("renderpolicy", validateRenderPolicy)
	_ = configValidate.RegisterValidation("loglevel", validateLogLevel)
}

func validateRenderPolicy(fl validator.FieldLevel) bool {
	_, err := reconciler.ParsePolicy(fl.Field().String())
	return err == nil
}

func validateLogLevel(fl validator.FieldLevel) bool {
	_, err := logging.ParseLevel(fl.Field().String())
	return err == nil
}

// Config is the root of the fiberctl config file.
type Config struct {
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
}

// SchedulerConfig configures the frame scheduler.
type SchedulerConfig struct {
	// FrameInterval is the minimum time between frames.
	FrameInterval time.Duration `yaml:"frame_interval" validate:"gte=0"`

	// SliceBudget is the deadline each work-loop slice receives.
	SliceBudget time.Duration `yaml:"slice_budget" validate:"gt=0"`

	// FrameBurst is how many frames may start back to back after idling.
	FrameBurst int `yaml:"frame_burst" validate:"gte=1"`
}

// ReconcilerConfig configures each reconciler root.
type ReconcilerConfig struct {
	// RenderPolicy is "queue" or "reject".
	RenderPolicy string `yaml:"render_policy" validate:"renderpolicy"`
}

// LoggingConfig mirrors logging.Config in file form.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"loglevel"`
	JSON   bool   `yaml:"json"`
	LogDir string `yaml:"log_dir"`
	Quiet  bool   `yaml:"quiet"`
}

// Default returns the built-in configuration: 60 frames per second with a
// 5ms slice budget and queued renders.
func Default() Config {
	return Config{
		Scheduler: SchedulerConfig{
			FrameInterval: 16 * time.Millisecond,
			SliceBudget:   5 * time.Millisecond,
			FrameBurst:    1,
		},
		Reconciler: ReconcilerConfig{RenderPolicy: reconciler.PolicyQueue.String()},
		Logging:    LoggingConfig{Level: "info"},
		Telemetry:  telemetry.DefaultConfig(),
	}
}

// Load reads the YAML file at path over Default(), applies environment
// overrides and validates the result. An empty path skips the file.
//
// Inputs:
//
//	path - Config file path. May be empty.
//
// Outputs:
//
//	Config - The effective configuration.
//	error - Read, decode, override or ErrInvalidConfig errors.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteDefault writes Default() as YAML to path, creating parent
// directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides fields from FIBER_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("FIBER_SLICE_BUDGET"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FIBER_SLICE_BUDGET: %w", err)
		}
		c.Scheduler.SliceBudget = d
	}
	if v := os.Getenv("FIBER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FIBER_RENDER_POLICY"); v != "" {
		c.Reconciler.RenderPolicy = v
	}
	return nil
}

// Validate checks struct tags, including the telemetry section.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// FrameConfig converts the scheduler section for scheduler.NewFrame.
func (c *Config) FrameConfig() scheduler.FrameConfig {
	return scheduler.FrameConfig{
		Interval: c.Scheduler.FrameInterval,
		Budget:   c.Scheduler.SliceBudget,
		Burst:    c.Scheduler.FrameBurst,
	}
}

// Policy returns the parsed render policy.
func (c *Config) Policy() (reconciler.RenderPolicy, error) {
	return reconciler.ParsePolicy(c.Reconciler.RenderPolicy)
}

// LoggerConfig converts the logging section for logging.New.
func (c *Config) LoggerConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		Service: service,
		JSON:    c.Logging.JSON,
		LogDir:  c.Logging.LogDir,
		Quiet:   c.Logging.Quiet,
	}, nil
}
