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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianFiber/pkg/logging"
	"github.com/AleutianAI/AleutianFiber/services/fiber/config"
	"github.com/AleutianAI/AleutianFiber/services/fiber/document"
	"github.com/AleutianAI/AleutianFiber/services/fiber/host"
	"github.com/AleutianAI/AleutianFiber/services/fiber/reconciler"
	"github.com/AleutianAI/AleutianFiber/services/fiber/scheduler"
	"github.com/AleutianAI/AleutianFiber/services/fiber/telemetry"
	"github.com/AleutianAI/AleutianFiber/services/fiber/vnode"
)

// recentLogLimit bounds the log entries kept for GET /logs.
const recentLogLimit = 200

// app holds the process-wide pieces every command needs.
type app struct {
	cfg      config.Config
	logger   *logging.Logger
	logs     *logging.BufferedExporter
	out      *printer
	shutdown func(context.Context) error
}

// newApp loads configuration, then builds logging and telemetry from it.
// levelOverride, when set, replaces the configured log level.
func newApp(ctx context.Context, configPath, levelOverride string, stdout, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if levelOverride != "" {
		cfg.Logging.Level = levelOverride
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	lc, err := cfg.LoggerConfig("fiberctl")
	if err != nil {
		return nil, err
	}
	logs := logging.NewBufferedExporter(recentLogLimit)
	lc.Exporter = logs
	lc.Output = stderr
	logger := logging.New(lc)

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		logs:     logs,
		out:      newPrinter(stdout),
		shutdown: shutdown,
	}, nil
}

// Close shuts telemetry down and closes the logger.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(a.shutdown(ctx), a.logger.Close())
}

// session renders documents into one in-memory host through one root.
type session struct {
	mem    *host.Memory
	root   *reconciler.Root
	reg    *document.Registry
	logger *slog.Logger

	manual *scheduler.Manual
	frame  *scheduler.Frame
}

// newSession creates the host, the root and its scheduler. A positive
// yieldEvery selects a manual scheduler whose slices yield after that many
// units; otherwise the configured frame scheduler is used and must be
// started with run.
func (a *app) newSession(yieldEvery int, handlers []string, hooks ...reconciler.CommitHook) (*session, error) {
	logger := a.logger.Slog()
	s := &session{
		mem:    host.NewMemory(),
		reg:    document.NewRegistry(),
		logger: logger,
	}
	for _, name := range append([]string{"log"}, handlers...) {
		s.reg.Register(name, s.logEvent(name))
	}

	var sched scheduler.Scheduler
	if yieldEvery > 0 {
		s.manual = scheduler.NewManual(scheduler.Count(yieldEvery))
		sched = s.manual
	} else {
		frame, err := scheduler.NewFrame(a.cfg.FrameConfig(), logger)
		if err != nil {
			return nil, err
		}
		s.frame = frame
		sched = frame
	}

	policy, err := a.cfg.Policy()
	if err != nil {
		return nil, err
	}
	opts := []reconciler.Option{
		reconciler.WithLogger(logger),
		reconciler.WithScheduler(sched),
		reconciler.WithRenderPolicy(policy),
	}
	for _, h := range hooks {
		opts = append(opts, reconciler.WithCommitHook(h))
	}
	root, err := reconciler.NewRoot(s.mem, s.mem.Container(), opts...)
	if err != nil {
		return nil, err
	}
	s.root = root
	return s, nil
}

func (s *session) logEvent(name string) func(vnode.Event) {
	return func(e vnode.Event) {
		s.logger.Info("event handled",
			slog.String("handler", name),
			slog.String("event", e.Type),
			slog.Any("payload", e.Payload),
		)
	}
}

// run drives the frame scheduler until ctx is done. It returns at once for
// a manual session.
func (s *session) run(ctx context.Context) error {
	if s.frame == nil {
		return nil
	}
	err := s.frame.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// renderFile parses path and renders it, waiting until the cycle and any
// parked render have committed.
func (s *session) renderFile(ctx context.Context, path string) (reconciler.CycleReport, error) {
	node, err := document.ParseFile(path, s.reg)
	if err != nil {
		return reconciler.CycleReport{}, err
	}
	if err := s.root.Render(ctx, node); err != nil {
		return reconciler.CycleReport{}, err
	}
	if err := s.wait(ctx); err != nil {
		return reconciler.CycleReport{}, err
	}
	report, ok := s.root.LastReport()
	if !ok {
		return reconciler.CycleReport{}, reconciler.ErrNoCommittedTree
	}
	return report, nil
}

// wait blocks until the root has no cycle in flight and returns the error
// of the last scheduled cycle.
func (s *session) wait(ctx context.Context) error {
	if s.manual != nil {
		s.manual.Drain(ctx)
		return s.root.Err()
	}

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for s.root.Busy() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return s.root.Err()
}
