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
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianFiber/services/fiber/history"
	"github.com/AleutianAI/AleutianFiber/services/fiber/reconciler"
)

// watchDebounce coalesces the burst of events editors emit per save.
const watchDebounce = 100 * time.Millisecond

// runWatch renders FILE and re-renders it after every change until
// interrupted.
func runWatch(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath, logLevel, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	var store *history.Store
	if historyDir != "" {
		store, err = history.Open(history.Config{
			Path:   historyDir,
			Retain: historyRetain,
			Logger: a.logger.Slog().With(slog.String("component", "history")),
		})
		if err != nil {
			return err
		}
		defer store.Close()
	}

	events := newHub()
	var s *session
	s, err = a.newSession(yieldEvery, handlerNames, events.publish, func(reconciler.CycleReport) {
		recordSnapshot(s, store)
	})
	if err != nil {
		return err
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	// Watch the directory: editors often replace the file on save.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.run(gctx) })

	if listenAddr != "" {
		srv := &http.Server{
			Addr:              listenAddr,
			Handler:           newServer(a, s, events, store),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("watch server listening", "addr", listenAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error { return watchLoop(gctx, a, s, watcher, path) })
	return g.Wait()
}

// watchLoop renders path once, then again after each debounced change.
// Render failures are reported and the loop keeps watching.
func watchLoop(ctx context.Context, a *app, s *session, w *fsnotify.Watcher, path string) error {
	logger := a.logger.Slog().With(slog.String("file", path))

	rerender := func() {
		report, err := s.renderFile(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("render failed", slog.String("error", err.Error()))
			a.out.errorf("%v", err)
			return
		}
		a.out.title(filepath.Base(path))
		a.out.report(report)
		a.out.tree(s.mem.Render())
	}
	rerender()

	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("file changed", slog.String("op", ev.Op.String()))
			debounce.Reset(watchDebounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-debounce.C:
			rerender()
		}
	}
}

// recordSnapshot stores the tree s just committed. Failures are logged; a
// missing history entry never fails the watch.
func recordSnapshot(s *session, store *history.Store) {
	if s == nil || store == nil {
		return
	}
	snap, err := s.root.Snapshot()
	if err == nil {
		err = store.Put(snap)
	}
	if err != nil {
		s.logger.Warn("record snapshot failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("snapshot recorded", slog.String("cycle_id", snap.CycleID))
}
