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
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianFiber/services/fiber/reconciler"
)

// runRender renders each document in turn into one root, printing the
// effects of every cycle and then the final host tree.
func runRender(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, configPath, logLevel, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.newSession(yieldEvery, handlerNames)
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.run(gctx) })
	g.Go(func() error {
		defer stop()
		return renderAll(gctx, a, s, args)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	a.out.title("host tree")
	a.out.tree(s.mem.Render())

	if snapshotPath != "" {
		snap, err := s.root.Snapshot()
		if err != nil {
			return err
		}
		if err := reconciler.SaveSnapshot(snap, snapshotPath); err != nil {
			return err
		}
		a.logger.Info("snapshot written", "path", snapshotPath, "cycle_id", snap.CycleID)
	}
	return nil
}

func renderAll(ctx context.Context, a *app, s *session, files []string) error {
	for _, file := range files {
		report, err := s.renderFile(ctx, file)
		if err != nil {
			return fmt.Errorf("render %s: %w", file, err)
		}
		a.out.title(file)
		a.out.report(report)
	}
	return nil
}
