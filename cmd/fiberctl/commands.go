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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFiber/services/fiber/config"
	"github.com/AleutianAI/AleutianFiber/services/fiber/reconciler"
)

// --- Global Command Variables ---
var (
	configPath    string
	logLevel      string
	yieldEvery    int
	handlerNames  []string
	snapshotPath  string
	listenAddr    string
	historyDir    string
	historyRetain int

	rootCmd = &cobra.Command{
		Use:   "fiberctl",
		Short: "Render tree documents through the fiber reconciler",
		Long: `fiberctl reconciles YAML or JSON tree documents into an in-memory
host tree, printing the effects each render cycle commits.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	renderCmd = &cobra.Command{
		Use:   "render FILE...",
		Short: "Render documents in turn into one root",
		Long: `Each document is rendered into the same root, so later documents are
reconciled against the tree committed by earlier ones.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRender,
	}

	watchCmd = &cobra.Command{
		Use:   "watch FILE",
		Short: "Re-render a document whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}

	snapshotCmd = &cobra.Command{
		Use:   "snapshot FILE",
		Short: "Verify and print a saved fiber snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshot,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage fiberctl configuration",
	}
	configInitCmd = &cobra.Command{
		Use:   "init PATH",
		Short: "Write the default configuration to PATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	for _, c := range []*cobra.Command{renderCmd, watchCmd} {
		c.Flags().IntVar(&yieldEvery, "yield-every", 0, "yield after N units of work per slice (0 uses the frame scheduler)")
		c.Flags().StringSliceVar(&handlerNames, "handler", nil, "handler names documents may bind under \"on\" (\"log\" is always available)")
	}
	renderCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "write a snapshot of the final fiber tree to this path")
	watchCmd.Flags().StringVar(&listenAddr, "listen", "", "serve /tree, /report, /events, /logs and /metrics on this address")
	watchCmd.Flags().StringVar(&historyDir, "history", "", "record a snapshot of every commit in a database at this directory")
	watchCmd.Flags().IntVar(&historyRetain, "history-retain", 100, "snapshots kept in --history (0 keeps all)")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(renderCmd, watchCmd, snapshotCmd, configCmd)
}

// runSnapshot loads a snapshot, which verifies its checksum, and prints the
// tree as an outline.
func runSnapshot(cmd *cobra.Command, args []string) error {
	snap, err := reconciler.LoadSnapshot(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "root %s, cycle %s, taken %s\n", snap.Root, snap.CycleID, snap.Timestamp.Format("2006-01-02 15:04:05"))
	var b strings.Builder
	writeSnapshotNode(&b, snap.Tree, 0)
	fmt.Fprint(out, b.String())
	return nil
}

func writeSnapshotNode(b *strings.Builder, n *reconciler.SnapshotNode, depth int) {
	if n == nil {
		return
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(n.Type)
	for _, k := range sortedAttrKeys(n.Attrs) {
		fmt.Fprintf(b, " %s=%v", k, n.Attrs[k])
	}
	for _, e := range n.Events {
		fmt.Fprintf(b, " on%s", e)
	}
	b.WriteString("\n")
	for _, c := range n.Children {
		writeSnapshotNode(b, c, depth+1)
	}
}
