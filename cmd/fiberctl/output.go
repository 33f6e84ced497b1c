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
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianFiber/services/fiber/reconciler"
)

var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorTealDim = lipgloss.Color("#1D9DA0")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorSlate   = lipgloss.Color("#2C4A54")
)

// styles holds the lipgloss styles of a terminal printer.
type styles struct {
	title     lipgloss.Style
	muted     lipgloss.Style
	placement lipgloss.Style
	update    lipgloss.Style
	deletion  lipgloss.Style
	errText   lipgloss.Style
	box       lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true).Foreground(colorTeal),
		muted:     lipgloss.NewStyle().Foreground(colorSlate),
		placement: lipgloss.NewStyle().Foreground(colorTeal),
		update:    lipgloss.NewStyle().Foreground(colorWarning),
		deletion:  lipgloss.NewStyle().Foreground(colorError),
		errText:   lipgloss.NewStyle().Bold(true).Foreground(colorError),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorTealDim).
			Padding(0, 1),
	}
}

// printer writes command output, styled only when w is a terminal.
type printer struct {
	w      io.Writer
	styled bool
	st     styles
}

func newPrinter(w io.Writer) *printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &printer{w: w, styled: styled, st: newStyles()}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) title(text string) {
	fmt.Fprintln(p.w, p.render(p.st.title, text))
}

func (p *printer) errorf(format string, args ...any) {
	fmt.Fprintln(p.w, p.render(p.st.errText, "error: "+fmt.Sprintf(format, args...)))
}

// report prints the effect list and counters of a committed cycle.
func (p *printer) report(r reconciler.CycleReport) {
	for _, e := range r.Effects {
		if e.Effect == reconciler.EffectUpdate && len(e.Ops) == 0 {
			continue
		}
		line := fmt.Sprintf("  %-9s %s @%s", e.Effect, e.Type, formatPath(e.Path))
		if len(e.Ops) > 0 {
			ops := make([]string, len(e.Ops))
			for i, op := range e.Ops {
				ops[i] = op.String()
			}
			line += " " + strings.Join(ops, ", ")
		}
		fmt.Fprintln(p.w, p.render(p.effectStyle(e.Effect), line))
	}

	summary := fmt.Sprintf("cycle %s: %d units in %d slices, %d placements, %d/%d updates changed, %d deletions, %d host mutations (reconcile %s, commit %s)",
		r.CycleID, r.Units, r.Slices, r.Placements, r.UpdatesChanged, r.Updates,
		r.Deletions, r.HostMutations(), r.ReconcileDuration, r.CommitDuration)
	fmt.Fprintln(p.w, p.render(p.st.muted, summary))
}

// tree prints the host markup, boxed on a terminal.
func (p *printer) tree(markup string) {
	if markup == "" {
		markup = "(empty)"
	}
	if p.styled {
		fmt.Fprintln(p.w, p.st.box.Render(markup))
		return
	}
	fmt.Fprintln(p.w, markup)
}

func (p *printer) effectStyle(tag reconciler.EffectTag) lipgloss.Style {
	switch tag {
	case reconciler.EffectPlacement:
		return p.st.placement
	case reconciler.EffectUpdate:
		return p.st.update
	case reconciler.EffectDeletion:
		return p.st.deletion
	default:
		return p.st.muted
	}
}

func formatPath(path []int) string {
	if len(path) == 0 {
		return "/"
	}
	parts := make([]string, len(path))
	for i, v := range path {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, "/")
}
