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
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianFiber/services/fiber/history"
	"github.com/AleutianAI/AleutianFiber/services/fiber/reconciler"
	"github.com/AleutianAI/AleutianFiber/services/fiber/telemetry"
)

// effectView is the JSON form of an EffectRecord.
type effectView struct {
	Path   []int    `json:"path"`
	Type   string   `json:"type"`
	Effect string   `json:"effect"`
	Ops    []string `json:"ops,omitempty"`
}

// reportView is the JSON form of a CycleReport.
type reportView struct {
	CycleID          string       `json:"cycle_id"`
	Units            int          `json:"units"`
	Slices           int          `json:"slices"`
	Placements       int          `json:"placements"`
	Updates          int          `json:"updates"`
	UpdatesChanged   int          `json:"updates_changed"`
	Deletions        int          `json:"deletions"`
	HostMutations    int          `json:"host_mutations"`
	ReconcileSeconds float64      `json:"reconcile_seconds"`
	CommitSeconds    float64      `json:"commit_seconds"`
	Effects          []effectView `json:"effects"`
}

func newReportView(r reconciler.CycleReport) reportView {
	v := reportView{
		CycleID:          r.CycleID,
		Units:            r.Units,
		Slices:           r.Slices,
		Placements:       r.Placements,
		Updates:          r.Updates,
		UpdatesChanged:   r.UpdatesChanged,
		Deletions:        r.Deletions,
		HostMutations:    r.HostMutations(),
		ReconcileSeconds: r.ReconcileDuration.Seconds(),
		CommitSeconds:    r.CommitDuration.Seconds(),
		Effects:          make([]effectView, 0, len(r.Effects)),
	}
	for _, e := range r.Effects {
		ev := effectView{Path: e.Path, Type: e.Type, Effect: e.Effect.String()}
		for _, op := range e.Ops {
			ev.Ops = append(ev.Ops, op.String())
		}
		v.Effects = append(v.Effects, ev)
	}
	return v
}

// logView is the JSON form of a buffered log entry.
type logView struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// dispatchRequest is the body of POST /dispatch.
type dispatchRequest struct {
	// Path addresses a committed fiber as in Root.Inspect.
	Path    []int  `json:"path"`
	Event   string `json:"event" binding:"required"`
	Payload any    `json:"payload"`
}

// newServer exposes a watch session over HTTP.
//
// Routes:
//
//	GET  /tree      host markup, host node tree and fiber snapshot
//	GET  /report    last commit report
//	GET  /logs      recent log entries
//	GET  /metrics   Prometheus metrics, when enabled
//	GET  /events    websocket stream of commit reports
//	GET  /history   recorded cycle IDs, newest first, when store is set
//	GET  /history/:cycle  one recorded snapshot
//	POST /dispatch  fire an event on a committed node
func newServer(a *app, s *session, h *hub, store *history.Store) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(a.cfg.Telemetry.ServiceName))

	router.GET("/tree", func(c *gin.Context) {
		body := gin.H{
			"markup": s.mem.Render(),
			"host":   s.mem.Snapshot(),
		}
		snap, err := s.root.Snapshot()
		switch {
		case err == nil:
			body["fibers"] = snap
		case !errors.Is(err, reconciler.ErrNoCommittedTree):
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, body)
	})

	router.GET("/report", func(c *gin.Context) {
		report, ok := s.root.LastReport()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "nothing committed yet"})
			return
		}
		c.JSON(http.StatusOK, newReportView(report))
	})

	router.GET("/logs", func(c *gin.Context) {
		entries := a.logs.Entries()
		out := make([]logView, len(entries))
		for i, e := range entries {
			out[i] = logView{Time: e.Timestamp, Level: e.Level.String(), Message: e.Message, Attrs: e.Attrs}
		}
		c.JSON(http.StatusOK, out)
	})

	router.POST("/dispatch", func(c *gin.Context) {
		var req dispatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		view, ok := s.root.Inspect(req.Path...)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no committed node at path"})
			return
		}
		logger := telemetry.LoggerWithTrace(c.Request.Context(), s.logger)
		if err := s.mem.Dispatch(view.Host, req.Event, req.Payload); err != nil {
			logger.Warn("dispatch failed", "event", req.Event, "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		logger.Debug("event dispatched", "event", req.Event, "type", view.Type)
		c.JSON(http.StatusOK, gin.H{"dispatched": req.Event, "type": view.Type})
	})

	router.GET("/events", h.handleEvents(s.logger))

	if store != nil {
		router.GET("/history", func(c *gin.Context) {
			ids, err := store.List(0)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"cycles": ids})
		})
		router.GET("/history/:cycle", func(c *gin.Context) {
			snap, err := store.Get(c.Param("cycle"))
			switch {
			case errors.Is(err, history.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case err != nil:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusOK, snap)
			}
		})
	}

	if mh := telemetry.MetricsHandler(); mh != nil && a.cfg.Telemetry.MetricExporter == "prometheus" {
		router.GET("/metrics", gin.WrapH(mh))
	}
	return router
}
