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
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianFiber/services/fiber/reconciler"
)

// subscriberBuffer is how many reports a slow subscriber may lag behind
// before reports are dropped for it.
const subscriberBuffer = 16

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// hub fans commit reports out to websocket subscribers.
type hub struct {
	mu   sync.Mutex
	subs map[chan reportView]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan reportView]struct{})}
}

// publish is a reconciler.CommitHook. It never blocks the commit path.
func (h *hub) publish(r reconciler.CycleReport) {
	v := newReportView(r)
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

func (h *hub) subscribe() (<-chan reportView, func()) {
	ch := make(chan reportView, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// handleEvents streams one JSON report per commit until the client goes
// away.
func (h *hub) handleEvents(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		defer ws.Close()

		reports, cancel := h.subscribe()
		defer cancel()

		// The read loop only detects the close; clients send nothing.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case <-c.Request.Context().Done():
				return
			case v := <-reports:
				_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := ws.WriteJSON(v); err != nil {
					logger.Debug("websocket write failed", slog.String("error", err.Error()))
					return
				}
			}
		}
	}
}
