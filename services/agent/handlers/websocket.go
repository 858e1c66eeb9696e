// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/eds331/musclepro-app/services/agent"
)

var upgrader = websocket.Upgrader{
	// The loopback middleware already gates access; origin checks add
	// nothing for a device-local endpoint.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsPingInterval = 30 * time.Second

// SyncEvents streams status indicator transitions over a websocket. The
// current state is sent immediately on connect so the client never
// renders an unknown indicator.
func SyncEvents(a *agent.Agent) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade sync events websocket", "error", err)
			return
		}
		defer ws.Close()

		events, cancel := a.Subscribe()
		defer cancel()

		if err := ws.WriteJSON(a.Status().Status); err != nil {
			return
		}

		// Read pump: we expect no client messages, but reading is the
		// only way to learn the peer closed the connection.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		pings := time.NewTicker(wsPingInterval)
		defer pings.Stop()

		for {
			select {
			case ev := <-events:
				if err := ws.WriteJSON(ev); err != nil {
					slog.Debug("sync events client write failed", "error", err)
					return
				}
			case <-pings.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-closed:
				slog.Debug("sync events client disconnected")
				return
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}
