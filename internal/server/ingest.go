package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/chamelio/chamelio/internal/metrics"
	"github.com/chamelio/chamelio/internal/protocol"
	"github.com/chamelio/chamelio/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Workers and observers are local; no origin policy.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// handleIngest accepts a worker heartbeat connection. Well-formed heartbeats
// update the registry and are forwarded to the hub as state updates;
// malformed payloads are discarded silently. A connection-level error ends
// only that connection — the worker reconnects on its own schedule.
func (r *Router) handleIngest(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.log.Debug("ingest upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := c.Request.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var hb protocol.Heartbeat
		if err := json.Unmarshal(data, &hb); err != nil || !hb.Valid() {
			metrics.IncMalformed()
			continue
		}
		// A heartbeat with no state still means the worker is alive; never
		// let an empty string into the registry's state column.
		if hb.State == "" {
			hb.State = registry.StateRunning
		}
		if err := r.store.RecordHeartbeat(ctx, hb.ProfileID, hb.State, hb.URL); err != nil {
			// Unknown profile or storage hiccup; the next heartbeat retries.
			r.log.Debug("heartbeat not applied", "profile", hb.ProfileID, "error", err)
			continue
		}
		metrics.IncHeartbeat()
		r.hub.Broadcast(hb.StateUpdate())
	}
}

// handleObserver accepts a passive observer connection. Nothing the observer
// sends is interpreted; reads serve only to detect disconnection.
func (r *Router) handleObserver(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.log.Debug("observer upgrade failed", "error", err)
		return
	}
	o := r.hub.Add(conn)
	defer func() {
		r.hub.Remove(o)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
