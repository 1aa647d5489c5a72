package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chamelio/chamelio/internal/protocol"
)

// Heartbeat cadence and reconnect backoff bounds.
const (
	DefaultInterval = time.Second
	backoffFloor    = time.Second
	backoffCap      = 15 * time.Second
	dialTimeout     = 5 * time.Second
	sendTimeout     = 5 * time.Second
)

// Heartbeat maintains one outbound channel to the ingest endpoint and pushes
// the profile's reported state at a fixed cadence. Channel failures are never
// surfaced: the loop closes the connection, waits an exponential backoff and
// reconnects, resetting the backoff on the next successful send. Only
// context cancellation stops it.
type Heartbeat struct {
	ProfileID  string
	IngestURL  string
	EngineName string
	Interval   time.Duration
	// CurrentURL reports the engine's location; an error yields an empty URL
	// rather than aborting the loop.
	CurrentURL func(ctx context.Context) (string, error)
	Log        *slog.Logger

	conn    *websocket.Conn
	backoff time.Duration
}

// Run blocks until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	if h.Interval <= 0 {
		h.Interval = DefaultInterval
	}
	if h.Log == nil {
		h.Log = slog.Default()
	}
	h.backoff = backoffFloor
	defer h.closeConn()

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		if err := h.sendOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			h.Log.Debug("heartbeat send failed", "error", err, "backoff", h.backoff)
			h.closeConn()
			if !sleep(ctx, h.backoff) {
				return
			}
			h.backoff = min(h.backoff*2, backoffCap)
			continue
		}
		h.backoff = backoffFloor

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sendOnce ensures a connection and pushes one heartbeat.
func (h *Heartbeat) sendOnce(ctx context.Context) error {
	if h.conn == nil {
		dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
		conn, _, err := dialer.DialContext(ctx, h.IngestURL, nil)
		if err != nil {
			return err
		}
		h.conn = conn
	}

	url := ""
	if h.CurrentURL != nil {
		if u, err := h.CurrentURL(ctx); err == nil {
			url = u
		}
	}
	msg := protocol.Heartbeat{
		Type:      protocol.TypeHeartbeat,
		ProfileID: h.ProfileID,
		State:     "running",
		URL:       url,
		Engine:    h.EngineName,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
	_ = h.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	return h.conn.WriteJSON(msg)
}

func (h *Heartbeat) closeConn() {
	if h.conn != nil {
		_ = h.conn.Close()
		h.conn = nil
	}
}

// sleep waits d or until ctx is done; reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
