package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chamelio/chamelio/internal/metrics"
)

// writeWait bounds a single push so one slow observer cannot stall the
// fan-out behind it.
const writeWait = 5 * time.Second

// Observer is one passive subscriber connection. It carries no state beyond
// the transport handle; the hub never reads from it.
type Observer struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes on the shared conn
}

func (o *Observer) send(payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return o.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub fans state updates out to every connected observer. Observers are
// removed on explicit disconnect or on the first failed push; there is no
// retry and no buffering.
type Hub struct {
	mu        sync.Mutex
	observers map[*Observer]struct{}
	log       *slog.Logger
}

func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		observers: make(map[*Observer]struct{}),
		log:       log,
	}
}

// Add registers a connection and returns its observer handle.
func (h *Hub) Add(conn *websocket.Conn) *Observer {
	o := &Observer{conn: conn}
	h.mu.Lock()
	h.observers[o] = struct{}{}
	n := len(h.observers)
	h.mu.Unlock()
	metrics.AddObservers(1)
	h.log.Debug("observer connected", "observers", n)
	return o
}

// Remove drops an observer; safe to call twice.
func (h *Hub) Remove(o *Observer) {
	h.mu.Lock()
	_, present := h.observers[o]
	delete(h.observers, o)
	h.mu.Unlock()
	if present {
		metrics.AddObservers(-1)
	}
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Broadcast pushes the message to every currently connected observer. An
// observer whose push fails is removed immediately; it will only see
// subsequent messages if it reconnects.
func (h *Hub) Broadcast(msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("broadcast marshal failed", "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*Observer, 0, len(h.observers))
	for o := range h.observers {
		targets = append(targets, o)
	}
	h.mu.Unlock()

	var dead []*Observer
	for _, o := range targets {
		if err := o.send(payload); err != nil {
			dead = append(dead, o)
		}
	}
	for _, o := range dead {
		h.Remove(o)
		_ = o.conn.Close()
	}
	metrics.IncBroadcast()
}
