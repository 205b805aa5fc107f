package devserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/roach88/adminsync/internal/pushchannel"
)

const writeTimeout = 5 * time.Second

// hub fans push frames out to connected subscribers.
type hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

func newHub(logger *slog.Logger) *hub {
	return &hub{logger: logger, clients: make(map[*client]struct{})}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Len returns the number of connected subscribers.
func (h *hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast sends ev to every subscriber. A failed write drops that
// subscriber.
func (h *hub) broadcast(ev pushchannel.Event) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.send(context.Background(), ev); err != nil {
			h.logger.Debug("push write failed, dropping subscriber", "error", err)
			h.remove(c)
			c.conn.Close(websocket.StatusGoingAway, "write failed")
		}
	}
}

func (c *client) send(ctx context.Context, ev pushchannel.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, ev)
}

func newEvent(topic string, data any, now time.Time) pushchannel.Event {
	ev := pushchannel.Event{Type: topic, Timestamp: now.UTC().Format(time.RFC3339Nano)}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}
