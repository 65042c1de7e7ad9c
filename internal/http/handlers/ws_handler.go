package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/keyless-tips/backend/internal/events"
	"go.uber.org/zap"
)

// wsClient serializes writes; the hub may broadcast from several goroutines.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub fans tip events out to feed subscribers. Clients watching a slug get
// that profile's events; clients without one get everything.
type WSHub struct {
	subscriber events.Subscriber
	log        *zap.Logger
	mu         sync.RWMutex
	clients    map[string][]*wsClient
}

func NewWSHub(subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		subscriber: subscriber,
		log:        log,
		clients:    make(map[string][]*wsClient),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.StreamTips, h.broadcast)
}

func (h *WSHub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	targets := append([]*wsClient(nil), h.clients[""]...)
	if slug := event.Slug(); slug != "" {
		targets = append(targets, h.clients[slug]...)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(data); err != nil {
			h.log.Debug("ws write failed", zap.Error(err))
		}
	}
}

func (h *WSHub) add(slug string, c *wsClient) {
	h.mu.Lock()
	h.clients[slug] = append(h.clients[slug], c)
	h.mu.Unlock()
}

func (h *WSHub) remove(slug string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.clients[slug]
	for i, other := range conns {
		if other == c {
			h.clients[slug] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.clients[slug]) == 0 {
		delete(h.clients, slug)
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	slug := conn.Query("slug")
	client := &wsClient{conn: conn}
	h.add(slug, client)

	defer func() {
		h.remove(slug, client)
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
