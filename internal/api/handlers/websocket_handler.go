package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/events"
	"github.com/leadflow/backend/pkg/logger"
)

const pingInterval = 30 * time.Second

type WebSocketHandler struct {
	hub *events.Hub
}

func NewWebSocketHandler(hub *events.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
	}
}

// Upgrade rejects plain HTTP requests to the event stream.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleConnection streams lead events to an admin client until either side goes away.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	stream, cancel := h.hub.Subscribe()
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	// clients only send close frames; reading surfaces them
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.send(c, "connected", nil); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case e, ok := <-stream:
			if !ok {
				return
			}
			if err := h.send(c, "event", e); err != nil {
				logger.Error("Failed to write WebSocket event", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) send(c *websocket.Conn, msgType string, event any) error {
	msg := map[string]interface{}{
		"type": msgType,
	}
	if event != nil {
		msg["event"] = event
	}

	return c.WriteJSON(msg)
}
