package controllers

import (
	"context"
	"time"

	"bimbingan_go/middleware"
	"bimbingan_go/services/realtime"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

const authTimeout = 3 * time.Second

type WebSocketController struct {
	hub *realtime.Hub
}

func NewWebSocketController(hub *realtime.Hub) *WebSocketController {
	return &WebSocketController{
		hub: hub,
	}
}

// HandleWebSocket answers plain HTTP requests on the upgrade path
func (wsc *WebSocketController) HandleWebSocket(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
		"error": "Use the WebSocket endpoint: ws://<host>/ws?token=YOUR_JWT",
	})
}

// WebSocketHandler returns a Fiber WebSocket handler that validates the JWT
// and attaches the connection to the hub
func (wsc *WebSocketController) WebSocketHandler() fiber.Handler {
	return fiberws.New(func(c *fiberws.Conn) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("websocket handler panic")
			}
		}()

		token := c.Query("token")
		if token == "" {
			logrus.Warn("websocket connection rejected: missing token")
			reject(c, "Missing token")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
		_, user, err := middleware.Authenticate(ctx, token)
		cancel()
		if err != nil {
			logrus.WithError(err).Warn("websocket connection rejected")
			reject(c, "Invalid token")
			return
		}

		logrus.WithFields(logrus.Fields{
			"user_id":  user.ID,
			"username": user.Username,
		}).Info("websocket connection established")

		wsc.hub.ServeFiberWS(c, user.ID)
	})
}

func reject(c *fiberws.Conn, reason string) {
	_ = c.WriteMessage(fiberws.CloseMessage, fiberws.FormatCloseMessage(fiberws.ClosePolicyViolation, reason))
	_ = c.Close()
}

// GetWebSocketStats returns connection statistics (admin only)
func (wsc *WebSocketController) GetWebSocketStats(c *fiber.Ctx) error {
	stats := wsc.hub.Registry().Stats()
	return c.JSON(fiber.Map{
		"connections": stats.Connections,
		"users":       stats.Users,
		"rooms":       stats.Rooms,
		"status":      "active",
	})
}
