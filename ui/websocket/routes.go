package websocket

import (
	"context"
	"encoding/json"
	"strings"

	domainSession "github.com/AzielCF/az-crm/domains/session"
	"github.com/AzielCF/az-crm/session/domain/event"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

const localsUserID = "ws_user_id"

// UserFromRequest reads the calling user from the X-User-ID header, falling
// back to the user_id query parameter (browsers cannot set headers on
// websocket upgrades).
func UserFromRequest(c *fiber.Ctx) string {
	if v := strings.TrimSpace(c.Get("X-User-ID")); v != "" {
		return v
	}
	return strings.TrimSpace(c.Query("user_id"))
}

func RegisterRoutes(app fiber.Router, hub *Hub, service domainSession.ISessionUsecase) {
	commands := NewCommands(service)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.SendStatus(fiber.StatusUpgradeRequired)
		}
		userID := UserFromRequest(c)
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).SendString("missing user")
		}
		c.Locals(localsUserID, userID)
		return c.Next()
	})

	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals(localsUserID).(string)
		serve(hub, commands, userID, conn)
	}))
}

func serve(hub *Hub, commands *Commands, userID string, conn *websocket.Conn) {
	observerID := hub.Subscribe(userID, newFiberConn(conn))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		hub.Unsubscribe(userID, observerID)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxInboundFrameLen)
	conn.SetPongHandler(func(string) error {
		hub.MarkAlive(userID, observerID)
		return nil
	})

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Debugf("[WS] Observer %s read error", observerID)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		handleFrame(ctx, hub, commands, userID, observerID, payload)
	}
}

// handleFrame answers one text frame of an observer. Pings are answered
// inline; commands run on their own goroutine since they may block on the
// chat client.
func handleFrame(ctx context.Context, hub *Hub, commands *Commands, userID, observerID string, payload []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logrus.Debugf("[WS] Unreadable message from observer %s: %v", observerID, err)
		return
	}

	// any traffic proves the observer is alive
	hub.MarkAlive(userID, observerID)
	if msg.Type == MsgPing {
		hub.Reply(userID, observerID, event.New(event.TypePong, nil))
		return
	}

	go func() {
		if !hub.Reply(userID, observerID, commands.Execute(ctx, userID, msg)) {
			logrus.Debugf("[WS] Observer %s left before %s was answered", observerID, msg.Type)
		}
	}()
}
