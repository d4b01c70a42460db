// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"encoding/json"
	"log"

	"forge/internal/models"
	"forge/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// incomingRoomFrame is the JSON frame clients send on the chat socket.
// MessageType distinguishes text from file messages; file messages name
// their payload in FileName.
type incomingRoomFrame struct {
	Type        string `json:"type"`
	MessageType string `json:"message_type,omitempty"`
	Body        string `json:"body"`
	FileName    string `json:"file_name,omitempty"`
}

// RoomChatHandler handles WebSocket connections for room chat. The caller
// must present a room key they are authorized for; authorization is
// re-verified here on every attach, not assumed from key possession.
func (s *Server) RoomChatHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ctx := context.Background()

		// Get userID from context locals (set by identity middleware)
		userIDVal := conn.Locals("userID")
		if userIDVal == nil {
			log.Printf("WebSocket Chat: Unauthenticated connection attempt")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":"unauthorized"}`))
			_ = conn.Close()
			return
		}
		userID := userIDVal.(uint)

		roomKey := conn.Query("room_key")
		if roomKey == "" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":"room_key is required"}`))
			_ = conn.Close()
			return
		}

		if s.roomHub == nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":"chat transport unavailable"}`))
			_ = conn.Close()
			return
		}

		// Membership and the ACCEPTED status chain are checked against the
		// database, so a leaked or guessed key alone is not enough.
		room, err := s.roomService.AuthorizeRoomAccess(ctx, userID, roomKey)
		if err != nil {
			log.Printf("WebSocket Chat: User %d denied for room %s: %v", userID, roomKey, err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":"room not found"}`))
			_ = conn.Close()
			return
		}

		client, err := s.roomHub.Attach(ctx, userID, room.RoomKey, conn)
		if err != nil {
			log.Printf("WebSocket Chat: Failed to attach user %d: %v", userID, err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		client.IncomingHandler = func(c *notifications.Client, message []byte) {
			var frame incomingRoomFrame
			if err := json.Unmarshal(message, &frame); err != nil {
				log.Printf("WebSocket Chat: Invalid frame from user %d", userID)
				return
			}
			if frame.Type != "message" || frame.Body == "" {
				return
			}

			msg := notifications.RoomMessage{
				Type:     frame.MessageType,
				Body:     frame.Body,
				FileName: frame.FileName,
			}
			if perr := s.roomHub.Publish(ctx, userID, room.RoomKey, msg); perr != nil {
				log.Printf("WebSocket Chat: Publish failed for user %d: %v", userID, perr)
				event := notifications.RoomEvent{
					Type:    "error",
					RoomKey: room.RoomKey,
					Payload: "failed to send message",
				}
				if eventJSON, merr := json.Marshal(event); merr == nil {
					c.TrySend(eventJSON)
				}
			}
		}

		// Confirm the attach before history starts flowing
		welcome := notifications.RoomEvent{
			Type:    "attached",
			RoomKey: room.RoomKey,
			Payload: map[string]interface{}{"user_id": userID},
		}
		if welcomeJSON, err := json.Marshal(welcome); err == nil {
			client.TrySend(welcomeJSON)
		}

		// Start write pump in a goroutine
		go client.WritePump()

		// Read pump runs in the main handler goroutine (blocking)
		client.ReadPump()
	})
}

// WebSocketUpgradeRequired rejects plain HTTP requests to websocket routes
// before the identity middleware runs the upgrade.
func WebSocketUpgradeRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return models.RespondWithError(c, fiber.StatusUpgradeRequired,
			models.NewValidationError("WebSocket upgrade required"))
	}
}
