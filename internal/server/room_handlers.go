package server

import (
	"forge/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ProvisionRoomBody is the JSON body for POST /api/chat/rooms.
type ProvisionRoomBody struct {
	ConnectionID uint `json:"connection_id"`
}

// ResolveRoomBody is the JSON body for POST /api/chat.
type ResolveRoomBody struct {
	TargetUserID uint `json:"target_user_id"`
}

// ProvisionRoom handles POST /api/chat/rooms. It returns the room key for a
// connection the caller participates in, creating the room row lazily on the
// first request. Existence and authorization failures share one response
// shape so the endpoint never confirms whether a connection id is real.
func (s *Server) ProvisionRoom(c *fiber.Ctx) error {
	ctx := c.Context()
	userID := c.Locals("userID").(uint)

	var body ProvisionRoomBody
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if body.ConnectionID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("connection_id is required"))
	}

	room, err := s.roomService.GetOrCreateRoom(ctx, userID, body.ConnectionID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"connection_id": room.ConnectionID,
		"room_key":      room.RoomKey,
	})
}

// ResolveRoomByCounterpart handles POST /api/chat. It resolves the caller's
// connection with the target user and returns the room key, provisioning the
// room lazily like ProvisionRoom.
func (s *Server) ResolveRoomByCounterpart(c *fiber.Ctx) error {
	ctx := c.Context()
	userID := c.Locals("userID").(uint)

	var body ResolveRoomBody
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if body.TargetUserID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("target_user_id is required"))
	}

	room, err := s.roomService.GetRoomByCounterpart(ctx, userID, body.TargetUserID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"connection_id": room.ConnectionID,
		"room_key":      room.RoomKey,
	})
}
