package server

import (
	"strings"

	"forge/internal/middleware"
	"forge/internal/models"
	"forge/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SendConnectionRequestBody is the JSON body for POST /api/connections/request.
type SendConnectionRequestBody struct {
	ReceiverID   uint   `json:"receiver_id"`
	ReceiverRole string `json:"receiver_role"`
	Message      string `json:"message"`
}

// SendConnectionRequest handles POST /api/connections/request
func (s *Server) SendConnectionRequest(c *fiber.Ctx) error {
	ctx := c.Context()
	ident := middleware.CallerIdentity(c)

	var body SendConnectionRequestBody
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if body.ReceiverID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("receiver_id is required"))
	}

	request, err := s.connectionService.SendRequest(ctx, service.SendRequestInput{
		SenderID:     ident.UserID,
		SenderRole:   ident.Role,
		ReceiverID:   body.ReceiverID,
		ReceiverRole: models.Role(strings.ToUpper(strings.TrimSpace(body.ReceiverRole))),
		Message:      body.Message,
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(request)
}

// GetIncomingRequests handles GET /api/connections/requests/incoming
func (s *Server) GetIncomingRequests(c *fiber.Ctx) error {
	ctx := c.Context()
	userID := c.Locals("userID").(uint)

	requests, err := s.connectionService.ListIncoming(ctx, userID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(requests)
}

// GetOutgoingRequests handles GET /api/connections/requests/outgoing
func (s *Server) GetOutgoingRequests(c *fiber.Ctx) error {
	ctx := c.Context()
	userID := c.Locals("userID").(uint)

	requests, err := s.connectionService.ListOutgoing(ctx, userID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(requests)
}

// GetConnectionNotifications handles GET /api/connections/notifications.
// It returns the caller's sent requests that were accepted, most recently
// answered first.
func (s *Server) GetConnectionNotifications(c *fiber.Ctx) error {
	ctx := c.Context()
	userID := c.Locals("userID").(uint)

	requests, err := s.connectionService.ListNotifications(ctx, userID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(requests)
}

// AcceptConnectionRequest handles POST /api/connections/requests/:requestId/accept
func (s *Server) AcceptConnectionRequest(c *fiber.Ctx) error {
	ctx := c.Context()
	userID := c.Locals("userID").(uint)
	requestID, err := s.parseID(c, "requestId")
	if err != nil {
		return nil
	}

	request, connection, err := s.connectionService.Accept(ctx, userID, requestID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"request":    request,
		"connection": connection,
	})
}

// RejectConnectionRequest handles POST /api/connections/requests/:requestId/reject
func (s *Server) RejectConnectionRequest(c *fiber.Ctx) error {
	ctx := c.Context()
	userID := c.Locals("userID").(uint)
	requestID, err := s.parseID(c, "requestId")
	if err != nil {
		return nil
	}

	request, err := s.connectionService.Reject(ctx, userID, requestID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"request": request,
	})
}

// GetInbox handles GET /api/inbox. Each entry is one accepted connection
// normalized to the caller's point of view, with the room key when a room
// has been provisioned.
func (s *Server) GetInbox(c *fiber.Ctx) error {
	ctx := c.Context()
	userID := c.Locals("userID").(uint)

	entries, err := s.connectionService.ListInbox(ctx, userID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(entries)
}
