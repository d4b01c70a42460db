package service

import (
	"context"
	"errors"
	"fmt"

	"forge/internal/cache"
	"forge/internal/models"
	"forge/internal/repository"
	"forge/internal/roomkey"
)

// RoomService gates access to chat room keys. Possession of a key is the
// only thing the transport checks, so this service is the choke point that
// decides who may learn one: membership and the ACCEPTED status chain are
// re-verified on every call, not just at room creation.
type RoomService struct {
	connRepo repository.ConnectionRepository
	roomRepo repository.RoomRepository
}

// NewRoomService returns a new RoomService.
func NewRoomService(connRepo repository.ConnectionRepository, roomRepo repository.RoomRepository) *RoomService {
	return &RoomService{connRepo: connRepo, roomRepo: roomRepo}
}

// GetOrCreateRoom returns the room key for a connection, provisioning the
// chat_rooms row lazily on first request. The caller must be a participant.
func (s *RoomService) GetOrCreateRoom(ctx context.Context, callerID, connectionID uint) (*models.ChatRoom, error) {
	connection, err := s.authorizedConnection(ctx, callerID, connectionID)
	if err != nil {
		return nil, err
	}
	return s.roomForConnection(ctx, connection)
}

// GetRoomByCounterpart resolves the caller's connection with the target user
// and returns its room, provisioning lazily like GetOrCreateRoom.
func (s *RoomService) GetRoomByCounterpart(ctx context.Context, callerID, targetUserID uint) (*models.ChatRoom, error) {
	connection, err := s.connRepo.GetConnectionBetween(ctx, callerID, targetUserID)
	if err != nil {
		return nil, err
	}
	if connection == nil {
		return nil, models.NewNotFoundOrUnauthorizedError("Connection")
	}
	return s.GetOrCreateRoom(ctx, callerID, connection.ID)
}

// AuthorizeRoomAccess checks that the caller may attach to the room with the
// given key. Used by the chat transport boundary before subscribing.
func (s *RoomService) AuthorizeRoomAccess(ctx context.Context, callerID uint, key string) (*models.ChatRoom, error) {
	room, err := s.roomRepo.GetByRoomKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, models.NewNotFoundOrUnauthorizedError("Chat room")
	}
	if _, err := s.authorizedConnection(ctx, callerID, room.ConnectionID); err != nil {
		return nil, err
	}
	return room, nil
}

// authorizedConnection loads the connection and re-verifies that the caller
// participates in it and the underlying request is still ACCEPTED.
func (s *RoomService) authorizedConnection(ctx context.Context, callerID, connectionID uint) (*models.Connection, error) {
	connection, err := s.connRepo.GetConnectionByID(ctx, connectionID)
	if err != nil {
		var appErr *models.AppError
		// Conflate "no such connection" with "not yours".
		if errors.As(err, &appErr) && appErr.Code == "NOT_FOUND" {
			return nil, models.NewNotFoundOrUnauthorizedError("Connection")
		}
		return nil, err
	}
	if !connection.Involves(callerID) {
		return nil, models.NewNotFoundOrUnauthorizedError("Connection")
	}

	request, err := s.connRepo.GetRequestByID(ctx, connection.ConnectionRequestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.RequestStatusAccepted {
		return nil, models.NewNotFoundOrUnauthorizedError("Connection")
	}

	return connection, nil
}

// roomForConnection returns the cached room row or derives and persists it.
// The stored key is a cache of a pure function, so a stored value that
// disagrees with re-derivation is corruption, not staleness.
func (s *RoomService) roomForConnection(ctx context.Context, connection *models.Connection) (*models.ChatRoom, error) {
	derived := roomkey.Derive(connection.ID)

	// A cache hit only counts when it agrees with re-derivation; anything
	// else falls through to the database.
	if key, ok := cache.CachedRoomKey(ctx, connection.ID); ok && key == derived {
		return &models.ChatRoom{ConnectionID: connection.ID, RoomKey: key}, nil
	}

	room, err := s.roomRepo.GetByConnectionID(ctx, connection.ID)
	if err != nil {
		return nil, err
	}
	if room != nil {
		if room.RoomKey != derived {
			return nil, models.NewInternalError(
				fmt.Errorf("stored room key for connection %d disagrees with derivation", connection.ID))
		}
		cache.StoreRoomKey(ctx, connection.ID, room.RoomKey)
		return room, nil
	}

	room = &models.ChatRoom{
		ConnectionID: connection.ID,
		RoomKey:      derived,
	}
	if err := s.roomRepo.Create(ctx, room); err != nil {
		// A concurrent caller may have created the row first; the unique
		// index makes the re-read authoritative.
		existing, readErr := s.roomRepo.GetByConnectionID(ctx, connection.ID)
		if readErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}

	cache.StoreRoomKey(ctx, connection.ID, room.RoomKey)
	// The room key now shows up in both participants' inbox entries.
	cache.InvalidateInbox(ctx, connection.UserAID, connection.UserBID)
	return room, nil
}
