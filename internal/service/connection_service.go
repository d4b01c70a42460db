// Package service contains the business logic layer of the application.
package service

import (
	"context"
	"errors"
	"time"

	"forge/internal/cache"
	"forge/internal/models"
	"forge/internal/observability"
	"forge/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConnectionService enforces the request → accept/reject → connection state
// machine. Accept and Reject run inside a single row-locked transaction so a
// request can never be half-transitioned.
type ConnectionService struct {
	db   *gorm.DB
	repo repository.ConnectionRepository
}

// NewConnectionService returns a new ConnectionService.
func NewConnectionService(db *gorm.DB, repo repository.ConnectionRepository) *ConnectionService {
	return &ConnectionService{db: db, repo: repo}
}

// SendRequestInput carries the fields of a new connection request.
type SendRequestInput struct {
	SenderID     uint
	SenderRole   models.Role
	ReceiverID   uint
	ReceiverRole models.Role
	Message      string
}

// SendRequest creates a PENDING connection request from sender to receiver.
func (s *ConnectionService) SendRequest(ctx context.Context, input SendRequestInput) (*models.ConnectionRequest, error) {
	if input.SenderID == input.ReceiverID {
		return nil, models.NewValidationError("Cannot send a connection request to yourself")
	}
	if !input.SenderRole.Valid() || !input.ReceiverRole.Valid() {
		return nil, models.NewValidationError("Role must be FOUNDER or INVESTOR")
	}

	exists, err := s.repo.PendingRequestExists(ctx, input.SenderID, input.ReceiverID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, models.NewConflictError("A pending connection request to this user already exists")
	}

	request := &models.ConnectionRequest{
		SenderID:     input.SenderID,
		SenderRole:   input.SenderRole,
		ReceiverID:   input.ReceiverID,
		ReceiverRole: input.ReceiverRole,
		Message:      input.Message,
		Status:       models.RequestStatusPending,
	}
	if err := s.repo.CreateRequest(ctx, request); err != nil {
		return nil, err
	}

	observability.ConnectionRequestsTotal.WithLabelValues("sent").Inc()
	cache.Invalidate(ctx, cache.PendingKey(input.ReceiverID))
	return request, nil
}

// ListIncoming returns pending requests addressed to the user, newest first.
func (s *ConnectionService) ListIncoming(ctx context.Context, userID uint) ([]models.ConnectionRequest, error) {
	var cached []models.ConnectionRequest
	if cache.GetJSON(ctx, cache.PendingKey(userID), &cached) {
		return cached, nil
	}

	requests, err := s.repo.ListIncoming(ctx, userID)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, cache.PendingKey(userID), requests, cache.PendingTTL)
	return requests, nil
}

// ListOutgoing returns pending requests the user has sent, newest first.
func (s *ConnectionService) ListOutgoing(ctx context.Context, userID uint) ([]models.ConnectionRequest, error) {
	return s.repo.ListOutgoing(ctx, userID)
}

// ListNotifications returns the user's sent requests that were accepted,
// most recently answered first.
func (s *ConnectionService) ListNotifications(ctx context.Context, userID uint) ([]models.ConnectionRequest, error) {
	return s.repo.ListAcceptedNotifications(ctx, userID)
}

// ListInbox returns the user's connections normalized to their point of view.
func (s *ConnectionService) ListInbox(ctx context.Context, userID uint) ([]models.InboxEntry, error) {
	var cached []models.InboxEntry
	if cache.GetJSON(ctx, cache.InboxKey(userID), &cached) {
		return cached, nil
	}

	entries, err := s.repo.ListInbox(ctx, userID)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, cache.InboxKey(userID), entries, cache.InboxTTL)
	return entries, nil
}

// lockedRequestQuery applies a row write lock where the dialect supports it.
// sqlite serializes writers anyway, so the lock is postgres-only.
func lockedRequestQuery(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// Accept transitions a PENDING request to ACCEPTED and materializes the
// Connection, all inside one transaction. Replaying an accept of an already
// ACCEPTED request succeeds without writing; the whole transition rolls back
// on any failure.
func (s *ConnectionService) Accept(ctx context.Context, callerID, requestID uint) (*models.ConnectionRequest, *models.Connection, error) {
	var request models.ConnectionRequest
	var connection models.Connection

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Filtering by receiver inside the locked load keeps "not yours"
		// indistinguishable from "does not exist".
		if err := lockedRequestQuery(tx).
			Where("id = ? AND receiver_id = ?", requestID, callerID).
			First(&request).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundOrUnauthorizedError("Connection request")
			}
			return err
		}

		if request.Status == models.RequestStatusAccepted {
			// Idempotent replay: report the existing outcome without writing.
			// When both directions of a pair were pending, the connection was
			// materialized under whichever request was accepted first, so a
			// miss by request id falls back to the unordered pair.
			err := tx.
				Where("connection_request_id = ?", request.ID).
				First(&connection).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				err = tx.
					Where("(user_a_id = ? AND user_b_id = ?) OR (user_a_id = ? AND user_b_id = ?)",
						request.SenderID, request.ReceiverID, request.ReceiverID, request.SenderID).
					First(&connection).Error
			}
			return err
		}
		if request.Status != models.RequestStatusPending {
			return models.NewInvalidStateError("Connection request was already rejected")
		}

		now := time.Now()
		request.Status = models.RequestStatusAccepted
		request.RespondedAt = &now
		if err := tx.Model(&models.ConnectionRequest{}).
			Where("id = ?", request.ID).
			Updates(map[string]interface{}{
				"status":       models.RequestStatusAccepted,
				"responded_at": now,
			}).Error; err != nil {
			return err
		}

		// The idempotency guard above only covers replays of this request.
		// A second check on the unordered pair protects against any other
		// path that could double-insert the connection.
		var existing models.Connection
		err := tx.
			Where("(user_a_id = ? AND user_b_id = ?) OR (user_a_id = ? AND user_b_id = ?)",
				request.SenderID, request.ReceiverID, request.ReceiverID, request.SenderID).
			First(&existing).Error
		if err == nil {
			connection = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		connection = models.Connection{
			ConnectionRequestID: request.ID,
			UserAID:             request.SenderID,
			UserARole:           request.SenderRole,
			UserBID:             request.ReceiverID,
			UserBRole:           request.ReceiverRole,
		}
		return tx.Create(&connection).Error
	})

	if txErr != nil {
		var appErr *models.AppError
		if errors.As(txErr, &appErr) {
			return nil, nil, appErr
		}
		return nil, nil, models.NewInternalError(txErr)
	}

	observability.ConnectionRequestsTotal.WithLabelValues("accepted").Inc()
	cache.InvalidateInbox(ctx, request.SenderID, request.ReceiverID)

	return &request, &connection, nil
}

// Reject transitions a PENDING request to REJECTED. Authorization works
// exactly like Accept; an already REJECTED request replays as success and an
// ACCEPTED one is a terminal-state violation.
func (s *ConnectionService) Reject(ctx context.Context, callerID, requestID uint) (*models.ConnectionRequest, error) {
	var request models.ConnectionRequest

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockedRequestQuery(tx).
			Where("id = ? AND receiver_id = ?", requestID, callerID).
			First(&request).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundOrUnauthorizedError("Connection request")
			}
			return err
		}

		if request.Status == models.RequestStatusRejected {
			return nil
		}
		if request.Status != models.RequestStatusPending {
			return models.NewInvalidStateError("Connection request was already accepted")
		}

		now := time.Now()
		request.Status = models.RequestStatusRejected
		request.RespondedAt = &now
		return tx.Model(&models.ConnectionRequest{}).
			Where("id = ?", request.ID).
			Updates(map[string]interface{}{
				"status":       models.RequestStatusRejected,
				"responded_at": now,
			}).Error
	})

	if txErr != nil {
		var appErr *models.AppError
		if errors.As(txErr, &appErr) {
			return nil, appErr
		}
		return nil, models.NewInternalError(txErr)
	}

	observability.ConnectionRequestsTotal.WithLabelValues("rejected").Inc()
	cache.Invalidate(ctx, cache.PendingKey(request.ReceiverID))
	return &request, nil
}
