// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"

	"forge/internal/models"
	"forge/internal/observability"

	"gorm.io/gorm"
)

// ConnectionRepository defines the interface for connection request and
// connection data operations
type ConnectionRepository interface {
	CreateRequest(ctx context.Context, request *models.ConnectionRequest) error
	GetRequestByID(ctx context.Context, id uint) (*models.ConnectionRequest, error)
	PendingRequestExists(ctx context.Context, senderID, receiverID uint) (bool, error)
	ListIncoming(ctx context.Context, receiverID uint) ([]models.ConnectionRequest, error)
	ListOutgoing(ctx context.Context, senderID uint) ([]models.ConnectionRequest, error)
	ListAcceptedNotifications(ctx context.Context, senderID uint) ([]models.ConnectionRequest, error)
	GetConnectionByID(ctx context.Context, id uint) (*models.Connection, error)
	GetConnectionBetween(ctx context.Context, userID1, userID2 uint) (*models.Connection, error)
	ListInbox(ctx context.Context, userID uint) ([]models.InboxEntry, error)
}

// connectionRepository implements ConnectionRepository
type connectionRepository struct {
	db      *gorm.DB
	metrics *observability.DatabaseMetrics
	log     *observability.RepoLogger
}

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &connectionRepository{
		db:      db,
		metrics: observability.NewDatabaseMetrics(db),
		log:     observability.NewRepoLogger("connection_requests"),
	}
}

func (r *connectionRepository) CreateRequest(ctx context.Context, request *models.ConnectionRequest) error {
	defer r.metrics.TrackQuery("create", "connection_requests")()

	if err := r.db.WithContext(ctx).Create(request).Error; err != nil {
		// The partial unique index on (sender_id, receiver_id) for PENDING
		// rows catches inserts that raced past the existence check.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.NewConflictError("A pending connection request to this user already exists")
		}
		r.log.LogError(ctx, err, "create request")
		return models.NewInternalError(err)
	}

	r.log.LogWrite(ctx, "create request", map[string]interface{}{
		"request_id":  request.ID,
		"sender_id":   request.SenderID,
		"receiver_id": request.ReceiverID,
	})
	return nil
}

func (r *connectionRepository) GetRequestByID(ctx context.Context, id uint) (*models.ConnectionRequest, error) {
	defer r.metrics.TrackQuery("select", "connection_requests")()

	var request models.ConnectionRequest
	if err := r.db.WithContext(ctx).First(&request, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("ConnectionRequest", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &request, nil
}

func (r *connectionRepository) PendingRequestExists(ctx context.Context, senderID, receiverID uint) (bool, error) {
	var count int64

	// The pair is ordered: a pending request from B to A does not block
	// a new request from A to B.
	if err := r.db.WithContext(ctx).
		Model(&models.ConnectionRequest{}).
		Where("sender_id = ? AND receiver_id = ? AND status = ?",
			senderID, receiverID, models.RequestStatusPending).
		Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *connectionRepository) ListIncoming(ctx context.Context, receiverID uint) ([]models.ConnectionRequest, error) {
	var requests []models.ConnectionRequest
	if err := r.db.WithContext(ctx).
		Where("receiver_id = ? AND status = ?", receiverID, models.RequestStatusPending).
		Order("created_at DESC").
		Find(&requests).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return requests, nil
}

func (r *connectionRepository) ListOutgoing(ctx context.Context, senderID uint) ([]models.ConnectionRequest, error) {
	var requests []models.ConnectionRequest
	if err := r.db.WithContext(ctx).
		Where("sender_id = ? AND status = ?", senderID, models.RequestStatusPending).
		Order("created_at DESC").
		Find(&requests).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return requests, nil
}

func (r *connectionRepository) ListAcceptedNotifications(ctx context.Context, senderID uint) ([]models.ConnectionRequest, error) {
	var requests []models.ConnectionRequest
	if err := r.db.WithContext(ctx).
		Where("sender_id = ? AND status = ?", senderID, models.RequestStatusAccepted).
		Order("responded_at DESC").
		Find(&requests).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return requests, nil
}

func (r *connectionRepository) GetConnectionByID(ctx context.Context, id uint) (*models.Connection, error) {
	var connection models.Connection
	if err := r.db.WithContext(ctx).First(&connection, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Connection", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &connection, nil
}

func (r *connectionRepository) GetConnectionBetween(ctx context.Context, userID1, userID2 uint) (*models.Connection, error) {
	var connection models.Connection

	// Connections are undirected: match the pair in either order.
	if err := r.db.WithContext(ctx).
		Where("(user_a_id = ? AND user_b_id = ?) OR (user_a_id = ? AND user_b_id = ?)",
			userID1, userID2, userID2, userID1).
		First(&connection).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // No connection exists
		}
		return nil, models.NewInternalError(err)
	}
	return &connection, nil
}

func (r *connectionRepository) ListInbox(ctx context.Context, userID uint) ([]models.InboxEntry, error) {
	defer r.metrics.TrackQuery("select", "connections")()

	var entries []models.InboxEntry

	// Normalize "the other side" of each connection relative to the caller.
	if err := r.db.WithContext(ctx).
		Table("connections c").
		Select(`c.id AS connection_id,
			CASE WHEN c.user_a_id = ? THEN c.user_b_id ELSE c.user_a_id END AS other_user_id,
			CASE WHEN c.user_a_id = ? THEN c.user_b_role ELSE c.user_a_role END AS other_user_role,
			COALESCE(r.room_key, '') AS room_key`, userID, userID).
		Joins("LEFT JOIN chat_rooms r ON r.connection_id = c.id").
		Where("c.user_a_id = ? OR c.user_b_id = ?", userID, userID).
		Order("c.created_at DESC").
		Scan(&entries).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	return entries, nil
}
