package repository

import (
	"context"
	"errors"

	"forge/internal/models"
	"forge/internal/observability"

	"gorm.io/gorm"
)

// RoomRepository defines the interface for chat room data operations
type RoomRepository interface {
	Create(ctx context.Context, room *models.ChatRoom) error
	GetByConnectionID(ctx context.Context, connectionID uint) (*models.ChatRoom, error)
	GetByRoomKey(ctx context.Context, roomKey string) (*models.ChatRoom, error)
}

// roomRepository implements RoomRepository
type roomRepository struct {
	db      *gorm.DB
	metrics *observability.DatabaseMetrics
	log     *observability.RepoLogger
}

// NewRoomRepository creates a new room repository
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{
		db:      db,
		metrics: observability.NewDatabaseMetrics(db),
		log:     observability.NewRepoLogger("chat_rooms"),
	}
}

func (r *roomRepository) Create(ctx context.Context, room *models.ChatRoom) error {
	defer r.metrics.TrackQuery("create", "chat_rooms")()

	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		r.log.LogError(ctx, err, "create room")
		return models.NewInternalError(err)
	}

	r.log.LogWrite(ctx, "create room", map[string]interface{}{
		"room_id":       room.ID,
		"connection_id": room.ConnectionID,
	})
	return nil
}

func (r *roomRepository) GetByConnectionID(ctx context.Context, connectionID uint) (*models.ChatRoom, error) {
	var room models.ChatRoom
	if err := r.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // No room cached yet
		}
		return nil, models.NewInternalError(err)
	}
	return &room, nil
}

func (r *roomRepository) GetByRoomKey(ctx context.Context, roomKey string) (*models.ChatRoom, error) {
	defer r.metrics.TrackQuery("select", "chat_rooms")()

	var room models.ChatRoom
	if err := r.db.WithContext(ctx).
		Where("room_key = ?", roomKey).
		First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &room, nil
}
