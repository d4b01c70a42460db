package database

import "forge/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.ConnectionRequest{},
		&models.Connection{},
		&models.ChatRoom{},
	}
}
