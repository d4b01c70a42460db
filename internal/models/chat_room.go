package models

import "time"

// ChatRoom caches the derived room key for a connection. The key is a pure
// function of the connection id, so this row is a lookup optimization, not a
// source of truth: re-derivation must always agree with the stored value.
type ChatRoom struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ConnectionID uint      `gorm:"uniqueIndex;not null" json:"connection_id"`
	RoomKey      string    `gorm:"size:64;uniqueIndex;not null" json:"room_key"`
	CreatedAt    time.Time `json:"created_at"`

	// Relationships
	Connection *Connection `gorm:"foreignKey:ConnectionID;constraint:OnDelete:CASCADE" json:"connection,omitempty"`
}

// TableName specifies the table name for GORM
func (ChatRoom) TableName() string {
	return "chat_rooms"
}

// InboxEntry is a row of the inbox join: one accepted connection normalized to
// the caller's point of view, with the room key when a room was provisioned.
type InboxEntry struct {
	ConnectionID  uint   `json:"connection_id"`
	OtherUserID   uint   `json:"other_user_id"`
	OtherUserRole Role   `json:"other_user_role"`
	RoomKey       string `json:"room_key,omitempty"`
}
