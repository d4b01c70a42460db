package models

import "time"

// Connection is the undirected relationship materialized when a request is
// accepted. (a,b) and (b,a) are the same relationship; at most one row exists
// per unordered pair.
type Connection struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	ConnectionRequestID uint      `gorm:"uniqueIndex;not null" json:"connection_request_id"`
	UserAID             uint      `gorm:"not null;index" json:"user_a_id"`
	UserARole           Role      `gorm:"type:varchar(20);not null" json:"user_a_role"`
	UserBID             uint      `gorm:"not null;index" json:"user_b_id"`
	UserBRole           Role      `gorm:"type:varchar(20);not null" json:"user_b_role"`
	CreatedAt           time.Time `json:"created_at"`

	// Relationships
	Request *ConnectionRequest `gorm:"foreignKey:ConnectionRequestID;constraint:OnDelete:CASCADE" json:"request,omitempty"`
}

// TableName specifies the table name for GORM
func (Connection) TableName() string {
	return "connections"
}

// Involves reports whether the given user is a participant of the connection.
func (c *Connection) Involves(userID uint) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// Counterpart returns the id and role of the other participant relative to
// userID. The boolean is false when userID is not a participant.
func (c *Connection) Counterpart(userID uint) (uint, Role, bool) {
	switch userID {
	case c.UserAID:
		return c.UserBID, c.UserBRole, true
	case c.UserBID:
		return c.UserAID, c.UserARole, true
	}
	return 0, "", false
}
