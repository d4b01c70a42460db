// Package models contains data structures for the application's domain models.
package models

import "time"

// Role describes which side of the platform a user belongs to. It is
// descriptive metadata only and never drives dispatch.
type Role string

const (
	// RoleFounder identifies a startup founder.
	RoleFounder Role = "FOUNDER"
	// RoleInvestor identifies an investor.
	RoleInvestor Role = "INVESTOR"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleFounder || r == RoleInvestor
}

// RequestStatus represents the lifecycle state of a connection request.
type RequestStatus string

const (
	// RequestStatusPending indicates the request is awaiting a response.
	RequestStatusPending RequestStatus = "PENDING"
	// RequestStatusAccepted indicates the receiver accepted the request.
	RequestStatusAccepted RequestStatus = "ACCEPTED"
	// RequestStatusRejected indicates the receiver declined the request.
	RequestStatusRejected RequestStatus = "REJECTED"
)

// ConnectionRequest is a directed request from a sender to a receiver.
// Once the status leaves PENDING the row is immutable apart from RespondedAt.
type ConnectionRequest struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	SenderID     uint          `gorm:"not null;index" json:"sender_id"`
	SenderRole   Role          `gorm:"type:varchar(20);not null" json:"sender_role"`
	ReceiverID   uint          `gorm:"not null;index" json:"receiver_id"`
	ReceiverRole Role          `gorm:"type:varchar(20);not null" json:"receiver_role"`
	Message      string        `gorm:"type:text" json:"message"`
	Status       RequestStatus `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	RespondedAt  *time.Time    `json:"responded_at"`
}

// TableName specifies the table name for GORM
func (ConnectionRequest) TableName() string {
	return "connection_requests"
}
