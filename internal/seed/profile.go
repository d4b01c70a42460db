package seed

import (
	"fmt"
	"os"
	"strings"
	"time"

	"forge/internal/models"
	"forge/internal/roomkey"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Profile is a hand-written seeding scenario. Unlike the random seeder it
// pins exact users and outcomes, which demo scripts rely on.
type Profile struct {
	Requests []ProfileRequest `yaml:"requests"`
}

// ProfileRequest describes one connection request and its outcome.
type ProfileRequest struct {
	Sender       uint   `yaml:"sender"`
	SenderRole   string `yaml:"sender_role"`
	Receiver     uint   `yaml:"receiver"`
	ReceiverRole string `yaml:"receiver_role"`
	Message      string `yaml:"message"`
	Status       string `yaml:"status"` // PENDING, ACCEPTED or REJECTED
	Room         bool   `yaml:"room"`   // provision the chat room (ACCEPTED only)
}

// LoadProfile reads and parses a YAML seed profile.
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	return &profile, nil
}

// ApplyProfile creates the rows a profile describes, validating each entry.
func (s *Seeder) ApplyProfile(profile *Profile) (*Summary, error) {
	summary := &Summary{}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for i, entry := range profile.Requests {
			request, err := entry.toRequest()
			if err != nil {
				return fmt.Errorf("profile entry %d: %w", i, err)
			}

			if err := tx.Create(request).Error; err != nil {
				return fmt.Errorf("profile entry %d: %w", i, err)
			}
			summary.Requests++

			switch request.Status {
			case models.RequestStatusAccepted:
				summary.Accepted++
				connection := &models.Connection{
					ConnectionRequestID: request.ID,
					UserAID:             request.SenderID,
					UserARole:           request.SenderRole,
					UserBID:             request.ReceiverID,
					UserBRole:           request.ReceiverRole,
				}
				if err := tx.Create(connection).Error; err != nil {
					return fmt.Errorf("profile entry %d: %w", i, err)
				}
				if entry.Room {
					room := &models.ChatRoom{
						ConnectionID: connection.ID,
						RoomKey:      roomkey.Derive(connection.ID),
					}
					if err := tx.Create(room).Error; err != nil {
						return fmt.Errorf("profile entry %d: %w", i, err)
					}
					summary.Rooms++
				}
			case models.RequestStatusRejected:
				summary.Rejected++
			default:
				summary.Pending++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// toRequest validates a profile entry and builds the request row.
func (e ProfileRequest) toRequest() (*models.ConnectionRequest, error) {
	if e.Sender == 0 || e.Receiver == 0 {
		return nil, fmt.Errorf("sender and receiver are required")
	}
	if e.Sender == e.Receiver {
		return nil, fmt.Errorf("sender and receiver must differ")
	}

	senderRole := models.Role(strings.ToUpper(e.SenderRole))
	receiverRole := models.Role(strings.ToUpper(e.ReceiverRole))
	if !senderRole.Valid() || !receiverRole.Valid() {
		return nil, fmt.Errorf("roles must be FOUNDER or INVESTOR")
	}

	status := models.RequestStatus(strings.ToUpper(e.Status))
	if status == "" {
		status = models.RequestStatusPending
	}

	request := &models.ConnectionRequest{
		SenderID:     e.Sender,
		SenderRole:   senderRole,
		ReceiverID:   e.Receiver,
		ReceiverRole: receiverRole,
		Message:      e.Message,
		Status:       status,
	}

	switch status {
	case models.RequestStatusPending:
	case models.RequestStatusAccepted, models.RequestStatusRejected:
		now := time.Now()
		request.RespondedAt = &now
	default:
		return nil, fmt.Errorf("unknown status %q", e.Status)
	}

	if e.Room && status != models.RequestStatusAccepted {
		return nil, fmt.Errorf("room requires ACCEPTED status")
	}

	return request, nil
}
