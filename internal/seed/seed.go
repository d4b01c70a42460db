// Package seed provides database seeding utilities for development and demos.
package seed

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"forge/internal/models"
	"forge/internal/roomkey"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumFounders  int
	NumInvestors int
	// RequestsPerFounder is how many outgoing requests each founder sends.
	RequestsPerFounder int
	// AcceptRatio and RejectRatio split the generated requests; the rest
	// stay PENDING.
	AcceptRatio float64
	RejectRatio float64
	// ProvisionRooms creates chat room rows for a share of the accepted
	// connections, leaving the rest to lazy provisioning.
	ProvisionRooms bool
	// RandSeed fixes the generator for reproducible runs (0 = time-based).
	RandSeed int64
}

// DefaultOptions returns a demo-sized seeding configuration.
func DefaultOptions() Options {
	return Options{
		NumFounders:        20,
		NumInvestors:       10,
		RequestsPerFounder: 3,
		AcceptRatio:        0.5,
		RejectRatio:        0.2,
		ProvisionRooms:     true,
	}
}

// Summary reports what a seeding run created.
type Summary struct {
	Requests int
	Accepted int
	Rejected int
	Pending  int
	Rooms    int
}

// Seeder populates the connection tables with demo traffic.
type Seeder struct {
	db *gorm.DB
}

// NewSeeder creates a Seeder bound to the given database.
func NewSeeder(db *gorm.DB) *Seeder {
	return &Seeder{db: db}
}

// ClearAll removes all seeded rows, children first.
func (s *Seeder) ClearAll() error {
	for _, model := range []interface{}{
		&models.ChatRoom{},
		&models.Connection{},
		&models.ConnectionRequest{},
	} {
		if err := s.db.Where("1 = 1").Delete(model).Error; err != nil {
			return fmt.Errorf("clearing %T: %w", model, err)
		}
	}
	return nil
}

// Seed generates founders and investors exchanging connection requests in
// every lifecycle state. Founder ids run 1..NumFounders; investor ids follow.
func (s *Seeder) Seed(opts Options) (*Summary, error) {
	if opts.NumFounders <= 0 || opts.NumInvestors <= 0 {
		return nil, fmt.Errorf("need at least one founder and one investor")
	}
	if opts.RequestsPerFounder <= 0 {
		opts.RequestsPerFounder = 1
	}
	if opts.RequestsPerFounder > opts.NumInvestors {
		opts.RequestsPerFounder = opts.NumInvestors
	}

	seedVal := opts.RandSeed
	if seedVal == 0 {
		seedVal = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seedVal))
	gofakeit.Seed(seedVal)

	summary := &Summary{}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for founder := 1; founder <= opts.NumFounders; founder++ {
			for _, investorOffset := range rng.Perm(opts.NumInvestors)[:opts.RequestsPerFounder] {
				investor := opts.NumFounders + investorOffset + 1

				request := &models.ConnectionRequest{
					SenderID:     uint(founder),
					SenderRole:   models.RoleFounder,
					ReceiverID:   uint(investor),
					ReceiverRole: models.RoleInvestor,
					Message:      pitchMessage(),
					Status:       models.RequestStatusPending,
				}

				roll := rng.Float64()
				switch {
				case roll < opts.AcceptRatio:
					now := time.Now()
					request.Status = models.RequestStatusAccepted
					request.RespondedAt = &now
				case roll < opts.AcceptRatio+opts.RejectRatio:
					now := time.Now()
					request.Status = models.RequestStatusRejected
					request.RespondedAt = &now
				}

				if err := tx.Create(request).Error; err != nil {
					return fmt.Errorf("creating request: %w", err)
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
						return fmt.Errorf("creating connection: %w", err)
					}

					// Provision some rooms up front; the rest appear
					// lazily the first time a participant asks.
					if opts.ProvisionRooms && rng.Intn(2) == 0 {
						room := &models.ChatRoom{
							ConnectionID: connection.ID,
							RoomKey:      roomkey.Derive(connection.ID),
						}
						if err := tx.Create(room).Error; err != nil {
							return fmt.Errorf("creating room: %w", err)
						}
						summary.Rooms++
					}
				case models.RequestStatusRejected:
					summary.Rejected++
				default:
					summary.Pending++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Seeded %d requests (%d accepted, %d rejected, %d pending), %d rooms",
		summary.Requests, summary.Accepted, summary.Rejected, summary.Pending, summary.Rooms)
	return summary, nil
}

// pitchMessage fabricates a founder intro message.
func pitchMessage() string {
	return fmt.Sprintf("Hi, I'm building %s (%s). %s",
		gofakeit.Company(), gofakeit.BuzzWord(), gofakeit.Sentence(8))
}
