package seed

import (
	"os"
	"path/filepath"
	"testing"

	"forge/internal/models"
	"forge/internal/roomkey"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupSeedTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.ConnectionRequest{},
		&models.Connection{},
		&models.ChatRoom{},
	))
	return db
}

func TestSeedInvariants(t *testing.T) {
	db := setupSeedTestDB(t)
	s := NewSeeder(db)

	summary, err := s.Seed(Options{
		NumFounders:        10,
		NumInvestors:       5,
		RequestsPerFounder: 2,
		AcceptRatio:        0.5,
		RejectRatio:        0.2,
		ProvisionRooms:     true,
		RandSeed:           42,
	})
	require.NoError(t, err)

	assert.Equal(t, 20, summary.Requests)
	assert.Equal(t, summary.Requests, summary.Accepted+summary.Rejected+summary.Pending)

	// Every accepted request materialized exactly one connection.
	var connCount int64
	require.NoError(t, db.Model(&models.Connection{}).Count(&connCount).Error)
	assert.Equal(t, int64(summary.Accepted), connCount)

	// Non-pending requests carry a response timestamp; pending ones do not.
	var answered []models.ConnectionRequest
	require.NoError(t, db.Where("status <> ?", models.RequestStatusPending).Find(&answered).Error)
	for _, request := range answered {
		assert.NotNil(t, request.RespondedAt)
	}

	// Seeded room keys agree with derivation.
	var rooms []models.ChatRoom
	require.NoError(t, db.Find(&rooms).Error)
	assert.Len(t, rooms, summary.Rooms)
	for _, room := range rooms {
		assert.Equal(t, roomkey.Derive(room.ConnectionID), room.RoomKey)
	}
}

func TestSeedReproducible(t *testing.T) {
	opts := Options{
		NumFounders:        5,
		NumInvestors:       3,
		RequestsPerFounder: 2,
		AcceptRatio:        0.5,
		RejectRatio:        0.2,
		RandSeed:           7,
	}

	first, err := NewSeeder(setupSeedTestDB(t)).Seed(opts)
	require.NoError(t, err)
	second, err := NewSeeder(setupSeedTestDB(t)).Seed(opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestClearAll(t *testing.T) {
	db := setupSeedTestDB(t)
	s := NewSeeder(db)

	_, err := s.Seed(Options{NumFounders: 3, NumInvestors: 2, RequestsPerFounder: 1, AcceptRatio: 1, RandSeed: 1, ProvisionRooms: true})
	require.NoError(t, err)
	require.NoError(t, s.ClearAll())

	for _, model := range []interface{}{&models.ChatRoom{}, &models.Connection{}, &models.ConnectionRequest{}} {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error)
		assert.Zero(t, count)
	}
}

func TestApplyProfile(t *testing.T) {
	db := setupSeedTestDB(t)
	s := NewSeeder(db)

	profileYAML := `
requests:
  - sender: 1
    sender_role: founder
    receiver: 2
    receiver_role: investor
    message: "would love to chat"
    status: accepted
    room: true
  - sender: 3
    sender_role: founder
    receiver: 2
    receiver_role: investor
    status: pending
`
	path := filepath.Join(t.TempDir(), "profile.yml")
	require.NoError(t, os.WriteFile(path, []byte(profileYAML), 0o600))

	profile, err := LoadProfile(path)
	require.NoError(t, err)
	require.Len(t, profile.Requests, 2)

	summary, err := s.ApplyProfile(profile)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Requests)
	assert.Equal(t, 1, summary.Accepted)
	assert.Equal(t, 1, summary.Pending)
	assert.Equal(t, 1, summary.Rooms)

	var room models.ChatRoom
	require.NoError(t, db.First(&room).Error)
	assert.Equal(t, roomkey.Derive(room.ConnectionID), room.RoomKey)
}

func TestApplyProfileRejectsBadEntries(t *testing.T) {
	s := NewSeeder(setupSeedTestDB(t))

	cases := []struct {
		name  string
		entry ProfileRequest
	}{
		{"SelfRequest", ProfileRequest{Sender: 1, SenderRole: "FOUNDER", Receiver: 1, ReceiverRole: "FOUNDER"}},
		{"BadRole", ProfileRequest{Sender: 1, SenderRole: "WIZARD", Receiver: 2, ReceiverRole: "INVESTOR"}},
		{"BadStatus", ProfileRequest{Sender: 1, SenderRole: "FOUNDER", Receiver: 2, ReceiverRole: "INVESTOR", Status: "MAYBE"}},
		{"RoomOnPending", ProfileRequest{Sender: 1, SenderRole: "FOUNDER", Receiver: 2, ReceiverRole: "INVESTOR", Status: "PENDING", Room: true}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.ApplyProfile(&Profile{Requests: []ProfileRequest{tc.entry}})
			assert.Error(t, err)
		})
	}
}
