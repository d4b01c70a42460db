package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"forge/internal/middleware"
	"forge/internal/models"
	"forge/internal/repository"
	"forge/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(
		&models.ConnectionRequest{},
		&models.Connection{},
		&models.ChatRoom{},
	); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}

	return db
}

// newHandlerTestServer builds a Server around sqlite without Redis or the
// prometheus middleware, wired through the real route table.
func newHandlerTestServer(t *testing.T) (*Server, *fiber.App, *gorm.DB) {
	t.Helper()
	db := setupHandlerTestDB(t)

	connRepo := repository.NewConnectionRepository(db)
	roomRepo := repository.NewRoomRepository(db)

	s := &Server{
		db:                db,
		verifier:          middleware.HeaderVerifier{},
		connRepo:          connRepo,
		roomRepo:          roomRepo,
		connectionService: service.NewConnectionService(db, connRepo),
		roomService:       service.NewRoomService(connRepo, roomRepo),
	}

	app := fiber.New()
	s.SetupRoutes(app)
	return s, app, db
}

// doJSON performs a request as the given user and returns the response.
func doJSON(t *testing.T, app *fiber.App, method, path string, userID uint, role string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("X-User-ID", fmt.Sprintf("%d", userID))
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestSendConnectionRequestEndpoint(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		_, app, db := newHandlerTestServer(t)

		resp := doJSON(t, app, http.MethodPost, "/api/connections/request", 1, "FOUNDER",
			SendConnectionRequestBody{ReceiverID: 2, ReceiverRole: "INVESTOR", Message: "hello"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var created models.ConnectionRequest
		decodeBody(t, resp, &created)
		assert.Equal(t, uint(1), created.SenderID)
		assert.Equal(t, uint(2), created.ReceiverID)
		assert.Equal(t, models.RequestStatusPending, created.Status)

		var count int64
		require.NoError(t, db.Model(&models.ConnectionRequest{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("DuplicatePending", func(t *testing.T) {
		_, app, _ := newHandlerTestServer(t)

		body := SendConnectionRequestBody{ReceiverID: 2, ReceiverRole: "INVESTOR"}
		resp := doJSON(t, app, http.MethodPost, "/api/connections/request", 1, "FOUNDER", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		_ = resp.Body.Close()

		resp = doJSON(t, app, http.MethodPost, "/api/connections/request", 1, "FOUNDER", body)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("SelfRequest", func(t *testing.T) {
		_, app, _ := newHandlerTestServer(t)

		resp := doJSON(t, app, http.MethodPost, "/api/connections/request", 1, "FOUNDER",
			SendConnectionRequestBody{ReceiverID: 1, ReceiverRole: "FOUNDER"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("MissingIdentity", func(t *testing.T) {
		_, app, _ := newHandlerTestServer(t)

		resp := doJSON(t, app, http.MethodPost, "/api/connections/request", 0, "",
			SendConnectionRequestBody{ReceiverID: 2, ReceiverRole: "INVESTOR"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("MissingReceiver", func(t *testing.T) {
		_, app, _ := newHandlerTestServer(t)

		resp := doJSON(t, app, http.MethodPost, "/api/connections/request", 1, "FOUNDER",
			SendConnectionRequestBody{ReceiverRole: "INVESTOR"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	})
}

// acceptedPair drives the request/accept flow over HTTP and returns the
// request id.
func acceptedPair(t *testing.T, app *fiber.App, senderID, receiverID uint) uint {
	t.Helper()

	resp := doJSON(t, app, http.MethodPost, "/api/connections/request", senderID, "FOUNDER",
		SendConnectionRequestBody{ReceiverID: receiverID, ReceiverRole: "INVESTOR"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.ConnectionRequest
	decodeBody(t, resp, &created)

	resp = doJSON(t, app, http.MethodPost,
		fmt.Sprintf("/api/connections/requests/%d/accept", created.ID), receiverID, "INVESTOR", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	return created.ID
}

func TestAcceptConnectionRequestEndpoint(t *testing.T) {
	t.Run("HappyPath", func(t *testing.T) {
		_, app, db := newHandlerTestServer(t)

		resp := doJSON(t, app, http.MethodPost, "/api/connections/request", 1, "FOUNDER",
			SendConnectionRequestBody{ReceiverID: 2, ReceiverRole: "INVESTOR"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var created models.ConnectionRequest
		decodeBody(t, resp, &created)

		resp = doJSON(t, app, http.MethodPost,
			fmt.Sprintf("/api/connections/requests/%d/accept", created.ID), 2, "INVESTOR", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var payload struct {
			Request    models.ConnectionRequest `json:"request"`
			Connection models.Connection        `json:"connection"`
		}
		decodeBody(t, resp, &payload)
		assert.Equal(t, models.RequestStatusAccepted, payload.Request.Status)
		assert.NotNil(t, payload.Request.RespondedAt)
		assert.Equal(t, created.ID, payload.Connection.ConnectionRequestID)

		var connCount int64
		require.NoError(t, db.Model(&models.Connection{}).Count(&connCount).Error)
		assert.Equal(t, int64(1), connCount)
	})

	t.Run("IdempotentReplay", func(t *testing.T) {
		_, app, db := newHandlerTestServer(t)
		requestID := acceptedPair(t, app, 1, 2)

		resp := doJSON(t, app, http.MethodPost,
			fmt.Sprintf("/api/connections/requests/%d/accept", requestID), 2, "INVESTOR", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()

		var connCount int64
		require.NoError(t, db.Model(&models.Connection{}).Count(&connCount).Error)
		assert.Equal(t, int64(1), connCount)
	})

	t.Run("NonReceiverGets404", func(t *testing.T) {
		_, app, _ := newHandlerTestServer(t)

		resp := doJSON(t, app, http.MethodPost, "/api/connections/request", 1, "FOUNDER",
			SendConnectionRequestBody{ReceiverID: 2, ReceiverRole: "INVESTOR"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var created models.ConnectionRequest
		decodeBody(t, resp, &created)

		// The sender cannot accept their own request, and the response shape
		// matches a missing id so the endpoint leaks nothing.
		resp = doJSON(t, app, http.MethodPost,
			fmt.Sprintf("/api/connections/requests/%d/accept", created.ID), 1, "FOUNDER", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		_ = resp.Body.Close()

		resp = doJSON(t, app, http.MethodPost, "/api/connections/requests/9999/accept", 2, "INVESTOR", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("AcceptAfterRejectIsInvalid", func(t *testing.T) {
		_, app, _ := newHandlerTestServer(t)

		resp := doJSON(t, app, http.MethodPost, "/api/connections/request", 1, "FOUNDER",
			SendConnectionRequestBody{ReceiverID: 2, ReceiverRole: "INVESTOR"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var created models.ConnectionRequest
		decodeBody(t, resp, &created)

		resp = doJSON(t, app, http.MethodPost,
			fmt.Sprintf("/api/connections/requests/%d/reject", created.ID), 2, "INVESTOR", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()

		resp = doJSON(t, app, http.MethodPost,
			fmt.Sprintf("/api/connections/requests/%d/accept", created.ID), 2, "INVESTOR", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("InvalidRequestID", func(t *testing.T) {
		_, app, _ := newHandlerTestServer(t)

		resp := doJSON(t, app, http.MethodPost, "/api/connections/requests/abc/accept", 2, "INVESTOR", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	})
}

func TestConnectionListEndpoints(t *testing.T) {
	_, app, _ := newHandlerTestServer(t)

	// 1 -> 2 pending, 3 -> 2 pending, 2 -> 4 accepted by 4.
	resp := doJSON(t, app, http.MethodPost, "/api/connections/request", 1, "FOUNDER",
		SendConnectionRequestBody{ReceiverID: 2, ReceiverRole: "INVESTOR"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()
	resp = doJSON(t, app, http.MethodPost, "/api/connections/request", 3, "FOUNDER",
		SendConnectionRequestBody{ReceiverID: 2, ReceiverRole: "INVESTOR"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()
	acceptedPair(t, app, 2, 4)

	var incoming []models.ConnectionRequest
	resp = doJSON(t, app, http.MethodGet, "/api/connections/requests/incoming", 2, "INVESTOR", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &incoming)
	assert.Len(t, incoming, 2)

	var outgoing []models.ConnectionRequest
	resp = doJSON(t, app, http.MethodGet, "/api/connections/requests/outgoing", 1, "FOUNDER", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &outgoing)
	require.Len(t, outgoing, 1)
	assert.Equal(t, uint(2), outgoing[0].ReceiverID)

	// The accepted request no longer shows as outgoing, but it does notify.
	var notifications []models.ConnectionRequest
	resp = doJSON(t, app, http.MethodGet, "/api/connections/notifications", 2, "INVESTOR", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &notifications)
	require.Len(t, notifications, 1)
	assert.Equal(t, models.RequestStatusAccepted, notifications[0].Status)
	assert.Equal(t, uint(4), notifications[0].ReceiverID)
}

func TestInboxEndpoint(t *testing.T) {
	_, app, _ := newHandlerTestServer(t)
	acceptedPair(t, app, 1, 2)

	// Before any room is provisioned the entry has no key.
	var inbox []models.InboxEntry
	resp := doJSON(t, app, http.MethodGet, "/api/inbox", 1, "FOUNDER", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &inbox)
	require.Len(t, inbox, 1)
	assert.Equal(t, uint(2), inbox[0].OtherUserID)
	assert.Empty(t, inbox[0].RoomKey)

	resp = doJSON(t, app, http.MethodPost, "/api/chat/rooms", 1, "FOUNDER",
		ProvisionRoomBody{ConnectionID: inbox[0].ConnectionID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// Both participants now see the key from their own point of view.
	for _, userID := range []uint{1, 2} {
		resp = doJSON(t, app, http.MethodGet, "/api/inbox", userID, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		decodeBody(t, resp, &inbox)
		require.Len(t, inbox, 1)
		assert.Len(t, inbox[0].RoomKey, 64)
	}
}
