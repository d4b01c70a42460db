package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"forge/internal/mesh"
	"forge/internal/models"
	"forge/internal/notifications"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// newChatTestServer extends the handler fixture with a miniredis-backed chat
// transport so the hub can be exercised end to end.
func newChatTestServer(t *testing.T) (*Server, *fiber.App, *gorm.DB) {
	t.Helper()
	s, app, db := newHandlerTestServer(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s.channel = mesh.NewRedisChannel(rdb, mesh.Options{
		Namespace:    "forge",
		IdentitySalt: "for_startup_forge_2025",
	})
	s.roomHub = notifications.NewRoomHub(s.channel)

	return s, app, db
}

func TestWebSocketUpgradeRequired(t *testing.T) {
	_, app, _ := newHandlerTestServer(t)

	// A plain GET without the upgrade handshake never reaches the handler.
	req := httptest.NewRequest(http.MethodGet, "/api/ws/chat?room_key=abc", nil)
	req.Header.Set("X-User-ID", "1")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

// readRoomEvent pulls the next frame off a client's send queue.
func readRoomEvent(t *testing.T, client *notifications.Client) notifications.RoomEvent {
	t.Helper()
	select {
	case frame := <-client.Send:
		var event notifications.RoomEvent
		require.NoError(t, json.Unmarshal(frame, &event))
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room event")
		return notifications.RoomEvent{}
	}
}

// entryPayload re-decodes an event payload as a mesh entry.
func entryPayload(t *testing.T, event notifications.RoomEvent) mesh.Entry {
	t.Helper()
	raw, err := json.Marshal(event.Payload)
	require.NoError(t, err)
	var entry mesh.Entry
	require.NoError(t, json.Unmarshal(raw, &entry))
	return entry
}

// TestConnectionToChatFlow drives the whole lifecycle: founder 1 requests,
// investor 2 accepts, both resolve the same room key, 1 publishes and 2
// receives the decrypted message under 1's registered alias.
func TestConnectionToChatFlow(t *testing.T) {
	s, app, _ := newChatTestServer(t)
	acceptedPair(t, app, 1, 2)

	// Both sides resolve the key over HTTP.
	var keys [2]string
	for i, pair := range [][2]uint{{1, 2}, {2, 1}} {
		resp := doJSON(t, app, http.MethodPost, "/api/chat", pair[0], "",
			ResolveRoomBody{TargetUserID: pair[1]})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var payload struct {
			RoomKey string `json:"room_key"`
		}
		decodeBody(t, resp, &payload)
		keys[i] = payload.RoomKey
	}
	require.Equal(t, keys[0], keys[1])
	roomKey := keys[0]

	ctx := context.Background()

	// Authorization gates the attach exactly as the socket handler does.
	_, err := s.roomService.AuthorizeRoomAccess(ctx, 2, roomKey)
	require.NoError(t, err)
	_, err = s.roomService.AuthorizeRoomAccess(ctx, 99, roomKey)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "NOT_FOUND", appErr.Code)

	receiver, err := s.roomHub.Attach(ctx, 2, roomKey, nil)
	require.NoError(t, err)
	defer s.roomHub.UnregisterClient(receiver)

	require.NoError(t, s.roomHub.Publish(ctx, 1, roomKey, notifications.RoomMessage{Body: "hello"}))

	event := readRoomEvent(t, receiver)
	require.Equal(t, "entry", event.Type)
	assert.Equal(t, roomKey, event.RoomKey)

	entry := entryPayload(t, event)
	assert.Equal(t, "hello", entry.Body)
	assert.Equal(t, mesh.EntryTypeText, entry.Type)
	assert.Equal(t, "forge_secure_1", entry.Author)
	assert.NotEmpty(t, entry.SenderKey)

	// File messages carry their display name alongside the payload reference.
	fileMsg := notifications.RoomMessage{
		Type:     mesh.EntryTypeFile,
		Body:     "attachment://deck-v3",
		FileName: "pitch-deck.pdf",
	}
	require.NoError(t, s.roomHub.Publish(ctx, 1, roomKey, fileMsg))

	event = readRoomEvent(t, receiver)
	entry = entryPayload(t, event)
	assert.Equal(t, mesh.EntryTypeFile, entry.Type)
	assert.Equal(t, "pitch-deck.pdf", entry.FileName)
	assert.Equal(t, "attachment://deck-v3", entry.Body)
}
