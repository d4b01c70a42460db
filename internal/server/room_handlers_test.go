package server

import (
	"fmt"
	"net/http"
	"testing"

	"forge/internal/models"
	"forge/internal/roomkey"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionRoomEndpoint(t *testing.T) {
	t.Run("BothPartiesShareOneKey", func(t *testing.T) {
		_, app, db := newHandlerTestServer(t)
		acceptedPair(t, app, 1, 2)

		var connection models.Connection
		require.NoError(t, db.First(&connection).Error)

		var keys [2]string
		for i, userID := range []uint{1, 2} {
			resp := doJSON(t, app, http.MethodPost, "/api/chat/rooms", userID, "",
				ProvisionRoomBody{ConnectionID: connection.ID})
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var payload struct {
				ConnectionID uint   `json:"connection_id"`
				RoomKey      string `json:"room_key"`
			}
			decodeBody(t, resp, &payload)
			keys[i] = payload.RoomKey
		}

		assert.Equal(t, keys[0], keys[1])
		assert.Equal(t, roomkey.Derive(connection.ID), keys[0])

		// Repeated provisioning reuses the single cached row.
		var roomCount int64
		require.NoError(t, db.Model(&models.ChatRoom{}).Count(&roomCount).Error)
		assert.Equal(t, int64(1), roomCount)
	})

	t.Run("NonParticipantGets404", func(t *testing.T) {
		_, app, db := newHandlerTestServer(t)
		acceptedPair(t, app, 1, 2)

		var connection models.Connection
		require.NoError(t, db.First(&connection).Error)

		resp := doJSON(t, app, http.MethodPost, "/api/chat/rooms", 99, "",
			ProvisionRoomBody{ConnectionID: connection.ID})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("MissingConnectionID", func(t *testing.T) {
		_, app, _ := newHandlerTestServer(t)

		resp := doJSON(t, app, http.MethodPost, "/api/chat/rooms", 1, "", ProvisionRoomBody{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("UnknownConnectionGets404", func(t *testing.T) {
		_, app, _ := newHandlerTestServer(t)

		resp := doJSON(t, app, http.MethodPost, "/api/chat/rooms", 1, "",
			ProvisionRoomBody{ConnectionID: 424242})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		_ = resp.Body.Close()
	})
}

func TestResolveRoomByCounterpartEndpoint(t *testing.T) {
	t.Run("ResolvesFromEitherSide", func(t *testing.T) {
		_, app, db := newHandlerTestServer(t)
		acceptedPair(t, app, 1, 2)

		var connection models.Connection
		require.NoError(t, db.First(&connection).Error)
		want := roomkey.Derive(connection.ID)

		for userID, target := range map[uint]uint{1: 2, 2: 1} {
			resp := doJSON(t, app, http.MethodPost, "/api/chat", userID, "",
				ResolveRoomBody{TargetUserID: target})
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var payload struct {
				RoomKey string `json:"room_key"`
			}
			decodeBody(t, resp, &payload)
			assert.Equal(t, want, payload.RoomKey,
				fmt.Sprintf("user %d resolving %d", userID, target))
		}
	})

	t.Run("NoConnectionGets404", func(t *testing.T) {
		_, app, _ := newHandlerTestServer(t)

		resp := doJSON(t, app, http.MethodPost, "/api/chat", 1, "",
			ResolveRoomBody{TargetUserID: 2})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("PendingRequestIsNotAConnection", func(t *testing.T) {
		_, app, _ := newHandlerTestServer(t)

		resp := doJSON(t, app, http.MethodPost, "/api/connections/request", 1, "FOUNDER",
			SendConnectionRequestBody{ReceiverID: 2, ReceiverRole: "INVESTOR"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		_ = resp.Body.Close()

		resp = doJSON(t, app, http.MethodPost, "/api/chat", 1, "",
			ResolveRoomBody{TargetUserID: 2})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		_ = resp.Body.Close()
	})
}
