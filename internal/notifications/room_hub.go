// Package notifications bridges WebSocket clients to the chat transport.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"forge/internal/mesh"
	"forge/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const maxConnsPerUser = 8

// ErrConnectionLimit is returned when a user exceeds maxConnsPerUser.
var ErrConnectionLimit = errors.New("user connection limit reached")

// ErrRoomClosed is returned when a room is torn down while an attach is in
// flight.
var ErrRoomClosed = errors.New("room closed during attach")

// RoomEvent is the JSON frame sent to WebSocket clients.
type RoomEvent struct {
	Type    string      `json:"type"` // "entry", "error", "server_shutdown"
	RoomKey string      `json:"room_key,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// roomState is the hub's per-room bookkeeping: the set of local clients plus
// the single mesh subscription they share. ready is closed once the opening
// attach has either set sub or recorded subErr, so clients that join the
// room while the subscription is still being opened can wait for the outcome
// instead of silently riding a room that never came up.
type roomState struct {
	clients map[*Client]bool
	sub     mesh.Subscription
	cancel  context.CancelFunc
	ready   chan struct{}
	subErr  error
}

// RoomHub fans mesh entries out to the WebSocket clients attached to each
// room. One mesh subscription is held per room regardless of how many local
// clients watch it, and it is released when the last client detaches — an
// abandoned subscription would otherwise hold transport resources forever.
type RoomHub struct {
	mu sync.RWMutex

	channel mesh.Channel

	// Map: roomKey -> room state
	rooms map[string]*roomState

	// Map: userID -> set of active Clients (multi-device support)
	userConns map[uint]map[*Client]bool

	// Map: client -> roomKey it is attached to
	clientRooms map[*Client]string

	metrics *observability.RoomMetrics
	wslog   *observability.WSLogger
}

// Name returns a human-readable identifier for this hub.
func (h *RoomHub) Name() string { return "room hub" }

// NewRoomHub creates a RoomHub bridging clients to the given channel.
func NewRoomHub(channel mesh.Channel) *RoomHub {
	return &RoomHub{
		channel:     channel,
		rooms:       make(map[string]*roomState),
		userConns:   make(map[uint]map[*Client]bool),
		clientRooms: make(map[*Client]string),
		metrics:     observability.NewRoomMetrics(),
		wslog:       observability.NewWSLogger("room hub"),
	}
}

// Attach registers a user's websocket connection on a room. The first client
// of a room opens the shared mesh subscription; history replays to every
// client through it.
func (h *RoomHub) Attach(ctx context.Context, userID uint, roomKey string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()

	if h.userConns[userID] == nil {
		h.userConns[userID] = make(map[*Client]bool)
	}
	if len(h.userConns[userID]) >= maxConnsPerUser {
		h.mu.Unlock()
		return nil, ErrConnectionLimit
	}

	client := NewClient(h, conn, userID)
	h.userConns[userID][client] = true
	h.clientRooms[client] = roomKey

	state, ok := h.rooms[roomKey]
	if ok {
		state.clients[client] = true
		h.mu.Unlock()

		// The room may still be opening its subscription; wait for the
		// outcome so a failed open is reported instead of swallowed.
		<-state.ready
		if state.subErr != nil {
			h.dropClient(client, userID)
			return nil, state.subErr
		}

		h.metrics.IncrementRoom(roomKey)
		h.wslog.LogConnect(ctx, userID, roomKey)
		return client, nil
	}

	// First local client for this room: open the shared subscription.
	subCtx, cancel := context.WithCancel(context.Background())
	state = &roomState{
		clients: map[*Client]bool{client: true},
		cancel:  cancel,
		ready:   make(chan struct{}),
	}
	h.rooms[roomKey] = state
	h.mu.Unlock()

	sub, err := h.channel.Subscribe(subCtx, roomKey)

	h.mu.Lock()
	if err == nil && h.rooms[roomKey] != state {
		// The room was torn down while the subscription was opening.
		err = ErrRoomClosed
		defer sub.Unsubscribe()
	}
	if err != nil {
		state.subErr = err
		close(state.ready)
		if h.rooms[roomKey] == state {
			delete(h.rooms, roomKey)
		}
		h.mu.Unlock()

		cancel()
		h.dropClient(client, userID)
		return nil, err
	}
	state.sub = sub
	close(state.ready)
	h.mu.Unlock()

	go h.pumpRoom(roomKey, sub)

	h.metrics.IncrementRoom(roomKey)
	h.wslog.LogConnect(ctx, userID, roomKey)
	return client, nil
}

// dropClient removes a client whose attach did not complete from the hub's
// bookkeeping. The room entry itself is cleaned up by the opening attach.
func (h *RoomHub) dropClient(client *Client, userID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clientRooms, client)
	delete(h.userConns[userID], client)
	if len(h.userConns[userID]) == 0 {
		delete(h.userConns, userID)
	}
}

// pumpRoom forwards mesh entries to every client attached to the room.
func (h *RoomHub) pumpRoom(roomKey string, sub mesh.Subscription) {
	for entry := range sub.C() {
		event := RoomEvent{Type: "entry", RoomKey: roomKey, Payload: entry}
		frame, err := json.Marshal(event)
		if err != nil {
			log.Printf("RoomHub: failed to marshal entry for room %s: %v", roomKey, err)
			continue
		}

		h.mu.RLock()
		state, ok := h.rooms[roomKey]
		if ok {
			for client := range state.clients {
				client.TrySend(frame)
			}
		}
		h.mu.RUnlock()
	}
}

// RoomMessage is the user-supplied part of a chat entry. Type defaults to
// text; file messages carry the payload reference in Body and the display
// name in FileName.
type RoomMessage struct {
	Type     string
	Body     string
	FileName string
}

// Publish appends a message to the room's channel on behalf of the user.
// Delivery back to local clients happens through the shared subscription, so
// the sender sees their own entry the same way the counterpart does.
func (h *RoomHub) Publish(ctx context.Context, userID uint, roomKey string, msg RoomMessage) error {
	identity, err := h.channel.RegisterIdentity(ctx, userID)
	if err != nil {
		return err
	}
	return h.channel.Append(ctx, roomKey, &mesh.Entry{
		Author:    identity.Alias,
		SenderKey: identity.PublicKeyHex(),
		Type:      msg.Type,
		Body:      msg.Body,
		FileName:  msg.FileName,
	})
}

// UnregisterClient detaches a websocket client, releasing the room's mesh
// subscription when the client was the last one watching it.
func (h *RoomHub) UnregisterClient(client *Client) {
	h.mu.Lock()

	if clients, ok := h.userConns[client.UserID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.userConns, client.UserID)
		}
	}

	roomKey, ok := h.clientRooms[client]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clientRooms, client)

	var release mesh.Subscription
	var cancel context.CancelFunc
	if state, ok := h.rooms[roomKey]; ok {
		delete(state.clients, client)
		if len(state.clients) == 0 {
			release = state.sub
			cancel = state.cancel
			delete(h.rooms, roomKey)
		}
	}
	h.mu.Unlock()

	if release != nil {
		release.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}

	h.metrics.DecrementRoom(roomKey)
	h.wslog.LogDisconnect(context.Background(), client.UserID, roomKey, "client detached")
}

// RoomClientCount returns how many local clients are attached to the room.
func (h *RoomHub) RoomClientCount(roomKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state, ok := h.rooms[roomKey]
	if !ok {
		return 0
	}
	return len(state.clients)
}

// IsUserOnline returns true when the user has at least one active client.
func (h *RoomHub) IsUserOnline(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.userConns[userID]
	return ok && len(clients) > 0
}

// Shutdown gracefully closes all websocket connections and releases every
// room subscription.
func (h *RoomHub) Shutdown(_ context.Context) error {
	h.mu.Lock()

	for userID, clients := range h.userConns {
		for client := range clients {
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"type":"server_shutdown"}`)); err != nil {
				log.Printf("failed to write shutdown message for user %d: %v", userID, err)
			}
			if err := client.Conn.Close(); err != nil {
				log.Printf("failed to close websocket for user %d: %v", userID, err)
			}
		}
	}

	subs := make([]mesh.Subscription, 0, len(h.rooms))
	for _, state := range h.rooms {
		if state.sub != nil {
			subs = append(subs, state.sub)
		}
		state.cancel()
	}

	h.rooms = make(map[string]*roomState)
	h.userConns = make(map[uint]map[*Client]bool)
	h.clientRooms = make(map[*Client]string)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}
