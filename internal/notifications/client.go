package notifications

import (
	"encoding/json"
	"log/slog"
	"time"

	"forge/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Deadline for a single frame write to the peer.
	writeTimeout = 10 * time.Second

	// The peer must answer a ping within this window or the read side
	// gives up on the socket.
	pongTimeout = 60 * time.Second

	// Must be shorter than pongTimeout so a healthy peer always has a
	// ping in flight before the deadline.
	pingInterval = (pongTimeout * 9) / 10

	// Chat frames are small JSON: a text body or a file reference plus
	// metadata. Anything larger than this is not a chat message.
	maxFrameBytes = 8 << 10

	// Outbound buffer per client. A full buffer means the peer is not
	// draining; entries are dropped rather than blocking the room pump.
	sendBufferSize = 256
)

// clientHub is the part of a hub a client needs: somewhere to report its
// death, and a label for metrics.
type clientHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client binds one websocket connection to a chat room. Frames flow out
// through Send (fed by the hub's room pump) and in through IncomingHandler
// (set by the socket handler before the pumps start).
type Client struct {
	Hub  clientHub
	Conn *websocket.Conn
	Send chan []byte

	UserID uint

	IncomingHandler func(*Client, []byte)
}

// NewClient wraps a websocket connection for the given user.
func NewClient(hub clientHub, conn *websocket.Conn, userID uint) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		Send:   make(chan []byte, sendBufferSize),
	}
}

// ReadPump reads chat frames off the socket and hands them to
// IncomingHandler until the peer goes away. It owns unregistration: when it
// returns, the client is detached from its room.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxFrameBytes)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.GlobalLogger.Warn("chat socket read failed",
					slog.Uint64("user_id", uint64(c.UserID)),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, frame)
		}
	}
}

// WritePump drains Send onto the socket and keeps the connection alive with
// pings. It exits when Send closes or any write fails; closing the
// connection unblocks ReadPump, which then unregisters the client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a frame without ever blocking the caller. When the buffer
// is full the frame is dropped and the client is told about the gap, so it
// can replay the room's history instead of missing entries silently.
func (c *Client) TrySend(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			// Send was closed under us; the client is already detaching.
			observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "closed").Inc()
		}
	}()

	select {
	case c.Send <- frame:
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "full").Inc()
		observability.GlobalLogger.Warn("chat frame dropped, send buffer full",
			slog.Uint64("user_id", uint64(c.UserID)),
			slog.String("hub", c.Hub.Name()),
		)

		notice, err := json.Marshal(RoomEvent{
			Type:    "entries_dropped",
			Payload: map[string]string{"reason": "buffer_full"},
		})
		if err != nil {
			return
		}
		select {
		case c.Send <- notice:
		default:
			// Not even the gap notice fits; replay on reconnect covers it.
		}
	}
}
