package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

var (
	// ConnectionRequestsTotal counts connection request lifecycle transitions.
	ConnectionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_connection_requests_total",
		Help: "Total number of connection request transitions by outcome",
	}, []string{"outcome"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forge_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// WebSocketRoomConnections is the gauge of connections per room.
	WebSocketRoomConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forge_websocket_room_connections",
		Help: "Number of WebSocket connections per room",
	}, []string{"room_key"})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forge_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped because a client's
	// send buffer was full or closed.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// MeshEntriesTotal counts mesh channel entries by direction.
	MeshEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_mesh_entries_total",
		Help: "Total number of mesh channel entries by direction",
	}, []string{"direction"})

	// MeshDecryptFailures counts entries dropped because they could not be opened.
	MeshDecryptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_mesh_decrypt_failures_total",
		Help: "Total number of mesh entries dropped after failed decryption",
	})
)

// DatabaseMetrics wraps DB access for recording query latency.
type DatabaseMetrics struct {
	db *gorm.DB
}

// NewDatabaseMetrics returns a new DatabaseMetrics instance.
func NewDatabaseMetrics(db *gorm.DB) *DatabaseMetrics {
	return &DatabaseMetrics{db: db}
}

// ObserveQuery records the latency of a database query.
func (m *DatabaseMetrics) ObserveQuery(operation, table string, start time.Time) {
	latency := time.Since(start).Seconds()
	DatabaseQueryLatency.WithLabelValues(operation, table).Observe(latency)
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func (m *DatabaseMetrics) TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		m.ObserveQuery(operation, table, start)
	}
}

// RoomMetrics tracks WebSocket connection counts per chat room.
type RoomMetrics struct {
	roomCounts map[string]int
}

// NewRoomMetrics returns a new RoomMetrics instance.
func NewRoomMetrics() *RoomMetrics {
	return &RoomMetrics{
		roomCounts: make(map[string]int),
	}
}

// IncrementRoom increments the connection count for the room.
func (m *RoomMetrics) IncrementRoom(roomKey string) {
	m.roomCounts[roomKey]++
	WebSocketRoomConnections.WithLabelValues(roomKey).Inc()
	WebSocketConnectionsTotal.Inc()
}

// DecrementRoom decrements the connection count for the room.
func (m *RoomMetrics) DecrementRoom(roomKey string) {
	if m.roomCounts[roomKey] > 0 {
		m.roomCounts[roomKey]--
	}
	WebSocketRoomConnections.WithLabelValues(roomKey).Dec()
	WebSocketConnectionsTotal.Dec()
}

// GetRoomCount returns the current connection count for the room.
func (m *RoomMetrics) GetRoomCount(roomKey string) int {
	return m.roomCounts[roomKey]
}
