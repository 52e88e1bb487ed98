package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/rfid-bridge/internal/bridge"
)

// SystemMetrics represents the complete metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	Bridge        bridge.Stats   `json:"bridge"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains dashboard session statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	TotalRegistered  uint64 `json:"total_registered"`
	TotalEvicted     uint64 `json:"total_evicted"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}

// handleMetrics returns runtime, session, bus and bridge metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sessions := s.sessions.Stats()

	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: sessions.Sessions,
			TotalRegistered:  sessions.Registered,
			TotalEvicted:     sessions.Evicted,
		},
		MQTT: MQTTMetrics{
			Connected: s.bus.IsConnected(),
			State:     s.bus.State().String(),
		},
		Bridge: s.bridge.Stats(),
	})
}
