package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/reddotdrone/voxl-mqtt-bridge/internal/bridges/voxl"
)

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Broker    string `json:"broker"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Bridge        voxl.Status    `json:"bridge"`
	Counters      CounterMetrics `json:"counters"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
}

// CounterMetrics mirrors the bridge counters.
type CounterMetrics struct {
	Connected          bool   `json:"connected"`
	ChannelsConfigured int    `json:"channels_configured"`
	ChannelsOpen       int    `json:"channels_open"`
	ChannelsConnected  int    `json:"channels_connected"`
	Endpoints          int    `json:"endpoints"`
	BufferPending      int    `json:"buffer_pending"`
	RecordsReceived    uint64 `json:"records_received"`
	RecordsDecoded     uint64 `json:"records_decoded"`
	RecordsFallback    uint64 `json:"records_fallback"`
	RecordsSuperseded  uint64 `json:"records_superseded"`
	Published          uint64 `json:"published"`
	PublishFailures    uint64 `json:"publish_failures"`
	InboundMessages    uint64 `json:"inbound_messages"`
	InboundUnmapped    uint64 `json:"inbound_unmapped"`
	InboundFailures    uint64 `json:"inbound_failures"`
	ReconnectAttempts  uint64 `json:"reconnect_attempts"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains telemetry feed statistics.
type WSMetrics struct {
	Subscribers   int    `json:"subscribers"`
	FramesDropped uint64 `json:"frames_dropped"`
}

// handleHealth returns 503 while the broker is disconnected.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m := s.bridge.GetMetrics()
	resp := HealthResponse{
		Status:    "ok",
		Broker:    m.BrokerState,
		Version:   s.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if !s.bridge.IsConnected() {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m := s.bridge.GetMetrics()
	writeJSON(w, http.StatusOK, StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Bridge:        s.bridge.Status(),
		Counters: CounterMetrics{
			Connected:          m.Connected,
			ChannelsConfigured: m.ChannelsConfigured,
			ChannelsOpen:       m.ChannelsOpen,
			ChannelsConnected:  m.ChannelsConnected,
			Endpoints:          m.Endpoints,
			BufferPending:      m.BufferPending,
			RecordsReceived:    m.RecordsReceived,
			RecordsDecoded:     m.RecordsDecoded,
			RecordsFallback:    m.RecordsFallback,
			RecordsSuperseded:  m.RecordsSuperseded,
			Published:          m.Published,
			PublishFailures:    m.PublishFailures,
			InboundMessages:    m.InboundMessages,
			InboundUnmapped:    m.InboundUnmapped,
			InboundFailures:    m.InboundFailures,
			ReconnectAttempts:  m.ReconnectAttempts,
		},
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			Subscribers:   s.feed.SubscriberCount(),
			FramesDropped: s.feed.Dropped(),
		},
	})
}
