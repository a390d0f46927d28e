package voxl

import "time"

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the broker and at least one pipe are up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge runs with the broker or every
	// pipe channel down.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline is the last-will status published by the broker.
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published, retained, to the health topic.
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Broker        string            `json:"broker,omitempty"`
	Channels      *ChannelSummary   `json:"channels,omitempty"`
	Statistics    *BridgeStatistics `json:"statistics,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// ChannelSummary counts pipe connections.
type ChannelSummary struct {
	// Configured is the number of publish mappings.
	Configured int `json:"configured"`

	// Open is the number of mappings whose pipe was opened at startup.
	Open int `json:"open"`

	// Connected is the number of open channels whose server is attached.
	Connected int `json:"connected"`

	// Endpoints is the number of inbound pipe servers.
	Endpoints int `json:"endpoints"`
}

// BridgeStatistics holds operational counters.
type BridgeStatistics struct {
	RecordsReceived   uint64 `json:"records_received"`
	RecordsFallback   uint64 `json:"records_fallback"`
	RecordsSuperseded uint64 `json:"records_superseded"`
	Published         uint64 `json:"published"`
	PublishFailures   uint64 `json:"publish_failures"`
	InboundMessages   uint64 `json:"inbound_messages"`
	InboundUnmapped   uint64 `json:"inbound_unmapped"`
	ReconnectAttempts uint64 `json:"reconnect_attempts"`
}

// NewHealthMessage builds a health message from a metrics snapshot.
func NewHealthMessage(bridgeID, version string, status HealthStatus, m BridgeMetrics, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Broker:        m.BrokerState,
		Channels: &ChannelSummary{
			Configured: m.ChannelsConfigured,
			Open:       m.ChannelsOpen,
			Connected:  m.ChannelsConnected,
			Endpoints:  m.Endpoints,
		},
		Statistics: &BridgeStatistics{
			RecordsReceived:   m.RecordsReceived,
			RecordsFallback:   m.RecordsFallback,
			RecordsSuperseded: m.RecordsSuperseded,
			Published:         m.Published,
			PublishFailures:   m.PublishFailures,
			InboundMessages:   m.InboundMessages,
			InboundUnmapped:   m.InboundUnmapped,
			ReconnectAttempts: m.ReconnectAttempts,
		},
	}
}

// NewLWTMessage creates the last-will message the broker publishes if the
// bridge drops off without a clean disconnect.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}
