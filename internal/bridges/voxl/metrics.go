package voxl

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "voxl_mqtt_bridge"

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics records
// nothing, so every method is safe to call when metrics are disabled.
type Metrics struct {
	recordsReceived   *prometheus.CounterVec // by channel
	recordsDecoded    *prometheus.CounterVec // by decoder kind
	recordsFallback   prometheus.Counter
	recordsSuperseded prometheus.Counter
	published         prometheus.Counter
	publishFailures   prometheus.Counter
	inboundMessages   prometheus.Counter
	inboundUnmapped   prometheus.Counter
	reconnectAttempts prometheus.Counter
	brokerConnected   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// disables metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		recordsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_received_total",
			Help:      "Packets received from outbound pipes",
		}, []string{"channel"}),
		recordsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_decoded_total",
			Help:      "Packets rendered by a typed decoder",
		}, []string{"kind"}),
		recordsFallback:   counter("records_fallback_total", "Packets rendered as the raw fallback document"),
		recordsSuperseded: counter("records_superseded_total", "Buffered records overwritten before they were published"),
		published:         counter("publish_total", "Records published to the broker"),
		publishFailures:   counter("publish_failures_total", "Records dropped because the broker rejected the publish"),
		inboundMessages:   counter("inbound_messages_total", "Broker messages received on subscribed topics"),
		inboundUnmapped:   counter("inbound_unmapped_total", "Broker messages dropped for lack of an inbound mapping"),
		reconnectAttempts: counter("reconnect_attempts_total", "Broker reconnect attempts made by the supervisor"),
		brokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "broker_connected",
			Help:      "1 while the broker connection is up",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.recordsReceived, m.recordsDecoded, m.recordsFallback, m.recordsSuperseded,
		m.published, m.publishFailures, m.inboundMessages, m.inboundUnmapped,
		m.reconnectAttempts, m.brokerConnected,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordReceived(channel int) {
	if m != nil {
		m.recordsReceived.WithLabelValues(strconv.Itoa(channel)).Inc()
	}
}

func (m *Metrics) recordDecoded(kind string) {
	if m != nil {
		m.recordsDecoded.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) recordFallback() {
	if m != nil {
		m.recordsFallback.Inc()
	}
}

func (m *Metrics) recordSuperseded() {
	if m != nil {
		m.recordsSuperseded.Inc()
	}
}

func (m *Metrics) recordPublished() {
	if m != nil {
		m.published.Inc()
	}
}

func (m *Metrics) recordPublishFailure() {
	if m != nil {
		m.publishFailures.Inc()
	}
}

func (m *Metrics) recordInbound() {
	if m != nil {
		m.inboundMessages.Inc()
	}
}

func (m *Metrics) recordUnmapped() {
	if m != nil {
		m.inboundUnmapped.Inc()
	}
}

func (m *Metrics) recordReconnectAttempt() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *Metrics) setConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.brokerConnected.Set(1)
	} else {
		m.brokerConnected.Set(0)
	}
}
