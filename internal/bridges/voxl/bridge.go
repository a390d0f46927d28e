package voxl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reddotdrone/voxl-mqtt-bridge/internal/infrastructure/config"
	"github.com/reddotdrone/voxl-mqtt-bridge/internal/modalpipe"
	"github.com/reddotdrone/voxl-mqtt-bridge/internal/telemetry"
)

// brokerDisconnectQuiesce is the time in milliseconds the broker client may
// spend finishing in-flight work on shutdown.
const brokerDisconnectQuiesce = 250

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Broker is the interface for broker operations.
// This allows mocking in tests and flexibility in implementation.
type Broker interface {
	// Connect opens the connection. Connection callbacks fire as usual.
	Connect(ctx context.Context) error

	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// SetOnConnect registers the connection callback. err is nil on success.
	SetOnConnect(func(err error))

	// SetOnDisconnect registers the connection-lost callback.
	SetOnDisconnect(func(err error))

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// Listener receives every event the bridge reacts to: pipe data, broker
// connection changes and broker messages.
type Listener interface {
	OnData(channel int, data []byte)
	OnConnect(err error)
	OnDisconnect(err error)
	OnMessage(topic string, payload []byte)
}

var _ Listener = (*Bridge)(nil)

// RecordObserver is notified after each record is published.
type RecordObserver interface {
	ObserveRecord(rec Record)
}

// ObserverFunc adapts a function to RecordObserver.
type ObserverFunc func(rec Record)

// ObserveRecord calls f(rec).
func (f ObserverFunc) ObserveRecord(rec Record) { f(rec) }

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded configuration.
	Config *config.Config

	// Broker is the broker client.
	Broker Broker

	// Transport opens pipes. Default: ModalPipeTransport.
	Transport PipeTransport

	// Decoder renders pipe packets. Default: telemetry.NewDecoder().
	Decoder *telemetry.Decoder

	// Metrics is optional; nil disables Prometheus collection.
	Metrics *Metrics

	// Observers see every published record (optional).
	Observers []RecordObserver

	// Version is reported in health messages.
	Version string

	// Logger is optional structured logger.
	Logger Logger
}

// Bridge owns the topic table, buffer, scheduler and supervisor, and moves
// data between local pipes and the broker:
//   - pipe packets are decoded, coalesced per channel and published on each
//     scheduler tick
//   - broker messages on subscribed topics are written to inbound pipes
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg        *config.Config
	broker     Broker
	transport  PipeTransport
	decoder    *telemetry.Decoder
	topics     *TopicTable
	buffer     *Buffer
	scheduler  *Scheduler
	supervisor *Supervisor
	health     *HealthReporter
	metrics    *Metrics
	observers  []RecordObserver

	// channels is indexed by channel id; nil slots failed to open.
	channels  []PipeChannel
	endpoints map[string]PipeEndpoint
	pipesMu   sync.RWMutex

	stats bridgeStats

	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

type bridgeStats struct {
	recordsReceived   atomic.Uint64
	recordsDecoded    atomic.Uint64
	recordsFallback   atomic.Uint64
	recordsSuperseded atomic.Uint64
	published         atomic.Uint64
	publishFailures   atomic.Uint64
	inboundMessages   atomic.Uint64
	inboundUnmapped   atomic.Uint64
	inboundFailures   atomic.Uint64
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker client is required")
	}

	outbound, err := MappingsFromConfig(opts.Config.PublishTopics)
	if err != nil {
		return nil, fmt.Errorf("publish topics: %w", err)
	}
	inbound, err := MappingsFromConfig(opts.Config.SubscribeTopics)
	if err != nil {
		return nil, fmt.Errorf("subscribe topics: %w", err)
	}
	topics, err := NewTopicTable(outbound, inbound)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:       opts.Config,
		broker:    opts.Broker,
		transport: opts.Transport,
		decoder:   opts.Decoder,
		topics:    topics,
		buffer:    NewBuffer(),
		metrics:   opts.Metrics,
		observers: opts.Observers,
		channels:  make([]PipeChannel, len(opts.Config.PublishTopics)),
		endpoints: make(map[string]PipeEndpoint),
		logger:    opts.Logger,
	}
	if b.transport == nil {
		b.transport = ModalPipeTransport{}
	}
	if b.decoder == nil {
		b.decoder = telemetry.NewDecoder()
	}

	b.scheduler, err = NewScheduler(SchedulerConfig{
		Interval:        opts.Config.GetPublishInterval(),
		Buffer:          b.buffer,
		Publisher:       opts.Broker,
		OnPublished:     b.handlePublished,
		OnPublishFailed: b.handlePublishFailed,
		Logger:          opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	b.supervisor = NewSupervisor(SupervisorConfig{
		Connector:          opts.Broker,
		ReconnectDelay:     opts.Config.GetReconnectDelay(),
		OnReconnectAttempt: b.metrics.recordReconnectAttempt,
		OnStateChange: func(state string) {
			b.metrics.setConnected(state == StateConnected)
		},
		Logger: opts.Logger,
	})

	if opts.Config.Health.Enabled {
		b.health = NewHealthReporter(HealthReporterConfig{
			BridgeID:  opts.Config.Bridge.ID,
			Version:   opts.Version,
			Topic:     opts.Config.Health.Topic,
			Interval:  opts.Config.GetHealthInterval(),
			Publisher: opts.Broker,
			Source:    b,
		})
		if opts.Logger != nil {
			b.health.SetLogger(opts.Logger)
		}
	}

	return b, nil
}

// Start opens the configured pipes, connects to the broker and starts the
// scheduler and supervisor. Pipes that cannot be opened are logged and
// skipped. A failed first broker connection is retried by the supervisor.
func (b *Bridge) Start(ctx context.Context) error {
	b.openChannels(ctx)
	b.createEndpoints()

	b.broker.SetOnConnect(b.OnConnect)
	b.broker.SetOnDisconnect(b.OnDisconnect)

	if err := b.broker.Connect(ctx); err != nil {
		b.logWarn("initial broker connection failed, retrying in background", "error", err)
		b.supervisor.HandleConnect(err)
	}

	b.scheduler.Start()
	b.supervisor.Start()
	if b.health != nil {
		b.health.Start(ctx)
	}

	m := b.GetMetrics()
	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"channels", m.ChannelsOpen,
		"channels_configured", m.ChannelsConfigured,
		"endpoints", m.Endpoints,
		"publish_interval", b.scheduler.Interval())
	if m.ChannelsOpen == 0 && m.Endpoints == 0 {
		b.logWarn("no pipe mappings active")
	}
	return nil
}

func (b *Bridge) openChannels(ctx context.Context) {
	for ch, m := range b.topics.Outbound() {
		c, err := b.transport.OpenClient(ctx, modalpipe.ClientConfig{
			Channel:        ch,
			Name:           m.Pipe,
			BaseDir:        b.cfg.Pipes.BaseDir,
			ClientName:     b.cfg.Pipes.ClientName,
			ReadBufferSize: b.cfg.Pipes.ReadBufferSize,
			OnData:         b.OnData,
			OnConnect:      b.onPipeConnect,
			OnDisconnect:   b.onPipeDisconnect,
			Logger:         b.getLogger(),
		})
		if err != nil {
			b.logWarn("skipping publish mapping, pipe unavailable",
				"channel", ch, "pipe", m.Pipe, "topic", m.Topic, "error", err)
			continue
		}

		b.pipesMu.Lock()
		b.channels[ch] = c
		b.pipesMu.Unlock()
		b.logInfo("publishing pipe", "channel", ch, "pipe", m.Pipe, "topic", m.Topic, "qos", m.QoS)
	}
}

func (b *Bridge) createEndpoints() {
	for _, m := range b.topics.Inbound() {
		b.pipesMu.RLock()
		_, exists := b.endpoints[m.Pipe]
		b.pipesMu.RUnlock()
		if exists {
			continue
		}

		ep, err := b.transport.CreateServer(modalpipe.ServerConfig{
			Name:       m.Pipe,
			Location:   b.cfg.Pipes.BaseDir,
			ServerName: b.cfg.Bridge.ID,
			Type:       modalpipe.TypeText,
			BufferSize: b.cfg.Pipes.ServerBufferSize,
			Logger:     b.getLogger(),
		})
		if err != nil {
			b.logWarn("skipping subscribe mapping, cannot create pipe",
				"pipe", m.Pipe, "topic", m.Topic, "error", err)
			continue
		}

		b.pipesMu.Lock()
		b.endpoints[m.Pipe] = ep
		b.pipesMu.Unlock()
		b.logInfo("serving pipe", "pipe", m.Pipe, "topic", m.Topic)
	}
}

// Stop shuts the bridge down: scheduler, buffer, outbound pipes, inbound
// pipes, supervisor, health reporting and finally the broker connection.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.scheduler.Stop()
		b.buffer.Clear()

		b.pipesMu.Lock()
		for ch, c := range b.channels {
			if c == nil {
				continue
			}
			if err := c.Close(); err != nil {
				b.logWarn("closing pipe channel", "channel", ch, "error", err)
			}
			b.channels[ch] = nil
		}
		for name, ep := range b.endpoints {
			if err := ep.Close(); err != nil {
				b.logWarn("closing pipe endpoint", "pipe", name, "error", err)
			}
			delete(b.endpoints, name)
		}
		b.pipesMu.Unlock()

		b.supervisor.Stop()
		if b.health != nil {
			b.health.Stop()
		}
		b.broker.Disconnect(brokerDisconnectQuiesce)

		b.logInfo("bridge stopped")
	})
}

// OnData decodes a pipe packet and stores it as the channel's latest record.
func (b *Bridge) OnData(channel int, data []byte) {
	b.stats.recordsReceived.Add(1)
	b.metrics.recordReceived(channel)

	m, ok := b.topics.ResolveOutbound(channel)
	if !ok {
		b.logDebug("data on unknown channel", "channel", channel, "bytes", len(data))
		return
	}

	res := b.decoder.Decode(m.Pipe, data)
	if res.Decoded {
		b.stats.recordsDecoded.Add(1)
		b.metrics.recordDecoded(res.Kind.String())
	} else {
		b.stats.recordsFallback.Add(1)
		b.metrics.recordFallback()
		b.logDebug("no decoder accepted packet, sending raw", "channel", channel, "pipe", m.Pipe, "bytes", len(data))
	}

	if b.buffer.Put(channel, m.Topic, res.JSON, m.QoS) {
		b.stats.recordsSuperseded.Add(1)
		b.metrics.recordSuperseded()
	}
}

// OnConnect handles the broker connection callback. On success every
// inbound mapping is subscribed; the session is clean, so this repeats on
// every reconnect.
func (b *Bridge) OnConnect(err error) {
	b.supervisor.HandleConnect(err)
	if err != nil {
		b.logWarn("broker connection failed", "error", err)
		return
	}
	b.logInfo("connected to broker")

	for _, m := range b.topics.Inbound() {
		if err := b.broker.Subscribe(m.Topic, m.QoS, b.OnMessage); err != nil {
			b.logError("subscribe failed", "topic", m.Topic, "error", err)
			continue
		}
		b.logInfo("subscribed", "topic", m.Topic, "pipe", m.Pipe, "qos", m.QoS)
	}

	if b.health != nil {
		if err := b.health.PublishNow(); err != nil {
			b.logWarn("failed to publish health", "error", err)
		}
	}
}

// OnDisconnect handles a lost broker connection.
func (b *Bridge) OnDisconnect(err error) {
	b.supervisor.HandleDisconnect(err)
	b.logWarn("broker connection lost", "error", err)
}

// OnMessage forwards a broker message to the inbound pipe mapped to its
// topic. Unmapped topics are logged and dropped.
func (b *Bridge) OnMessage(topic string, payload []byte) {
	b.stats.inboundMessages.Add(1)
	b.metrics.recordInbound()

	if err := b.forward(topic, payload); err != nil {
		b.stats.inboundFailures.Add(1)
		b.logDebug("dropping inbound message", "topic", topic, "bytes", len(payload), "error", err)
	}
}

func (b *Bridge) forward(topic string, payload []byte) error {
	pipe, ok := b.topics.ResolveInbound(topic)
	if !ok {
		b.stats.inboundUnmapped.Add(1)
		b.metrics.recordUnmapped()
		return fmt.Errorf("%w: %s", ErrUnmappedTopic, topic)
	}

	b.pipesMu.RLock()
	ep := b.endpoints[pipe]
	b.pipesMu.RUnlock()
	if ep == nil {
		return fmt.Errorf("%w: %s", ErrEndpointUnavailable, pipe)
	}

	if err := ep.Write(payload); err != nil {
		return fmt.Errorf("writing to %s: %w", pipe, err)
	}
	return nil
}

func (b *Bridge) handlePublished(rec Record) {
	b.stats.published.Add(1)
	b.metrics.recordPublished()
	for _, o := range b.observers {
		o.ObserveRecord(rec)
	}
}

func (b *Bridge) handlePublishFailed(Record, error) {
	b.stats.publishFailures.Add(1)
	b.metrics.recordPublishFailure()
}

func (b *Bridge) onPipeConnect(channel int) {
	b.logInfo("pipe channel connected", "channel", channel)
}

func (b *Bridge) onPipeDisconnect(channel int) {
	b.logWarn("pipe channel disconnected", "channel", channel)
}

// IsConnected reports whether the broker connection is up.
func (b *Bridge) IsConnected() bool {
	return b.supervisor.IsConnected()
}

// Topics returns the topic table.
func (b *Bridge) Topics() *TopicTable {
	return b.topics
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// BridgeMetrics contains metrics data for health messages and the status API.
type BridgeMetrics struct {
	Connected          bool
	BrokerState        string
	ChannelsConfigured int
	ChannelsOpen       int
	ChannelsConnected  int
	Endpoints          int
	BufferPending      int
	RecordsReceived    uint64
	RecordsDecoded     uint64
	RecordsFallback    uint64
	RecordsSuperseded  uint64
	Published          uint64
	PublishFailures    uint64
	InboundMessages    uint64
	InboundUnmapped    uint64
	InboundFailures    uint64
	ReconnectAttempts  uint64
}

// GetMetrics returns a snapshot of the bridge counters.
func (b *Bridge) GetMetrics() BridgeMetrics {
	m := BridgeMetrics{
		Connected:          b.supervisor.IsConnected(),
		BrokerState:        b.supervisor.State(),
		ChannelsConfigured: len(b.channels),
		BufferPending:      b.buffer.Pending(),
		RecordsReceived:    b.stats.recordsReceived.Load(),
		RecordsDecoded:     b.stats.recordsDecoded.Load(),
		RecordsFallback:    b.stats.recordsFallback.Load(),
		RecordsSuperseded:  b.stats.recordsSuperseded.Load(),
		Published:          b.stats.published.Load(),
		PublishFailures:    b.stats.publishFailures.Load(),
		InboundMessages:    b.stats.inboundMessages.Load(),
		InboundUnmapped:    b.stats.inboundUnmapped.Load(),
		InboundFailures:    b.stats.inboundFailures.Load(),
		ReconnectAttempts:  b.supervisor.Attempts(),
	}

	b.pipesMu.RLock()
	for _, c := range b.channels {
		if c == nil {
			continue
		}
		m.ChannelsOpen++
		if c.IsConnected() {
			m.ChannelsConnected++
		}
	}
	m.Endpoints = len(b.endpoints)
	b.pipesMu.RUnlock()

	return m
}

// ChannelStatus describes one publish mapping.
type ChannelStatus struct {
	Channel   int    `json:"channel"`
	Topic     string `json:"topic"`
	Pipe      string `json:"pipe"`
	QoS       byte   `json:"qos"`
	Open      bool   `json:"open"`
	Connected bool   `json:"connected"`
}

// EndpointStatus describes one subscribe mapping.
type EndpointStatus struct {
	Topic   string `json:"topic"`
	Pipe    string `json:"pipe"`
	QoS     byte   `json:"qos"`
	Open    bool   `json:"open"`
	Clients int    `json:"clients"`
}

// Status is the full bridge state reported by the status API.
type Status struct {
	BridgeID        string           `json:"bridge_id"`
	Broker          string           `json:"broker"`
	PublishInterval string           `json:"publish_interval"`
	Channels        []ChannelStatus  `json:"channels"`
	Subscriptions   []EndpointStatus `json:"subscriptions"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Status returns per-mapping state.
func (b *Bridge) Status() Status {
	s := Status{
		BridgeID:        b.cfg.Bridge.ID,
		Broker:          b.supervisor.State(),
		PublishInterval: b.scheduler.Interval().String(),
		Timestamp:       time.Now().UTC(),
	}

	b.pipesMu.RLock()
	defer b.pipesMu.RUnlock()

	for ch, m := range b.topics.Outbound() {
		cs := ChannelStatus{Channel: ch, Topic: m.Topic, Pipe: m.Pipe, QoS: m.QoS}
		if c := b.channels[ch]; c != nil {
			cs.Open = true
			cs.Connected = c.IsConnected()
		}
		s.Channels = append(s.Channels, cs)
	}
	for _, m := range b.topics.Inbound() {
		es := EndpointStatus{Topic: m.Topic, Pipe: m.Pipe, QoS: m.QoS}
		if ep := b.endpoints[m.Pipe]; ep != nil {
			es.Open = true
			es.Clients = ep.ClientCount()
		}
		s.Subscriptions = append(s.Subscriptions, es)
	}
	return s
}
