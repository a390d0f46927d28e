package voxl

import (
	"context"
	"errors"
	"sync"

	"github.com/reddotdrone/voxl-mqtt-bridge/internal/modalpipe"
)

// eventLog records the order of shutdown calls across mocks.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

// mockBroker implements Broker for testing.
type mockBroker struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	handlers      map[string]func(topic string, payload []byte)
	connected     bool
	connectErr    error
	connectCalls  int
	publishErr    error
	onConnect     func(error)
	onDisconnect  func(error)
	log           *eventLog
}

func newMockBroker() *mockBroker {
	return &mockBroker{handlers: make(map[string]func(string, []byte))}
}

func (m *mockBroker) Connect(_ context.Context) error {
	m.mu.Lock()
	m.connectCalls++
	err := m.connectErr
	if err == nil {
		m.connected = true
	}
	cb := m.onConnect
	m.mu.Unlock()

	if err == nil && cb != nil {
		cb(nil)
	}
	return err
}

func (m *mockBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *mockBroker) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *mockBroker) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockBroker) SetOnConnect(cb func(error)) {
	m.mu.Lock()
	m.onConnect = cb
	m.mu.Unlock()
}

func (m *mockBroker) SetOnDisconnect(cb func(error)) {
	m.mu.Lock()
	m.onDisconnect = cb
	m.mu.Unlock()
}

func (m *mockBroker) Disconnect(_ uint) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.log.add("broker")
}

func (m *mockBroker) setConnectErr(err error) {
	m.mu.Lock()
	m.connectErr = err
	m.mu.Unlock()
}

func (m *mockBroker) getPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *mockBroker) publishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.getPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *mockBroker) getSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

// simulateMessage delivers a message as the broker client would.
func (m *mockBroker) simulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// simulateDisconnect fires the connection-lost callback.
func (m *mockBroker) simulateDisconnect(err error) {
	m.mu.Lock()
	m.connected = false
	cb := m.onDisconnect
	m.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

type mockChannel struct {
	mu        sync.Mutex
	cfg       modalpipe.ClientConfig
	connected bool
	closed    int
	log       *eventLog
}

func (c *mockChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *mockChannel) Close() error {
	c.mu.Lock()
	c.closed++
	c.connected = false
	c.mu.Unlock()
	c.log.add("channel:" + c.cfg.Name)
	return nil
}

type mockEndpoint struct {
	mu      sync.Mutex
	cfg     modalpipe.ServerConfig
	writes  [][]byte
	clients int
	closed  int
	log     *eventLog
}

func (e *mockEndpoint) Write(p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed > 0 {
		return modalpipe.ErrClosed
	}
	e.writes = append(e.writes, append([]byte(nil), p...))
	return nil
}

func (e *mockEndpoint) ClientCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clients
}

func (e *mockEndpoint) Close() error {
	e.mu.Lock()
	e.closed++
	e.mu.Unlock()
	e.log.add("endpoint:" + e.cfg.Name)
	return nil
}

func (e *mockEndpoint) getWrites() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.writes...)
}

// mockTransport implements PipeTransport for testing. Pipes listed in fail
// cannot be opened.
type mockTransport struct {
	mu        sync.Mutex
	channels  map[string]*mockChannel
	endpoints map[string]*mockEndpoint
	fail      map[string]bool
	log       *eventLog
}

func newMockTransport(fail ...string) *mockTransport {
	t := &mockTransport{
		channels:  make(map[string]*mockChannel),
		endpoints: make(map[string]*mockEndpoint),
		fail:      make(map[string]bool),
	}
	for _, f := range fail {
		t.fail[f] = true
	}
	return t
}

func (t *mockTransport) OpenClient(_ context.Context, cfg modalpipe.ClientConfig) (PipeChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail[cfg.Name] {
		return nil, modalpipe.ErrServerNotAvailable
	}
	c := &mockChannel{cfg: cfg, connected: true, log: t.log}
	t.channels[cfg.Name] = c
	return c, nil
}

func (t *mockTransport) CreateServer(cfg modalpipe.ServerConfig) (PipeEndpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail[cfg.Name] {
		return nil, errors.New("mkdir: permission denied")
	}
	e := &mockEndpoint{cfg: cfg, log: t.log}
	t.endpoints[cfg.Name] = e
	return e, nil
}

func (t *mockTransport) channel(name string) *mockChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channels[name]
}

func (t *mockTransport) endpoint(name string) *mockEndpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endpoints[name]
}

// mockConnector implements Connector, failing the first failures calls.
type mockConnector struct {
	mu       sync.Mutex
	calls    int
	failures int
	block    bool
}

func (c *mockConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.calls++
	n := c.calls
	block := c.block
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if n <= c.failures {
		return errors.New("connection refused")
	}
	return nil
}

func (c *mockConnector) getCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
