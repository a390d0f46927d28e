package voxl

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/reddotdrone/voxl-mqtt-bridge/internal/infrastructure/config"
	"github.com/reddotdrone/voxl-mqtt-bridge/internal/modalpipe"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.PublishTopics = []config.TopicConfig{
		{Topic: "voxl/vio", Pipe: "qvio", QoS: 0},
		{Topic: "voxl/imu", Pipe: "imu_apps", QoS: 1},
		{Topic: "voxl/heartbeat", Pipe: "mavlink_ap_heartbeat", QoS: 0},
	}
	cfg.SubscribeTopics = []config.TopicConfig{
		{Topic: "voxl/offboard_cmd", Pipe: "offboard_mqtt_cmd", QoS: 1},
	}
	cfg.Health.Enabled = false
	return cfg
}

func newTestBridge(t *testing.T, cfg *config.Config, broker *mockBroker, transport *mockTransport) *Bridge {
	t.Helper()
	b, err := NewBridge(BridgeOptions{Config: cfg, Broker: broker, Transport: transport})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	return b
}

func heartbeatPacket(t *testing.T) []byte {
	t.Helper()
	var msg modalpipe.MAVLinkMessage
	msg.Magic = modalpipe.MAVLinkV2Magic
	msg.SysID = 1
	msg.Payload[4] = 2  // type
	msg.Payload[5] = 12 // autopilot
	buf, err := modalpipe.EncodeRecords(msg)
	if err != nil {
		t.Fatalf("EncodeRecords() error = %v", err)
	}
	return buf
}

func imuPacket(t *testing.T, ts uint64) []byte {
	t.Helper()
	buf, err := modalpipe.EncodeRecords(modalpipe.IMUData{Magic: modalpipe.IMUMagic, TimestampNs: ts})
	if err != nil {
		t.Fatalf("EncodeRecords() error = %v", err)
	}
	return buf
}

func TestNewBridge_Validation(t *testing.T) {
	if _, err := NewBridge(BridgeOptions{Broker: newMockBroker()}); err == nil {
		t.Error("NewBridge() without config error = nil, want error")
	}
	if _, err := NewBridge(BridgeOptions{Config: testConfig()}); err == nil {
		t.Error("NewBridge() without broker error = nil, want error")
	}

	cfg := testConfig()
	cfg.SubscribeTopics = append(cfg.SubscribeTopics, cfg.SubscribeTopics[0])
	if _, err := NewBridge(BridgeOptions{Config: cfg, Broker: newMockBroker()}); !errors.Is(err, ErrDuplicateTopic) {
		t.Errorf("NewBridge() duplicate inbound error = %v, want ErrDuplicateTopic", err)
	}

	cfg = testConfig()
	cfg.PublishTopics[0].QoS = 258
	if _, err := NewBridge(BridgeOptions{Config: cfg, Broker: newMockBroker()}); !errors.Is(err, ErrInvalidMapping) {
		t.Errorf("NewBridge() qos 258 error = %v, want ErrInvalidMapping", err)
	}

	cfg = testConfig()
	cfg.Bridge.PublishInterval = 0
	b, err := NewBridge(BridgeOptions{Config: cfg, Broker: newMockBroker()})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if b.scheduler.Interval() != DefaultPublishInterval {
		t.Errorf("scheduler interval = %v, want %v", b.scheduler.Interval(), DefaultPublishInterval)
	}
}

func TestBridge_StartSkipsUnavailablePipes(t *testing.T) {
	broker := newMockBroker()
	transport := newMockTransport("imu_apps")
	b := newTestBridge(t, testConfig(), broker, transport)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	m := b.GetMetrics()
	if m.ChannelsConfigured != 3 || m.ChannelsOpen != 2 || m.ChannelsConnected != 2 {
		t.Errorf("channels configured/open/connected = %d/%d/%d, want 3/2/2",
			m.ChannelsConfigured, m.ChannelsOpen, m.ChannelsConnected)
	}
	if m.Endpoints != 1 {
		t.Errorf("Endpoints = %d, want 1", m.Endpoints)
	}

	// Channel ids stay positional even with a gap.
	if c := transport.channel("mavlink_ap_heartbeat"); c == nil || c.cfg.Channel != 2 {
		t.Errorf("heartbeat channel = %+v, want channel id 2", c)
	}

	st := b.Status()
	if len(st.Channels) != 3 || st.Channels[1].Open || !st.Channels[2].Open {
		t.Errorf("Status().Channels = %+v, want channel 1 closed and 2 open", st.Channels)
	}
	if len(st.Subscriptions) != 1 || !st.Subscriptions[0].Open {
		t.Errorf("Status().Subscriptions = %+v, want one open endpoint", st.Subscriptions)
	}

	if !b.IsConnected() {
		t.Error("IsConnected() = false after successful Start, want true")
	}
	subs := broker.getSubscriptions()
	if len(subs) != 1 || subs[0].Topic != "voxl/offboard_cmd" || subs[0].QoS != 1 {
		t.Errorf("subscriptions = %+v, want voxl/offboard_cmd qos 1", subs)
	}

	ep := transport.endpoint("offboard_mqtt_cmd")
	if ep == nil || ep.cfg.Type != modalpipe.TypeText || ep.cfg.BufferSize != testConfig().Pipes.ServerBufferSize {
		t.Errorf("endpoint config = %+v, want text type with configured buffer size", ep)
	}
}

func TestBridge_OnDataPublishesLatestPerTick(t *testing.T) {
	broker := newMockBroker()
	b := newTestBridge(t, testConfig(), broker, newMockTransport())

	b.OnData(2, heartbeatPacket(t))
	b.OnData(1, imuPacket(t, 100))
	b.OnData(1, imuPacket(t, 200))
	b.OnData(1, imuPacket(t, 300))
	b.scheduler.tick()

	got := broker.getPublished()
	if len(got) != 2 {
		t.Fatalf("published %d messages, want 2", len(got))
	}
	if got[0].Topic != "voxl/imu" || got[0].QoS != 1 || got[1].Topic != "voxl/heartbeat" {
		t.Errorf("published topics = %s(qos %d), %s, want voxl/imu(qos 1), voxl/heartbeat",
			got[0].Topic, got[0].QoS, got[1].Topic)
	}

	var imu map[string]any
	if err := json.Unmarshal(got[0].Payload, &imu); err != nil {
		t.Fatalf("imu payload: %v", err)
	}
	if imu["timestamp_ns"] != float64(300) {
		t.Errorf("imu timestamp_ns = %v, want 300 (latest put)", imu["timestamp_ns"])
	}

	var hb map[string]any
	if err := json.Unmarshal(got[1].Payload, &hb); err != nil {
		t.Fatalf("heartbeat payload: %v", err)
	}
	if hb["type"] != float64(2) || hb["autopilot"] != float64(12) {
		t.Errorf("heartbeat = %v, want type 2 autopilot 12", hb)
	}

	m := b.GetMetrics()
	if m.RecordsReceived != 4 || m.RecordsDecoded != 4 || m.RecordsSuperseded != 2 || m.Published != 2 {
		t.Errorf("metrics = %+v, want received 4, decoded 4, superseded 2, published 2", m)
	}

	// Nothing new: the next tick publishes nothing.
	b.scheduler.tick()
	if n := len(broker.getPublished()); n != 2 {
		t.Errorf("published after idle tick = %d, want 2", n)
	}
}

func TestBridge_OnDataRawFallback(t *testing.T) {
	broker := newMockBroker()
	b := newTestBridge(t, testConfig(), broker, newMockTransport())

	b.OnData(0, []byte("not a vio record"))
	b.OnData(99, []byte("unknown channel"))
	b.scheduler.tick()

	got := broker.getPublished()
	if len(got) != 1 || got[0].Topic != "voxl/vio" {
		t.Fatalf("published = %+v, want one message on voxl/vio", got)
	}
	var doc map[string]any
	if err := json.Unmarshal(got[0].Payload, &doc); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if doc["data_type"] != "raw" || doc["bytes"] != float64(16) || doc["data"] != "not a vio record" {
		t.Errorf("raw doc = %v, want data_type raw with 16 bytes", doc)
	}
	if m := b.GetMetrics(); m.RecordsFallback != 1 || m.RecordsReceived != 2 {
		t.Errorf("fallback/received = %d/%d, want 1/2", m.RecordsFallback, m.RecordsReceived)
	}
}

func TestBridge_OnMessage(t *testing.T) {
	broker := newMockBroker()
	transport := newMockTransport()
	b := newTestBridge(t, testConfig(), broker, transport)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	broker.simulateMessage("voxl/offboard_cmd", []byte(`{"cmd":"takeoff"}`))

	ep := transport.endpoint("offboard_mqtt_cmd")
	writes := ep.getWrites()
	if len(writes) != 1 || string(writes[0]) != `{"cmd":"takeoff"}` {
		t.Errorf("endpoint writes = %q, want one takeoff command", writes)
	}

	// Unmapped topic: no write, no panic.
	b.OnMessage("foo/bar", []byte("ignored"))
	if n := len(ep.getWrites()); n != 1 {
		t.Errorf("endpoint writes after unmapped message = %d, want 1", n)
	}

	m := b.GetMetrics()
	if m.InboundMessages != 2 || m.InboundUnmapped != 1 || m.InboundFailures != 1 {
		t.Errorf("inbound messages/unmapped/failures = %d/%d/%d, want 2/1/1",
			m.InboundMessages, m.InboundUnmapped, m.InboundFailures)
	}
}

func TestBridge_OnMessageEndpointUnavailable(t *testing.T) {
	broker := newMockBroker()
	transport := newMockTransport("offboard_mqtt_cmd")
	b := newTestBridge(t, testConfig(), broker, transport)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	if err := b.forward("voxl/offboard_cmd", []byte("x")); !errors.Is(err, ErrEndpointUnavailable) {
		t.Errorf("forward() error = %v, want ErrEndpointUnavailable", err)
	}
	if err := b.forward("foo/bar", []byte("x")); !errors.Is(err, ErrUnmappedTopic) {
		t.Errorf("forward(foo/bar) error = %v, want ErrUnmappedTopic", err)
	}
}

func TestBridge_ResubscribesOnReconnect(t *testing.T) {
	broker := newMockBroker()
	b := newTestBridge(t, testConfig(), broker, newMockTransport())
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	broker.simulateDisconnect(errors.New("connection reset"))
	if b.IsConnected() {
		t.Error("IsConnected() = true after disconnect, want false")
	}

	b.OnConnect(nil)
	if !b.IsConnected() {
		t.Error("IsConnected() = false after reconnect, want true")
	}
	if n := len(broker.getSubscriptions()); n != 2 {
		t.Errorf("subscriptions = %d, want 2 (initial + reconnect)", n)
	}

	// A failed connect callback neither subscribes nor marks connected.
	b.OnConnect(errors.New("not authorised"))
	if b.IsConnected() {
		t.Error("IsConnected() = true after failed connect, want false")
	}
	if n := len(broker.getSubscriptions()); n != 2 {
		t.Errorf("subscriptions after failed connect = %d, want 2", n)
	}
}

func TestBridge_InitialConnectFailureNotFatal(t *testing.T) {
	broker := newMockBroker()
	broker.setConnectErr(errors.New("connection refused"))
	b := newTestBridge(t, testConfig(), broker, newMockTransport())

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	defer b.Stop()

	if b.IsConnected() {
		t.Error("IsConnected() = true, want false")
	}
	if n := len(broker.getSubscriptions()); n != 0 {
		t.Errorf("subscriptions = %d, want 0 while disconnected", n)
	}
}

func TestBridge_StopOrder(t *testing.T) {
	log := &eventLog{}
	broker := newMockBroker()
	broker.log = log
	transport := newMockTransport()
	transport.log = log

	b := newTestBridge(t, testConfig(), broker, transport)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b.OnData(1, imuPacket(t, 1))

	b.Stop()
	b.Stop()

	want := []string{
		"channel:qvio",
		"channel:imu_apps",
		"channel:mavlink_ap_heartbeat",
		"endpoint:offboard_mqtt_cmd",
		"broker",
	}
	got := log.get()
	if len(got) != len(want) {
		t.Fatalf("shutdown events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("shutdown event[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if b.scheduler.Running() {
		t.Error("scheduler still running after Stop")
	}
	if b.buffer.Len() != 0 {
		t.Errorf("buffer Len() = %d after Stop, want 0", b.buffer.Len())
	}
	if c := transport.channel("qvio"); c.closed != 1 {
		t.Errorf("channel closed %d times, want 1", c.closed)
	}
}

func TestBridge_PublishFailureDropsRecord(t *testing.T) {
	broker := newMockBroker()
	broker.publishErr = errors.New("not connected")
	b := newTestBridge(t, testConfig(), broker, newMockTransport())

	b.OnData(2, heartbeatPacket(t))
	b.scheduler.tick()

	broker.mu.Lock()
	broker.publishErr = nil
	broker.mu.Unlock()
	b.scheduler.tick()

	if n := len(broker.getPublished()); n != 0 {
		t.Errorf("published = %d, want 0 (failed record is not retried)", n)
	}
	if m := b.GetMetrics(); m.PublishFailures != 1 || m.Published != 0 {
		t.Errorf("failures/published = %d/%d, want 1/0", m.PublishFailures, m.Published)
	}
}

func TestBridge_ObserversAndPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	var observed []Record
	broker := newMockBroker()
	b, err := NewBridge(BridgeOptions{
		Config:    testConfig(),
		Broker:    broker,
		Transport: newMockTransport(),
		Metrics:   metrics,
		Observers: []RecordObserver{ObserverFunc(func(r Record) { observed = append(observed, r) })},
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}

	b.OnData(1, imuPacket(t, 1))
	b.OnData(1, imuPacket(t, 2))
	b.OnData(0, []byte("junk"))
	b.scheduler.tick()
	b.OnMessage("foo/bar", nil)
	b.OnConnect(nil)

	if len(observed) != 2 || observed[0].Topic != "voxl/vio" || observed[1].Topic != "voxl/imu" {
		t.Errorf("observed = %+v, want voxl/vio then voxl/imu", observed)
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"records_received{channel=1}", testutil.ToFloat64(metrics.recordsReceived.WithLabelValues("1")), 2},
		{"records_decoded{kind=imu}", testutil.ToFloat64(metrics.recordsDecoded.WithLabelValues("imu")), 2},
		{"records_fallback", testutil.ToFloat64(metrics.recordsFallback), 1},
		{"records_superseded", testutil.ToFloat64(metrics.recordsSuperseded), 1},
		{"publish", testutil.ToFloat64(metrics.published), 2},
		{"inbound_unmapped", testutil.ToFloat64(metrics.inboundUnmapped), 1},
		{"broker_connected", testutil.ToFloat64(metrics.brokerConnected), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	// Registering twice on one registry fails.
	if _, err := NewMetrics(reg); err == nil {
		t.Error("NewMetrics() on the same registry error = nil, want duplicate registration error")
	}
	if m, err := NewMetrics(nil); m != nil || err != nil {
		t.Errorf("NewMetrics(nil) = %v, %v, want nil, nil", m, err)
	}
}

func TestBridge_HealthPublishedOnConnect(t *testing.T) {
	cfg := testConfig()
	cfg.Health.Enabled = true
	cfg.Health.Topic = "voxl/bridge/health"

	broker := newMockBroker()
	b, err := NewBridge(BridgeOptions{Config: cfg, Broker: broker, Transport: newMockTransport(), Version: "1.2.3"})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	msgs := broker.publishedTo("voxl/bridge/health")
	if len(msgs) == 0 {
		t.Fatal("no health message published on connect")
	}
	var hm HealthMessage
	if err := json.Unmarshal(msgs[0].Payload, &hm); err != nil {
		t.Fatalf("health payload: %v", err)
	}
	if hm.Status != HealthHealthy || hm.Version != "1.2.3" || !msgs[0].Retained || msgs[0].QoS != 1 {
		t.Errorf("health = %+v (retained %v qos %d), want healthy 1.2.3 retained qos 1",
			hm, msgs[0].Retained, msgs[0].QoS)
	}
	if hm.Channels == nil || hm.Channels.Open != 3 || hm.Channels.Endpoints != 1 {
		t.Errorf("health channels = %+v, want 3 open and 1 endpoint", hm.Channels)
	}

	b.Stop()
	msgs = broker.publishedTo("voxl/bridge/health")
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &hm); err != nil {
		t.Fatalf("health payload: %v", err)
	}
	if hm.Status != HealthStopping {
		t.Errorf("final health status = %q, want stopping", hm.Status)
	}
}
