package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/reddotdrone/voxl-mqtt-bridge/internal/bridges/voxl"
	"github.com/reddotdrone/voxl-mqtt-bridge/internal/infrastructure/config"
	"github.com/reddotdrone/voxl-mqtt-bridge/internal/infrastructure/logging"
)

// Feed frame types.
const (
	FrameTelemetry = "telemetry"
	FrameFilter    = "filter"
	FrameError     = "error"

	// feedSendBuffer is the per-subscriber outbound frame queue.
	feedSendBuffer = 256
)

// FeedFilter selects the records a subscriber receives. Topic patterns take
// MQTT wildcards. An empty list matches everything.
type FeedFilter struct {
	Topics    []string `json:"topics,omitempty"`
	DataTypes []string `json:"data_types,omitempty"`
}

// Matches reports whether a record on topic carrying dataType passes f.
func (f FeedFilter) Matches(topic, dataType string) bool {
	if len(f.Topics) > 0 && !slices.ContainsFunc(f.Topics, func(p string) bool {
		return topicMatches(p, topic)
	}) {
		return false
	}
	return len(f.DataTypes) == 0 || slices.Contains(f.DataTypes, dataType)
}

func (f FeedFilter) validate() error {
	for _, p := range f.Topics {
		if !validTopicPattern(p) {
			return fmt.Errorf("invalid topic pattern %q", p)
		}
	}
	return nil
}

// topicMatches applies MQTT wildcard rules: "+" matches one level and a
// trailing "#" matches the rest, parent level included.
func topicMatches(pattern, topic string) bool {
	pl := strings.Split(pattern, "/")
	tl := strings.Split(topic, "/")
	for i, p := range pl {
		if p == "#" {
			return true
		}
		if i >= len(tl) || (p != "+" && p != tl[i]) {
			return false
		}
	}
	return len(pl) == len(tl)
}

func validTopicPattern(p string) bool {
	if p == "" {
		return false
	}
	levels := strings.Split(p, "/")
	for i, l := range levels {
		if l == "#" && i != len(levels)-1 {
			return false
		}
		if l != "#" && l != "+" && strings.ContainsAny(l, "#+") {
			return false
		}
	}
	return true
}

// TelemetryEvent is the frame sent for every published record.
type TelemetryEvent struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Channel   int             `json:"channel"`
	Topic     string          `json:"topic"`
	QoS       byte            `json:"qos"`
	DataType  string          `json:"data_type,omitempty"`
	Data      json.RawMessage `json:"data"`
}

func newTelemetryEvent(rec voxl.Record) TelemetryEvent {
	ev := TelemetryEvent{
		Type:      FrameTelemetry,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Channel:   rec.Channel,
		Topic:     rec.Topic,
		QoS:       rec.QoS,
	}
	if !json.Valid(rec.Payload) {
		quoted, _ := json.Marshal(string(rec.Payload)) //nolint:errcheck // marshalling a string cannot fail
		ev.Data = quoted
		return ev
	}
	ev.Data = json.RawMessage(rec.Payload)

	var head struct {
		DataType string `json:"data_type"`
	}
	if json.Unmarshal(rec.Payload, &head) == nil {
		ev.DataType = head.DataType
	}
	return ev
}

// feedRequest is the only client message: it replaces the sender's filter.
type feedRequest struct {
	Type string `json:"type"`
	FeedFilter
}

// controlFrame acknowledges a filter or reports a rejected request.
type controlFrame struct {
	Type    string      `json:"type"`
	Filter  *FeedFilter `json:"filter,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Feed fans published records out to WebSocket subscribers. A subscriber
// gets nothing until it sends a filter.
//
// Thread Safety: subscriber send channels are written only under mu.RLock
// and closed only under mu.Lock.
type Feed struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	dropped atomic.Uint64
}

type subscriber struct {
	feed *Feed
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	filter *FeedFilter
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Ground station pages and scripts connect from any origin.
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewFeed creates a feed. Zero config fields fall back to 8 KiB messages,
// 30s pings and a 10s pong timeout.
func NewFeed(cfg config.WebSocketConfig, logger *logging.Logger) *Feed {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	return &Feed{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every subscriber.
func (f *Feed) Run(ctx context.Context) {
	<-ctx.Done()

	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		f.detachLocked(sub)
	}
}

// Publish sends rec to every subscriber whose filter matches it. Subscribers
// with a full queue miss the frame.
func (f *Feed) Publish(rec voxl.Record) {
	if f.SubscriberCount() == 0 {
		return
	}

	ev := newTelemetryEvent(rec)
	data, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("failed to marshal telemetry frame", "topic", rec.Topic, "error", err)
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subs {
		if !sub.wants(ev.Topic, ev.DataType) {
			continue
		}
		select {
		case sub.send <- data:
		default:
			f.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (f *Feed) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Dropped returns how many frames were skipped for slow subscribers.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}

func (f *Feed) attach(sub *subscriber) {
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	n := len(f.subs)
	f.mu.Unlock()
	f.logger.Debug("telemetry subscriber connected", "subscribers", n)
}

// detach removes sub. Only the first call closes its queue.
func (f *Feed) detach(sub *subscriber) {
	f.mu.Lock()
	f.detachLocked(sub)
	n := len(f.subs)
	f.mu.Unlock()
	f.logger.Debug("telemetry subscriber disconnected", "subscribers", n)
}

func (f *Feed) detachLocked(sub *subscriber) {
	if _, ok := f.subs[sub]; !ok {
		return
	}
	delete(f.subs, sub)
	close(sub.send)
	if sub.conn != nil {
		sub.conn.Close()
	}
}

// reply queues a control frame for sub if it is still attached.
func (f *Feed) reply(sub *subscriber, frame controlFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, ok := f.subs[sub]; !ok {
		return
	}
	select {
	case sub.send <- data:
	default:
		f.dropped.Add(1)
	}
}

// handleWebSocket upgrades the request and attaches a telemetry subscriber.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		feed: s.feed,
		conn: conn,
		send: make(chan []byte, feedSendBuffer),
	}
	s.feed.attach(sub)

	go sub.writePump()
	go sub.readPump()
}

func (s *subscriber) wants(topic, dataType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter != nil && s.filter.Matches(topic, dataType)
}

func (s *subscriber) readPump() {
	defer s.feed.detach(s)

	cfg := s.feed.cfg
	s.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	//nolint:errcheck // best-effort deadline
	s.conn.SetReadDeadline(time.Now().Add(deadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.feed.logger.Warn("telemetry subscriber read error", "error", err)
			}
			return
		}
		//nolint:errcheck // best-effort deadline
		s.conn.SetReadDeadline(time.Now().Add(deadline))
		s.handleRequest(message)
	}
}

func (s *subscriber) writePump() {
	cfg := s.feed.cfg
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				//nolint:errcheck // connection is going away
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // write error caught below
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // ping error caught below
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *subscriber) handleRequest(data []byte) {
	var req feedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.feed.reply(s, controlFrame{Type: FrameError, Message: "invalid JSON message"})
		return
	}
	if req.Type != FrameFilter {
		s.feed.reply(s, controlFrame{Type: FrameError, Message: "unknown message type: " + req.Type})
		return
	}
	if err := req.FeedFilter.validate(); err != nil {
		s.feed.reply(s, controlFrame{Type: FrameError, Message: err.Error()})
		return
	}

	filter := req.FeedFilter
	s.mu.Lock()
	s.filter = &filter
	s.mu.Unlock()

	s.feed.logger.Debug("telemetry filter set", "topics", filter.Topics, "data_types", filter.DataTypes)
	s.feed.reply(s, controlFrame{Type: FrameFilter, Filter: &filter})
}
