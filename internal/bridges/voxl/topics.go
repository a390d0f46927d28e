package voxl

import (
	"fmt"

	"github.com/reddotdrone/voxl-mqtt-bridge/internal/infrastructure/config"
)

// maxQoS is the highest MQTT delivery level.
const maxQoS = 2

// TopicMapping pairs a broker topic with a local pipe.
type TopicMapping struct {
	Topic string
	Pipe  string
	QoS   byte
}

// MappingsFromConfig converts configured topics into mappings, keeping order.
// A QoS outside 0..2 is rejected before it is narrowed to a byte.
func MappingsFromConfig(topics []config.TopicConfig) ([]TopicMapping, error) {
	out := make([]TopicMapping, 0, len(topics))
	for i, t := range topics {
		if t.QoS < 0 || t.QoS > maxQoS {
			return nil, fmt.Errorf("%w: mapping %d qos %d for %q", ErrInvalidMapping, i, t.QoS, t.Topic)
		}
		out = append(out, TopicMapping{Topic: t.Topic, Pipe: t.Pipe, QoS: byte(t.QoS)})
	}
	return out, nil
}

// TopicTable resolves channels to outbound topics and inbound topics to
// pipes. It is read-only after construction and needs no locking.
type TopicTable struct {
	outbound []TopicMapping
	inbound  []TopicMapping
	byTopic  map[string]int
}

// NewTopicTable validates both mapping sequences and builds the lookups. The
// channel id of an outbound mapping is its index in outbound.
func NewTopicTable(outbound, inbound []TopicMapping) (*TopicTable, error) {
	t := &TopicTable{
		outbound: make([]TopicMapping, len(outbound)),
		inbound:  make([]TopicMapping, len(inbound)),
		byTopic:  make(map[string]int, len(inbound)),
	}
	copy(t.outbound, outbound)
	copy(t.inbound, inbound)

	for i, m := range t.outbound {
		if err := validateMapping(m); err != nil {
			return nil, fmt.Errorf("publish mapping %d: %w", i, err)
		}
	}
	for i, m := range t.inbound {
		if err := validateMapping(m); err != nil {
			return nil, fmt.Errorf("subscribe mapping %d: %w", i, err)
		}
		if prev, dup := t.byTopic[m.Topic]; dup {
			return nil, fmt.Errorf("%w: %q (mappings %d and %d)", ErrDuplicateTopic, m.Topic, prev, i)
		}
		t.byTopic[m.Topic] = i
	}
	return t, nil
}

func validateMapping(m TopicMapping) error {
	switch {
	case m.Topic == "":
		return fmt.Errorf("%w: empty topic", ErrInvalidMapping)
	case m.Pipe == "":
		return fmt.Errorf("%w: empty pipe for %q", ErrInvalidMapping, m.Topic)
	case m.QoS > maxQoS:
		return fmt.Errorf("%w: qos %d for %q", ErrInvalidMapping, m.QoS, m.Topic)
	}
	return nil
}

// ResolveOutbound returns the mapping for a channel.
func (t *TopicTable) ResolveOutbound(channel int) (TopicMapping, bool) {
	if channel < 0 || channel >= len(t.outbound) {
		return TopicMapping{}, false
	}
	return t.outbound[channel], true
}

// ResolveInbound returns the pipe a broker topic is forwarded to.
func (t *TopicTable) ResolveInbound(topic string) (string, bool) {
	i, ok := t.byTopic[topic]
	if !ok {
		return "", false
	}
	return t.inbound[i].Pipe, true
}

// Outbound returns a copy of the outbound mappings in channel order.
func (t *TopicTable) Outbound() []TopicMapping {
	out := make([]TopicMapping, len(t.outbound))
	copy(out, t.outbound)
	return out
}

// Inbound returns a copy of the inbound mappings in configured order.
func (t *TopicTable) Inbound() []TopicMapping {
	out := make([]TopicMapping, len(t.inbound))
	copy(out, t.inbound)
	return out
}
