package voxl

import (
	"errors"
	"testing"

	"github.com/reddotdrone/voxl-mqtt-bridge/internal/infrastructure/config"
)

func testMappings() (out, in []TopicMapping) {
	out = []TopicMapping{
		{Topic: "voxl/vio", Pipe: "vvhub_aligned_vio", QoS: 0},
		{Topic: "voxl/battery", Pipe: "/run/mpa/mavlink_sys_status/", QoS: 1},
		{Topic: "voxl/heartbeat", Pipe: "mavlink_ap_heartbeat", QoS: 0},
	}
	in = []TopicMapping{
		{Topic: "voxl/offboard_cmd", Pipe: "offboard_mqtt_cmd", QoS: 1},
		{Topic: "voxl/mission", Pipe: "mission_cmd", QoS: 2},
	}
	return out, in
}

func TestTopicTable_Resolve(t *testing.T) {
	out, in := testMappings()
	table, err := NewTopicTable(out, in)
	if err != nil {
		t.Fatalf("NewTopicTable() error = %v", err)
	}

	for ch, want := range out {
		got, ok := table.ResolveOutbound(ch)
		if !ok || got != want {
			t.Errorf("ResolveOutbound(%d) = %+v, %v, want %+v, true", ch, got, ok, want)
		}
	}
	for _, ch := range []int{-1, len(out), 100} {
		if _, ok := table.ResolveOutbound(ch); ok {
			t.Errorf("ResolveOutbound(%d) ok = true, want false", ch)
		}
	}

	pipe, ok := table.ResolveInbound("voxl/mission")
	if !ok || pipe != "mission_cmd" {
		t.Errorf("ResolveInbound(voxl/mission) = %q, %v, want mission_cmd, true", pipe, ok)
	}
	if pipe, ok := table.ResolveInbound("foo/bar"); ok {
		t.Errorf("ResolveInbound(foo/bar) = %q, true, want not found", pipe)
	}
	// Outbound topics are not inbound routes.
	if _, ok := table.ResolveInbound("voxl/vio"); ok {
		t.Error("ResolveInbound(voxl/vio) ok = true, want false")
	}
}

func TestTopicTable_CopiesInput(t *testing.T) {
	out, in := testMappings()
	table, err := NewTopicTable(out, in)
	if err != nil {
		t.Fatalf("NewTopicTable() error = %v", err)
	}

	out[0].Topic = "mutated"
	got := table.Outbound()
	got[1].Topic = "mutated too"

	m, _ := table.ResolveOutbound(0)
	if m.Topic != "voxl/vio" {
		t.Errorf("ResolveOutbound(0).Topic = %q after caller mutation, want voxl/vio", m.Topic)
	}
	m, _ = table.ResolveOutbound(1)
	if m.Topic != "voxl/battery" {
		t.Errorf("ResolveOutbound(1).Topic = %q after Outbound() mutation, want voxl/battery", m.Topic)
	}
	if len(table.Inbound()) != 2 {
		t.Errorf("len(Inbound()) = %d, want 2", len(table.Inbound()))
	}
}

func TestNewTopicTable_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		out     []TopicMapping
		in      []TopicMapping
		wantErr error
	}{
		{
			name:    "empty topic",
			out:     []TopicMapping{{Topic: "", Pipe: "imu"}},
			wantErr: ErrInvalidMapping,
		},
		{
			name:    "empty pipe",
			in:      []TopicMapping{{Topic: "a/b", Pipe: ""}},
			wantErr: ErrInvalidMapping,
		},
		{
			name:    "qos too high",
			out:     []TopicMapping{{Topic: "a/b", Pipe: "imu", QoS: 3}},
			wantErr: ErrInvalidMapping,
		},
		{
			name: "duplicate inbound topic",
			in: []TopicMapping{
				{Topic: "a/b", Pipe: "one"},
				{Topic: "a/b", Pipe: "two"},
			},
			wantErr: ErrDuplicateTopic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTopicTable(tt.out, tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewTopicTable() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewTopicTable_DuplicateOutboundAllowed(t *testing.T) {
	out := []TopicMapping{
		{Topic: "voxl/imu", Pipe: "imu0"},
		{Topic: "voxl/imu", Pipe: "imu1"},
	}
	if _, err := NewTopicTable(out, nil); err != nil {
		t.Errorf("NewTopicTable() error = %v, want nil", err)
	}
}

func TestMappingsFromConfig(t *testing.T) {
	got, err := MappingsFromConfig([]config.TopicConfig{
		{Topic: "voxl/vio", Pipe: "qvio", QoS: 1},
		{Topic: "voxl/imu", Pipe: "imu_apps", QoS: 0},
	})
	if err != nil {
		t.Fatalf("MappingsFromConfig() error = %v", err)
	}
	want := []TopicMapping{
		{Topic: "voxl/vio", Pipe: "qvio", QoS: 1},
		{Topic: "voxl/imu", Pipe: "imu_apps", QoS: 0},
	}
	if len(got) != len(want) {
		t.Fatalf("len(MappingsFromConfig()) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MappingsFromConfig()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMappingsFromConfig_QoSOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		qos  int
	}{
		{"wraps to valid byte", 258},
		{"negative", -1},
		{"three", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MappingsFromConfig([]config.TopicConfig{{Topic: "voxl/imu", Pipe: "imu_apps", QoS: tt.qos}})
			if !errors.Is(err, ErrInvalidMapping) {
				t.Errorf("MappingsFromConfig(qos %d) error = %v, want ErrInvalidMapping", tt.qos, err)
			}
		})
	}
}
