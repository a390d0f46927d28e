package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/reddotdrone/voxl-mqtt-bridge/internal/infrastructure/config"
)

func TestParseFlags(t *testing.T) {
	t.Setenv(configPathEnv, "")

	tests := []struct {
		name string
		args []string
		want options
	}{
		{"defaults", nil, options{configPath: defaultConfigPath}},
		{"short flags", []string{"-v", "-c", "-f", "/tmp/x.yaml"}, options{configPath: "/tmp/x.yaml", verbose: true, printConfig: true}},
		{"long flags", []string{"--save-config", "--file=/tmp/y.yaml"}, options{configPath: "/tmp/y.yaml", saveConfig: true}},
		{"version", []string{"--version"}, options{configPath: defaultConfigPath, showVersion: true}},
		{"help", []string{"-h"}, options{configPath: defaultConfigPath, showHelp: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errOut bytes.Buffer
			got, err := parseFlags(tt.args, &errOut)
			if err != nil {
				t.Fatalf("parseFlags() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseFlags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseFlags_Unknown(t *testing.T) {
	var errOut bytes.Buffer
	if _, err := parseFlags([]string{"--bogus"}, &errOut); err == nil {
		t.Error("parseFlags(--bogus) error = nil, want error")
	}
}

func TestGetConfigPath_Env(t *testing.T) {
	t.Setenv(configPathEnv, "/data/bridge.yaml")
	if got := getConfigPath(); got != "/data/bridge.yaml" {
		t.Errorf("getConfigPath() = %q, want %q", got, "/data/bridge.yaml")
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), options{showVersion: true}, &out); err != nil {
		t.Fatalf("run() error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "voxl-mqtt-bridge "+version) {
		t.Errorf("output = %q, want version line", out.String())
	}
}

func TestRun_SaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "voxl-mqtt-client.yaml")

	var out bytes.Buffer
	if err := run(context.Background(), options{configPath: path, saveConfig: true}, &out); err != nil {
		t.Fatalf("run() error: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() of saved config error: %v", err)
	}
	if cfg.MQTT.Broker.ClientID != config.Default().MQTT.Broker.ClientID {
		t.Errorf("client_id = %q, want default", cfg.MQTT.Broker.ClientID)
	}
}

func TestRun_PrintConfigRedacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
mqtt:
  broker:
    host: broker.local
    port: 8883
  auth:
    username: drone
    password: hunter2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var out bytes.Buffer
	if err := run(context.Background(), options{configPath: path, printConfig: true}, &out); err != nil {
		t.Fatalf("run() error: %v", err)
	}
	printed := out.String()
	if strings.Contains(printed, "hunter2") {
		t.Error("printed config contains the password")
	}
	if !strings.Contains(printed, "broker.local") {
		t.Error("printed config missing broker host")
	}
}

func TestRun_PrintConfigMissingFileUsesDefaults(t *testing.T) {
	var out bytes.Buffer
	opts := options{configPath: filepath.Join(t.TempDir(), "missing.yaml"), printConfig: true}
	if err := run(context.Background(), opts, &out); err != nil {
		t.Fatalf("run() error: %v", err)
	}
	if !strings.Contains(out.String(), "voxl/mqtt_bridge/health") {
		t.Errorf("printed config missing default health topic:\n%s", out.String())
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "mqtt: [unclosed"},
		{"bad port", "mqtt:\n  broker:\n    port: 70000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if err := run(context.Background(), options{configPath: path}, &bytes.Buffer{}); err == nil {
				t.Error("run() error = nil, want error")
			}
		})
	}
}

// TestRun_StartsAndStopsWithoutBroker runs the full bridge against an
// unreachable broker and no pipes; cancellation must shut it down cleanly.
func TestRun_StartsAndStopsWithoutBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full run in short mode")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
mqtt:
  broker:
    host: 127.0.0.1
    port: 1
  connect_timeout: 1
pipes:
  base_dir: ` + dir + `
health:
  enabled: false
logging:
  level: error
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, options{configPath: path}, &bytes.Buffer{}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}
