package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the bridge looks for its configuration when neither
// the command line nor VOXL_MQTT_CONFIG names a file.
const DefaultPath = "/etc/modalai/voxl-mqtt-client.yaml"

// ErrConfigNotFound is returned (wrapped) by Load when the file does not exist.
// The returned Config is still usable and holds the defaults.
var ErrConfigNotFound = errors.New("config: file not found")

// Config is the root configuration structure for the bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge          BridgeConfig    `yaml:"bridge"`
	MQTT            MQTTConfig      `yaml:"mqtt"`
	PublishTopics   []TopicConfig   `yaml:"publish_topics"`
	SubscribeTopics []TopicConfig   `yaml:"subscribe_topics"`
	Pipes           PipesConfig     `yaml:"pipes"`
	Health          HealthConfig    `yaml:"health"`
	API             APIConfig       `yaml:"api"`
	WebSocket       WebSocketConfig `yaml:"websocket"`
	InfluxDB        InfluxDBConfig  `yaml:"influxdb"`
	Logging         LoggingConfig   `yaml:"logging"`
}

// BridgeConfig contains bridge identity and publish cadence.
type BridgeConfig struct {
	// ID identifies this bridge in health messages and metrics.
	ID string `yaml:"id"`

	// PublishInterval is the outbound flush period in whole seconds (minimum 1).
	PublishInterval int `yaml:"publish_interval"`

	// Debug enables debug-level logging regardless of logging.level.
	Debug bool `yaml:"debug"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker         MQTTBrokerConfig `yaml:"broker"`
	Auth           MQTTAuthConfig   `yaml:"auth"`
	TLS            MQTTTLSConfig    `yaml:"tls"`
	ReconnectDelay int              `yaml:"reconnect_delay"`
	ConnectTimeout int              `yaml:"connect_timeout"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	ClientID  string `yaml:"client_id"`
	KeepAlive int    `yaml:"keepalive"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTTLSConfig holds the certificate material for ssl:// connections.
type MQTTTLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	CACert  string `yaml:"ca_cert"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// TopicConfig maps one MQTT topic to one local pipe.
type TopicConfig struct {
	Topic string `yaml:"topic"`
	Pipe  string `yaml:"pipe"`
	QoS   int    `yaml:"qos"`
}

// PipesConfig contains local pipe transport settings.
type PipesConfig struct {
	// BaseDir is where short pipe names are resolved ("imu" -> BaseDir/imu/).
	BaseDir string `yaml:"base_dir"`

	// ClientName is the name this process registers with pipe servers.
	ClientName string `yaml:"client_name"`

	// ReadBufferSize is the per-channel receive buffer in bytes.
	ReadBufferSize int `yaml:"read_buffer_size"`

	// ServerBufferSize is the buffer size advertised by inbound pipe servers.
	ServerBufferSize int `yaml:"server_buffer_size"`
}

// HealthConfig controls the retained health message.
type HealthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Topic    string `yaml:"topic"`
	Interval int    `yaml:"interval"`
}

// APIConfig contains HTTP status server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// A missing file is not fatal: the defaults (with environment overrides) are
// returned together with an error wrapping ErrConfigNotFound.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		applyEnvOverrides(cfg)
		if vErr := cfg.Validate(); vErr != nil {
			return nil, fmt.Errorf("validating config: %w", vErr)
		}
		return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to path as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Default returns a Config holding the stock VOXL bridge settings.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:              "voxl-mqtt-bridge",
			PublishInterval: 1,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:      "localhost",
				Port:      1883,
				ClientID:  "voxl-mavlink-mqtt-client",
				KeepAlive: 60,
			},
			ReconnectDelay: 5,
			ConnectTimeout: 10,
		},
		PublishTopics: []TopicConfig{
			{Topic: "voxl/vio", Pipe: "vvhub_aligned_vio", QoS: 0},
			{Topic: "voxl/battery", Pipe: "/run/mpa/mavlink_sys_status/", QoS: 0},
			{Topic: "voxl/heartbeat", Pipe: "mavlink_ap_heartbeat", QoS: 0},
		},
		SubscribeTopics: []TopicConfig{
			{Topic: "voxl/offboard_cmd", Pipe: "offboard_mqtt_cmd", QoS: 0},
		},
		Pipes: PipesConfig{
			BaseDir:          "/run/mpa",
			ClientName:       "voxl-mqtt-client",
			ReadBufferSize:   4096,
			ServerBufferSize: 64 * 1024,
		},
		Health: HealthConfig{
			Enabled:  true,
			Topic:    "voxl/mqtt_bridge/health",
			Interval: 30,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "/var/log/voxl-mqtt-bridge.log",
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VOXL_MQTT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VOXL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VOXL_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("VOXL_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("VOXL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VOXL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("VOXL_MQTT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.PublishInterval < 1 {
		errs = append(errs, "bridge.publish_interval must be a positive number of seconds")
	}

	errs = append(errs, c.validateMQTT()...)
	errs = append(errs, validateTopics("publish_topics", c.PublishTopics, false)...)
	errs = append(errs, validateTopics("subscribe_topics", c.SubscribeTopics, true)...)

	if c.Pipes.BaseDir == "" {
		errs = append(errs, "pipes.base_dir is required")
	}
	if c.Pipes.ReadBufferSize < 1 {
		errs = append(errs, "pipes.read_buffer_size must be positive")
	}

	if c.Health.Enabled {
		if c.Health.Topic == "" {
			errs = append(errs, "health.topic is required when health is enabled")
		}
		if c.Health.Interval < 1 {
			errs = append(errs, "health.interval must be at least 1 second")
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateMQTT() []string {
	var errs []string
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.KeepAlive < 0 {
		errs = append(errs, "mqtt.broker.keepalive must not be negative")
	}
	if c.MQTT.ReconnectDelay < 1 {
		errs = append(errs, "mqtt.reconnect_delay must be at least 1 second")
	}
	if c.MQTT.TLS.Enabled && c.MQTT.TLS.CACert == "" {
		errs = append(errs, "mqtt.tls.ca_cert is required when tls is enabled")
	}
	if (c.MQTT.TLS.Cert == "") != (c.MQTT.TLS.Key == "") {
		errs = append(errs, "mqtt.tls.cert and mqtt.tls.key must be set together")
	}
	return errs
}

// validateTopics checks one ordered mapping sequence. uniqueTopics is set for
// subscribe_topics, whose lookup is keyed by topic; several pipes may publish
// to one topic.
func validateTopics(section string, topics []TopicConfig, uniqueTopics bool) []string {
	var errs []string
	seen := make(map[string]int, len(topics))
	for i, t := range topics {
		if t.Topic == "" {
			errs = append(errs, fmt.Sprintf("%s[%d].topic is required", section, i))
		}
		if t.Pipe == "" {
			errs = append(errs, fmt.Sprintf("%s[%d].pipe is required", section, i))
		}
		if t.QoS < 0 || t.QoS > 2 {
			errs = append(errs, fmt.Sprintf("%s[%d].qos must be 0, 1, or 2", section, i))
		}
		if prev, dup := seen[t.Topic]; uniqueTopics && dup && t.Topic != "" {
			errs = append(errs, fmt.Sprintf("%s[%d].topic %q duplicates %s[%d]", section, i, t.Topic, section, prev))
		}
		seen[t.Topic] = i
	}
	return errs
}

// Redacted returns a copy with credentials masked, safe for printing and logging.
func (c *Config) Redacted() *Config {
	out := *c
	out.PublishTopics = append([]TopicConfig(nil), c.PublishTopics...)
	out.SubscribeTopics = append([]TopicConfig(nil), c.SubscribeTopics...)
	if out.MQTT.Auth.Password != "" {
		out.MQTT.Auth.Password = "[REDACTED]"
	}
	if out.InfluxDB.Token != "" {
		out.InfluxDB.Token = "[REDACTED]"
	}
	return &out
}

// String renders the redacted configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

// GetPublishInterval returns the outbound flush period as a Duration.
func (c *Config) GetPublishInterval() time.Duration {
	return time.Duration(c.Bridge.PublishInterval) * time.Second
}

// GetReconnectDelay returns the broker reconnect delay as a Duration.
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.MQTT.ReconnectDelay) * time.Second
}

// GetHealthInterval returns the health publish period as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Health.Interval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
