// voxl-mqtt-bridge relays VOXL Modal Pipe telemetry to an MQTT broker and
// broker messages back into local pipes.
//
// Outbound pipes (IMU, VIO, MAVLink) are decoded to JSON, coalesced per
// channel and published once per publish interval. Subscribed topics are
// written verbatim to inbound text pipes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/reddotdrone/voxl-mqtt-bridge/internal/api"
	"github.com/reddotdrone/voxl-mqtt-bridge/internal/bridges/voxl"
	"github.com/reddotdrone/voxl-mqtt-bridge/internal/infrastructure/config"
	"github.com/reddotdrone/voxl-mqtt-bridge/internal/infrastructure/influxdb"
	"github.com/reddotdrone/voxl-mqtt-bridge/internal/infrastructure/logging"
	"github.com/reddotdrone/voxl-mqtt-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "/etc/modalai/voxl-mqtt-client.yaml"
	configPathEnv     = "VOXL_MQTT_CONFIG"
)

// options holds the parsed command line.
type options struct {
	configPath  string
	printConfig bool
	saveConfig  bool
	verbose     bool
	showVersion bool
	showHelp    bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args into options. Usage and parse errors go to errOut.
func parseFlags(args []string, errOut io.Writer) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("voxl-mqtt-bridge", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVarP(&opts.configPath, "file", "f", getConfigPath(), "configuration file path (env "+configPathEnv+")")
	fs.BoolVarP(&opts.printConfig, "config", "c", false, "print the effective configuration and exit")
	fs.BoolVarP(&opts.saveConfig, "save-config", "s", false, "write the default configuration to the config path and exit")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	fs.BoolVarP(&opts.showHelp, "help", "h", false, "show this help")
	fs.Usage = func() {
		fmt.Fprintf(errOut, "Usage: voxl-mqtt-bridge [options]\n\n%s", fs.FlagUsages())
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.showHelp {
		fs.Usage()
	}
	return opts, nil
}

// getConfigPath returns the configuration file path.
// Uses VOXL_MQTT_CONFIG if set, otherwise the system default.
func getConfigPath() string {
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the application proper, separated from main for testability.
// One-shot flags (help, version, print/save config) return before anything
// is started.
func run(ctx context.Context, opts options, out io.Writer) error {
	switch {
	case opts.showHelp:
		return nil
	case opts.showVersion:
		fmt.Fprintf(out, "voxl-mqtt-bridge %s (commit %s, built %s)\n", version, commit, date)
		return nil
	case opts.saveConfig:
		if err := config.Default().Save(opts.configPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		fmt.Fprintf(out, "wrote default configuration to %s\n", opts.configPath)
		return nil
	}

	log := logging.Default()

	cfg, err := config.Load(opts.configPath)
	switch {
	case errors.Is(err, config.ErrConfigNotFound):
		log.Warn("config file not found, using defaults", "path", opts.configPath)
	case err != nil:
		return fmt.Errorf("loading config: %w", err)
	}

	if opts.printConfig {
		fmt.Fprint(out, cfg.String())
		return nil
	}

	if opts.verbose || cfg.Bridge.Debug {
		cfg.Logging.Level = "debug"
	}
	log = logging.New(cfg.Logging, version)
	log.Info("starting voxl-mqtt-bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", opts.configPath,
	)

	mqttClient, err := newMQTTClient(cfg)
	if err != nil {
		return fmt.Errorf("creating MQTT client: %w", err)
	}
	mqttClient.SetLogger(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := voxl.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	var observers []voxl.RecordObserver

	influxClient := connectInfluxDB(ctx, cfg, log)
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		observers = append(observers, influxObserver(influxClient, log))
	}

	// The API needs the bridge for status and the bridge needs the API as an
	// observer, so the observer forwards through this variable.
	var apiServer *api.Server
	if cfg.API.Enabled {
		observers = append(observers, voxl.ObserverFunc(func(rec voxl.Record) {
			if apiServer != nil {
				apiServer.ObserveRecord(rec)
			}
		}))
	}

	bridge, err := voxl.NewBridge(voxl.BridgeOptions{
		Config:    cfg,
		Broker:    &mqttBridgeAdapter{Client: mqttClient},
		Metrics:   metrics,
		Observers: observers,
		Version:   version,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log,
			Bridge:   bridge,
			Gatherer: reg,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	bridge.Stop()

	log.Info("voxl-mqtt-bridge stopped")
	return nil
}

// newMQTTClient builds the broker client, registering the offline last-will
// on the health topic when health reporting is on.
func newMQTTClient(cfg *config.Config) (*mqtt.Client, error) {
	var will *mqtt.Will
	if cfg.Health.Enabled && cfg.Health.Topic != "" {
		payload, err := json.Marshal(voxl.NewLWTMessage(cfg.Bridge.ID))
		if err != nil {
			return nil, fmt.Errorf("encoding last will: %w", err)
		}
		will = &mqtt.Will{Topic: cfg.Health.Topic, Payload: payload}
	}
	return mqtt.New(cfg.MQTT, will)
}

// connectInfluxDB returns nil when the sink is disabled or unreachable.
// History is optional; the bridge runs without it.
func connectInfluxDB(ctx context.Context, cfg *config.Config, log *logging.Logger) *influxdb.Client {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := influxdb.Connect(connectCtx, cfg.InfluxDB)
	if err != nil {
		log.Warn("InfluxDB unavailable, telemetry history disabled", "url", cfg.InfluxDB.URL, "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client
}

// influxObserver writes each published record to InfluxDB.
func influxObserver(client *influxdb.Client, log *logging.Logger) voxl.RecordObserver {
	return voxl.ObserverFunc(func(rec voxl.Record) {
		if err := client.WriteTelemetry(rec.Topic, rec.Payload, rec.UpdatedAt); err != nil {
			log.Debug("telemetry not written to InfluxDB", "topic", rec.Topic, "error", err)
		}
	})
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to voxl.Broker.
// The only difference is the Subscribe handler signature:
//   - infrastructure mqtt: func(topic string, payload []byte) error
//   - voxl bridge:         func(topic string, payload []byte)
type mqttBridgeAdapter struct {
	*mqtt.Client
}

// Subscribe implements voxl.Broker.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.Client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}
