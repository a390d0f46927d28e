// Package config handles loading and validating the bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with VOXL_MQTT_* environment variables
//   - Validation of required fields and topic mappings
//   - Default value handling (the stock VOXL topic set)
//
// A missing configuration file is not an error that stops the bridge: Load
// returns the defaults and an error wrapping ErrConfigNotFound, which callers
// log and ignore.
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - Save writes the file with 0600 permissions
//   - Use Redacted or String before printing a config
//
// Usage:
//
//	cfg, err := config.Load(config.DefaultPath)
//	if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
