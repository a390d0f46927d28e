// Package logging provides structured logging for the bridge.
//
// It wraps log/slog so every component logs the same way:
//
//   - JSON or text output
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Optional size-rotated file output
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file:
//	    path: /var/log/voxl-mqtt-bridge.log
//	    max_size: 10     # megabytes
//	    max_backups: 3
//	    max_age: 28      # days
//
// bridge.debug (or the -v flag) forces the level to debug.
//
// Never log broker passwords or InfluxDB tokens; print configs through
// config.Config.Redacted.
package logging
