// Package api implements the bridge's local HTTP status API and live
// telemetry WebSocket.
//
// Routes:
//   - GET /api/v1/health   liveness plus broker state (503 while disconnected)
//   - GET /api/v1/status   per-mapping pipe state, counters and runtime stats
//   - GET /api/v1/ws       WebSocket telemetry feed
//   - GET /metrics         Prometheus exposition
//
// The server registers itself as a bridge record observer: every record the
// scheduler publishes to the broker is also offered to feed subscribers. A
// subscriber sends
//
//	{"type":"filter","topics":["voxl/+"],"data_types":["imu"]}
//
// and from then on receives a "telemetry" frame for each matching record.
// Topic patterns take MQTT wildcards and an empty list matches everything.
//
// There is no authentication. Bind the API to loopback (the default) unless
// the network is trusted.
package api
