// Package voxl bridges VOXL local pipes and an MQTT broker.
//
// # Architecture
//
//	pipe client ──OnData──► Decoder ──► Buffer ──tick──► Scheduler ──► broker
//	broker ──OnMessage──► TopicTable ──► pipe server
//
// Each publish mapping gets a channel id equal to its position in the
// configured list. Pipe packets are decoded to JSON and stored as the
// channel's latest record; the Scheduler drains the Buffer once per interval,
// so the publish rate per topic never exceeds one message per tick no matter
// how fast the pipe produces. Records overwritten before a tick are dropped.
//
// The Supervisor tracks the broker connection (disconnected/connected) and,
// while it is down, sleeps the reconnect delay and asks the broker client to
// connect again, indefinitely.
//
// # Shutdown
//
// Bridge.Stop runs in a fixed order: scheduler, buffer, outbound pipes,
// inbound pipes, supervisor, health reporter, broker.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package voxl
