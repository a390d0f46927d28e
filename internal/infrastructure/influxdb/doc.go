// Package influxdb records bridged telemetry in InfluxDB v2.
//
// Every document the bridge publishes is also written, batched and
// non-blocking, as one point of measurement "telemetry":
//
//	telemetry,topic=voxl/vio,data_type=vio attitude_roll=1.5,position_x=0.2,...
//
// Nested JSON objects and arrays are flattened with "_" separators. String
// values are dropped and raw fallback documents are not written.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { log.Warn("influx write", "error", err) })
//	client.WriteTelemetry("voxl/imu", payload, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
