// Package telemetry renders binary pipe packets as JSON documents for the
// broker.
//
// A Decoder runs an ordered list of Rules. Each rule pairs a predicate on the
// source hint (the pipe name) with a record decoder; the first decoder that
// accepts the packet wins:
//
//	vio  hint contains "vio"   first record, attitude in degrees
//	imu  hint contains "imu"   last record of the batch, gyro in rad/s
//	mav  any hint              first MAVLink message
//	raw  fallback              {data_type, timestamp, bytes, data}
//
// Decoding never fails. A packet no rule accepts becomes the raw document,
// which echoes at most 100 bytes and always reports the full length.
package telemetry
