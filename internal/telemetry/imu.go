package telemetry

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/reddotdrone/voxl-mqtt-bridge/internal/modalpipe"
)

type imuDoc struct {
	DataType    string  `json:"data_type"`
	TimestampNs uint64  `json:"timestamp_ns"`
	TempC       Float32 `json:"temp_c"`
	Accel       Vec3    `json:"accel"`
	Gyro        Vec3    `json:"gyro"`
	Samples     int     `json:"samples"`
}

// DecodeIMU renders the most recent sample of an IMU batch. Acceleration is
// in m/s², angular rate in rad/s as delivered.
func DecodeIMU(raw []byte, _ time.Time) ([]byte, bool) {
	recs, err := modalpipe.ValidateIMU(raw)
	if err != nil {
		return nil, false
	}
	r := &recs[len(recs)-1]

	doc := imuDoc{
		DataType:    "imu",
		TimestampNs: r.TimestampNs,
		TempC:       Float32(r.TempC),
		Accel:       vec3(r.AccelMS2),
		Gyro:        vec3(r.GyroRad),
		Samples:     len(recs),
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, false
	}
	return out, true
}
