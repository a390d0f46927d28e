package telemetry

import (
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/reddotdrone/voxl-mqtt-bridge/internal/modalpipe"
)

// gimbalLockThreshold is how close pitch may get to ±π/2 before roll and yaw
// can no longer be separated.
const gimbalLockThreshold = 1e-3

// Vec3 is a cartesian triple.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Euler holds roll, pitch and yaw.
type Euler struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

type vioDoc struct {
	DataType        string `json:"data_type"`
	TimestampNs     int64  `json:"timestamp_ns"`
	Quality         int32  `json:"quality"`
	State           uint8  `json:"state"`
	ErrorCode       uint32 `json:"error_code"`
	NFeaturePoints  uint16 `json:"n_feature_points"`
	Position        Vec3   `json:"position"`
	Velocity        Vec3   `json:"velocity"`
	Attitude        Euler  `json:"attitude"`
	AngularVelocity Vec3   `json:"angular_velocity"`
	Gravity         Vec3   `json:"gravity"`
}

// DecodeVIO renders the first record of a VIO packet. Attitude is derived
// from the IMU-to-VIO rotation; attitude and angular velocity are in degrees.
func DecodeVIO(raw []byte, _ time.Time) ([]byte, bool) {
	recs, err := modalpipe.ValidateVIO(raw)
	if err != nil {
		return nil, false
	}
	r := &recs[0]

	var rot [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot[i][j] = float64(r.RImuToVio[i][j])
		}
	}
	att := RotationToEuler(rot)

	doc := vioDoc{
		DataType:       "vio",
		TimestampNs:    r.TimestampNs,
		Quality:        r.Quality,
		State:          r.State,
		ErrorCode:      r.ErrorCode,
		NFeaturePoints: r.NFeaturePoints,
		Position:       vec3(r.TImuWrtVio),
		Velocity:       vec3(r.VelImuWrtVio),
		Attitude: Euler{
			Roll:  degrees(att.Roll),
			Pitch: degrees(att.Pitch),
			Yaw:   degrees(att.Yaw),
		},
		AngularVelocity: Vec3{
			X: degrees(float64(r.ImuAngularVel[0])),
			Y: degrees(float64(r.ImuAngularVel[1])),
			Z: degrees(float64(r.ImuAngularVel[2])),
		},
		Gravity: vec3(r.GravityVector),
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, false
	}
	return out, true
}

// RotationToEuler converts a rotation matrix (Z-Y-X convention) to roll,
// pitch and yaw in radians. Within gimbalLockThreshold of ±π/2 pitch, roll is
// fixed at 0 and yaw absorbs the whole rotation about the vertical.
func RotationToEuler(r [3][3]float64) Euler {
	pitch := math.Asin(clamp(-r[2][0], -1, 1))

	if math.Abs(pitch-math.Pi/2) < gimbalLockThreshold || math.Abs(pitch+math.Pi/2) < gimbalLockThreshold {
		return Euler{
			Roll:  0,
			Pitch: math.Atan2(-r[2][0], math.Hypot(r[0][0], r[1][0])),
			Yaw:   math.Atan2(-r[0][1], r[1][1]),
		}
	}

	return Euler{
		Roll:  math.Atan2(r[2][1], r[2][2]),
		Pitch: pitch,
		Yaw:   math.Atan2(r[1][0], r[0][0]),
	}
}

func vec3(v [3]float32) Vec3 {
	return Vec3{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
