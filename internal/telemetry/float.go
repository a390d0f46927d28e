package telemetry

import (
	"math"
	"strconv"
)

// Float32 is a float32 document field. NaN and ±Inf marshal as null, which
// MAVLink uses for "unknown" and VIO produces when tracking is lost.
type Float32 float32

// MarshalJSON implements json.Marshaler.
func (f Float32) MarshalJSON() ([]byte, error) {
	return appendFloat(nil, float64(f), 32), nil
}

// MarshalJSON implements json.Marshaler. Non-finite components are null.
func (v Vec3) MarshalJSON() ([]byte, error) {
	b := append(make([]byte, 0, 64), `{"x":`...)
	b = appendFloat(b, v.X, 64)
	b = append(b, `,"y":`...)
	b = appendFloat(b, v.Y, 64)
	b = append(b, `,"z":`...)
	b = appendFloat(b, v.Z, 64)
	return append(b, '}'), nil
}

// MarshalJSON implements json.Marshaler. Non-finite angles are null.
func (e Euler) MarshalJSON() ([]byte, error) {
	b := append(make([]byte, 0, 64), `{"roll":`...)
	b = appendFloat(b, e.Roll, 64)
	b = append(b, `,"pitch":`...)
	b = appendFloat(b, e.Pitch, 64)
	b = append(b, `,"yaw":`...)
	b = appendFloat(b, e.Yaw, 64)
	return append(b, '}'), nil
}

// appendFloat writes f as a JSON number, or null when it has no JSON form.
// Very small and very large magnitudes use exponent notation.
func appendFloat(b []byte, f float64, bits int) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(b, "null"...)
	}
	format := byte('f')
	if abs := math.Abs(f); abs != 0 {
		if bits == 32 {
			abs = float64(float32(abs))
		}
		if abs < 1e-6 || abs >= 1e21 {
			format = 'e'
		}
	}
	return strconv.AppendFloat(b, f, format, -1, bits)
}
