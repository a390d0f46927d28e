package influxdb

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// TelemetryMeasurement is the measurement every bridged record is written to.
const TelemetryMeasurement = "telemetry"

// Tag values for documents without an explicit data_type.
const (
	dataTypeMAVLink = "mavlink"
	dataTypeUnknown = "unknown"
	dataTypeRaw     = "raw"
)

// WriteTelemetry records one published document. Nested objects and arrays
// are flattened into numeric fields ("attitude_roll", "gyro_0"); strings are
// ignored. Raw fallback documents are skipped.
//
// The write is non-blocking; server errors are reported via SetOnError.
func (c *Client) WriteTelemetry(topic string, payload []byte, ts time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point, err := TelemetryPoint(topic, payload, ts)
	if err != nil {
		return err
	}
	if point == nil {
		return nil
	}

	c.writeAPI.WritePoint(point)
	return nil
}

// TelemetryPoint converts a published JSON document into a point. It
// returns nil, nil for raw fallback documents.
func TelemetryPoint(topic string, payload []byte, ts time.Time) (*write.Point, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrWriteFailed, topic, err)
	}

	dataType := dataTypeUnknown
	if s, ok := doc["data_type"].(string); ok && s != "" {
		dataType = s
	} else if _, ok := doc["msgid"]; ok {
		dataType = dataTypeMAVLink
	}
	if dataType == dataTypeRaw {
		return nil, nil
	}

	fields := make(map[string]any)
	flatten("", doc, fields)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s: %w", ErrWriteFailed, topic, ErrNoFields)
	}

	tags := map[string]string{
		"topic":     topic,
		"data_type": dataType,
	}
	return write.NewPoint(TelemetryMeasurement, tags, fields, ts), nil
}

// flatten copies numeric and boolean leaves of v into fields.
func flatten(prefix string, v any, fields map[string]any) {
	switch val := v.(type) {
	case float64:
		fields[prefix] = val
	case bool:
		fields[prefix] = val
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(joinKey(prefix, k), val[k], fields)
		}
	case []any:
		for i, item := range val {
			flatten(joinKey(prefix, strconv.Itoa(i)), item, fields)
		}
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}
