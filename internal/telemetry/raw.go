package telemetry

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// rawDataLimit caps how much of an undecodable packet is echoed in "data".
const rawDataLimit = 100

type rawDoc struct {
	DataType  string `json:"data_type"`
	Timestamp int64  `json:"timestamp"`
	Bytes     int    `json:"bytes"`
	Data      string `json:"data"`
}

// RawFallback renders a packet no decoder understood. "bytes" is always the
// full packet length; "data" holds at most the first 100 bytes.
func RawFallback(raw []byte, now time.Time) []byte {
	n := min(len(raw), rawDataLimit)
	doc := rawDoc{
		DataType:  "raw",
		Timestamp: now.Unix(),
		Bytes:     len(raw),
		Data:      string(raw[:n]),
	}
	out, err := json.Marshal(doc)
	if err != nil {
		// Only reachable if the encoder itself breaks; keep the document shape.
		return []byte(`{"data_type":"raw","timestamp":` + strconv.FormatInt(doc.Timestamp, 10) +
			`,"bytes":` + strconv.Itoa(doc.Bytes) + `,"data":""}`)
	}
	return out
}
