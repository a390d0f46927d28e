package telemetry

import (
	"strings"
	"time"
)

// Kind identifies which decoder produced a document.
type Kind int

// Decoder kinds, in the order the default chain tries them.
const (
	KindRaw Kind = iota
	KindVIO
	KindIMU
	KindMAVLink
)

// String returns the kind name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindVIO:
		return "vio"
	case KindIMU:
		return "imu"
	case KindMAVLink:
		return "mavlink"
	default:
		return "raw"
	}
}

// Source-name markers that select the typed record decoders.
const (
	VIOMarker = "vio"
	IMUMarker = "imu"
)

// Result is the outcome of decoding one pipe packet.
type Result struct {
	// JSON is the rendered document. It is never empty.
	JSON []byte

	// Decoded is false when every typed decoder rejected the packet and JSON
	// holds the raw fallback document.
	Decoded bool

	Kind Kind
}

// Rule is one step of the decode chain. Decode is only attempted when Match
// accepts the source hint; a false return moves on to the next rule.
type Rule struct {
	Kind   Kind
	Match  func(hint string) bool
	Decode func(raw []byte, now time.Time) ([]byte, bool)
}

// DefaultRules returns the standard chain: VIO and IMU when the source name
// carries their marker, then MAVLink for anything.
func DefaultRules() []Rule {
	return []Rule{
		{Kind: KindVIO, Match: hintContains(VIOMarker), Decode: DecodeVIO},
		{Kind: KindIMU, Match: hintContains(IMUMarker), Decode: DecodeIMU},
		{Kind: KindMAVLink, Match: anyHint, Decode: DecodeMAVLink},
	}
}

func hintContains(marker string) func(string) bool {
	return func(hint string) bool {
		return strings.Contains(strings.ToLower(hint), marker)
	}
}

func anyHint(string) bool { return true }

// Decoder renders pipe packets as JSON documents. It holds no per-packet
// state and is safe for concurrent use.
type Decoder struct {
	rules []Rule
	now   func() time.Time
}

// NewDecoder creates a decoder running rules in order. With no rules it uses
// DefaultRules.
func NewDecoder(rules ...Rule) *Decoder {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Decoder{rules: rules, now: time.Now}
}

// Decode classifies raw using the source hint (normally the pipe name) and
// returns the first successful rendering. It never fails: packets no rule
// accepts come back as the raw fallback document with Decoded false.
func (d *Decoder) Decode(hint string, raw []byte) Result {
	now := d.now()
	for _, r := range d.rules {
		if r.Match != nil && !r.Match(hint) {
			continue
		}
		if doc, ok := r.Decode(raw, now); ok {
			return Result{JSON: doc, Decoded: true, Kind: r.Kind}
		}
	}
	return Result{JSON: RawFallback(raw, now), Decoded: false, Kind: KindRaw}
}
