package telemetry

import (
	"encoding/binary"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/reddotdrone/voxl-mqtt-bridge/internal/modalpipe"
)

// MAVLink message ids rendered with named fields.
const (
	MsgIDHeartbeat        = 0
	MsgIDSysStatus        = 1
	MsgIDGPSRawInt        = 24
	MsgIDAttitude         = 30
	MsgIDLocalPositionNED = 32
)

// MAVLinkHeader is common to every MAVLink document.
type MAVLinkHeader struct {
	MsgID     uint32 `json:"msgid"`
	SysID     uint8  `json:"sysid"`
	CompID    uint8  `json:"compid"`
	Seq       uint8  `json:"seq"`
	Timestamp int64  `json:"timestamp"`
}

type heartbeatDoc struct {
	MAVLinkHeader
	Type           uint8  `json:"type"`
	Autopilot      uint8  `json:"autopilot"`
	BaseMode       uint8  `json:"base_mode"`
	CustomMode     uint32 `json:"custom_mode"`
	SystemStatus   uint8  `json:"system_status"`
	MAVLinkVersion uint8  `json:"mavlink_version"`
}

type sysStatusDoc struct {
	MAVLinkHeader
	VoltageBattery   uint16 `json:"voltage_battery"`
	CurrentBattery   int16  `json:"current_battery"`
	BatteryRemaining int8   `json:"battery_remaining"`
	Load             uint16 `json:"load"`
}

type gpsRawIntDoc struct {
	MAVLinkHeader
	TimeUsec          uint64 `json:"time_usec"`
	FixType           uint8  `json:"fix_type"`
	Lat               int32  `json:"lat"`
	Lon               int32  `json:"lon"`
	Alt               int32  `json:"alt"`
	EPH               uint16 `json:"eph"`
	EPV               uint16 `json:"epv"`
	Vel               uint16 `json:"vel"`
	COG               uint16 `json:"cog"`
	SatellitesVisible uint8  `json:"satellites_visible"`
}

type attitudeDoc struct {
	MAVLinkHeader
	TimeBootMs uint32  `json:"time_boot_ms"`
	Roll       Float32 `json:"roll"`
	Pitch      Float32 `json:"pitch"`
	Yaw        Float32 `json:"yaw"`
	RollSpeed  Float32 `json:"rollspeed"`
	PitchSpeed Float32 `json:"pitchspeed"`
	YawSpeed   Float32 `json:"yawspeed"`
}

type localPositionNEDDoc struct {
	MAVLinkHeader
	TimeBootMs uint32  `json:"time_boot_ms"`
	X          Float32 `json:"x"`
	Y          Float32 `json:"y"`
	Z          Float32 `json:"z"`
	VX         Float32 `json:"vx"`
	VY         Float32 `json:"vy"`
	VZ         Float32 `json:"vz"`
}

type unknownMessageDoc struct {
	MAVLinkHeader
	RawData     string `json:"raw_data"`
	MessageName string `json:"message_name"`
}

// DecodeMAVLink renders the first message of a MAVLink packet. Unsupported
// message ids keep the header and name the id instead of decoding fields.
func DecodeMAVLink(raw []byte, now time.Time) ([]byte, bool) {
	msgs, err := modalpipe.ValidateMAVLink(raw)
	if err != nil {
		return nil, false
	}
	out, err := json.Marshal(mavlinkDocument(&msgs[0], now))
	if err != nil {
		return nil, false
	}
	return out, true
}

func mavlinkDocument(msg *modalpipe.MAVLinkMessage, now time.Time) any {
	hdr := MAVLinkHeader{
		MsgID:     msg.MsgID(),
		SysID:     msg.SysID,
		CompID:    msg.CompID,
		Seq:       msg.Seq,
		Timestamp: now.Unix(),
	}
	p := payloadReader(msg.Payload[:])

	switch hdr.MsgID {
	case MsgIDHeartbeat:
		return heartbeatDoc{
			MAVLinkHeader:  hdr,
			CustomMode:     p.u32(0),
			Type:           p.u8(4),
			Autopilot:      p.u8(5),
			BaseMode:       p.u8(6),
			SystemStatus:   p.u8(7),
			MAVLinkVersion: p.u8(8),
		}
	case MsgIDSysStatus:
		return sysStatusDoc{
			MAVLinkHeader:    hdr,
			Load:             p.u16(12),
			VoltageBattery:   p.u16(14),
			CurrentBattery:   int16(p.u16(16)),
			BatteryRemaining: int8(p.u8(30)),
		}
	case MsgIDGPSRawInt:
		return gpsRawIntDoc{
			MAVLinkHeader:     hdr,
			TimeUsec:          p.u64(0),
			Lat:               int32(p.u32(8)),
			Lon:               int32(p.u32(12)),
			Alt:               int32(p.u32(16)),
			EPH:               p.u16(20),
			EPV:               p.u16(22),
			Vel:               p.u16(24),
			COG:               p.u16(26),
			FixType:           p.u8(28),
			SatellitesVisible: p.u8(29),
		}
	case MsgIDAttitude:
		return attitudeDoc{
			MAVLinkHeader: hdr,
			TimeBootMs:    p.u32(0),
			Roll:          p.f32(4),
			Pitch:         p.f32(8),
			Yaw:           p.f32(12),
			RollSpeed:     p.f32(16),
			PitchSpeed:    p.f32(20),
			YawSpeed:      p.f32(24),
		}
	case MsgIDLocalPositionNED:
		return localPositionNEDDoc{
			MAVLinkHeader: hdr,
			TimeBootMs:    p.u32(0),
			X:             p.f32(4),
			Y:             p.f32(8),
			Z:             p.f32(12),
			VX:            p.f32(16),
			VY:            p.f32(20),
			VZ:            p.f32(24),
		}
	default:
		return unknownMessageDoc{
			MAVLinkHeader: hdr,
			RawData:       "unsupported_message_type",
			MessageName:   "UNKNOWN_MSG_" + strconv.FormatUint(uint64(hdr.MsgID), 10),
		}
	}
}

// payloadReader reads little-endian fields at MAVLink wire offsets.
type payloadReader []byte

func (p payloadReader) u8(off int) uint8   { return p[off] }
func (p payloadReader) u16(off int) uint16 { return binary.LittleEndian.Uint16(p[off:]) }
func (p payloadReader) u32(off int) uint32 { return binary.LittleEndian.Uint32(p[off:]) }
func (p payloadReader) u64(off int) uint64 { return binary.LittleEndian.Uint64(p[off:]) }
func (p payloadReader) f32(off int) Float32 {
	return Float32(math.Float32frombits(binary.LittleEndian.Uint32(p[off:])))
}
