package modalpipe

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Record magic numbers carried in the first field of IMU and VIO records.
const (
	IMUMagic = 0x564F584C // "VOXL"
	VIOMagic = 0x5455524F // "TURO"
)

// MAVLink start-of-frame markers accepted in MAVLinkMessage.Magic.
const (
	MAVLinkV1Magic = 0xFE
	MAVLinkV2Magic = 0xFD
)

// mavlinkPayloadSize is the payload area of an in-memory MAVLink message
// (33 uint64 words).
const mavlinkPayloadSize = 33 * 8

// Record sizes on the wire. These are packed little-endian layouts.
var (
	MAVLinkMessageSize = binary.Size(MAVLinkMessage{})
	IMUDataSize        = binary.Size(IMUData{})
	VIODataSize        = binary.Size(VIOData{})
)

// MAVLinkMessage is one unpacked MAVLink message as published by the
// autopilot pipes: header fields, then the payload area, then checksum and
// signature. Payload fields sit at their MAVLink wire offsets.
type MAVLinkMessage struct {
	Checksum      uint16
	Magic         uint8
	Len           uint8
	IncompatFlags uint8
	CompatFlags   uint8
	Seq           uint8
	SysID         uint8
	CompID        uint8
	MsgIDBytes    [3]uint8
	Payload       [mavlinkPayloadSize]byte
	Ck            [2]uint8
	Signature     [13]uint8
}

// MsgID returns the 24-bit message id.
func (m *MAVLinkMessage) MsgID() uint32 {
	return uint32(m.MsgIDBytes[0]) | uint32(m.MsgIDBytes[1])<<8 | uint32(m.MsgIDBytes[2])<<16
}

// SetMsgID stores a 24-bit message id.
func (m *MAVLinkMessage) SetMsgID(id uint32) {
	m.MsgIDBytes = [3]uint8{uint8(id), uint8(id >> 8), uint8(id >> 16)}
}

// IMUData is one inertial sample.
type IMUData struct {
	Magic       uint32
	AccelMS2    [3]float32
	GyroRad     [3]float32
	TempC       float32
	TimestampNs uint64
}

// VIOData is one visual-inertial odometry estimate.
type VIOData struct {
	Magic              uint32
	Quality            int32
	TimestampNs        int64
	TImuWrtVio         [3]float32
	RImuToVio          [3][3]float32
	PoseCovariance     [21]float32
	VelImuWrtVio       [3]float32
	VelocityCovariance [21]float32
	ImuAngularVel      [3]float32
	GravityVector      [3]float32
	TCamWrtImu         [3]float32
	RCamToImu          [3][3]float32
	ErrorCode          uint32
	NFeaturePoints     uint16
	State              uint8
	Reserved           uint8
}

// ValidateMAVLink splits buf into MAVLink messages. The buffer must hold a
// whole, non-zero number of messages, each with a v1 or v2 start marker.
func ValidateMAVLink(buf []byte) ([]MAVLinkMessage, error) {
	msgs, err := splitRecords[MAVLinkMessage](buf, MAVLinkMessageSize)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].Magic != MAVLinkV1Magic && msgs[i].Magic != MAVLinkV2Magic {
			return nil, fmt.Errorf("%w: message %d has magic 0x%02X", ErrInvalidFrame, i, msgs[i].Magic)
		}
	}
	return msgs, nil
}

// ValidateIMU splits buf into IMU samples and checks each magic number.
func ValidateIMU(buf []byte) ([]IMUData, error) {
	recs, err := splitRecords[IMUData](buf, IMUDataSize)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].Magic != IMUMagic {
			return nil, fmt.Errorf("%w: imu record %d has magic 0x%08X", ErrInvalidFrame, i, recs[i].Magic)
		}
	}
	return recs, nil
}

// ValidateVIO splits buf into VIO records and checks each magic number.
func ValidateVIO(buf []byte) ([]VIOData, error) {
	recs, err := splitRecords[VIOData](buf, VIODataSize)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].Magic != VIOMagic {
			return nil, fmt.Errorf("%w: vio record %d has magic 0x%08X", ErrInvalidFrame, i, recs[i].Magic)
		}
	}
	return recs, nil
}

func splitRecords[T any](buf []byte, size int) ([]T, error) {
	if len(buf) == 0 || len(buf)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrInvalidFrame, len(buf), size)
	}
	out := make([]T, len(buf)/size)
	for i := range out {
		if err := binary.Read(bytes.NewReader(buf[i*size:(i+1)*size]), binary.LittleEndian, &out[i]); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
		}
	}
	return out, nil
}

// EncodeRecords packs records back to back in wire layout. Servers use it to
// publish typed records; it is the inverse of the Validate functions.
func EncodeRecords[T MAVLinkMessage | IMUData | VIOData](recs ...T) ([]byte, error) {
	var buf bytes.Buffer
	for i := range recs {
		if err := binary.Write(&buf, binary.LittleEndian, &recs[i]); err != nil {
			return nil, fmt.Errorf("encoding record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
