package sensor

import (
	"encoding/binary"
	"fmt"

	"github.com/opensleep/podcore/internal/domain"
	"github.com/opensleep/podcore/internal/serialport"
)

// Wire opcodes; numeric values are a podcore-internal choice (spec.md §9
// open question 1), same caveat as internal/frozen/codec.go.
const (
	opSetGain         byte = 0x11
	opSetSamplingRate byte = 0x12
	opEnableVibration byte = 0x13
	opStartAlarm      byte = 0x14
	opStopAlarm       byte = 0x15
	opCalibrate       byte = 0x16

	opHardwareInfo byte = 0x91
	opModeChanged  byte = 0x92
	opCapacitance  byte = 0x93
	opPiezo        byte = 0x94
	opTelemetry    byte = 0x95
	opAck          byte = 0x96
	opNack         byte = 0x97
)

func sideByte(s domain.Side) byte {
	if s == domain.Left {
		return 0
	}
	return 1
}

func patternByte(p domain.AlarmPattern) byte {
	if p == domain.AlarmDouble {
		return 1
	}
	return 0
}

func byteToPattern(b byte) domain.AlarmPattern {
	if b == 1 {
		return domain.AlarmDouble
	}
	return domain.AlarmSingle
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// EncodeCommand serializes a command with the given sequence id into a
// wire frame.
func EncodeCommand(cmd Command, id uint32) serialport.Frame {
	idBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(idBytes, id)
	payload := append([]byte(nil), idBytes...)

	switch cmd.Kind {
	case CmdSetGain:
		payload = append(payload, sideByte(cmd.Side))
		v := make([]byte, 2)
		binary.BigEndian.PutUint16(v, cmd.Gain)
		payload = append(payload, v...)
		return serialport.Frame{Type: opSetGain, Payload: payload}

	case CmdSetSamplingRate:
		v := make([]byte, 2)
		binary.BigEndian.PutUint16(v, cmd.SamplingRateHz)
		payload = append(payload, v...)
		return serialport.Frame{Type: opSetSamplingRate, Payload: payload}

	case CmdEnableVibration:
		payload = append(payload, boolByte(cmd.VibrationOn))
		return serialport.Frame{Type: opEnableVibration, Payload: payload}

	case CmdStartAlarm:
		payload = append(payload, sideByte(cmd.Side), patternByte(cmd.Alarm.Pattern), byte(cmd.Alarm.Intensity))
		dur := make([]byte, 4)
		binary.BigEndian.PutUint32(dur, uint32(cmd.Alarm.DurationSeconds))
		payload = append(payload, dur...)
		off := make([]byte, 4)
		binary.BigEndian.PutUint32(off, uint32(cmd.Alarm.OffsetSecondsBeforeWake))
		payload = append(payload, off...)
		return serialport.Frame{Type: opStartAlarm, Payload: payload}

	case CmdStopAlarm:
		payload = append(payload, sideByte(cmd.Side))
		return serialport.Frame{Type: opStopAlarm, Payload: payload}

	case CmdCalibrate:
		return serialport.Frame{Type: opCalibrate, Payload: payload}
	}

	return serialport.Frame{Type: opCalibrate, Payload: payload}
}

// DecodePacket interprets a decoded wire frame as a sensor Packet.
// Unrecognized opcodes decode to PacketUnknown rather than erroring.
func DecodePacket(f serialport.Frame) (Packet, error) {
	switch f.Type {
	case opHardwareInfo:
		return Packet{Kind: PacketHardwareInfo, HardwareInfo: string(f.Payload)}, nil

	case opModeChanged:
		if len(f.Payload) < 1 {
			return Packet{}, fmt.Errorf("sensor: short ModeChanged payload")
		}
		return Packet{Kind: PacketModeChanged, Mode: decodeMode(f.Payload[0])}, nil

	case opCapacitance:
		if len(f.Payload) < 12 {
			return Packet{}, fmt.Errorf("sensor: short Capacitance payload")
		}
		var sample domain.CapacitanceSample
		for i := 0; i < 6; i++ {
			sample.Pads[i] = binary.BigEndian.Uint16(f.Payload[i*2 : i*2+2])
		}
		return Packet{Kind: PacketCapacitance, Capacitance: sample}, nil

	case opPiezo:
		return Packet{Kind: PacketPiezo, Piezo: f.Payload}, nil

	case opTelemetry:
		if len(f.Payload) < 8 {
			return Packet{}, fmt.Errorf("sensor: short Telemetry payload")
		}
		return Packet{
			Kind:        PacketTelemetry,
			BedTemp:     domain.Centidegrees(binary.BigEndian.Uint16(f.Payload[0:2])),
			AmbientTemp: domain.Centidegrees(binary.BigEndian.Uint16(f.Payload[2:4])),
			HumidityPct: float64(binary.BigEndian.Uint16(f.Payload[4:6])) / 100.0,
			McuTemp:     domain.Centidegrees(binary.BigEndian.Uint16(f.Payload[6:8])),
		}, nil

	case opAck:
		if len(f.Payload) < 4 {
			return Packet{}, fmt.Errorf("sensor: short Ack payload")
		}
		return Packet{Kind: PacketAck, CmdID: binary.BigEndian.Uint32(f.Payload[0:4])}, nil

	case opNack:
		if len(f.Payload) < 4 {
			return Packet{}, fmt.Errorf("sensor: short Nack payload")
		}
		return Packet{
			Kind:       PacketNack,
			CmdID:      binary.BigEndian.Uint32(f.Payload[0:4]),
			NackReason: string(f.Payload[4:]),
		}, nil

	default:
		return Packet{Kind: PacketUnknown, Raw: f.Payload}, nil
	}
}

func decodeMode(b byte) domain.SubsystemMode {
	switch b {
	case 1:
		return domain.ModeBootloader
	case 2:
		return domain.ModeFirmware
	default:
		return domain.ModeUnknown
	}
}

