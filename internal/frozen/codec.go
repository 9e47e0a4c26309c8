package frozen

import (
	"encoding/binary"
	"fmt"

	"github.com/opensleep/podcore/internal/domain"
	"github.com/opensleep/podcore/internal/serialport"
)

// Wire opcodes. The exact numeric values are a podcore-internal choice
// (spec.md §9 open question 1); only their shape — one opcode per
// command/packet kind — is specified. Recovering the MCU's real values
// is a hardware task, not a software one.
const (
	opSetSideTarget byte = 0x01
	opDisableSide   byte = 0x02
	opStartPrime    byte = 0x03
	opStopPrime     byte = 0x04
	opPing          byte = 0x05

	opHardwareInfo   byte = 0x81
	opModeChanged    byte = 0x82
	opTemps          byte = 0x83
	opTargetEcho     byte = 0x84
	opPrimeComplete  byte = 0x87
	opAck            byte = 0x85
	opNack           byte = 0x86
)

func sideByte(s domain.Side) byte {
	if s == domain.Left {
		return 0
	}
	return 1
}

func byteSide(b byte) domain.Side {
	if b == 0 {
		return domain.Left
	}
	return domain.Right
}

// EncodeCommand serializes a command with the given sequence id into a
// wire frame.
func EncodeCommand(cmd Command, id uint32) serialport.Frame {
	var payload []byte
	idBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(idBytes, id)

	switch cmd.Kind {
	case CmdSetSideTarget:
		payload = append(payload, idBytes...)
		payload = append(payload, sideByte(cmd.Side))
		v := make([]byte, 2)
		binary.BigEndian.PutUint16(v, uint16(cmd.TargetCentidegrees))
		payload = append(payload, v...)
		dur := make([]byte, 4)
		binary.BigEndian.PutUint32(dur, uint32(cmd.DurationSeconds))
		payload = append(payload, dur...)
		return serialport.Frame{Type: opSetSideTarget, Payload: payload}

	case CmdDisableSide:
		payload = append(payload, idBytes...)
		payload = append(payload, sideByte(cmd.Side))
		return serialport.Frame{Type: opDisableSide, Payload: payload}

	case CmdStartPrime:
		payload = append(payload, idBytes...)
		return serialport.Frame{Type: opStartPrime, Payload: payload}

	case CmdStopPrime:
		payload = append(payload, idBytes...)
		return serialport.Frame{Type: opStopPrime, Payload: payload}

	case CmdPing:
		payload = append(payload, idBytes...)
		return serialport.Frame{Type: opPing, Payload: payload}
	}

	return serialport.Frame{Type: opPing, Payload: idBytes}
}

// DecodePacket interprets a decoded wire frame as a FrozenPacket.
// Unrecognized opcodes decode to PacketUnknown rather than erroring, so
// a manager upgrade mismatch never brings the link down.
func DecodePacket(f serialport.Frame) (Packet, error) {
	switch f.Type {
	case opHardwareInfo:
		return Packet{Kind: PacketHardwareInfo, HardwareInfo: string(f.Payload)}, nil

	case opModeChanged:
		if len(f.Payload) < 1 {
			return Packet{}, fmt.Errorf("frozen: short ModeChanged payload")
		}
		return Packet{Kind: PacketModeChanged, Mode: decodeMode(f.Payload[0])}, nil

	case opTemps:
		if len(f.Payload) < 6 {
			return Packet{}, fmt.Errorf("frozen: short Temps payload")
		}
		return Packet{
			Kind:         PacketTemps,
			LeftTemp:     domain.Centidegrees(binary.BigEndian.Uint16(f.Payload[0:2])),
			RightTemp:    domain.Centidegrees(binary.BigEndian.Uint16(f.Payload[2:4])),
			HeatsinkTemp: domain.Centidegrees(binary.BigEndian.Uint16(f.Payload[4:6])),
		}, nil

	case opTargetEcho:
		if len(f.Payload) < 2 {
			return Packet{}, fmt.Errorf("frozen: short TargetEcho payload")
		}
		pkt := Packet{Kind: PacketTargetEcho, Side: byteSide(f.Payload[0])}
		disabled := f.Payload[1] == 0xFF
		if !disabled && len(f.Payload) >= 4 {
			v := domain.Centidegrees(binary.BigEndian.Uint16(f.Payload[2:4]))
			pkt.Target = &v
		}
		return pkt, nil

	case opPrimeComplete:
		return Packet{Kind: PacketPrimeComplete}, nil

	case opAck:
		if len(f.Payload) < 4 {
			return Packet{}, fmt.Errorf("frozen: short Ack payload")
		}
		return Packet{Kind: PacketAck, CmdID: binary.BigEndian.Uint32(f.Payload[0:4])}, nil

	case opNack:
		if len(f.Payload) < 4 {
			return Packet{}, fmt.Errorf("frozen: short Nack payload")
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
