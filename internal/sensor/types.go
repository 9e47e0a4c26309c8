// Package sensor implements C3: the manager for the Sensor MCU
// (capacitive pads, piezo, bed/ambient telemetry) on /dev/ttymxc2.
package sensor

import (
	"github.com/opensleep/podcore/internal/domain"
)

// State is the latest known SensorState (spec.md §3, §6 state/sensor/*).
type State struct {
	Mode             domain.SubsystemMode
	HardwareInfo     string
	PiezoOK          bool
	VibrationEnabled bool
	BedTemp          domain.Centidegrees
	AmbientTemp      domain.Centidegrees
	HumidityPct      float64
	McuTemp          domain.Centidegrees
}

// CommandKind is the closed set of commands C3 can send (spec.md §4.3).
type CommandKind int

const (
	CmdSetGain CommandKind = iota
	CmdSetSamplingRate
	CmdEnableVibration
	CmdStartAlarm
	CmdStopAlarm
	CmdCalibrate
)

// Command is one entry in C3's outgoing queue.
type Command struct {
	Kind CommandKind

	Side           domain.Side // SetGain, StartAlarm, StopAlarm
	Gain           uint16      // SetGain
	SamplingRateHz uint16      // SetSamplingRate
	VibrationOn    bool        // EnableVibration
	Alarm          domain.AlarmConfig

	id uint32 // assigned by the queue at enqueue time
}

// PacketKind is the closed set of packets C3 can receive (spec.md §4.3).
type PacketKind int

const (
	PacketHardwareInfo PacketKind = iota
	PacketModeChanged
	PacketCapacitance
	PacketPiezo
	PacketTelemetry
	PacketAck
	PacketNack
	PacketUnknown
)

// Packet is one decoded inbound frame from the Sensor MCU.
type Packet struct {
	Kind PacketKind

	HardwareInfo string
	Mode         domain.SubsystemMode

	Capacitance domain.CapacitanceSample

	Piezo []byte // opaque, processing out of scope (spec.md §4.3)

	BedTemp     domain.Centidegrees
	AmbientTemp domain.Centidegrees
	HumidityPct float64
	McuTemp     domain.Centidegrees

	CmdID      uint32
	NackReason string

	Raw []byte
}
