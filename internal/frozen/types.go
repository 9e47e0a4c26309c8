// Package frozen implements C2: the manager for the Frozen MCU (water
// pumps, thermoelectric coolers, solenoid, tank level, reed switch) on
// /dev/ttymxc0.
package frozen

import (
	"github.com/opensleep/podcore/internal/domain"
)

// State is the latest known FrozenState (spec.md §3). Target is nil when
// no profile is active for that side ("disabled").
type State struct {
	Mode         domain.SubsystemMode
	HardwareInfo string
	LeftTemp     domain.Centidegrees
	RightTemp    domain.Centidegrees
	HeatsinkTemp domain.Centidegrees
	LeftTarget   *domain.Centidegrees
	RightTarget  *domain.Centidegrees
	Priming      bool
}

// Target returns the current target for a side.
func (s State) Target(side domain.Side) *domain.Centidegrees {
	if side == domain.Left {
		return s.LeftTarget
	}
	return s.RightTarget
}

// CommandKind is the closed set of commands C2 can send (spec.md §4.2).
type CommandKind int

const (
	CmdSetSideTarget CommandKind = iota
	CmdDisableSide
	CmdStartPrime
	CmdStopPrime
	CmdPing
)

// Command is one entry in C2's outgoing queue.
type Command struct {
	Kind               CommandKind
	Side               domain.Side
	TargetCentidegrees domain.Centidegrees
	DurationSeconds    int

	id uint32 // assigned by the queue at enqueue time
}

// PacketKind is the closed set of packets C2 can receive (spec.md §4.2).
type PacketKind int

const (
	PacketHardwareInfo PacketKind = iota
	PacketModeChanged
	PacketTemps
	PacketTargetEcho
	PacketPrimeComplete
	PacketAck
	PacketNack
	PacketUnknown
)

// Packet is one decoded inbound frame from the Frozen MCU.
type Packet struct {
	Kind PacketKind

	HardwareInfo string
	Mode         domain.SubsystemMode

	LeftTemp     domain.Centidegrees
	RightTemp    domain.Centidegrees
	HeatsinkTemp domain.Centidegrees

	Side   domain.Side
	Target *domain.Centidegrees // nil means "disabled"

	CmdID      uint32
	NackReason string

	Raw []byte
}

// LEDState is the coarse profile state C2 reports to the LED driver
// (spec.md §4.2 "LED coupling"), kept decoupled from C2's hot path.
type LEDState int

const (
	LEDIdle LEDState = iota
	LEDActive
	LEDPrimeRunning
)
