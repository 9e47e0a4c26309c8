package i2cdevices

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// PCAL6416ADefaultAddr is the expander's fixed I²C address (spec.md §6).
const PCAL6416ADefaultAddr uint16 = 0x20

// PCAL6416A registers: output port 0/1 and configuration (direction)
// port 0/1, per the chip's standard PCAL64xx register layout.
const (
	regOutputPort0 byte = 0x02
	regOutputPort1 byte = 0x03
	regConfigPort0 byte = 0x06
	regConfigPort1 byte = 0x07
)

// Pin identifies one of the expander's 16 GPIO lines by port/bit.
type Pin struct {
	Port byte // 0 or 1
	Bit  uint
}

// Well-known reset/enable lines on this board revision (spec.md §6
// "I²C expander at address 0x20 ... for subsystem reset/enable").
var (
	PinFrozenReset = Pin{Port: 0, Bit: 0}
	PinSensorReset = Pin{Port: 0, Bit: 1}
)

// Expander drives the PCAL6416A GPIO expander used to reset/enable the
// two MCU subsystems. Grounded on the same Dev-wrapping-i2c.Dev shape
// as LEDDriver/tmp102, generalized to a 16-bit output port instead of a
// single sensor register.
type Expander struct {
	dev *i2c.Dev
	mu  sync.Mutex

	out [2]byte // shadow copy; the chip's output register is write-only from our side
}

// NewExpander opens the expander on the given bus and configures both
// reset lines as outputs, driven high (not asserted; PCAL6416A reset
// lines on this board are active-low).
func NewExpander(bus i2c.Bus, addr uint16) (*Expander, error) {
	e := &Expander{dev: &i2c.Dev{Bus: bus, Addr: addr}, out: [2]byte{0xff, 0xff}}

	// Clear the direction bits for the two reset pins so they're driven
	// as outputs; all other expander pins are left at their power-on
	// default (input).
	cfg0 := byte(0xff) &^ (1 << PinFrozenReset.Bit) &^ (1 << PinSensorReset.Bit)
	if err := e.dev.Tx([]byte{regConfigPort0, cfg0}, nil); err != nil {
		return nil, fmt.Errorf("i2cdevices: expander config: %w", err)
	}
	if err := e.dev.Tx([]byte{regOutputPort0, e.out[0]}, nil); err != nil {
		return nil, fmt.Errorf("i2cdevices: expander init output: %w", err)
	}
	return e, nil
}

// Set drives pin high (true) or low (false).
func (e *Expander) Set(pin Pin, high bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	mask := byte(1) << pin.Bit
	if high {
		e.out[pin.Port] |= mask
	} else {
		e.out[pin.Port] &^= mask
	}

	reg := regOutputPort0
	if pin.Port == 1 {
		reg = regOutputPort1
	}
	return e.dev.Tx([]byte{reg, e.out[pin.Port]}, nil)
}

// Pulse asserts pin (drives it low, since reset lines on this board are
// active-low) for d, then releases it, blocking until either completes
// or ctx is cancelled.
func (e *Expander) Pulse(ctx context.Context, pin Pin, d time.Duration) error {
	if err := e.Set(pin, false); err != nil {
		return err
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
		_ = e.Set(pin, true)
		return ctx.Err()
	}
	return e.Set(pin, true)
}

func (e *Expander) String() string {
	return fmt.Sprintf("pcal6416a: %s", e.dev.String())
}
