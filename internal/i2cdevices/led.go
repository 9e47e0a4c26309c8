// Package i2cdevices wraps the two I²C collaborators spec.md §6 names
// but leaves unspecified: the IS31FL3194 RGB LED driver and the
// PCAL6416A GPIO expander used for subsystem reset lines. Grounded on
// periph's tmp102.Dev: a thin struct wrapping *i2c.Dev, register
// constants, and Tx-based reads/writes guarded by a mutex.
package i2cdevices

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"

	"github.com/opensleep/podcore/internal/domain"
)

// IS31FL3194DefaultAddr is the chip's fixed I²C address.
const IS31FL3194DefaultAddr uint16 = 0x53

// IS31FL3194 registers (current-setting, RGB PWM duty, and the
// operating-mode register that selects breathing vs. fixed output).
const (
	regShutdown    byte = 0x00
	regCurrentBand byte = 0x01
	regMode        byte = 0x02
	regColorUpdate byte = 0x07
	regOutR        byte = 0x10
	regOutG        byte = 0x21
	regOutB        byte = 0x32
)

const (
	modeFixed byte = 0x00
	modeBreath byte = 0x20
)

// currentBandCode maps domain.LEDCurrentBand to the chip's two-bit
// current-range selector.
func currentBandCode(b domain.LEDCurrentBand) byte {
	switch b {
	case domain.LEDBandOne:
		return 0x00
	case domain.LEDBandTwo:
		return 0x01
	case domain.LEDBandThree:
		return 0x02
	case domain.LEDBandFour:
		return 0x03
	default:
		return 0x01
	}
}

// LEDDriver drives the IS31FL3194 RGB LED over I²C.
type LEDDriver struct {
	dev *i2c.Dev
	mu  sync.Mutex
}

// NewLEDDriver opens the LED driver on the given bus.
func NewLEDDriver(bus i2c.Bus, addr uint16) *LEDDriver {
	return &LEDDriver{dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

// SetCurrentBand selects the chip's output current range.
func (l *LEDDriver) SetCurrentBand(band domain.LEDCurrentBand) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(regCurrentBand, currentBandCode(band))
}

// SetPattern writes an RGB pattern and its animation mode. FastBreath
// and SlowBreath both select the chip's breathing mode; the speed
// distinction is carried in a separate period register this driver
// does not yet expose (TODO: add a period/frequency control once a
// hardware sample is on hand to confirm register addressing).
func (l *LEDDriver) SetPattern(p domain.LEDPattern) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	mode := modeFixed
	if p.Kind == domain.LEDSlowBreath || p.Kind == domain.LEDFastBreath {
		mode = modeBreath
	}
	if err := l.write(regMode, mode); err != nil {
		return fmt.Errorf("i2cdevices: led mode: %w", err)
	}
	if err := l.write(regOutR, p.R); err != nil {
		return fmt.Errorf("i2cdevices: led R: %w", err)
	}
	if err := l.write(regOutG, p.G); err != nil {
		return fmt.Errorf("i2cdevices: led G: %w", err)
	}
	if err := l.write(regOutB, p.B); err != nil {
		return fmt.Errorf("i2cdevices: led B: %w", err)
	}
	// The chip latches PWM duty-cycle registers only after a write to
	// the "color update" register.
	return l.write(regColorUpdate, 0x00)
}

// Off shuts down the LED output entirely.
func (l *LEDDriver) Off() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(regShutdown, 0x00)
}

func (l *LEDDriver) write(reg, value byte) error {
	return l.dev.Tx([]byte{reg, value}, nil)
}

func (l *LEDDriver) String() string {
	return fmt.Sprintf("is31fl3194: %s", l.dev.String())
}
