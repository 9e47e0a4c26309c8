package i2cdevices

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/opensleep/podcore/internal/domain"
)

func TestLEDDriverSetPatternWritesRGBAndLatches(t *testing.T) {
	ops := []i2ctest.IO{
		{Addr: IS31FL3194DefaultAddr, W: []byte{regMode, modeFixed}},
		{Addr: IS31FL3194DefaultAddr, W: []byte{regOutR, 10}},
		{Addr: IS31FL3194DefaultAddr, W: []byte{regOutG, 20}},
		{Addr: IS31FL3194DefaultAddr, W: []byte{regOutB, 30}},
		{Addr: IS31FL3194DefaultAddr, W: []byte{regColorUpdate, 0x00}},
	}
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	defer pb.Close()

	led := NewLEDDriver(pb, IS31FL3194DefaultAddr)
	require.NoError(t, led.SetPattern(domain.LEDPattern{Kind: domain.LEDFixed, R: 10, G: 20, B: 30}))
}

func TestLEDDriverBreathingPatternSelectsBreathMode(t *testing.T) {
	ops := []i2ctest.IO{
		{Addr: IS31FL3194DefaultAddr, W: []byte{regMode, modeBreath}},
		{Addr: IS31FL3194DefaultAddr, W: []byte{regOutR, 0}},
		{Addr: IS31FL3194DefaultAddr, W: []byte{regOutG, 0}},
		{Addr: IS31FL3194DefaultAddr, W: []byte{regOutB, 255}},
		{Addr: IS31FL3194DefaultAddr, W: []byte{regColorUpdate, 0x00}},
	}
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	defer pb.Close()

	led := NewLEDDriver(pb, IS31FL3194DefaultAddr)
	require.NoError(t, led.SetPattern(domain.LEDPattern{Kind: domain.LEDSlowBreath, R: 0, G: 0, B: 255}))
}

func TestExpanderPulseAssertsThenReleases(t *testing.T) {
	cfg0 := byte(0xff) &^ (1 << PinFrozenReset.Bit) &^ (1 << PinSensorReset.Bit)
	ops := []i2ctest.IO{
		{Addr: PCAL6416ADefaultAddr, W: []byte{regConfigPort0, cfg0}},
		{Addr: PCAL6416ADefaultAddr, W: []byte{regOutputPort0, 0xff}},
		{Addr: PCAL6416ADefaultAddr, W: []byte{regOutputPort0, 0xfe}}, // assert (bit 0 low)
		{Addr: PCAL6416ADefaultAddr, W: []byte{regOutputPort0, 0xff}}, // release
	}
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	defer pb.Close()

	exp, err := NewExpander(pb, PCAL6416ADefaultAddr)
	require.NoError(t, err)
	require.NoError(t, exp.Pulse(context.Background(), PinFrozenReset, 5*time.Millisecond))
}
