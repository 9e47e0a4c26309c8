// Package presence implements C4: per-pad baseline/threshold/debounce
// occupancy detection over the capacitance sample stream produced by C3.
package presence

import (
	"github.com/opensleep/podcore/internal/domain"
)

// State is the latched per-side/any occupancy state (spec.md §4.4, §6
// state/presence/{any,left,right}).
type State struct {
	Left  bool
	Right bool
	Any   bool
}

const padCount = 6

// leftPads/rightPads group the six capacitive pads into sides (spec.md
// §4.4: "left = any(pad i in {0,1,2})", "right = any(pad i in {3,4,5})").
var leftPads = [3]int{0, 1, 2}
var rightPads = [3]int{3, 4, 5}

// Detector tracks per-pad debounce state and derives the aggregate
// presence State. It depends only on the sample stream fed to it since
// the last baseline write, never on wall-clock time (spec.md §4.4
// invariant).
type Detector struct {
	config domain.PresenceConfig

	active  [padCount]bool
	consecActive   [padCount]uint8
	consecInactive [padCount]uint8

	state State
}

// New creates a Detector with the given configuration.
func New(cfg domain.PresenceConfig) *Detector {
	return &Detector{config: cfg}
}

// SetConfig replaces the baselines/threshold/debounce configuration and
// resets debounce counters, since they are only meaningful relative to
// the config that produced them.
func (d *Detector) SetConfig(cfg domain.PresenceConfig) {
	d.config = cfg
	d.active = [padCount]bool{}
	d.consecActive = [padCount]uint8{}
	d.consecInactive = [padCount]uint8{}
}

// Config returns the current configuration.
func (d *Detector) Config() domain.PresenceConfig {
	return d.config
}

// State returns the latest aggregate occupancy state.
func (d *Detector) State() State {
	return d.state
}

// Feed processes one capacitance sample and returns the new aggregate
// State plus whether it changed from the previous one (spec.md §4.4:
// "emit a change only on transition").
func (d *Detector) Feed(sample domain.CapacitanceSample) (State, bool) {
	for i := 0; i < padCount; i++ {
		reading := sample.Pads[i]
		baseline := d.config.Baselines[i]
		delta := diff(reading, baseline)
		active := delta >= d.config.Threshold

		if active {
			d.consecActive[i] = satIncr(d.consecActive[i])
			d.consecInactive[i] = 0
		} else {
			d.consecInactive[i] = satIncr(d.consecInactive[i])
			d.consecActive[i] = 0
		}

		if !d.active[i] && d.consecActive[i] >= d.config.DebounceCount {
			d.active[i] = true
		} else if d.active[i] && d.consecInactive[i] >= d.config.DebounceCount {
			d.active[i] = false
		}
	}

	next := State{
		Left:  anyLatched(d.active, leftPads),
		Right: anyLatched(d.active, rightPads),
	}
	next.Any = next.Left || next.Right

	changed := next != d.state
	d.state = next
	return next, changed
}

// satIncr increments without wrapping past uint8's range, so a pad that
// stays latched far longer than debounce_count can't silently roll its
// counter back to zero.
func satIncr(v uint8) uint8 {
	if v == 255 {
		return v
	}
	return v + 1
}

func diff(a, b uint16) uint16 {
	if a >= b {
		return a - b
	}
	return b - a
}

func anyLatched(active [padCount]bool, pads [3]int) bool {
	for _, i := range pads {
		if active[i] {
			return true
		}
	}
	return false
}

// Calibrator accumulates K consecutive samples and computes the per-pad
// mean baseline (spec.md §4.4 "Calibration").
type Calibrator struct {
	target int
	sums   [padCount]uint64
	count  int
}

// NewCalibrator creates a Calibrator that completes after target samples
// (spec.md requires K >= 30).
func NewCalibrator(target int) *Calibrator {
	return &Calibrator{target: target}
}

// Add accumulates one sample, returning the computed baselines and true
// once the target count is reached.
func (c *Calibrator) Add(sample domain.CapacitanceSample) (baselines [padCount]uint16, done bool) {
	for i := 0; i < padCount; i++ {
		c.sums[i] += uint64(sample.Pads[i])
	}
	c.count++
	if c.count < c.target {
		return baselines, false
	}
	for i := 0; i < padCount; i++ {
		baselines[i] = uint16(c.sums[i] / uint64(c.count))
	}
	return baselines, true
}

// Remaining returns how many more samples are needed.
func (c *Calibrator) Remaining() int {
	if c.target <= c.count {
		return 0
	}
	return c.target - c.count
}
