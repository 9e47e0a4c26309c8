// Package profile implements C5: the profile engine that turns wall-clock
// time, the couples/solo temperature profile, and away/priming schedule
// into Frozen and Sensor subsystem commands on a periodic tick.
package profile

import (
	"math"
	"time"

	"github.com/opensleep/podcore/internal/domain"
	"github.com/opensleep/podcore/internal/frozen"
	"github.com/opensleep/podcore/internal/sensor"
)

// minutesPerDay is the wrap modulus for time-of-day arithmetic.
const minutesPerDay = 24 * 60

// Engine holds the per-tick derived state that must survive across ticks:
// the last-sent target per side (for the ≥1-centidegree debounce), whether
// each side's last command was DisableSide (so it is sent once per
// disabled stretch, including on the very first tick), and the
// last-fired day markers for one-shot alarm/priming scheduling.
type Engine struct {
	lastTarget [2]*domain.Centidegrees
	disabled   [2]bool

	lastAlarmStartDay [2]int
	lastAlarmStopDay  [2]int
	lastPrimeDay      int

	priming        bool
	primeConfirmed bool // frozenState.Priming has been observed true since StartPrime
	primeStartedAt time.Time
}

// New creates an Engine with no prior tick history.
func New() *Engine {
	return &Engine{
		lastAlarmStartDay: [2]int{-1, -1},
		lastAlarmStopDay:  [2]int{-1, -1},
		lastPrimeDay:      -1,
	}
}

// dayKey turns a local time into a value that is stable within one
// calendar day and distinct across days, for one-shot-per-day tracking.
func dayKey(t time.Time) int {
	return t.Year()*1000 + t.YearDay()
}

// Tick evaluates the profile/away/alarm/priming schedule for the given
// local time and returns the commands to issue this tick (spec.md §4.5).
func (e *Engine) Tick(now time.Time, cfg domain.EngineConfig, frozenState frozen.State) ([]frozen.Command, []sensor.Command) {
	var frozenCmds []frozen.Command
	var sensorCmds []sensor.Command

	for _, side := range domain.Sides() {
		frozenCmds = append(frozenCmds, e.tickSide(now, side, cfg)...)
		sensorCmds = append(sensorCmds, e.tickAlarm(now, side, cfg)...)
	}

	if cmd, ok := e.tickPriming(now, cfg, frozenState); ok {
		frozenCmds = append(frozenCmds, cmd)
	}

	return frozenCmds, sensorCmds
}

func (e *Engine) tickSide(now time.Time, side domain.Side, cfg domain.EngineConfig) []frozen.Command {
	idx := sideIndex(side)

	if cfg.AwayMode {
		return e.emitDisable(side, idx)
	}

	sp := cfg.Profile.Get(side)
	nowMinutes := now.Hour()*60 + now.Minute()
	t0 := sp.Sleep.MinutesOfDay()
	t1 := sp.Wake.MinutesOfDay()

	if !inWindow(nowMinutes, t0, t1) {
		return e.emitDisable(side, idx)
	}

	target, ok := interpolate(sp.TemperaturesC, nowMinutes, t0, t1)
	if !ok {
		return e.emitDisable(side, idx)
	}

	centi := domain.FromCelsius(target)
	last := e.lastTarget[idx]
	if last != nil && absCentidegrees(centi-*last) < 1 {
		return nil
	}
	e.lastTarget[idx] = &centi
	e.disabled[idx] = false

	return []frozen.Command{{
		Kind:               frozen.CmdSetSideTarget,
		Side:               side,
		TargetCentidegrees: centi,
	}}
}

func (e *Engine) emitDisable(side domain.Side, idx int) []frozen.Command {
	if e.disabled[idx] {
		return nil
	}
	e.disabled[idx] = true
	e.lastTarget[idx] = nil
	return []frozen.Command{{Kind: frozen.CmdDisableSide, Side: side}}
}

func sideIndex(s domain.Side) int {
	if s == domain.Left {
		return 0
	}
	return 1
}

func absCentidegrees(c domain.Centidegrees) domain.Centidegrees {
	if c < 0 {
		return -c
	}
	return c
}

// inWindow reports whether nowMinutes falls in the half-open interval
// [t0,t1) on a 24h wall clock, handling midnight crossing when t1 <= t0.
func inWindow(nowMinutes, t0, t1 int) bool {
	span := windowSpan(t0, t1)
	offset := nowMinutes - t0
	if offset < 0 {
		offset += minutesPerDay
	}
	return offset < span
}

func windowSpan(t0, t1 int) int {
	d := t1 - t0
	if d <= 0 {
		d += minutesPerDay
	}
	return d
}

// interpolate implements spec.md §4.5's piecewise-linear control-point
// interpolation over [t0,t1). Returns false if the window has no length
// or no control points (nothing to interpolate).
func interpolate(temps []float64, nowMinutes, t0, t1 int) (float64, bool) {
	n := len(temps)
	if n == 0 {
		return 0, false
	}
	span := windowSpan(t0, t1)
	if span <= 0 {
		return 0, false
	}
	offset := nowMinutes - t0
	if offset < 0 {
		offset += minutesPerDay
	}
	p := float64(offset) / float64(span)

	if n == 1 {
		return temps[0], true
	}

	x := p * float64(n-1)
	i := int(math.Floor(x))
	if i > n-2 {
		i = n - 2
	}
	f := x - float64(i)
	return temps[i]*(1-f) + temps[i+1]*f, true
}

func (e *Engine) tickAlarm(now time.Time, side domain.Side, cfg domain.EngineConfig) []sensor.Command {
	idx := sideIndex(side)
	sp := cfg.Profile.Get(side)
	if sp.Alarm.Disabled {
		return nil
	}

	wakeMinutes := sp.Wake.MinutesOfDay()
	startMinutes := wakeMinutes - sp.Alarm.OffsetSecondsBeforeWake/60
	startMinutes = ((startMinutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	stopMinutes := startMinutes + (sp.Alarm.DurationSeconds+59)/60 // ceil to minute tick granularity

	nowMinutes := now.Hour()*60 + now.Minute()
	today := dayKey(now)

	var cmds []sensor.Command

	if nowMinutes == startMinutes && e.lastAlarmStartDay[idx] != today {
		e.lastAlarmStartDay[idx] = today
		cmds = append(cmds, sensor.Command{Kind: sensor.CmdStartAlarm, Side: side, Alarm: sp.Alarm})
	}
	if nowMinutes == stopMinutes%minutesPerDay && e.lastAlarmStopDay[idx] != today {
		e.lastAlarmStopDay[idx] = today
		cmds = append(cmds, sensor.Command{Kind: sensor.CmdStopAlarm, Side: side})
	}

	return cmds
}

func (e *Engine) tickPriming(now time.Time, cfg domain.EngineConfig, frozenState frozen.State) (frozen.Command, bool) {
	nowMinutes := now.Hour()*60 + now.Minute()
	today := dayKey(now)
	primeMinutes := cfg.PrimeTime.MinutesOfDay()

	if !e.priming && nowMinutes == primeMinutes && e.lastPrimeDay != today {
		e.lastPrimeDay = today
		e.priming = true
		e.primeConfirmed = false
		e.primeStartedAt = now
		return frozen.Command{Kind: frozen.CmdStartPrime}, true
	}

	if e.priming {
		if frozenState.Priming {
			e.primeConfirmed = true
		}

		maxDur := cfg.PrimeMaxDur
		if maxDur <= 0 {
			maxDur = 600
		}
		timedOut := now.Sub(e.primeStartedAt) >= time.Duration(maxDur)*time.Second
		// Only treat "not priming" as completion once the hardware has
		// confirmed priming was actually underway — otherwise the tick
		// right after StartPrime (before its ack arrives) would look
		// identical to "priming finished" and cancel it immediately.
		completed := e.primeConfirmed && !frozenState.Priming

		if completed || timedOut {
			e.priming = false
			return frozen.Command{Kind: frozen.CmdStopPrime}, true
		}
	}

	return frozen.Command{}, false
}
