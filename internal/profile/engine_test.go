package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensleep/podcore/internal/domain"
	"github.com/opensleep/podcore/internal/frozen"
	"github.com/opensleep/podcore/internal/sensor"
)

func mustTime(s string) domain.TimeOfDay {
	t, err := domain.ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func localAt(hh, mm int) time.Time {
	return time.Date(2026, time.January, 1, hh, mm, 0, 0, time.UTC)
}

func singleSideProfile(sleep, wake string, temps []float64) domain.Profile {
	sp := domain.SideProfile{
		Sleep:         mustTime(sleep),
		Wake:          mustTime(wake),
		TemperaturesC: temps,
		Alarm:         domain.AlarmConfig{Disabled: true},
	}
	return domain.Profile{Left: sp, Right: sp}
}

// Property 7: interpolation matches the worked example in spec.md §8.
func TestInterpolationMatchesWorkedExample(t *testing.T) {
	e := New()
	cfg := domain.EngineConfig{Profile: singleSideProfile("22:00", "06:00", []float64{18, 20, 22})}

	fc, _ := e.Tick(localAt(2, 0), cfg, frozen.State{})
	require.Len(t, fc, 2) // both sides set on first tick
	for _, c := range fc {
		assert.Equal(t, frozen.CmdSetSideTarget, c.Kind)
		assert.Equal(t, domain.FromCelsius(20.0), c.TargetCentidegrees)
	}
}

func TestOutOfWindowDisables(t *testing.T) {
	cfg := domain.EngineConfig{Profile: singleSideProfile("22:00", "06:00", []float64{18, 20, 22})}

	e := New()
	fc, _ := e.Tick(localAt(21, 59), cfg, frozen.State{})
	require.Len(t, fc, 2)
	for _, c := range fc {
		assert.Equal(t, frozen.CmdDisableSide, c.Kind)
	}

	e2 := New()
	fc2, _ := e2.Tick(localAt(6, 0), cfg, frozen.State{})
	require.Len(t, fc2, 2)
	for _, c := range fc2 {
		assert.Equal(t, frozen.CmdDisableSide, c.Kind)
	}
}

// Property 9: away mode overrides the profile regardless of time.
func TestAwayModeDominates(t *testing.T) {
	e := New()
	cfg := domain.EngineConfig{
		AwayMode: true,
		Profile:  singleSideProfile("22:00", "06:00", []float64{18, 20, 22}),
	}
	fc, _ := e.Tick(localAt(2, 0), cfg, frozen.State{})
	require.Len(t, fc, 2)
	for _, c := range fc {
		assert.Equal(t, frozen.CmdDisableSide, c.Kind)
	}
}

// Debounce: a target within 1 centidegree of the last sent value is not
// re-emitted.
func TestDebounceSuppressesTinyChanges(t *testing.T) {
	e := New()
	cfg := domain.EngineConfig{Profile: singleSideProfile("00:00", "23:59", []float64{20.0})}

	fc, _ := e.Tick(localAt(10, 0), cfg, frozen.State{})
	require.Len(t, fc, 2)

	fc2, _ := e.Tick(localAt(10, 1), cfg, frozen.State{})
	assert.Len(t, fc2, 0)
}

// Property 8: alarm one-shot scheduling.
func TestAlarmOneShotPerDay(t *testing.T) {
	e := New()
	alarm, err := domain.ParseAlarmConfig("Double,80,600,300")
	require.NoError(t, err)

	sp := domain.SideProfile{
		Sleep:         mustTime("22:00"),
		Wake:          mustTime("07:00"),
		TemperaturesC: []float64{20},
		Alarm:         alarm,
	}
	cfg := domain.EngineConfig{Profile: domain.Profile{Left: sp, Right: sp}}

	// Both sides carry the alarm, so each side gets its own one-shot pair;
	// count per side.
	starts, stops := map[domain.Side]int{}, map[domain.Side]int{}
	var startAt, stopAt string
	for h, m := 6, 53; !(h == 7 && m == 6); {
		_, sc := e.Tick(localAt(h, m), cfg, frozen.State{})
		for _, c := range sc {
			switch c.Kind {
			case sensor.CmdStartAlarm:
				starts[c.Side]++
				startAt = domain.TimeOfDay{Hour: h, Minute: m}.String()
			case sensor.CmdStopAlarm:
				stops[c.Side]++
				stopAt = domain.TimeOfDay{Hour: h, Minute: m}.String()
			}
		}
		m++
		if m == 60 {
			m = 0
			h++
		}
	}

	assert.Equal(t, map[domain.Side]int{domain.Left: 1, domain.Right: 1}, starts)
	assert.Equal(t, map[domain.Side]int{domain.Left: 1, domain.Right: 1}, stops)
	assert.Equal(t, "06:55", startAt)
	assert.Equal(t, "07:05", stopAt)
}

// Priming: StartPrime fires once at PrimeTime, and StopPrime fires either
// once the hardware has confirmed priming and then reports it finished, or
// once PrimeMaxDur elapses, whichever comes first.
func TestPriming(t *testing.T) {
	cfg := domain.EngineConfig{
		Profile:     singleSideProfile("22:00", "06:00", []float64{20}),
		PrimeTime:   mustTime("04:00"),
		PrimeMaxDur: 600,
	}

	t.Run("stops once hardware confirms priming then reports it finished", func(t *testing.T) {
		e := New()

		// 04:00 is inside the 22:00-06:00 window, so both sides' targets
		// come first and StartPrime is the last command.
		fc, _ := e.Tick(localAt(4, 0), cfg, frozen.State{Priming: false})
		require.Len(t, fc, 3)
		assert.Equal(t, frozen.CmdStartPrime, fc[2].Kind)

		// Ack hasn't arrived yet: frozenState still reports not priming.
		// Completion must not be declared from this alone.
		fc, _ = e.Tick(localAt(4, 1), cfg, frozen.State{Priming: false})
		assert.Len(t, fc, 0)

		// Hardware confirms priming is underway.
		fc, _ = e.Tick(localAt(4, 2), cfg, frozen.State{Priming: true})
		assert.Len(t, fc, 0)

		// Hardware reports priming has finished: now it's safe to stop.
		fc, _ = e.Tick(localAt(4, 3), cfg, frozen.State{Priming: false})
		require.Len(t, fc, 1)
		assert.Equal(t, frozen.CmdStopPrime, fc[0].Kind)
	})

	t.Run("stops on T_prime_max timeout even if never confirmed", func(t *testing.T) {
		short := cfg
		short.PrimeMaxDur = 1

		e := New()
		fc, _ := e.Tick(localAt(4, 0), short, frozen.State{Priming: false})
		require.Len(t, fc, 3)
		assert.Equal(t, frozen.CmdStartPrime, fc[2].Kind)

		fc, _ = e.Tick(localAt(4, 0).Add(2*time.Second), short, frozen.State{Priming: false})
		require.Len(t, fc, 1)
		assert.Equal(t, frozen.CmdStopPrime, fc[0].Kind)
	})

	t.Run("unconfirmed priming never self-completes before the timeout", func(t *testing.T) {
		e := New()

		fc, _ := e.Tick(localAt(4, 0), cfg, frozen.State{Priming: false})
		require.Len(t, fc, 3)
		assert.Equal(t, frozen.CmdStartPrime, fc[2].Kind)

		// frozenState.Priming is false on every subsequent tick (the
		// hardware never confirmed priming actually started), but
		// PrimeMaxDur has not elapsed: without primeConfirmed gating this
		// would look identical to "priming finished" on the very next
		// tick and stop immediately, which is the race this guards
		// against.
		fc, _ = e.Tick(localAt(4, 1), cfg, frozen.State{Priming: false})
		assert.Len(t, fc, 0)
		fc, _ = e.Tick(localAt(4, 5), cfg, frozen.State{Priming: false})
		assert.Len(t, fc, 0)
	})
}
