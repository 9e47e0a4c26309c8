// Package config holds podcore's persisted configuration: the YAML-facing
// Config struct (spec.md §3 "Config"), parsing/validation of its
// action-mutable fields, and a mutex-guarded, atomically-persisted Store
// (spec.md §4.6, §6 "Persisted state").
package config

import (
	"fmt"

	"github.com/opensleep/podcore/internal/domain"
)

// SideProfileConfig is the YAML-facing form of one side's schedule.
// Fields are strings/floats rather than domain.TimeOfDay/AlarmConfig so
// the struct round-trips through yaml.v2 without custom marshalers,
// matching the teacher's raw-field Config shape.
type SideProfileConfig struct {
	Sleep         string    `yaml:"sleep"`
	Wake          string    `yaml:"wake"`
	TemperaturesC []float64 `yaml:"temperatures_c"`
	Alarm         string    `yaml:"alarm"` // "disabled" or "Pattern,Intensity,Duration,Offset"
}

// ProfileConfig is the YAML-facing couples profile (spec.md §3 "Profile").
type ProfileConfig struct {
	Left  SideProfileConfig `yaml:"left"`
	Right SideProfileConfig `yaml:"right"`
}

// PresenceConfigYAML is the YAML-facing form of domain.PresenceConfig.
type PresenceConfigYAML struct {
	Baselines     [6]uint16 `yaml:"baselines"`
	Threshold     uint16    `yaml:"threshold"`
	DebounceCount uint8     `yaml:"debounce_count"`
}

// LEDConfig is the YAML-facing LED idle/active pattern and current band
// (spec.md §6).
type LEDConfig struct {
	IdlePattern   string `yaml:"idle_pattern"`
	ActivePattern string `yaml:"active_pattern"`
	CurrentBand   string `yaml:"current_band"`
}

// MQTTConfig names the broker podcore's state publisher and action
// dispatcher connect to (SPEC_FULL.md §3 expansion; named but
// unspecified in spec.md §6).
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	QoS      byte   `yaml:"qos"`
}

// SerialConfig names the two UART device paths and poll timeout
// (SPEC_FULL.md §3 expansion; spec.md §6 names the devices but not a Go
// settings shape for them).
type SerialConfig struct {
	FrozenDevice  string `yaml:"frozen_device"`
	SensorDevice  string `yaml:"sensor_device"`
	PollTimeoutMS int    `yaml:"poll_timeout_ms"`
}

// Config is the on-disk configuration (spec.md §3 "Config"). It is the
// YAML marshaling shape; ProfileSnapshot, EngineConfig and PresenceConfig
// convert it to the domain types the rest of podcore consumes.
type Config struct {
	Timezone           string `yaml:"timezone"`
	AwayMode           bool   `yaml:"away_mode"`
	PrimeTime          string `yaml:"prime_time"`
	PrimeMaxDurSeconds int    `yaml:"prime_max_dur_seconds"`

	LED      LEDConfig           `yaml:"led"`
	Profile  ProfileConfig       `yaml:"profile"`
	Presence PresenceConfigYAML  `yaml:"presence"`
	MQTT     MQTTConfig          `yaml:"mqtt"`
	Serial   SerialConfig        `yaml:"serial"`
}

// Default returns a reasonable starting configuration for a freshly
// provisioned pod.
func Default() *Config {
	return &Config{
		Timezone:           "UTC",
		AwayMode:           false,
		PrimeTime:          "04:00",
		PrimeMaxDurSeconds: 600,
		LED: LEDConfig{
			IdlePattern:   "SlowBreath(0,0,255,)",
			ActivePattern: "Fixed(0,255,0,)",
			CurrentBand:   string(domain.LEDBandTwo),
		},
		Profile: ProfileConfig{
			Left:  SideProfileConfig{Sleep: "22:00", Wake: "06:00", TemperaturesC: []float64{20}, Alarm: "disabled"},
			Right: SideProfileConfig{Sleep: "22:00", Wake: "06:00", TemperaturesC: []float64{20}, Alarm: "disabled"},
		},
		Presence: PresenceConfigYAML{Threshold: 50, DebounceCount: 3},
		MQTT:     MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "podcore", QoS: 1},
		Serial: SerialConfig{
			FrozenDevice:  "/dev/ttymxc0",
			SensorDevice:  "/dev/ttymxc2",
			PollTimeoutMS: 200,
		},
	}
}

// Validate checks every field that the action dispatcher or startup path
// can mutate/load, per spec.md §7 "Config: validation failure in action
// parsing → no mutation".
func (c *Config) Validate() error {
	if _, err := parseSideProfile(c.Profile.Left); err != nil {
		return fmt.Errorf("profile.left: %w", err)
	}
	if _, err := parseSideProfile(c.Profile.Right); err != nil {
		return fmt.Errorf("profile.right: %w", err)
	}
	if _, err := domain.ParseTimeOfDay(c.PrimeTime); err != nil {
		return fmt.Errorf("prime_time: %w", err)
	}
	if c.Presence.DebounceCount < 1 {
		return fmt.Errorf("presence.debounce_count must be >= 1")
	}
	if _, err := domain.ParseLEDPattern(c.LED.IdlePattern); err != nil {
		return fmt.Errorf("led.idle_pattern: %w", err)
	}
	if _, err := domain.ParseLEDPattern(c.LED.ActivePattern); err != nil {
		return fmt.Errorf("led.active_pattern: %w", err)
	}
	if _, err := domain.ParseLEDCurrentBand(c.LED.CurrentBand); err != nil {
		return fmt.Errorf("led.current_band: %w", err)
	}
	return nil
}

func parseSideProfile(sp SideProfileConfig) (domain.SideProfile, error) {
	sleep, err := domain.ParseTimeOfDay(sp.Sleep)
	if err != nil {
		return domain.SideProfile{}, fmt.Errorf("sleep: %w", err)
	}
	wake, err := domain.ParseTimeOfDay(sp.Wake)
	if err != nil {
		return domain.SideProfile{}, fmt.Errorf("wake: %w", err)
	}
	if len(sp.TemperaturesC) == 0 {
		return domain.SideProfile{}, fmt.Errorf("temperatures_c must be non-empty")
	}
	alarm, err := domain.ParseAlarmConfig(sp.Alarm)
	if err != nil {
		return domain.SideProfile{}, fmt.Errorf("alarm: %w", err)
	}
	return domain.SideProfile{
		Sleep:         sleep,
		Wake:          wake,
		TemperaturesC: append([]float64(nil), sp.TemperaturesC...),
		Alarm:         alarm,
	}, nil
}

// ProfileSnapshot converts the YAML profile into its domain form. Callers
// must have already validated c.
func (c *Config) ProfileSnapshot() domain.Profile {
	left, _ := parseSideProfile(c.Profile.Left)
	right, _ := parseSideProfile(c.Profile.Right)
	return domain.Profile{Left: left, Right: right}
}

// EngineConfig converts c into the read-only snapshot C5 ticks against
// (spec.md §5 "every other task takes read snapshots").
func (c *Config) EngineConfig() domain.EngineConfig {
	primeTime, _ := domain.ParseTimeOfDay(c.PrimeTime)
	return domain.EngineConfig{
		AwayMode:    c.AwayMode,
		Profile:     c.ProfileSnapshot(),
		PrimeTime:   primeTime,
		PrimeMaxDur: c.PrimeMaxDurSeconds,
	}
}

// PresenceConfig converts c's YAML presence section into its domain form.
func (c *Config) PresenceConfig() domain.PresenceConfig {
	return domain.PresenceConfig{
		Baselines:     c.Presence.Baselines,
		Threshold:     c.Presence.Threshold,
		DebounceCount: c.Presence.DebounceCount,
	}
}

// IdlePattern parses the configured idle LED pattern.
func (c *Config) IdlePattern() domain.LEDPattern {
	p, _ := domain.ParseLEDPattern(c.LED.IdlePattern)
	return p
}

// ActivePattern parses the configured active LED pattern.
func (c *Config) ActivePattern() domain.LEDPattern {
	p, _ := domain.ParseLEDPattern(c.LED.ActivePattern)
	return p
}

// CurrentBand parses the configured LED current band.
func (c *Config) CurrentBand() domain.LEDCurrentBand {
	b, _ := domain.ParseLEDCurrentBand(c.LED.CurrentBand)
	return b
}

// Clone returns a deep-enough copy of c for safe mutation under the
// Store's lock (spec.md §5 "Config structure, guarded by a single
// mutex").
func (c *Config) Clone() *Config {
	cp := *c
	cp.Profile.Left.TemperaturesC = append([]float64(nil), c.Profile.Left.TemperaturesC...)
	cp.Profile.Right.TemperaturesC = append([]float64(nil), c.Profile.Right.TemperaturesC...)
	cp.Presence.Baselines = c.Presence.Baselines
	return &cp
}
