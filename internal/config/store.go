package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/opensleep/podcore/internal/common/logger"
	"github.com/opensleep/podcore/internal/domain"
)

// Store owns the single in-memory Config handle, guards every mutation
// with a mutex, and persists atomically before a mutation is considered
// durable (spec.md §3 "Config" lifecycle, §5 "guarded by a single
// mutex", §6 "Writes are atomic (temp + rename)").
type Store struct {
	path string

	mu  sync.Mutex
	cur *Config
}

// NewStore creates a Store bound to a YAML file path. Load must be
// called before Get/mutation methods return meaningful data.
func NewStore(path string) *Store {
	return &Store{path: path, cur: Default()}
}

// Load reads the config file, falling back to Default() if it does not
// exist yet (first boot). A malformed or invalid file is an error; the
// Store's in-memory config is left unchanged in that case.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("config: %s not found, using defaults", s.path)
			s.cur = Default()
			return nil
		}
		return fmt.Errorf("config: read %s: %w", s.path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", s.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: invalid %s: %w", s.path, err)
	}

	s.cur = cfg
	logger.Info("config: loaded %s", s.path)
	return nil
}

// Marshal renders cfg as YAML, the same encoding Store persists to disk.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Path returns the backing file path, for callers that want to watch it
// for external edits (e.g. an operator hand-editing the YAML on disk).
func (s *Store) Path() string { return s.path }

// Get returns a deep-enough copy of the current config; callers must not
// mutate it.
func (s *Store) Get() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.Clone()
}

// save writes cfg to s.path via write-temp-then-rename, grounded on
// internal/common/state.Manager.SaveFloorPlan's atomic write. Caller
// must hold s.mu.
func (s *Store) save(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: create dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config: rename temp file: %w", err)
	}
	return nil
}

// mutate applies fn to a clone of the current config, validates it,
// persists it, and only then swaps it in as current. On any failure the
// in-memory config is untouched (spec.md §7 "Persistence: failed
// durable write → original config restored in memory").
func (s *Store) mutate(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.cur = next
	return nil
}

// SetAwayMode implements the set_away_mode action (spec.md §6).
func (s *Store) SetAwayMode(v bool) error {
	return s.mutate(func(c *Config) error {
		c.AwayMode = v
		return nil
	})
}

// SetPrimeTime implements the set_prime action. value must match
// spec.md §6's strict HH:MM regex.
func (s *Store) SetPrimeTime(value string) error {
	if _, err := domain.ParseTimeOfDay(value); err != nil {
		return err
	}
	return s.mutate(func(c *Config) error {
		c.PrimeTime = value
		return nil
	})
}

// SetProfileField implements one TARGET.FIELD=VALUE assignment of the
// set_profile action (spec.md §6). target is "left", "right", or "both".
func (s *Store) SetProfileField(target, field, value string) error {
	return s.mutate(func(c *Config) error {
		if target == "left" || target == "right" {
			if c.ProfileSnapshot().Solo() {
				return fmt.Errorf("profile is in solo mode: set_profile on %q alone would switch to couples mode; use target=\"both\" or diverge both sides explicitly", target)
			}
		}

		apply := func(sp *SideProfileConfig) error {
			switch field {
			case "sleep":
				if _, err := domain.ParseTimeOfDay(value); err != nil {
					return fmt.Errorf("invalid sleep time: %w", err)
				}
				sp.Sleep = value
			case "wake":
				if _, err := domain.ParseTimeOfDay(value); err != nil {
					return fmt.Errorf("invalid wake time: %w", err)
				}
				sp.Wake = value
			case "temperatures":
				temps, err := parseTemperatureList(value)
				if err != nil {
					return err
				}
				sp.TemperaturesC = temps
			case "alarm":
				if _, err := domain.ParseAlarmConfig(value); err != nil {
					return fmt.Errorf("invalid alarm: %w", err)
				}
				sp.Alarm = value
			default:
				return fmt.Errorf("unknown profile field %q", field)
			}
			return nil
		}

		switch target {
		case "left":
			return apply(&c.Profile.Left)
		case "right":
			return apply(&c.Profile.Right)
		case "both":
			if err := apply(&c.Profile.Left); err != nil {
				return err
			}
			return apply(&c.Profile.Right)
		default:
			return fmt.Errorf("unknown profile target %q", target)
		}
	})
}

func parseTemperatureList(value string) ([]float64, error) {
	parts := strings.Split(value, ",")
	temps := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature %q", p)
		}
		temps = append(temps, v)
	}
	if len(temps) == 0 {
		return nil, fmt.Errorf("temperatures must be non-empty")
	}
	return temps, nil
}

// SetPresenceConfigField implements one FIELD=VALUE assignment of the
// set_presence_config action (spec.md §6).
func (s *Store) SetPresenceConfigField(field, value string) error {
	return s.mutate(func(c *Config) error {
		switch field {
		case "baselines":
			baselines, err := parseBaselines(value)
			if err != nil {
				return err
			}
			c.Presence.Baselines = baselines
		case "threshold":
			v, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return fmt.Errorf("invalid threshold %q", value)
			}
			c.Presence.Threshold = uint16(v)
		case "debounce_count":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v < 1 {
				return fmt.Errorf("invalid debounce_count %q", value)
			}
			c.Presence.DebounceCount = uint8(v)
		default:
			return fmt.Errorf("unknown presence field %q", field)
		}
		return nil
	})
}

func parseBaselines(value string) ([6]uint16, error) {
	var out [6]uint16
	parts := strings.Split(value, ",")
	if len(parts) != 6 {
		return out, fmt.Errorf("baselines must have exactly 6 values")
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return out, fmt.Errorf("invalid baseline %q", p)
		}
		out[i] = uint16(v)
	}
	return out, nil
}

// SetPresenceBaselines is called by the calibration action (spec.md §4.4,
// scenario E2) with the means C4's Calibrator computed, bypassing the
// FIELD=VALUE string grammar since the caller already has the values.
func (s *Store) SetPresenceBaselines(baselines [6]uint16) error {
	return s.mutate(func(c *Config) error {
		c.Presence.Baselines = baselines
		return nil
	})
}
