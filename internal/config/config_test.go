package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario E4: a bad action must not mutate the config or the file.
func TestSetPrimeRejectsBadTimeFormat(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "config.yaml"))
	require.NoError(t, s.Load())

	before := s.Get()

	err := s.SetPrimeTime("5:00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid time format")

	after := s.Get()
	assert.Equal(t, before.PrimeTime, after.PrimeTime)
}

// Property 10: an action round-trips through persistence.
func TestSetProfileRoundTripsThroughDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	s := NewStore(path)
	require.NoError(t, s.Load())

	require.NoError(t, s.SetProfileField("both", "sleep", "20:30"))

	got := s.Get()
	assert.Equal(t, "20:30", got.Profile.Left.Sleep)
	assert.Equal(t, "20:30", got.Profile.Right.Sleep)

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, "20:30", reloaded.Get().Profile.Left.Sleep)
}

// Precondition (spec.md §7): switching solo↔couples via a partial
// set_profile is rejected rather than silently diverging the profile.
func TestSetProfileRejectsPartialEditWhileSolo(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "config.yaml"))
	require.NoError(t, s.Load())

	require.True(t, s.Get().ProfileSnapshot().Solo())

	before := s.Get()
	err := s.SetProfileField("left", "sleep", "20:30")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "solo mode")

	after := s.Get()
	assert.Equal(t, before.Profile.Left.Sleep, after.Profile.Left.Sleep)
	assert.Equal(t, before.Profile.Right.Sleep, after.Profile.Right.Sleep)
}

// Once a profile has already diverged into couples mode (e.g. the file
// on disk was provisioned with different left/right schedules), a
// single-side edit is no longer a solo→couples transition and must
// succeed.
func TestSetProfileAllowsPartialEditOnceDiverged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Profile.Right.Wake = "05:00"
	data, err := Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	s := NewStore(path)
	require.NoError(t, s.Load())
	require.False(t, s.Get().ProfileSnapshot().Solo())

	require.NoError(t, s.SetProfileField("left", "sleep", "20:30"))
	assert.Equal(t, "20:30", s.Get().Profile.Left.Sleep)
}

func TestSetProfileRejectsUnknownTarget(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "config.yaml"))
	require.NoError(t, s.Load())

	err := s.SetProfileField("middle", "sleep", "20:30")
	require.Error(t, err)
}

func TestSetPresenceConfigFieldParsesBaselines(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "config.yaml"))
	require.NoError(t, s.Load())

	require.NoError(t, s.SetPresenceConfigField("baselines", "100,101,102,103,104,105"))

	got := s.Get()
	assert.Equal(t, [6]uint16{100, 101, 102, 103, 104, 105}, got.Presence.Baselines)
}

func TestValidateRejectsEmptyTemperatureList(t *testing.T) {
	c := Default()
	c.Profile.Left.TemperaturesC = nil
	assert.Error(t, c.Validate())
}
