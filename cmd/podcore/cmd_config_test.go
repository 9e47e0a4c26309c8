package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opensleep/podcore/internal/config"
)

func TestConfigValidateAcceptsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	store := config.NewStore(path)
	require.NoError(t, store.Load())

	data, err := config.Marshal(store.Get())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	reloaded := config.NewStore(path)
	require.NoError(t, reloaded.Load())
}
