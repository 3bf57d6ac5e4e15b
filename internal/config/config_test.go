package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcast/engine/internal/config"
	"github.com/hearthcast/engine/internal/errs"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hearthcast.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audio:\n  master_volume: 0.5\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Audio.MasterVolume)
	assert.Equal(t, 48000, cfg.Audio.SampleRate) // untouched default
}

func TestLoadRejectsOutOfRangeVolume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audio:\n  master_volume: 2.0\n"), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.OutOfRange))
}

func TestWithMasterVolumeDoesNotMutateOriginal(t *testing.T) {
	base := config.Default()
	next := base.WithMasterVolume(0.2)
	assert.Equal(t, 1.0, base.Audio.MasterVolume)
	assert.Equal(t, 0.2, next.Audio.MasterVolume)
}
