package source_test

import (
	"context"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/radiohw"
	"github.com/hearthcast/engine/internal/source"
	"github.com/hearthcast/engine/internal/usbarbiter"
)

func radioTestLogger() *log.Logger { return log.New(io.Discard) }

func TestRadioTogglesHardMuteAcrossTransport(t *testing.T) {
	rig := radiohw.NewFake()
	arbiter := usbarbiter.New(radioTestLogger())
	feeder := source.NewClipFeeder(make([]float32, clock.Default.Channels*clock.Default.FramesPerBlock*4))

	r := source.NewRadio("tuner", rig, arbiter, "/dev/ttyUSB0", feeder, clock.Default, radioTestLogger())
	require.NoError(t, r.Initialize(context.Background()))

	require.NoError(t, r.Play(context.Background()))
	assert.False(t, rig.HardMuted())

	require.NoError(t, r.Pause(context.Background()))
	assert.True(t, rig.HardMuted())

	require.NoError(t, r.Stop(context.Background()))
	assert.True(t, rig.HardMuted())

	require.NoError(t, r.Dispose(context.Background()))
}
