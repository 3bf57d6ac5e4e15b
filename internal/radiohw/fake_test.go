package radiohw_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcast/engine/internal/radiohw"
)

func TestFakeRigTracksTuningState(t *testing.T) {
	rig := radiohw.NewFake()
	require.NoError(t, rig.Open())
	defer rig.Close()

	require.NoError(t, rig.SetFrequency(101_500_000))
	hz, err := rig.Frequency()
	require.NoError(t, err)
	assert.Equal(t, 101_500_000.0, hz)

	require.NoError(t, rig.SetBand(radiohw.BandFM))
	rig.SetStrength(0.8)
	strength, err := rig.SignalStrength()
	require.NoError(t, err)
	assert.Equal(t, 0.8, strength)

	rig.SetStereo(true)
	stereo, err := rig.IsStereo()
	require.NoError(t, err)
	assert.True(t, stereo)
}

func TestFakeRigHardMuteRoundTrips(t *testing.T) {
	rig := radiohw.NewFake()
	require.NoError(t, rig.Open())
	defer rig.Close()

	assert.False(t, rig.HardMuted())
	require.NoError(t, rig.SetHardMute(true))
	assert.True(t, rig.HardMuted())
	require.NoError(t, rig.SetHardMute(false))
	assert.False(t, rig.HardMuted())
}
