package visualizer_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/visualizer"
)

func TestMagnitudeLengthMatchesFFTHalf(t *testing.T) {
	frame := clock.Default
	v, err := visualizer.New(frame, visualizer.DefaultOptions)
	require.NoError(t, err)

	block := frame.NewBlock()
	v.Process(block, frame, 1)

	spec := v.Spectrum()
	require.Len(t, spec.Magnitudes, visualizer.DefaultOptions.FFTSize/2)
	require.Len(t, spec.Bins, visualizer.DefaultOptions.FFTSize/2)
}

func TestSineProducesPeakNearExpectedBin(t *testing.T) {
	frame := clock.Frame{SampleRate: 48000, Channels: 2, FramesPerBlock: 1024}
	opts := visualizer.DefaultOptions
	opts.FFTSize = 2048
	opts.Smoothing = 0 // no smoothing, read the raw magnitude immediately
	v, err := visualizer.New(frame, opts)
	require.NoError(t, err)

	freq := 440.0
	// Feed enough blocks to fill the FFT window with the tone.
	totalSamples := opts.FFTSize*2 + frame.FramesPerBlock
	t64 := 0.0
	for totalSamples > 0 {
		block := frame.NewBlock()
		for i := 0; i < frame.FramesPerBlock; i++ {
			s := float32(0.8 * math.Sin(2*math.Pi*freq*t64))
			block[i*2] = s
			block[i*2+1] = s
			t64 += 1.0 / float64(frame.SampleRate)
		}
		v.Process(block, frame, 1)
		totalSamples -= frame.SamplesPerBlock()
	}

	spec := v.Spectrum()
	peakBin := 0
	peakMag := 0.0
	for k, m := range spec.Magnitudes {
		if m > peakMag {
			peakMag = m
			peakBin = k
		}
	}
	assert.InDelta(t, freq, spec.Bins[peakBin], spec.Bins[1]-spec.Bins[0])
}

func TestWaveformRingLengthAndOrder(t *testing.T) {
	frame := clock.Default
	opts := visualizer.DefaultOptions
	opts.WaveformLen = 64
	v, err := visualizer.New(frame, opts)
	require.NoError(t, err)

	block := frame.NewBlock()
	for i := range block {
		block[i] = float32(i)
	}
	v.Process(block, frame, 1)

	wf := v.Waveform()
	assert.Len(t, wf.Left, 64)
	assert.Len(t, wf.Right, 64)
}

func TestResetClearsState(t *testing.T) {
	frame := clock.Default
	v, err := visualizer.New(frame, visualizer.DefaultOptions)
	require.NoError(t, err)

	block := frame.NewBlock()
	for i := range block {
		block[i] = 1.0
	}
	v.Process(block, frame, 1)
	assert.True(t, v.Active())

	v.Reset()
	assert.False(t, v.Active())

	lv := v.Levels()
	assert.Equal(t, 0.0, lv.PeakL)
}

func TestNewRejectsNonPowerOfTwoFFTSize(t *testing.T) {
	frame := clock.Default
	opts := visualizer.DefaultOptions
	opts.FFTSize = 1000
	_, err := visualizer.New(frame, opts)
	require.Error(t, err)
}

func TestClippingMirrorsBlock(t *testing.T) {
	frame := clock.Default
	v, err := visualizer.New(frame, visualizer.DefaultOptions)
	require.NoError(t, err)

	block := frame.NewBlock()
	block[0] = 1.0
	v.Process(block, frame, 1)

	assert.True(t, v.Levels().Clipping)
}
