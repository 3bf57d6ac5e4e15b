package source_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/errs"
	"github.com/hearthcast/engine/internal/source"
)

func testLogger() *log.Logger { return log.New(io.Discard) }

func TestFilePlayerLifecycleAndCompletion(t *testing.T) {
	ctx := context.Background()
	samples := make([]float32, clock.Default.SamplesPerBlock()*2)
	for i := range samples {
		samples[i] = 0.25
	}

	fp := source.NewFilePlayer("test-file", samples, clock.Default, testLogger())
	require.NoError(t, fp.Initialize(ctx))
	assert.Equal(t, source.Ready, fp.State())

	require.NoError(t, fp.Play(ctx))
	assert.Equal(t, source.Playing, fp.State())

	require.NoError(t, fp.Pause(ctx))
	assert.Equal(t, source.Paused, fp.State())

	require.NoError(t, fp.Play(ctx))
	require.NoError(t, fp.Stop(ctx))
	assert.Equal(t, source.Stopped, fp.State())

	require.NoError(t, fp.Dispose(ctx))
	assert.Equal(t, source.Disposed, fp.State())
}

func TestEventSourceAutoDisposesOnCompletion(t *testing.T) {
	ctx := context.Background()
	samples := make([]float32, clock.Default.Channels*4) // a handful of frames, < 1 block
	for i := range samples {
		samples[i] = 0.5
	}

	ev := source.NewEventSource(source.TypeChime, "doorbell", samples, 5, clock.Default, testLogger())
	require.NoError(t, ev.Initialize(ctx))
	require.NoError(t, ev.Play(ctx))

	select {
	case <-ev.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("event source did not signal completion")
	}

	assert.Equal(t, source.Disposed, ev.State())
}

func TestUnsupportedCapabilityReturnsUnsupported(t *testing.T) {
	ctx := context.Background()
	ev := source.NewEventSource(source.TypeChime, "doorbell", []float32{0, 0}, 0, clock.Default, testLogger())
	require.NoError(t, ev.Initialize(ctx))
	require.NoError(t, ev.Play(ctx))

	err := ev.Seek(ctx, 0.5)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Unsupported))
}

func TestVolumeOutOfRange(t *testing.T) {
	fp := source.NewFilePlayer("f", []float32{0, 0}, clock.Default, testLogger())
	err := fp.SetVolume(1.5)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.OutOfRange))
}
