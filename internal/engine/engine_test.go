package engine_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/config"
	"github.com/hearthcast/engine/internal/ducking"
	"github.com/hearthcast/engine/internal/engine"
	"github.com/hearthcast/engine/internal/sink"
	"github.com/hearthcast/engine/internal/source"
)

func testLogger() *log.Logger { return log.New(io.Discard) }

func newTestSink(id string) *sink.HttpBroadcast {
	return sink.NewHttpBroadcast(id, 1, clock.Default, testLogger())
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(clock.Default, config.Default(), testLogger())
	require.NoError(t, err)
	return e
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	assert.Equal(t, engine.Uninitialized, e.State())

	require.NoError(t, e.Initialize(ctx))
	assert.Equal(t, engine.Ready, e.State())

	require.NoError(t, e.Start(ctx))
	assert.Equal(t, engine.Running, e.State())

	require.NoError(t, e.Pause())
	assert.Equal(t, engine.Paused, e.State())
	require.NoError(t, e.Resume())
	assert.Equal(t, engine.Running, e.State())

	require.NoError(t, e.Stop(ctx))
	assert.Equal(t, engine.Stopped, e.State())
}

func TestSwitchPrimarySwapsActiveSource(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Initialize(ctx))
	require.NoError(t, e.Start(ctx))
	defer e.Stop(ctx)

	samplesA := make([]float32, clock.Default.SamplesPerBlock()*4)
	samplesB := make([]float32, clock.Default.SamplesPerBlock()*4)
	a := source.NewFilePlayer("a", samplesA, clock.Default, testLogger())
	b := source.NewFilePlayer("b", samplesB, clock.Default, testLogger())

	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, e.RegisterSource(a))
	require.NoError(t, e.SwitchPrimary(ctx, a.ID()))

	require.NoError(t, b.Initialize(ctx))
	require.NoError(t, e.RegisterSource(b))
	require.NoError(t, e.SwitchPrimary(ctx, b.ID()))

	_, primary := e.ListSources()
	assert.Equal(t, b.ID(), primary)
	assert.Equal(t, source.Stopped, a.State())
	assert.Equal(t, source.Playing, b.State())
}

func TestCycleSourceWrapsAroundPrimaries(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Initialize(ctx))
	require.NoError(t, e.Start(ctx))
	defer e.Stop(ctx)

	a := source.NewFilePlayer("a", make([]float32, clock.Default.SamplesPerBlock()*4), clock.Default, testLogger())
	b := source.NewFilePlayer("b", make([]float32, clock.Default.SamplesPerBlock()*4), clock.Default, testLogger())
	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, e.RegisterSource(a))
	require.NoError(t, b.Initialize(ctx))
	require.NoError(t, e.RegisterSource(b))

	require.NoError(t, e.SwitchPrimary(ctx, a.ID()))
	require.NoError(t, e.CycleSource(ctx))
	_, primary := e.ListSources()
	assert.Equal(t, b.ID(), primary)

	require.NoError(t, e.CycleSource(ctx))
	_, primary = e.ListSources()
	assert.Equal(t, a.ID(), primary)
}

func TestSpawnEventAutoCleansUpAndEndsDucking(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Initialize(ctx))
	require.NoError(t, e.Start(ctx))
	defer e.Stop(ctx)

	samples := make([]float32, clock.Default.Channels*4) // under one block
	chime := source.NewEventSource(source.TypeChime, "doorbell", samples, 5, clock.Default, testLogger())

	id, err := e.SpawnEvent(ctx, engine.EventSpec{
		Source:   chime,
		Policy:   ducking.AttenuatePrimary,
		Priority: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, chime.ID(), id)

	require.Eventually(t, func() bool {
		return chime.State() == source.Disposed
	}, 2*time.Second, 10*time.Millisecond)

	ids, _ := e.ListSources()
	assert.NotContains(t, ids, chime.ID())
}

func TestUsbReservationsReflectArbiter(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Arbiter().Reserve("/dev/ttyUSB0", "radio-1"))

	reservations := e.UsbReservations()
	assert.Equal(t, "radio-1", reservations["/dev/ttyUSB0"])
}

func TestAddSinkRegistersWithMixerAndManager(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Initialize(ctx))
	require.NoError(t, e.Start(ctx))
	defer e.Stop(ctx)

	s := newTestSink("broadcast")
	require.NoError(t, e.AddSink(ctx, s))

	require.Eventually(t, func() bool {
		return e.SinkManager().Active() != "" || s.Status() == sink.StatusReady
	}, time.Second, 10*time.Millisecond)
}

func TestCommandQueueRejectsWhenFull(t *testing.T) {
	e := newTestEngine(t)
	// The queue only drains once the mixer loop is running; with the
	// engine never started every enqueue lands in the same buffer.
	var lastErr error
	for i := 0; i < 1000; i++ {
		lastErr = e.SetMasterVolume(0.5)
	}
	require.Error(t, lastErr)
}
