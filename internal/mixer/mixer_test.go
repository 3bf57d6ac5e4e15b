package mixer_test

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/ducking"
	"github.com/hearthcast/engine/internal/mixer"
	"github.com/hearthcast/engine/internal/ring"
	"github.com/hearthcast/engine/internal/source"
)

func testLogger() *log.Logger { return log.New(io.Discard) }

func constVolume(v float64) func() float64 { return func() float64 { return v } }
func neverMuted() bool                     { return false }

func TestSilenceInSilenceOut(t *testing.T) {
	frame := clock.Default
	m := mixer.New(frame, ducking.New(ducking.DefaultOptions), nil, testLogger())

	srcRing := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	m.AddSource(&mixer.SourceInput{
		ID: source.NewID(), Category: source.Primary, Ring: srcRing,
		Volume: constVolume(1.0), Muted: neverMuted,
	})

	sinkRing := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	m.AddSink(&mixer.SinkOutput{ID: "local", Ring: sinkRing})

	m.Tick(time.Unix(0, 0))

	out := make([]float32, frame.SamplesPerBlock())
	require.Equal(t, ring.PopOk, sinkRing.Pop(out))
	for _, s := range out {
		assert.Equal(t, float32(0), s)
	}
}

func TestVolumeScalesOutput(t *testing.T) {
	frame := clock.Default
	m := mixer.New(frame, ducking.New(ducking.DefaultOptions), nil, testLogger())

	block := frame.NewBlock()
	for i := range block {
		block[i] = 0.5
	}
	srcRing := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	srcRing.Push(block)

	m.AddSource(&mixer.SourceInput{
		ID: source.NewID(), Category: source.Primary, Ring: srcRing,
		Volume: constVolume(0.5), Muted: neverMuted,
	})
	sinkRing := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	m.AddSink(&mixer.SinkOutput{ID: "local", Ring: sinkRing})

	m.Tick(time.Unix(0, 0))

	out := make([]float32, frame.SamplesPerBlock())
	require.Equal(t, ring.PopOk, sinkRing.Pop(out))
	for _, s := range out {
		assert.InDelta(t, 0.25, s, 1e-6)
	}
}

func TestMuteProducesSilence(t *testing.T) {
	frame := clock.Default
	m := mixer.New(frame, ducking.New(ducking.DefaultOptions), nil, testLogger())

	block := frame.NewBlock()
	for i := range block {
		block[i] = 1.0
	}
	srcRing := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	srcRing.Push(block)

	m.AddSource(&mixer.SourceInput{
		ID: source.NewID(), Category: source.Primary, Ring: srcRing,
		Volume: constVolume(1.0), Muted: func() bool { return true },
	})
	sinkRing := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	m.AddSink(&mixer.SinkOutput{ID: "local", Ring: sinkRing})

	m.Tick(time.Unix(0, 0))

	out := make([]float32, frame.SamplesPerBlock())
	require.Equal(t, ring.PopOk, sinkRing.Pop(out))
	for _, s := range out {
		assert.Equal(t, float32(0), s)
	}
}

func TestClipDetection(t *testing.T) {
	frame := clock.Default
	m := mixer.New(frame, ducking.New(ducking.DefaultOptions), nil, testLogger())

	block := frame.NewBlock()
	for i := range block {
		block[i] = 1.0
	}
	a := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	a.Push(block)
	b := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	b.Push(block)

	m.AddSource(&mixer.SourceInput{ID: "a", Category: source.Primary, Ring: a, Volume: constVolume(1.0), Muted: neverMuted})
	m.AddSource(&mixer.SourceInput{ID: "b", Category: source.Event, Ring: b, Volume: constVolume(1.0), Muted: neverMuted})
	sinkRing := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	m.AddSink(&mixer.SinkOutput{ID: "local", Ring: sinkRing})

	st := m.Tick(time.Unix(0, 0))
	assert.True(t, st.Clipping)
}

func TestRoutingWhitelistIsolatesSinks(t *testing.T) {
	frame := clock.Default
	m := mixer.New(frame, ducking.New(ducking.DefaultOptions), nil, testLogger())

	loud := frame.NewBlock()
	for i := range loud {
		loud[i] = 0.4
	}
	quiet := frame.NewBlock()
	for i := range quiet {
		quiet[i] = 0.1
	}

	idA := source.ID("a")
	idB := source.ID("b")

	ra := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	ra.Push(loud)
	rb := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	rb.Push(quiet)

	m.AddSource(&mixer.SourceInput{ID: idA, Category: source.Primary, Ring: ra, Volume: constVolume(1.0), Muted: neverMuted})
	m.AddSource(&mixer.SourceInput{ID: idB, Category: source.Primary, Ring: rb, Volume: constVolume(1.0), Muted: neverMuted})

	onlyA := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	onlyB := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	m.AddSink(&mixer.SinkOutput{ID: "sinkA", Ring: onlyA, Whitelist: map[source.ID]bool{idA: true}})
	m.AddSink(&mixer.SinkOutput{ID: "sinkB", Ring: onlyB, Whitelist: map[source.ID]bool{idB: true}})

	m.Tick(time.Unix(0, 0))

	outA := make([]float32, frame.SamplesPerBlock())
	require.Equal(t, ring.PopOk, onlyA.Pop(outA))
	outB := make([]float32, frame.SamplesPerBlock())
	require.Equal(t, ring.PopOk, onlyB.Pop(outB))

	assert.InDelta(t, 0.4, outA[0], 1e-6)
	assert.InDelta(t, 0.1, outB[0], 1e-6)
}

// TestMetersReflectMasterMixUnderRouting guards against per-sink
// buffers clobbering the shared peak/RMS meters: with a routing
// whitelist in play, State().PeakL must come from the full mix (both
// sources summed), not from whichever sink's buffer was processed last.
func TestMetersReflectMasterMixUnderRouting(t *testing.T) {
	frame := clock.Default
	m := mixer.New(frame, ducking.New(ducking.DefaultOptions), nil, testLogger())

	loud := frame.NewBlock()
	for i := range loud {
		loud[i] = 0.4
	}
	quiet := frame.NewBlock()
	for i := range quiet {
		quiet[i] = 0.1
	}

	idA := source.ID("a")
	idB := source.ID("b")

	ra := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	ra.Push(loud)
	rb := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	rb.Push(quiet)

	m.AddSource(&mixer.SourceInput{ID: idA, Category: source.Primary, Ring: ra, Volume: constVolume(1.0), Muted: neverMuted})
	m.AddSource(&mixer.SourceInput{ID: idB, Category: source.Primary, Ring: rb, Volume: constVolume(1.0), Muted: neverMuted})

	onlyA := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	onlyB := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	m.AddSink(&mixer.SinkOutput{ID: "sinkA", Ring: onlyA, Whitelist: map[source.ID]bool{idA: true}})
	m.AddSink(&mixer.SinkOutput{ID: "sinkB", Ring: onlyB, Whitelist: map[source.ID]bool{idB: true}})

	st := m.Tick(time.Unix(0, 0))

	// master mix is 0.4+0.1 = 0.5 on every sample, neither sink alone.
	assert.InDelta(t, 0.5, st.PeakL, 1e-6)
	assert.InDelta(t, 0.5, st.PeakR, 1e-6)
}
