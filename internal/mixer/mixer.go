// Package mixer implements the block-rate summing engine: per-source
// volume/mute, ducking, master volume/balance/mute, clip detection, and
// the visualizer tap and per-sink fan-out.
package mixer

import (
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/ducking"
	"github.com/hearthcast/engine/internal/errs"
	"github.com/hearthcast/engine/internal/ring"
	"github.com/hearthcast/engine/internal/source"
)

// ClipThreshold is the uniform clipping threshold applied to every
// channel regardless of path.
const ClipThreshold = 0.999

// MeterDecay is the default exponential-decay time constant for display
// smoothing of peak/RMS meters.
const MeterDecay = 300 * time.Millisecond

// SourceInput is the Mixer's view of one registered source: just enough
// to pull its ring and apply its own volume/mute/category, never the
// Source's control surface: the Mixer holds only what it needs to pull and
// gain a block, never the instance itself.
type SourceInput struct {
	ID       source.ID
	Category source.Category
	Ring     *ring.Buffer
	Volume   func() float64
	Muted    func() bool
}

// SinkOutput is one registered Sink's per-block destination ring, plus
// an optional routing whitelist; an empty or nil whitelist means "all sources".
type SinkOutput struct {
	ID        string
	Ring      *ring.Buffer
	Whitelist map[source.ID]bool // nil/empty means "all"
}

// State is the externally-observable mixer state.
type State struct {
	MasterVolume float64
	Balance      float64
	Muted        bool
	DuckingLevel float64
	PeakL, PeakR float64
	RMSL, RMSR   float64
	Clipping     bool
}

// VisualizerTap receives each mix block by reference for non-mutating
// inspection. The Mixer never waits on it.
type VisualizerTap interface {
	Process(block []float32, frame clock.Frame, blockIndex uint64)
}

// Mixer is the single writer of mix state, master meters, and sink
// queues. Every mutator other than Tick's own per-block
// sequence must come in through SetMasterVolume/SetBalance/SetMuted/
// AddSource/RemoveSource/AddSink/RemoveSink, all of which are safe to
// call from any goroutine — they only touch a mutex-protected command
// snapshot applied at the next block boundary, never shared state the
// hot Tick path reads without synchronization.
type Mixer struct {
	frame  clock.Frame
	ducker *ducking.Controller
	tap    VisualizerTap
	log    *log.Logger

	mu          sync.Mutex
	masterVol   float64
	balance     float64
	muted       bool
	sources     map[source.ID]*SourceInput
	sinks       map[string]*SinkOutput

	counter clock.Counter

	// meter decay state, touched only by Tick (the mixer thread)
	peakL, peakR float64
	rmsL, rmsR   float64
	clipping     bool
	decayPerBlock float64
}

// New constructs a Mixer at master volume 1, balance 0, unmuted.
func New(frame clock.Frame, ducker *ducking.Controller, tap VisualizerTap, logger *log.Logger) *Mixer {
	decay := math.Exp(-float64(frame.BlockDuration()) / float64(MeterDecay))
	return &Mixer{
		frame:         frame,
		ducker:        ducker,
		tap:           tap,
		log:           logger.With("component", "mixer"),
		masterVol:     1.0,
		balance:       0.0,
		sources:       make(map[source.ID]*SourceInput),
		sinks:         make(map[string]*SinkOutput),
		decayPerBlock: decay,
	}
}

func (m *Mixer) SetMasterVolume(v float64) error {
	if v < 0 || v > 1 {
		return errs.New(errs.OutOfRange, "master volume %f outside [0,1]", v)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.masterVol = v
	return nil
}

func (m *Mixer) SetBalance(b float64) error {
	if b < -1 || b > 1 {
		return errs.New(errs.OutOfRange, "balance %f outside [-1,1]", b)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = b
	return nil
}

func (m *Mixer) SetMuted(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = v
}

func (m *Mixer) AddSource(in *SourceInput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[in.ID] = in
}

func (m *Mixer) RemoveSource(id source.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, id)
}

func (m *Mixer) AddSink(out *SinkOutput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks[out.ID] = out
}

func (m *Mixer) RemoveSink(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sinks, id)
}

func (m *Mixer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		MasterVolume: m.masterVol,
		Balance:      m.balance,
		Muted:        m.muted,
		DuckingLevel: m.ducker.G(),
		PeakL:        m.peakL,
		PeakR:        m.peakR,
		RMSL:         m.rmsL,
		RMSR:         m.rmsR,
		Clipping:     m.clipping,
	}
}

// perSourceScratch holds one source's contribution for this block so it
// can be reused across the "all sinks" mix and any per-sink mixes
// without re-pulling the ring.
type perSourceScratch struct {
	id       source.ID
	category source.Category
	samples  []float32
}

// Tick processes exactly one block: pull → per-source volume/mute →
// ducking → sum → master volume/balance/mute → clip-detect/meter →
// visualizer tap → per-sink dispatch. It must
// be called at the block period by the single mixer thread
// (internal/engine owns that loop); Tick itself does not block.
func (m *Mixer) Tick(now time.Time) State {
	m.mu.Lock()
	sources := make([]*SourceInput, 0, len(m.sources))
	for _, s := range m.sources {
		sources = append(sources, s)
	}
	sinks := make([]*SinkOutput, 0, len(m.sinks))
	for _, s := range m.sinks {
		sinks = append(sinks, s)
	}
	masterVol, balance, muted := m.masterVol, m.balance, m.muted
	m.mu.Unlock()

	samplesPerBlock := m.frame.SamplesPerBlock()
	mix := make([]float32, samplesPerBlock)

	primaryG, eventG, _ := m.ducker.Evaluate(now)

	anyRouting := false
	contributions := make([]perSourceScratch, 0, len(sources))
	for _, s := range sources {
		buf := make([]float32, samplesPerBlock)
		s.Ring.Pop(buf)

		vol := s.Volume()
		if s.Muted() {
			vol = 0
		}

		g := float32(1.0)
		if s.Category == source.Primary {
			g = float32(primaryG)
		} else {
			g = float32(eventG)
		}

		for i := range buf {
			buf[i] *= float32(vol) * g
			mix[i] += buf[i]
		}

		contributions = append(contributions, perSourceScratch{id: s.ID, category: s.Category, samples: buf})
	}

	for _, s := range sinks {
		if len(s.Whitelist) > 0 {
			anyRouting = true
		}
	}

	m.applyMasterAndMeter(mix, masterVol, balance, muted)

	idx := m.counter.Next()
	if m.tap != nil {
		m.tap.Process(mix, m.frame, idx)
	}

	if !anyRouting {
		for _, s := range sinks {
			s.Ring.Push(mix)
		}
	} else {
		perSink := make([]float32, samplesPerBlock)
		for _, sink := range sinks {
			for i := range perSink {
				perSink[i] = 0
			}
			for _, c := range contributions {
				if len(sink.Whitelist) > 0 && !sink.Whitelist[c.id] {
					continue
				}
				for i := range perSink {
					perSink[i] += c.samples[i]
				}
			}
			m.applyMasterGainInPlace(perSink, masterVol, balance, muted)
			sink.Ring.Push(perSink)
		}
	}

	return m.State()
}

// applyMasterAndMeter applies master volume/balance/mute to the
// all-sinks mix and updates the shared clip/peak/RMS meters from it.
// This is the only call in a Tick that is allowed to touch the shared
// meters: a per-sink mix under a routing whitelist is a subset of the
// same signal, not a different signal, and would only clobber these
// with whichever sink happened to process last.
func (m *Mixer) applyMasterAndMeter(mix []float32, masterVol, balance float64, muted bool) {
	clip, peakL, peakR, rmsL, rmsR := m.applyMasterGainInPlace(mix, masterVol, balance, muted)
	m.mu.Lock()
	m.clipping = clip
	m.peakL = decayToward(m.peakL, float64(peakL), m.decayPerBlock)
	m.peakR = decayToward(m.peakR, float64(peakR), m.decayPerBlock)
	m.rmsL = decayToward(m.rmsL, rmsL, m.decayPerBlock)
	m.rmsR = decayToward(m.rmsR, rmsR, m.decayPerBlock)
	m.mu.Unlock()
}

// applyMasterGainInPlace applies master gain/balance/mute to buf and
// reports this buffer's own clip/peak/RMS values without touching any
// shared mixer state. Used for the primary all-sinks mix (via
// applyMasterAndMeter, which folds the result into the shared meters)
// and for every per-sink mix when routing whitelists are in effect,
// where the per-sink values are gain-applied but otherwise discarded.
func (m *Mixer) applyMasterGainInPlace(buf []float32, masterVol, balance float64, muted bool) (clip bool, peakL, peakR float32, rmsL, rmsR float64) {
	gainL, gainR := constantPowerPan(balance)
	if muted {
		gainL, gainR = 0, 0
	}
	gainL *= masterVol
	gainR *= masterVol

	var sumSqL, sumSqR float64
	channels := m.frame.Channels

	for i := 0; i < len(buf); i += channels {
		l := buf[i] * float32(gainL)
		buf[i] = l
		if a := abs32(l); a > peakL {
			peakL = a
		}
		sumSqL += float64(l) * float64(l)
		if a := abs32(l); a > ClipThreshold {
			clip = true
		}

		if channels > 1 {
			r := buf[i+1] * float32(gainR)
			buf[i+1] = r
			if a := abs32(r); a > peakR {
				peakR = a
			}
			sumSqR += float64(r) * float64(r)
			if a := abs32(r); a > ClipThreshold {
				clip = true
			}
		}
	}

	frames := len(buf) / channels
	if frames > 0 {
		rmsL = math.Sqrt(sumSqL / float64(frames))
		if channels > 1 {
			rmsR = math.Sqrt(sumSqR / float64(frames))
		}
	}

	return clip, peakL, peakR, rmsL, rmsR
}

// decayToward exponentially smooths current toward target using a
// fixed per-block decay factor. Rising meter values jump immediately
// (a louder block should be visible right away); only the fall is
// smoothed, matching how a VU-style meter reads.
func decayToward(current, target, decay float64) float64 {
	if target >= current {
		return target
	}
	return target + (current-target)*decay
}

// constantPowerPan returns per-channel gains for balance in [-1,+1]
// using an equal-power (sin/cos) pan law, normalized so balance 0 is
// unity gain on both channels (a centered balance must leave the signal
// untouched; only leaning left or right trades power between channels).
func constantPowerPan(balance float64) (gainL, gainR float64) {
	// Map balance [-1,1] to angle [0, pi/2]: -1 is hard left, +1 hard right.
	theta := (balance + 1) * math.Pi / 4
	return math.Sqrt2 * math.Cos(theta), math.Sqrt2 * math.Sin(theta)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
