// Package visualizer computes the spectrum, level meters, and waveform
// ring fed by the mixer's per-block tap. It never mutates the block it
// is handed and never blocks the mixer thread that calls Process.
package visualizer

import (
	"math"
	"math/cmplx"
	"sync"
	"time"

	"github.com/mjibson/go-dsp/fft"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/errs"
)

// DefaultFFTSize is the default spectrum window, a power of two.
const DefaultFFTSize = 2048

// DefaultSmoothing is the exponential-smoothing retention factor applied
// to successive magnitude vectors (higher retains more of the past).
const DefaultSmoothing = 0.7

// DefaultWaveformLen is the default per-channel waveform ring length.
const DefaultWaveformLen = 1024

// Window selects the analysis window applied before the FFT.
type Window int

const (
	WindowHann Window = iota
	WindowNone
)

// Options configures a Visualizer at construction time.
type Options struct {
	FFTSize      int
	Smoothing    float64
	PeakHoldMs   time.Duration
	Window       Window
	WaveformLen  int
}

// DefaultOptions matches the reference configuration.
var DefaultOptions = Options{
	FFTSize:     DefaultFFTSize,
	Smoothing:   DefaultSmoothing,
	PeakHoldMs:  500 * time.Millisecond,
	Window:      WindowHann,
	WaveformLen: DefaultWaveformLen,
}

// Spectrum is a snapshot of the latest magnitude computation.
type Spectrum struct {
	Magnitudes []float64
	Bins       []float64 // frequency center of each magnitude bin, Hz
	Timestamp  time.Time
}

// Levels is a snapshot of the latest peak/RMS metering.
type Levels struct {
	PeakL, PeakR         float64
	HeldPeakL, HeldPeakR float64
	RMSL, RMSR           float64
	PeakDbL, PeakDbR     float64
	RMSDbL, RMSDbR       float64
	Clipping             bool
	Timestamp            time.Time
}

// Waveform is a copy of the waveform ring at the time of the call.
type Waveform struct {
	Left, Right []float32
	Timestamp   time.Time
}

// Visualizer is the singleton owned by the Mixer, one per engine.
// Process is called once per block from the mixer thread; every reader
// method (Spectrum/Levels/Waveform) takes a snapshot under a mutex so
// callers never observe a half-updated array.
type Visualizer struct {
	opts  Options
	frame clock.Frame

	window  []float64
	binFreq []float64

	mu sync.Mutex

	history    []float32 // rolling mono samples, length >= opts.FFTSize
	magnitudes []float64
	clipping   bool
	active     bool

	peakL, peakR         float64
	rmsL, rmsR           float64
	heldPeakL, heldPeakR float64
	heldAtL, heldAtR     time.Time

	waveL, waveR []float32
	waveWrite    int

	timestamp time.Time
}

// New constructs a Visualizer for the given clock and options, precomputing
// the analysis window and the FFT bin center frequencies. FFTSize must be
// a power of two (the FFT and the bin-frequency math both assume it); a
// zero FFTSize defaults to DefaultFFTSize rather than being rejected.
func New(frame clock.Frame, opts Options) (*Visualizer, error) {
	if opts.FFTSize <= 0 {
		opts.FFTSize = DefaultFFTSize
	}
	if opts.FFTSize&(opts.FFTSize-1) != 0 {
		return nil, errs.New(errs.OutOfRange, "fft size %d is not a power of two", opts.FFTSize)
	}
	if opts.WaveformLen <= 0 {
		opts.WaveformLen = DefaultWaveformLen
	}

	v := &Visualizer{
		opts:       opts,
		frame:      frame,
		history:    make([]float32, opts.FFTSize),
		magnitudes: make([]float64, opts.FFTSize/2),
		waveL:      make([]float32, opts.WaveformLen),
		waveR:      make([]float32, opts.WaveformLen),
	}

	v.window = make([]float64, opts.FFTSize)
	for i := range v.window {
		switch opts.Window {
		case WindowHann:
			v.window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(opts.FFTSize-1)))
		default:
			v.window[i] = 1.0
		}
	}

	v.binFreq = make([]float64, opts.FFTSize/2)
	for k := range v.binFreq {
		v.binFreq[k] = float64(k) * float64(frame.SampleRate) / float64(opts.FFTSize)
	}

	return v, nil
}

// Process consumes one mix block by reference: it downmixes to mono for
// the spectrum, updates per-channel peak/RMS, and pushes into the
// waveform ring. It must never be called concurrently with itself (the
// mixer thread is the only caller) but is safe to call alongside any
// Spectrum/Levels/Waveform reader.
func (v *Visualizer) Process(block []float32, frame clock.Frame, blockIndex uint64) {
	channels := frame.Channels
	frames := len(block) / channels

	var sumSqL, sumSqR float64
	var peakL, peakR float32
	mono := make([]float32, frames)

	for i := 0; i < frames; i++ {
		l := block[i*channels]
		r := l
		if channels > 1 {
			r = block[i*channels+1]
		}
		mono[i] = (l + r) / 2

		if a := absf32(l); a > peakL {
			peakL = a
		}
		sumSqL += float64(l) * float64(l)
		if channels > 1 {
			if a := absf32(r); a > peakR {
				peakR = a
			}
			sumSqR += float64(r) * float64(r)
		}
	}

	clip := false
	for _, s := range block {
		if absf32(s) > 0.999 {
			clip = true
			break
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	copy(v.history, v.history[len(mono):])
	copy(v.history[len(v.history)-len(mono):], mono)
	v.computeSpectrumLocked()

	now := time.Now()
	v.peakL = float64(peakL)
	v.peakR = float64(peakR)
	v.heldPeakL, v.heldAtL = holdPeak(v.heldPeakL, v.heldAtL, v.peakL, now, v.opts.PeakHoldMs)
	v.heldPeakR, v.heldAtR = holdPeak(v.heldPeakR, v.heldAtR, v.peakR, now, v.opts.PeakHoldMs)
	if frames > 0 {
		v.rmsL = math.Sqrt(sumSqL / float64(frames))
		if channels > 1 {
			v.rmsR = math.Sqrt(sumSqR / float64(frames))
		}
	}
	v.clipping = clip

	for i := 0; i < frames; i++ {
		v.waveL[v.waveWrite] = block[i*channels]
		if channels > 1 {
			v.waveR[v.waveWrite] = block[i*channels+1]
		} else {
			v.waveR[v.waveWrite] = block[i*channels]
		}
		v.waveWrite = (v.waveWrite + 1) % len(v.waveL)
	}

	v.active = true
	v.timestamp = now
}

// holdPeak returns the peak to display: a fresh, louder reading always
// wins immediately; a quieter one is masked by the held value until
// holdMs has elapsed since the held value was last set.
func holdPeak(held float64, heldAt time.Time, fresh float64, now time.Time, holdMs time.Duration) (float64, time.Time) {
	if fresh >= held {
		return fresh, now
	}
	if now.Sub(heldAt) >= holdMs {
		return fresh, now
	}
	return held, heldAt
}

// computeSpectrumLocked windows the rolling mono history, runs the FFT,
// and exponentially smooths the resulting magnitudes. Caller holds v.mu.
func (v *Visualizer) computeSpectrumLocked() {
	n := v.opts.FFTSize
	in := make([]complex128, n)
	for i := 0; i < n; i++ {
		in[i] = complex(float64(v.history[i])*v.window[i], 0)
	}
	out := fft.FFT(in)

	alpha := 1 - v.opts.Smoothing
	for k := 0; k < n/2; k++ {
		mag := cmplx.Abs(out[k]) / float64(n)
		v.magnitudes[k] = v.opts.Smoothing*v.magnitudes[k] + alpha*mag
	}
}

// Spectrum returns the latest smoothed magnitude vector and bin centers.
func (v *Visualizer) Spectrum() Spectrum {
	v.mu.Lock()
	defer v.mu.Unlock()
	mags := make([]float64, len(v.magnitudes))
	copy(mags, v.magnitudes)
	return Spectrum{Magnitudes: mags, Bins: v.binFreq, Timestamp: v.timestamp}
}

// Levels returns the latest peak/RMS metering in linear and dBFS form.
func (v *Visualizer) Levels() Levels {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Levels{
		PeakL: v.peakL, PeakR: v.peakR,
		HeldPeakL: v.heldPeakL, HeldPeakR: v.heldPeakR,
		RMSL: v.rmsL, RMSR: v.rmsR,
		PeakDbL: toDbfs(v.peakL), PeakDbR: toDbfs(v.peakR),
		RMSDbL: toDbfs(v.rmsL), RMSDbR: toDbfs(v.rmsR),
		Clipping:  v.clipping,
		Timestamp: v.timestamp,
	}
}

// Waveform returns a copy of the waveform ring, oldest sample first.
func (v *Visualizer) Waveform() Waveform {
	v.mu.Lock()
	defer v.mu.Unlock()
	l := make([]float32, len(v.waveL))
	r := make([]float32, len(v.waveR))
	n := len(l)
	for i := 0; i < n; i++ {
		src := (v.waveWrite + i) % n
		l[i] = v.waveL[src]
		r[i] = v.waveR[src]
	}
	return Waveform{Left: l, Right: r, Timestamp: v.timestamp}
}

// Reset zeroes every internal buffer and marks the visualizer inactive
// until the next Process call.
func (v *Visualizer) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.history {
		v.history[i] = 0
	}
	for i := range v.magnitudes {
		v.magnitudes[i] = 0
	}
	for i := range v.waveL {
		v.waveL[i] = 0
		v.waveR[i] = 0
	}
	v.waveWrite = 0
	v.peakL, v.peakR, v.rmsL, v.rmsR = 0, 0, 0, 0
	v.heldPeakL, v.heldPeakR = 0, 0
	v.heldAtL, v.heldAtR = time.Time{}, time.Time{}
	v.clipping = false
	v.active = false
}

// Active reports whether Process has been called since construction or
// the last Reset.
func (v *Visualizer) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

func toDbfs(linear float64) float64 {
	return 20 * math.Log10(math.Max(linear, 1e-9))
}

func absf32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
