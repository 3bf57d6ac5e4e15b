package source

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/errs"
	"github.com/hearthcast/engine/internal/radiohw"
	"github.com/hearthcast/engine/internal/ring"
	"github.com/hearthcast/engine/internal/usbarbiter"
)

// ScanDirection is the tuner's seek direction during a scan.
type ScanDirection int

const (
	ScanNone ScanDirection = iota
	ScanUp
	ScanDown
)

// Radio is the tuned-receiver Primary source (Radio-specific
// extension). It owns an exclusive reservation on the rig's control
// path for its entire Initializing..Disposed span.
type Radio struct {
	*Base
	*player

	rig      radiohw.Rig
	arbiter  *usbarbiter.Arbiter
	path     string
	log      *log.Logger

	frequency float64
	band      radiohw.Band
	step      float64
	scanning  ScanDirection
	eqMode    string
}

// NewRadio constructs a Radio source bound to rig over exclusive path
// (e.g. "/dev/ttyUSB0" for a CAT-controlled tuner). audioFeeder supplies
// the demodulated receiver audio — a CaptureFeeder reading the tuner's
// analog output in the common case.
func NewRadio(name string, rig radiohw.Rig, arbiter *usbarbiter.Arbiter, path string, audioFeeder Feeder, frame clock.Frame, logger *log.Logger) *Radio {
	ringBuf := ring.New(frame.SamplesPerBlock(), 8, ring.DropOldest)
	caps := CapPlay | CapPause | CapStop
	base := NewBase(name, TypeRadio, caps, 0, ringBuf)
	return &Radio{
		Base:      base,
		player:    newPlayer(base, audioFeeder, frame, logger.With("source", name)),
		rig:       rig,
		arbiter:   arbiter,
		path:      path,
		log:       logger.With("source", name),
		frequency: 100_000_000,
		band:      radiohw.BandFM,
		step:      100_000,
	}
}

func (r *Radio) Initialize(ctx context.Context) error {
	if err := r.BeginInitializing(); err != nil {
		return err
	}
	if err := r.arbiter.Reserve(r.path, string(r.ID())); err != nil {
		_ = r.FailInitializing()
		return err
	}
	if err := r.rig.Open(); err != nil {
		r.arbiter.Release(r.path, string(r.ID()))
		_ = r.FailInitializing()
		return err
	}
	return r.FinishInitializing()
}

func (r *Radio) Play(ctx context.Context) error {
	if err := r.BeginPlaying(); err != nil {
		return err
	}
	if err := r.rig.SetHardMute(false); err != nil {
		r.log.Warn("hard unmute failed", "error", err)
	}
	r.markFadeInOnResume()
	r.player.start()
	return nil
}

func (r *Radio) Pause(ctx context.Context) error {
	r.markFadeOutOnPause()
	if err := r.rig.SetHardMute(true); err != nil {
		r.log.Warn("hard mute failed", "error", err)
	}
	return r.BeginPausing()
}

func (r *Radio) Stop(ctx context.Context) error {
	if err := r.rig.SetHardMute(true); err != nil {
		r.log.Warn("hard mute failed", "error", err)
	}
	err := r.BeginStopping()
	r.player.stop()
	return err
}

func (r *Radio) Dispose(ctx context.Context) error {
	r.player.stop()
	_ = r.rig.Close()
	r.arbiter.ReleaseAll(string(r.ID()))
	return r.BeginDisposing()
}

func (r *Radio) Seek(ctx context.Context, position float64) error { return r.CheckSeekable() }
func (r *Radio) Next(ctx context.Context) error                   { return r.CheckNext() }
func (r *Radio) Previous(ctx context.Context) error                { return r.CheckPrevious() }
func (r *Radio) SetShuffle(ctx context.Context, on bool) error      { return r.CheckShuffle() }
func (r *Radio) SetRepeat(ctx context.Context, mode RepeatMode) error {
	return r.CheckRepeat()
}
func (r *Radio) Position() (pos, duration float64, ok bool) { return 0, 0, false }

// SetFrequency tunes synchronously from the caller's perspective but may
// take up to radiohw.SettleBudget for hardware settling.
func (r *Radio) SetFrequency(ctx context.Context, hz float64) error {
	deadline := time.Now().Add(radiohw.SettleBudget)
	if err := r.rig.SetFrequency(hz); err != nil {
		return err
	}
	r.frequency = hz
	if time.Now().After(deadline) {
		r.log.Warn("frequency settle exceeded budget", "hz", hz)
	}
	return nil
}

func (r *Radio) Frequency() float64 { return r.frequency }

func (r *Radio) SetBand(band radiohw.Band) error {
	if err := r.rig.SetBand(band); err != nil {
		return err
	}
	r.band = band
	return nil
}

func (r *Radio) Band() radiohw.Band { return r.band }

func (r *Radio) SetStep(hz float64) error {
	if hz <= 0 {
		return errs.New(errs.OutOfRange, "step must be positive")
	}
	r.step = hz
	return nil
}

func (r *Radio) SignalStrength() float64 {
	v, err := r.rig.SignalStrength()
	if err != nil {
		return 0
	}
	return v
}

func (r *Radio) IsStereo() bool {
	v, err := r.rig.IsStereo()
	if err != nil {
		return false
	}
	return v
}

func (r *Radio) EqualizerMode() string      { return r.eqMode }
func (r *Radio) SetEqualizerMode(m string)  { r.eqMode = m }

// Scan starts seeking in the given direction by Step increments; the
// caller (control plane) polls Frequency/SignalStrength and calls
// Scan(ScanNone) to stop. Scanning itself is driven by the control
// plane's command loop, not a dedicated goroutine here, matching
// Capability operations enqueue and are observed at block
// boundaries rather than spawning their own concurrency.
func (r *Radio) Scan(direction ScanDirection) {
	r.scanning = direction
}

func (r *Radio) ScanDirection() ScanDirection { return r.scanning }
