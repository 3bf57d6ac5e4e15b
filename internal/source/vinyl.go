package source

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/ring"
	"github.com/hearthcast/engine/internal/usbarbiter"
)

// Vinyl is the turntable/USB line-in Primary source. A USB turntable's
// control/power path is claimed exclusively for its Initializing..
// Disposed span exactly like Radio's tuner path; an
// analog line-in with no USB device simply passes an empty path, and
// Reserve/Release become no-ops against a path no one else contends for.
type Vinyl struct {
	*Base
	*player

	arbiter *usbarbiter.Arbiter
	path    string
	capture *CaptureFeeder
}

// NewVinyl constructs a Vinyl source reading live audio from capture.
func NewVinyl(name string, capture *CaptureFeeder, arbiter *usbarbiter.Arbiter, path string, frame clock.Frame, logger *log.Logger) *Vinyl {
	ringBuf := ring.New(frame.SamplesPerBlock(), 8, ring.DropOldest)
	caps := CapPlay | CapPause | CapStop
	base := NewBase(name, TypeVinyl, caps, 0, ringBuf)
	return &Vinyl{
		Base:    base,
		player:  newPlayer(base, capture, frame, logger.With("source", name)),
		arbiter: arbiter,
		path:    path,
		capture: capture,
	}
}

func (v *Vinyl) Initialize(ctx context.Context) error {
	if err := v.BeginInitializing(); err != nil {
		return err
	}
	if v.path != "" {
		if err := v.arbiter.Reserve(v.path, string(v.ID())); err != nil {
			_ = v.FailInitializing()
			return err
		}
	}
	return v.FinishInitializing()
}

func (v *Vinyl) Play(ctx context.Context) error {
	if err := v.BeginPlaying(); err != nil {
		return err
	}
	v.markFadeInOnResume()
	v.player.start()
	return nil
}

func (v *Vinyl) Pause(ctx context.Context) error {
	v.markFadeOutOnPause()
	return v.BeginPausing()
}

func (v *Vinyl) Stop(ctx context.Context) error {
	err := v.BeginStopping()
	v.player.stop()
	return err
}

func (v *Vinyl) Dispose(ctx context.Context) error {
	v.player.stop()
	if v.capture != nil {
		_ = v.capture.Close()
	}
	v.arbiter.ReleaseAll(string(v.ID()))
	return v.BeginDisposing()
}

func (v *Vinyl) Seek(ctx context.Context, position float64) error { return v.CheckSeekable() }
func (v *Vinyl) Next(ctx context.Context) error                   { return v.CheckNext() }
func (v *Vinyl) Previous(ctx context.Context) error                { return v.CheckPrevious() }
func (v *Vinyl) SetShuffle(ctx context.Context, on bool) error      { return v.CheckShuffle() }
func (v *Vinyl) SetRepeat(ctx context.Context, mode RepeatMode) error {
	return v.CheckRepeat()
}
func (v *Vinyl) Position() (pos, duration float64, ok bool) { return 0, 0, false }
