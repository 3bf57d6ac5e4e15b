package source

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/ring"
)

// EventSource is a short-lived overlay source (Tts, Chime, Notification,
// Effect). It plays a fixed clip once and then
// auto-transitions Playing->Stopped->Disposed; multiple EventSources
// over the same underlying clip may coexist ("overlap").
type EventSource struct {
	*Base
	*player
}

// NewEventSource constructs an Event source of the given type playing
// samples once, at priority (used by the Ducking Controller to order
// concurrent events).
func NewEventSource(typ Type, name string, samples []float32, priority int, frame clock.Frame, logger *log.Logger) *EventSource {
	if CategoryOf(typ) != Event {
		panic("NewEventSource called with a Primary type")
	}
	ringBuf := ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest)
	caps := CapPlay | CapStop
	base := NewBase(name, typ, caps, priority, ringBuf)
	clip := NewClipFeeder(samples)
	return &EventSource{
		Base:   base,
		player: newPlayer(base, clip, frame, logger.With("source", name)),
	}
}

func (e *EventSource) Initialize(ctx context.Context) error {
	if err := e.BeginInitializing(); err != nil {
		return err
	}
	return e.FinishInitializing()
}

func (e *EventSource) Play(ctx context.Context) error {
	if err := e.BeginPlaying(); err != nil {
		return err
	}
	e.player.start()
	return nil
}

func (e *EventSource) Pause(ctx context.Context) error { return e.BeginPausing() }

func (e *EventSource) Stop(ctx context.Context) error {
	err := e.BeginStopping()
	e.player.stop()
	return err
}

func (e *EventSource) Dispose(ctx context.Context) error {
	e.player.stop()
	return e.BeginDisposing()
}

func (e *EventSource) Seek(ctx context.Context, position float64) error { return e.CheckSeekable() }
func (e *EventSource) Next(ctx context.Context) error                   { return e.CheckNext() }
func (e *EventSource) Previous(ctx context.Context) error               { return e.CheckPrevious() }
func (e *EventSource) SetShuffle(ctx context.Context, on bool) error    { return e.CheckShuffle() }
func (e *EventSource) SetRepeat(ctx context.Context, mode RepeatMode) error {
	return e.CheckRepeat()
}

func (e *EventSource) Position() (pos, duration float64, ok bool) { return 0, 0, false }
