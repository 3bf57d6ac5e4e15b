package source

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/ring"
)

// FilePlayer is a Primary source that plays already-decoded local/USB
// audio. Decoding itself is out of
// core scope; FilePlayer is handed a fully-decoded PCM clip up front.
type FilePlayer struct {
	*Base
	*player
	clip *ClipFeeder
}

// NewFilePlayer constructs a FilePlayer over pre-decoded samples.
func NewFilePlayer(name string, samples []float32, frame clock.Frame, logger *log.Logger) *FilePlayer {
	ringBuf := ring.New(frame.SamplesPerBlock(), 8, ring.DropOldest)
	caps := CapPlay | CapPause | CapStop | CapSeek | CapNext | CapPrevious | CapShuffle | CapRepeat | CapQueue
	base := NewBase(name, TypeFilePlayer, caps, 0, ringBuf)
	clip := NewClipFeeder(samples)
	return &FilePlayer{
		Base:   base,
		player: newPlayer(base, clip, frame, logger.With("source", name)),
		clip:   clip,
	}
}

func (f *FilePlayer) Initialize(ctx context.Context) error {
	if err := f.BeginInitializing(); err != nil {
		return err
	}
	return f.FinishInitializing()
}

func (f *FilePlayer) Play(ctx context.Context) error {
	if err := f.BeginPlaying(); err != nil {
		return err
	}
	f.markFadeInOnResume()
	f.player.start()
	return nil
}

func (f *FilePlayer) Pause(ctx context.Context) error {
	f.markFadeOutOnPause()
	return f.BeginPausing()
}

func (f *FilePlayer) Stop(ctx context.Context) error {
	err := f.BeginStopping()
	f.player.stop()
	return err
}

func (f *FilePlayer) Dispose(ctx context.Context) error {
	f.player.stop()
	return f.BeginDisposing()
}

func (f *FilePlayer) Seek(ctx context.Context, position float64) error {
	if err := f.CheckSeekable(); err != nil {
		return err
	}
	f.clip.Seek(position)
	return nil
}

func (f *FilePlayer) Next(ctx context.Context) error     { return f.CheckNext() }
func (f *FilePlayer) Previous(ctx context.Context) error { return f.CheckPrevious() }

func (f *FilePlayer) SetShuffle(ctx context.Context, on bool) error {
	return f.CheckShuffle()
}

func (f *FilePlayer) SetRepeat(ctx context.Context, mode RepeatMode) error {
	if err := f.CheckRepeat(); err != nil {
		return err
	}
	f.clip.Loop = mode != RepeatOff
	return nil
}

func (f *FilePlayer) Position() (pos, duration float64, ok bool) {
	return f.clip.Position(), 1.0, true
}
