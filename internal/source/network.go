package source

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/ring"
)

// Spotify is the Spotify-Connect Primary source. OAuth and the Connect
// protocol handshake are external collaborators; this
// type only owns the decoded-PCM ring once a session is established and
// handing it a StreamFeeder over the session's audio pipe.
type Spotify struct {
	*Base
	*player
	stream *StreamFeeder
}

func NewSpotify(name string, stream *StreamFeeder, frame clock.Frame, logger *log.Logger) *Spotify {
	ringBuf := ring.New(frame.SamplesPerBlock(), 8, ring.DropOldest)
	caps := CapPlay | CapPause | CapStop | CapNext | CapPrevious | CapShuffle | CapRepeat | CapQueue
	base := NewBase(name, TypeSpotify, caps, 0, ringBuf)
	return &Spotify{
		Base:   base,
		player: newPlayer(base, stream, frame, logger.With("source", name)),
		stream: stream,
	}
}

func (s *Spotify) Initialize(ctx context.Context) error {
	if err := s.BeginInitializing(); err != nil {
		return err
	}
	return s.FinishInitializing()
}

func (s *Spotify) Play(ctx context.Context) error {
	if err := s.BeginPlaying(); err != nil {
		return err
	}
	s.markFadeInOnResume()
	s.player.start()
	return nil
}

func (s *Spotify) Pause(ctx context.Context) error {
	s.markFadeOutOnPause()
	return s.BeginPausing()
}

func (s *Spotify) Stop(ctx context.Context) error {
	err := s.BeginStopping()
	s.player.stop()
	return err
}

func (s *Spotify) Dispose(ctx context.Context) error {
	s.player.stop()
	return s.BeginDisposing()
}

func (s *Spotify) Seek(ctx context.Context, position float64) error { return s.CheckSeekable() }
func (s *Spotify) Next(ctx context.Context) error                   { return s.CheckNext() }
func (s *Spotify) Previous(ctx context.Context) error                { return s.CheckPrevious() }

func (s *Spotify) SetShuffle(ctx context.Context, on bool) error {
	return s.CheckShuffle()
}

func (s *Spotify) SetRepeat(ctx context.Context, mode RepeatMode) error {
	return s.CheckRepeat()
}

func (s *Spotify) Position() (pos, duration float64, ok bool) { return 0, 0, false }

// HttpPull is the generic "pull a PCM stream over HTTP" Primary source
// Like Spotify, the network fetch and any codec are
// external; HttpPull wraps whatever StreamFeeder the control plane wired
// up after resolving the URL.
type HttpPull struct {
	*Base
	*player
}

func NewHttpPull(name string, stream *StreamFeeder, frame clock.Frame, logger *log.Logger) *HttpPull {
	ringBuf := ring.New(frame.SamplesPerBlock(), 8, ring.DropOldest)
	caps := CapPlay | CapStop
	base := NewBase(name, TypeHttpPull, caps, 0, ringBuf)
	return &HttpPull{
		Base:   base,
		player: newPlayer(base, stream, frame, logger.With("source", name)),
	}
}

func (h *HttpPull) Initialize(ctx context.Context) error {
	if err := h.BeginInitializing(); err != nil {
		return err
	}
	return h.FinishInitializing()
}

func (h *HttpPull) Play(ctx context.Context) error {
	if err := h.BeginPlaying(); err != nil {
		return err
	}
	h.player.start()
	return nil
}

func (h *HttpPull) Pause(ctx context.Context) error { return h.CheckPausable() } // unsupported: live stream

func (h *HttpPull) Stop(ctx context.Context) error {
	err := h.BeginStopping()
	h.player.stop()
	return err
}

func (h *HttpPull) Dispose(ctx context.Context) error {
	h.player.stop()
	return h.BeginDisposing()
}

func (h *HttpPull) Seek(ctx context.Context, position float64) error { return h.CheckSeekable() }
func (h *HttpPull) Next(ctx context.Context) error                   { return h.CheckNext() }
func (h *HttpPull) Previous(ctx context.Context) error                { return h.CheckPrevious() }
func (h *HttpPull) SetShuffle(ctx context.Context, on bool) error      { return h.CheckShuffle() }
func (h *HttpPull) SetRepeat(ctx context.Context, mode RepeatMode) error {
	return h.CheckRepeat()
}
func (h *HttpPull) Position() (pos, duration float64, ok bool) { return 0, 0, false }
