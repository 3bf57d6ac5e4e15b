package source

import (
	"encoding/binary"
	"io"
	"math"
)

// Feeder produces one block of interleaved float32 PCM per call. It is
// the abstraction over already-decoded upstream audio that the engine
// scopes out of the core: a Feeder never knows about codecs, only
// samples. NextBlock returns ok=false when the underlying clip/stream
// has nothing more to offer (used by Event sources to trigger their
// automatic Playing->Stopped->Disposed transition).
type Feeder interface {
	NextBlock(dst []float32) (ok bool)
}

// ClipFeeder replays a fixed, fully-decoded PCM clip. With Loop set it
// never returns ok=false (suited to a FilePlayer primary set to repeat);
// otherwise it signals completion once the clip is exhausted (suited to
// Event sources — chime, TTS utterance, notification, effect).
type ClipFeeder struct {
	samples []float32
	pos     int
	Loop    bool
}

// NewClipFeeder wraps already-decoded interleaved float32 samples.
func NewClipFeeder(samples []float32) *ClipFeeder {
	return &ClipFeeder{samples: samples}
}

func (c *ClipFeeder) NextBlock(dst []float32) bool {
	if len(c.samples) == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return false
	}
	for i := range dst {
		if c.pos >= len(c.samples) {
			if !c.Loop {
				for ; i < len(dst); i++ {
					dst[i] = 0
				}
				return false
			}
			c.pos = 0
		}
		dst[i] = c.samples[c.pos]
		c.pos++
	}
	return true
}

// Seek repositions playback to a fractional position in [0,1] of the
// clip's length — used by sources whose capability set includes Seek.
func (c *ClipFeeder) Seek(fraction float64) {
	if len(c.samples) == 0 {
		return
	}
	idx := int(fraction * float64(len(c.samples)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.samples) {
		idx = len(c.samples) - 1
	}
	c.pos = idx
}

// Position returns playback position as a fraction of total length.
func (c *ClipFeeder) Position() float64 {
	if len(c.samples) == 0 {
		return 0
	}
	return float64(c.pos) / float64(len(c.samples))
}

// StreamFeeder decodes a continuous little-endian float32 stream (the
// shape an HttpPull or Spotify-Connect style upstream hands the engine
// once its own codec layer has already produced PCM). A read error or
// EOF is treated as end-of-stream, not a block-by-block retry; the
// owning Source is responsible for reconnecting and swapping in a fresh
// StreamFeeder, transitioning through Failed if it can't.
type StreamFeeder struct {
	r   io.Reader
	buf []byte
}

func NewStreamFeeder(r io.Reader) *StreamFeeder {
	return &StreamFeeder{r: r}
}

func (s *StreamFeeder) NextBlock(dst []float32) bool {
	need := len(dst) * 4
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]
	if _, err := io.ReadFull(s.r, buf); err != nil {
		for i := range dst {
			dst[i] = 0
		}
		return false
	}
	for i := range dst {
		bits := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
		dst[i] = math.Float32frombits(bits)
	}
	return true
}

// SilentFeeder always yields silence; used as a placeholder for sources
// awaiting hardware (e.g. a Radio source before its rig is tuned).
type SilentFeeder struct{}

func (SilentFeeder) NextBlock(dst []float32) bool {
	for i := range dst {
		dst[i] = 0
	}
	return true
}
