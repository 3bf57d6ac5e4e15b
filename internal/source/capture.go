package source

import (
	"github.com/gordonklaus/portaudio"

	"github.com/hearthcast/engine/internal/errs"
)

// CaptureFeeder reads interleaved float32 PCM from a live line-in
// device — the Vinyl/USB-turntable and Radio sources' analog path.
// PortAudio already hands us decoded float samples at the device's
// native format, matching the engine's already-decoded float PCM
// boundary; no resampling happens here (the device is expected to run
// at the engine's configured rate — see internal/sink's Local sink for
// the one place a rate mismatch is tolerated, on output).
type CaptureFeeder struct {
	stream *portaudio.Stream
	frames int
	ch     int
	in     []float32
}

// OpenCapture opens the named input device (or the system default if
// deviceName is empty) at sampleRate/channels/framesPerBlock.
func OpenCapture(deviceName string, sampleRate float64, channels, framesPerBlock int) (*CaptureFeeder, error) {
	dev, err := resolveInputDevice(deviceName)
	if err != nil {
		return nil, err
	}

	cf := &CaptureFeeder{
		frames: framesPerBlock,
		ch:     channels,
		in:     make([]float32, framesPerBlock*channels),
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBlock,
	}

	stream, err := portaudio.OpenStream(params, cf.in)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, err, "open capture device %q", deviceName)
	}
	if err := stream.Start(); err != nil {
		return nil, errs.Wrap(errs.Transient, err, "start capture device %q", deviceName)
	}
	cf.stream = stream
	return cf, nil
}

func resolveInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, errs.Wrap(errs.NotFound, err, "no default input device")
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "enumerate devices")
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, errs.New(errs.NotFound, "input device %q not found", name)
}

func (c *CaptureFeeder) NextBlock(dst []float32) bool {
	if err := c.stream.Read(); err != nil {
		for i := range dst {
			dst[i] = 0
		}
		return false
	}
	copy(dst, c.in)
	return true
}

func (c *CaptureFeeder) Close() error {
	if c.stream == nil {
		return nil
	}
	return c.stream.Close()
}
