package sink

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/errs"
	"github.com/hearthcast/engine/internal/ring"
)

// Local writes the mix to the platform audio device. If the device's
// preferred rate differs from the engine's clock, it performs a
// fixed-ratio linear resample on the way out (basic quality by design —
// the device should be configured to match the engine rate).
type Local struct {
	*base

	deviceName string
	stream     *portaudio.Stream
	out        []float32

	deviceRate float64
	resample   bool

	mu      sync.Mutex
	stopped chan struct{}
	wg      sync.WaitGroup
}

// NewLocal constructs a Local sink bound to deviceName (empty for the
// system default output device).
func NewLocal(id string, priority int, deviceName string, frame clock.Frame, logger *log.Logger) *Local {
	return &Local{
		base: &base{
			id:       id,
			priority: priority,
			ring:     ring.New(frame.SamplesPerBlock(), 4, ring.DropOldest),
			frame:    frame,
			log:      logger.With("sink", id),
		},
		deviceName: deviceName,
	}
}

func (l *Local) Start(ctx context.Context) error {
	dev, err := resolveOutputDevice(l.deviceName)
	if err != nil {
		l.SetStatus(StatusFailed)
		return err
	}

	l.out = make([]float32, l.frame.SamplesPerBlock())
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: l.frame.Channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(l.frame.SampleRate),
		FramesPerBuffer: l.frame.FramesPerBlock,
	}

	stream, err := portaudio.OpenStream(params, l.out)
	if err != nil {
		l.SetStatus(StatusFailed)
		return errs.Wrap(errs.Transient, err, "open output device %q", l.deviceName)
	}
	if err := stream.Start(); err != nil {
		l.SetStatus(StatusFailed)
		return errs.Wrap(errs.Transient, err, "start output device %q", l.deviceName)
	}

	l.mu.Lock()
	l.stream = stream
	l.deviceRate = dev.DefaultSampleRate
	l.resample = dev.DefaultSampleRate > 0 && int(dev.DefaultSampleRate) != l.frame.SampleRate
	l.stopped = make(chan struct{})
	l.mu.Unlock()

	l.SetStatus(StatusReady)

	l.wg.Add(1)
	go l.loop()
	return nil
}

func (l *Local) loop() {
	defer l.wg.Done()
	block := make([]float32, l.frame.SamplesPerBlock())
	for {
		select {
		case <-l.stopped:
			return
		default:
		}
		l.ring.Pop(block)

		l.mu.Lock()
		resample := l.resample
		deviceRate := l.deviceRate
		l.mu.Unlock()

		out := block
		if resample {
			out = linearResample(block, l.frame.Channels, float64(l.frame.SampleRate), deviceRate, len(l.out)/l.frame.Channels)
		}
		copy(l.out, out)

		if err := l.stream.Write(); err != nil {
			l.SetStatus(StatusFailed)
			return
		}
	}
}

func (l *Local) Stop(ctx context.Context) error {
	l.mu.Lock()
	stopped := l.stopped
	stream := l.stream
	l.mu.Unlock()

	if stopped != nil {
		select {
		case <-stopped:
		default:
			close(stopped)
		}
	}
	l.wg.Wait()

	if stream != nil {
		stream.Stop()
		return stream.Close()
	}
	return nil
}

func resolveOutputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, errs.Wrap(errs.NotFound, err, "no default output device")
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "enumerate devices")
	}
	for _, d := range devices {
		if d.Name == name && d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	return nil, errs.New(errs.NotFound, "output device %q not found", name)
}

// linearResample performs a basic fixed-ratio linear interpolation
// resample of interleaved PCM from srcRate to dstRate, producing
// dstFrames output frames.
func linearResample(src []float32, channels int, srcRate, dstRate float64, dstFrames int) []float32 {
	out := make([]float32, dstFrames*channels)
	ratio := srcRate / dstRate
	srcFrames := len(src) / channels

	for i := 0; i < dstFrames; i++ {
		srcPos := float64(i) * ratio
		i0 := int(srcPos)
		frac := srcPos - float64(i0)
		i1 := i0 + 1
		if i1 >= srcFrames {
			i1 = srcFrames - 1
		}
		if i0 >= srcFrames {
			i0 = srcFrames - 1
		}
		for c := 0; c < channels; c++ {
			a := src[i0*channels+c]
			b := src[i1*channels+c]
			out[i*channels+c] = a + float32(frac)*(b-a)
		}
	}
	return out
}

// SetOutputDevice reassigns the device a running Local sink writes to,
// restarting the output stream. Playback resumes against whatever is
// queued in the ring; no audio already written to the old device can be
// recovered.
func (l *Local) SetOutputDevice(ctx context.Context, deviceName string) error {
	if err := l.Stop(ctx); err != nil {
		return err
	}
	l.deviceName = deviceName
	return l.Start(ctx)
}
