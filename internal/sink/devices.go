package sink

import (
	"github.com/gordonklaus/portaudio"

	"github.com/hearthcast/engine/internal/errs"
)

// OutputDevice is the control-plane view of one platform output device.
type OutputDevice struct {
	Index       int
	Name        string
	Channels    int
	SampleRate  float64
	IsDefault   bool
}

// ListOutputDevices enumerates output-capable devices via PortAudio's
// host API (the listOutputDevices control-plane verb).
func ListOutputDevices() ([]OutputDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "enumerate devices")
	}

	def, defErr := portaudio.DefaultOutputDevice()

	out := make([]OutputDevice, 0, len(devices))
	for i, d := range devices {
		if d.MaxOutputChannels <= 0 {
			continue
		}
		out = append(out, OutputDevice{
			Index:      i,
			Name:       d.Name,
			Channels:   d.MaxOutputChannels,
			SampleRate: d.DefaultSampleRate,
			IsDefault:  defErr == nil && d.Name == def.Name,
		})
	}
	return out, nil
}

// RefreshDevices re-enumerates devices; PortAudio's host API is queried
// fresh on every call to ListOutputDevices, so refresh is the same
// operation exposed under the control-plane's explicit verb name.
func RefreshDevices() ([]OutputDevice, error) {
	return ListOutputDevices()
}
