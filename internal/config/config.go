// Package config loads the on-disk YAML configuration and command-line
// overrides into an immutable snapshot. The engine reads a snapshot once,
// when it is constructed; a later snapshot is not installed into a
// running engine, and nothing in the hot path ever mutates a live Config
// in place.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hearthcast/engine/internal/ducking"
	"github.com/hearthcast/engine/internal/errs"
)

// Audio holds the fixed clock and default mixer state.
type Audio struct {
	SampleRate     int     `yaml:"sample_rate"`
	Channels       int     `yaml:"channels"`
	FramesPerBlock int     `yaml:"frames_per_block"`
	MasterVolume   float64 `yaml:"master_volume"`
	Balance        float64 `yaml:"balance"`
}

// Visualizer controls the FFT/meter defaults.
type Visualizer struct {
	FFTSize     int     `yaml:"fft_size"`
	Smoothing   float64 `yaml:"smoothing"`
	WaveformLen int     `yaml:"waveform_len"`
	PeakHoldMs  int     `yaml:"peak_hold_ms"`
}

// Ducking carries the attenuation envelope defaults.
type Ducking struct {
	Floor      float64 `yaml:"floor"`
	EventFloor float64 `yaml:"event_floor"`
	AttackMs   int     `yaml:"attack_ms"`
	ReleaseMs  int     `yaml:"release_ms"`
}

// Output describes one configured sink (local device, HTTP broadcast,
// or a net-receiver target) by section, not by live instance.
type Output struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"` // "local", "http", "netreceiver"
	Priority int    `yaml:"priority"`
	Device   string `yaml:"device,omitempty"`
	Addr     string `yaml:"addr,omitempty"`
}

// Store points at the persistence backend.
type Store struct {
	Path string `yaml:"path"`
}

// Control configures the RPC/HTTP control plane listener.
type Control struct {
	ListenAddr      string `yaml:"listen_addr"`
	TimestampFormat string `yaml:"timestamp_format"`
}

// Gpio configures the physical front-panel control lines.
type Gpio struct {
	Chip           string `yaml:"chip"`
	VolumeA        int    `yaml:"volume_a_line"`
	VolumeB        int    `yaml:"volume_b_line"`
	MuteButton     int    `yaml:"mute_button_line"`
	SourceCycleBtn int    `yaml:"source_cycle_button_line"`
}

// Config is the full immutable snapshot. Zero value is not meaningful;
// always obtain one via Default() or Load().
type Config struct {
	Audio      Audio      `yaml:"audio"`
	Visualizer Visualizer `yaml:"visualizer"`
	Ducking    Ducking    `yaml:"ducking"`
	Outputs    []Output   `yaml:"outputs"`
	Store      Store      `yaml:"store"`
	Control    Control    `yaml:"control"`
	Gpio       Gpio       `yaml:"gpio"`
}

// Default returns the built-in configuration, matching clock.Default and
// ducking.DefaultOptions.
func Default() Config {
	return Config{
		Audio: Audio{
			SampleRate:     48000,
			Channels:       2,
			FramesPerBlock: 1024,
			MasterVolume:   1.0,
			Balance:        0.0,
		},
		Visualizer: Visualizer{
			FFTSize:     2048,
			Smoothing:   0.7,
			WaveformLen: 1024,
			PeakHoldMs:  500,
		},
		Ducking: Ducking{
			Floor:      ducking.DefaultOptions.Floor,
			EventFloor: ducking.DefaultOptions.EventFloor,
			AttackMs:   int(ducking.DefaultOptions.AttackMs / time.Millisecond),
			ReleaseMs:  int(ducking.DefaultOptions.ReleaseMs / time.Millisecond),
		},
		Store:   Store{Path: "hearthcast.db"},
		Control: Control{ListenAddr: ":8973", TimestampFormat: "%Y-%m-%d %H:%M:%S"},
		Gpio:    Gpio{Chip: "gpiochip0", VolumeA: 17, VolumeB: 27, MuteButton: 22, SourceCycleBtn: 23},
	}
}

// Load reads a YAML document from path, overlaying it onto Default() so
// an incomplete file still produces a usable snapshot.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, errs.Wrap(errs.Fatal, err, "read config %q", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errs.Wrap(errs.Fatal, err, "parse config %q", path)
	}
	return cfg, validate(cfg)
}

func validate(cfg Config) error {
	if cfg.Audio.SampleRate <= 0 || cfg.Audio.Channels <= 0 || cfg.Audio.FramesPerBlock <= 0 {
		return errs.New(errs.OutOfRange, "audio clock fields must be positive")
	}
	if cfg.Audio.MasterVolume < 0 || cfg.Audio.MasterVolume > 1 {
		return errs.New(errs.OutOfRange, "master_volume %f outside [0,1]", cfg.Audio.MasterVolume)
	}
	if cfg.Audio.Balance < -1 || cfg.Audio.Balance > 1 {
		return errs.New(errs.OutOfRange, "balance %f outside [-1,1]", cfg.Audio.Balance)
	}
	return nil
}

// WithMasterVolume returns a copy of cfg with MasterVolume replaced,
// leaving cfg itself untouched (the snapshot-replacement pattern every
// config mutation uses).
func (c Config) WithMasterVolume(v float64) Config {
	next := c
	next.Audio.MasterVolume = v
	return next
}

// WithBalance returns a copy of cfg with Balance replaced.
func (c Config) WithBalance(b float64) Config {
	next := c
	next.Audio.Balance = b
	return next
}
