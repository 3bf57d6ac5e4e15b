// Package gpio drives the appliance's physical front-panel controls — a
// quadrature volume knob, a mute button, and a source-cycle button —
// over Linux's GPIO character device, translating edge events into the
// same commands the HTTP control plane issues.
package gpio

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/warthog618/go-gpiocdev"

	"github.com/hearthcast/engine/internal/errs"
)

// VolumeStep is the fraction of full scale one detent of the rotary
// encoder changes the master volume by.
const VolumeStep = 0.02

// buttonDebounce is applied to both button lines at request time so a
// single mechanical press can't be double-counted.
const buttonDebounce = 30 * time.Millisecond

// Commander is the subset of the engine's control surface the physical
// controls drive. It is satisfied by *engine.Engine.
type Commander interface {
	SetMasterVolume(v float64) error
	SetMuted(m bool) error
	CycleSource(ctx context.Context) error
}

// Config names the gpiochip and line offsets for each control.
type Config struct {
	Chip           string
	VolumeA        int
	VolumeB        int
	MuteButton     int
	SourceCycleBtn int
}

// Controls owns the requested GPIO lines for the lifetime of the
// appliance; Start opens them, Stop releases them.
type Controls struct {
	cfg Config
	cmd Commander
	log *log.Logger

	mu      sync.Mutex
	volume  float64
	muted   bool
	encoder quadratureState
	lines   []*gpiocdev.Line
}

// New constructs Controls at the given starting volume/mute state; call
// Start to open the lines against the kernel.
func New(cfg Config, cmd Commander, startVolume float64, logger *log.Logger) *Controls {
	return &Controls{
		cfg:    cfg,
		cmd:    cmd,
		log:    logger.With("component", "gpio"),
		volume: startVolume,
	}
}

// Start requests every configured line with the appropriate edge
// handler and begins reacting to physical input.
func (c *Controls) Start(ctx context.Context) error {
	volA, err := gpiocdev.RequestLine(c.cfg.Chip, c.cfg.VolumeA,
		gpiocdev.AsInput, gpiocdev.WithBothEdges, gpiocdev.WithEventHandler(c.handleVolumeA))
	if err != nil {
		return errs.Wrap(errs.Transient, err, "request volume-A line %d", c.cfg.VolumeA)
	}
	volB, err := gpiocdev.RequestLine(c.cfg.Chip, c.cfg.VolumeB,
		gpiocdev.AsInput, gpiocdev.WithBothEdges, gpiocdev.WithEventHandler(c.handleVolumeB))
	if err != nil {
		return errs.Wrap(errs.Transient, err, "request volume-B line %d", c.cfg.VolumeB)
	}
	mute, err := gpiocdev.RequestLine(c.cfg.Chip, c.cfg.MuteButton,
		gpiocdev.AsInput, gpiocdev.WithFallingEdge, gpiocdev.WithDebounce(buttonDebounce),
		gpiocdev.WithEventHandler(c.handleMuteButton))
	if err != nil {
		return errs.Wrap(errs.Transient, err, "request mute button line %d", c.cfg.MuteButton)
	}
	cycle, err := gpiocdev.RequestLine(c.cfg.Chip, c.cfg.SourceCycleBtn,
		gpiocdev.AsInput, gpiocdev.WithFallingEdge, gpiocdev.WithDebounce(buttonDebounce),
		gpiocdev.WithEventHandler(c.handleCycleButton))
	if err != nil {
		return errs.Wrap(errs.Transient, err, "request source-cycle button line %d", c.cfg.SourceCycleBtn)
	}

	c.mu.Lock()
	c.lines = []*gpiocdev.Line{volA, volB, mute, cycle}
	c.mu.Unlock()
	return nil
}

// Stop releases every requested line.
func (c *Controls) Stop(ctx context.Context) error {
	c.mu.Lock()
	lines := c.lines
	c.lines = nil
	c.mu.Unlock()

	var first error
	for _, l := range lines {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *Controls) handleVolumeA(evt gpiocdev.LineEvent) {
	c.applyEncoderEdge(lineA, evt.Type == gpiocdev.RisingEdge)
}

func (c *Controls) handleVolumeB(evt gpiocdev.LineEvent) {
	c.applyEncoderEdge(lineB, evt.Type == gpiocdev.RisingEdge)
}

func (c *Controls) applyEncoderEdge(which encoderLine, high bool) {
	c.mu.Lock()
	step := c.encoder.edge(which, high)
	if step == 0 {
		c.mu.Unlock()
		return
	}
	c.volume = clamp01(c.volume + float64(step)*VolumeStep)
	v := c.volume
	c.mu.Unlock()

	if err := c.cmd.SetMasterVolume(v); err != nil {
		c.log.Warn("set master volume from encoder failed", "error", err)
	}
}

func (c *Controls) handleMuteButton(evt gpiocdev.LineEvent) {
	c.mu.Lock()
	c.muted = !c.muted
	m := c.muted
	c.mu.Unlock()

	if err := c.cmd.SetMuted(m); err != nil {
		c.log.Warn("set muted from button failed", "error", err)
	}
}

func (c *Controls) handleCycleButton(evt gpiocdev.LineEvent) {
	if err := c.cmd.CycleSource(context.Background()); err != nil {
		c.log.Warn("cycle source from button failed", "error", err)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
