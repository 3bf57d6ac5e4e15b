package source

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hearthcast/engine/internal/clock"
)

// fadeDuration is the click-avoidance fade applied on pause (fade-out)
// and resume (fade-in), a 5ms cosine ramp so the ring drains to zero
// gradually instead of cutting off mid-waveform. Stop does not fade.
const fadeDuration = 5 * time.Millisecond

// player drives a Feeder into a Source's ring on its own goroutine, one
// thread per active source. It is
// embedded by every concrete source type alongside *Base.
type player struct {
	base   *Base
	feeder Feeder
	frame  clock.Frame
	log    *log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	fadingIn  bool
	fadingOut bool
	lastBlock []float32
}

func newPlayer(base *Base, feeder Feeder, frame clock.Frame, logger *log.Logger) *player {
	return &player{base: base, feeder: feeder, frame: frame, log: logger}
}

// start launches the pump goroutine. Safe to call once per Play()
// transition; pause/resume toggle a flag the goroutine itself observes
// rather than stopping and restarting the goroutine, so the ring's
// producer side is never torn down mid-block.
func (p *player) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true
	p.wg.Add(1)
	go p.loop(ctx)
}

func (p *player) stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

func (p *player) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.frame.BlockDuration())
	defer ticker.Stop()

	block := p.frame.NewBlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := p.base.State()
			switch state {
			case Playing:
				ok := p.feeder.NextBlock(block)
				p.applyFadeIn(block)
				p.rememberLastBlock(block)
				if pushRes := p.base.Ring().Push(block); pushRes != 0 {
					p.log.Debug("producer ring overflow", "source", p.base.ID())
				}
				if !ok && p.base.Category() == Event {
					// Clip ended: Playing -> Stopped -> Disposed, automatic.
					_ = p.base.BeginStopping()
					p.base.MarkDone()
					p.base.ForceState(Disposed)
					p.stop()
					return
				}
			case Paused:
				p.fadeOutBlock(block)
				p.base.Ring().Push(block)
			case Stopped, Failed, Disposed:
				return
			default:
				// Ready/Uninitialized/Initializing: produce nothing yet.
			}
		}
	}
}

// applyFadeIn ramps the first block after a pause->play resume up from
// silence, avoiding a click.
func (p *player) applyFadeIn(block []float32) {
	p.mu.Lock()
	fading := p.fadingIn
	p.fadingIn = false
	p.mu.Unlock()
	if !fading {
		return
	}
	cosineRamp(block, p.frame.Channels, p.frame.SampleRate, true)
}

// rememberLastBlock keeps a copy of the most recent Playing block so a
// subsequent pause can fade from real content instead of a hard cut.
func (p *player) rememberLastBlock(block []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cap(p.lastBlock) < len(block) {
		p.lastBlock = make([]float32, len(block))
	}
	p.lastBlock = p.lastBlock[:len(block)]
	copy(p.lastBlock, block)
}

// fadeOutBlock fills block with the stored last-playing content ramped
// to zero on the first Paused block, then pure silence afterward
// applying a 5ms cosine ramp so the ring drains to zero gradually instead
// of cutting off mid-waveform.
func (p *player) fadeOutBlock(block []float32) {
	p.mu.Lock()
	fading := p.fadingOut
	last := p.lastBlock
	p.fadingOut = false
	p.mu.Unlock()

	if fading && len(last) == len(block) {
		copy(block, last)
		cosineRamp(block, p.frame.Channels, p.frame.SampleRate, false)
		return
	}
	for i := range block {
		block[i] = 0
	}
}

// markFadeInOnResume is called right before a Paused->Playing transition
// so the next block ramps up instead of jumping straight to full volume.
func (p *player) markFadeInOnResume() {
	p.mu.Lock()
	p.fadingIn = true
	p.mu.Unlock()
}

// markFadeOutOnPause is called right before a Playing->Paused transition
// so the next block ramps the last real content down instead of cutting.
func (p *player) markFadeOutOnPause() {
	p.mu.Lock()
	p.fadingOut = true
	p.mu.Unlock()
}

// cosineRamp applies a half-cosine envelope over the first fadeDuration
// of block, per channel; used for both the pause fade-out and resume
// fade-in. Past the ramp a fade-in leaves samples as they are and a
// fade-out zeroes them. fadeDuration is short enough (5 ms) that a single
// block comfortably covers it at the reference 21.3 ms block period.
func cosineRamp(block []float32, channels, sampleRate int, rampUp bool) {
	frames := len(block) / channels
	if frames == 0 {
		return
	}
	rampFrames := int(fadeDuration.Seconds() * float64(sampleRate))
	if rampFrames <= 0 || rampFrames > frames {
		rampFrames = frames
	}
	for i := 0; i < frames; i++ {
		t := math.Min(float64(i)/float64(rampFrames), 1)
		var g float64
		if rampUp {
			g = 0.5 * (1 - math.Cos(math.Pi*t))
		} else {
			g = 0.5 * (1 + math.Cos(math.Pi*t))
		}
		for c := 0; c < channels; c++ {
			block[i*channels+c] *= float32(g)
		}
	}
}
