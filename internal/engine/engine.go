// Package engine wires the Source, Ducking Controller, Mixer, Visualizer,
// USB Arbiter, and Sink Manager into the lifecycle state machine and the
// single command queue the mixer thread drains at block boundaries.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/config"
	"github.com/hearthcast/engine/internal/ducking"
	"github.com/hearthcast/engine/internal/errs"
	"github.com/hearthcast/engine/internal/mixer"
	"github.com/hearthcast/engine/internal/sink"
	"github.com/hearthcast/engine/internal/source"
	"github.com/hearthcast/engine/internal/usbarbiter"
	"github.com/hearthcast/engine/internal/visualizer"
)

// State is a position in the engine lifecycle. Paused is a sub-state of
// Running: the loop keeps waking and applying queued commands, but skips
// the mixer tick and sink reconciliation, so no blocks are mixed and the
// meters hold their last values until Resume.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Running
	Paused
	Stopping
	Stopped
	Disposed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initializing:
		return "Initializing"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	case Disposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// commandQueueDepth bounds the MPMC command queue; a full queue rejects
// the caller rather than blocking the enqueuing goroutine.
const commandQueueDepth = 256

// command is a closure applied by the mixer thread at a block boundary.
type command func(now time.Time)

// PlaybackState is the snapshot returned by GetPlaybackState.
type PlaybackState struct {
	EngineState  State
	Primary      source.ID
	Mixer        mixer.State
	DuckingLevel float64
}

// Engine owns every Source and Sink instance; the Mixer underneath it
// only ever holds IDs and ring pointers (see mixer.SourceInput).
type Engine struct {
	frame clock.Frame
	log   *log.Logger

	arbiter    *usbarbiter.Arbiter
	ducker     *ducking.Controller
	visualizer *visualizer.Visualizer
	mixer      *mixer.Mixer
	sinks      *sink.Manager

	commands chan command

	mu       sync.Mutex
	state    State
	sources  map[source.ID]source.Handle
	primary  source.ID
	watchers map[source.ID]chan struct{} // stops an event's auto-cleanup watcher

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Engine in state Uninitialized from cfg's Ducking and
// Visualizer sections. Call Initialize then Start to bring it up.
func New(frame clock.Frame, cfg config.Config, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.Default()
	}
	ducker := ducking.New(duckingOptionsFromConfig(cfg.Ducking))
	vis, err := visualizer.New(frame, visualizerOptionsFromConfig(cfg.Visualizer))
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "construct visualizer")
	}
	return &Engine{
		frame:      frame,
		log:        logger.With("component", "engine"),
		arbiter:    usbarbiter.New(logger),
		ducker:     ducker,
		visualizer: vis,
		mixer:      mixer.New(frame, ducker, vis, logger),
		sinks:      sink.NewManager(logger),
		commands:   make(chan command, commandQueueDepth),
		state:      Uninitialized,
		sources:    make(map[source.ID]source.Handle),
		watchers:   make(map[source.ID]chan struct{}),
	}, nil
}

// duckingOptionsFromConfig maps the YAML-facing millisecond fields onto
// ducking.Options' time.Duration ones.
func duckingOptionsFromConfig(c config.Ducking) ducking.Options {
	return ducking.Options{
		Floor:      c.Floor,
		EventFloor: c.EventFloor,
		AttackMs:   time.Duration(c.AttackMs) * time.Millisecond,
		ReleaseMs:  time.Duration(c.ReleaseMs) * time.Millisecond,
	}
}

// visualizerOptionsFromConfig maps the YAML-facing Visualizer section onto
// visualizer.Options, leaving Window at its zero value (WindowHann).
func visualizerOptionsFromConfig(c config.Visualizer) visualizer.Options {
	return visualizer.Options{
		FFTSize:     c.FFTSize,
		Smoothing:   c.Smoothing,
		PeakHoldMs:  time.Duration(c.PeakHoldMs) * time.Millisecond,
		WaveformLen: c.WaveformLen,
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Initialize enumerates output devices (a failure is only logged) and
// moves the engine to Ready. It does not start the mixer thread.
func (e *Engine) Initialize(ctx context.Context) error {
	e.setState(Initializing)
	if _, err := sink.ListOutputDevices(); err != nil {
		e.log.Warn("device enumeration failed", "error", err)
	}
	e.setState(Ready)
	return nil
}

// Start begins ticking the mixer loop on its own goroutine, wall-clock
// scheduled at the frame's block period.
func (e *Engine) Start(ctx context.Context) error {
	if e.State() != Ready {
		return errs.New(errs.Unavailable, "engine must be Ready to start, is %s", e.State())
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.setState(Running)

	e.wg.Add(1)
	go e.loop(runCtx)
	return nil
}

// Stop signals the loop to exit, stops every registered source, and parks
// every sink. Commands still queued when the loop exits are not applied.
func (e *Engine) Stop(ctx context.Context) error {
	e.setState(Stopping)
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	sources := make([]source.Handle, 0, len(e.sources))
	for _, s := range e.sources {
		sources = append(sources, s)
	}
	e.mu.Unlock()
	for _, s := range sources {
		_ = s.Stop(ctx)
	}
	for _, st := range e.sinks.List() {
		if s, ok := e.sinks.Get(st.ID); ok {
			_ = s.Stop(ctx)
		}
	}

	e.setState(Stopped)
	return nil
}

// Pause holds the mixer loop's sources at silence without tearing the
// thread or sinks down; Resume lifts it.
func (e *Engine) Pause() error {
	if e.State() != Running {
		return errs.New(errs.Unavailable, "engine is not Running")
	}
	e.setState(Paused)
	return nil
}

func (e *Engine) Resume() error {
	if e.State() != Paused {
		return errs.New(errs.Unavailable, "engine is not Paused")
	}
	e.setState(Running)
	return nil
}

// loop is the single mixer thread: wake once per block period, drain
// any pending commands, tick the mixer, and reconcile sinks.
func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.frame.BlockDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.drainCommands(now)
			if e.State() == Paused {
				continue
			}
			e.mixer.Tick(now)
			if err := e.sinks.Reconcile(ctx, now); err != nil {
				e.log.Debug("no ready sink", "error", err)
			}
		}
	}
}

func (e *Engine) drainCommands(now time.Time) {
	for {
		select {
		case cmd := <-e.commands:
			cmd(now)
		default:
			return
		}
	}
}

// enqueue posts a command for the mixer thread to apply at the next
// block boundary. It never blocks: a full queue is dropped and logged,
// matching the MPMC bounded drop-log-and-return-error policy.
func (e *Engine) enqueue(cmd command) error {
	select {
	case e.commands <- cmd:
		return nil
	default:
		e.log.Warn("command queue full, dropping command")
		return errs.New(errs.Transient, "command queue full")
	}
}

// SetMasterVolume enqueues a master volume change applied at the next
// block boundary.
func (e *Engine) SetMasterVolume(v float64) error {
	if v < 0 || v > 1 {
		return errs.New(errs.OutOfRange, "master volume %f outside [0,1]", v)
	}
	return e.enqueue(func(now time.Time) { _ = e.mixer.SetMasterVolume(v) })
}

func (e *Engine) SetBalance(b float64) error {
	if b < -1 || b > 1 {
		return errs.New(errs.OutOfRange, "balance %f outside [-1,1]", b)
	}
	return e.enqueue(func(now time.Time) { _ = e.mixer.SetBalance(b) })
}

func (e *Engine) SetMuted(m bool) error {
	return e.enqueue(func(now time.Time) { e.mixer.SetMuted(m) })
}

// RegisterSource adds a Source to the engine's registry and the
// mixer's per-block pull set. It does not change the Source's state.
func (e *Engine) RegisterSource(s source.Handle) error {
	e.mu.Lock()
	e.sources[s.ID()] = s
	e.mu.Unlock()

	return e.enqueue(func(now time.Time) {
		e.mixer.AddSource(&mixer.SourceInput{
			ID:       s.ID(),
			Category: s.Category(),
			Ring:     s.Ring(),
			Volume:   s.Volume,
			Muted:    s.Muted,
		})
	})
}

// UnregisterSource removes a Source from both the registry and the
// mixer's pull set, releasing any USB reservations it held.
func (e *Engine) UnregisterSource(ctx context.Context, id source.ID) error {
	e.mu.Lock()
	delete(e.sources, id)
	e.mu.Unlock()
	e.arbiter.ReleaseAll(string(id))

	return e.enqueue(func(now time.Time) { e.mixer.RemoveSource(id) })
}

// SwitchPrimary swaps the active Primary source: the outgoing source is
// stopped (its Stop ends playback without a fade), the incoming source is
// initialized unless it is already Ready or Playing, and then played.
func (e *Engine) SwitchPrimary(ctx context.Context, id source.ID) error {
	e.mu.Lock()
	incoming, ok := e.sources[id]
	outgoingID := e.primary
	outgoing := e.sources[outgoingID]
	e.mu.Unlock()
	if !ok {
		return errs.New(errs.Unavailable, "source %q is not registered", id)
	}

	if outgoing != nil && outgoingID != id {
		if err := outgoing.Stop(ctx); err != nil {
			e.log.Warn("outgoing primary stop failed", "source", outgoingID, "error", err)
		}
	}

	if incoming.State() != source.Ready && incoming.State() != source.Playing {
		if err := incoming.Initialize(ctx); err != nil {
			return errs.Wrap(errs.Unavailable, err, "initialize incoming primary %q", id)
		}
	}
	if err := incoming.Play(ctx); err != nil {
		return errs.Wrap(errs.Unavailable, err, "play incoming primary %q", id)
	}

	e.mu.Lock()
	e.primary = id
	e.mu.Unlock()
	return nil
}

// EventSpec describes a one-shot Event source to spawn.
type EventSpec struct {
	Source   source.Handle
	Policy   ducking.Policy
	Priority int
	Duration *time.Duration
}

// SpawnEvent creates, registers, and plays an Event source, registering
// it with the Ducking Controller and auto-cleaning it up (unregistering
// and ending its ducking attenuation) when its clip completes.
func (e *Engine) SpawnEvent(ctx context.Context, spec EventSpec) (source.ID, error) {
	s := spec.Source
	if source.CategoryOf(s.Type()) != source.Event {
		return "", errs.New(errs.Unsupported, "source type %s is not an event type", s.Type())
	}

	if err := s.Initialize(ctx); err != nil {
		return "", errs.Wrap(errs.Unavailable, err, "initialize event %q", s.ID())
	}
	if err := e.RegisterSource(s); err != nil {
		return "", err
	}
	if err := s.Play(ctx); err != nil {
		_ = e.UnregisterSource(ctx, s.ID())
		return "", errs.Wrap(errs.Unavailable, err, "play event %q", s.ID())
	}

	now := time.Now()
	e.ducker.Begin(s.ID(), spec.Policy, spec.Priority, spec.Duration, now)

	stop := make(chan struct{})
	e.mu.Lock()
	e.watchers[s.ID()] = stop
	e.mu.Unlock()

	e.wg.Add(1)
	go e.watchEvent(s, stop)

	return s.ID(), nil
}

func (e *Engine) watchEvent(s source.Handle, stop chan struct{}) {
	defer e.wg.Done()
	done := s.Done()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-stop:
		return
	}

	now := time.Now()
	e.ducker.End(s.ID(), now)
	_ = e.UnregisterSource(context.Background(), s.ID())
	_ = s.Dispose(context.Background())

	e.mu.Lock()
	delete(e.watchers, s.ID())
	e.mu.Unlock()
}

// AddSink registers a mix destination and starts it.
func (e *Engine) AddSink(ctx context.Context, s sink.Sink) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	e.sinks.Add(s)
	if s.Ring() == nil {
		// A sink without a ring (NetReceiver) takes no PCM from the mixer.
		return nil
	}
	return e.enqueue(func(now time.Time) {
		e.mixer.AddSink(&mixer.SinkOutput{ID: s.ID(), Ring: s.Ring()})
	})
}

// RemoveSink stops and unregisters a sink.
func (e *Engine) RemoveSink(ctx context.Context, id string) error {
	if s, ok := e.sinks.Get(id); ok {
		_ = s.Stop(ctx)
	}
	e.sinks.Remove(id)
	return e.enqueue(func(now time.Time) { e.mixer.RemoveSink(id) })
}

// CycleSource advances the active Primary to the next registered
// Primary-category source in ID order, wrapping around. It is the
// engine-side target for the front-panel source-cycle button.
func (e *Engine) CycleSource(ctx context.Context) error {
	e.mu.Lock()
	var primaries []source.ID
	for id, s := range e.sources {
		if s.Category() == source.Primary {
			primaries = append(primaries, id)
		}
	}
	current := e.primary
	e.mu.Unlock()

	if len(primaries) == 0 {
		return errs.New(errs.Unavailable, "no primary sources registered")
	}
	sort.Slice(primaries, func(i, j int) bool { return primaries[i] < primaries[j] })

	next := primaries[0]
	for i, id := range primaries {
		if id == current {
			next = primaries[(i+1)%len(primaries)]
			break
		}
	}
	return e.SwitchPrimary(ctx, next)
}

// ListSources returns every registered source's ID and the currently
// active primary.
func (e *Engine) ListSources() (ids []source.ID, primary source.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.sources {
		ids = append(ids, id)
	}
	return ids, e.primary
}

// Source looks up a registered source by ID.
func (e *Engine) Source(id source.ID) (source.Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sources[id]
	return s, ok
}

// PrimarySource returns the currently active Primary, or nil if none.
func (e *Engine) PrimarySource() source.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sources[e.primary]
}

// UsbReservations returns the arbiter's path->owner snapshot.
func (e *Engine) UsbReservations() map[string]string {
	return e.arbiter.List()
}

// Arbiter exposes the USB reservation table for sources to claim
// exclusive hardware against.
func (e *Engine) Arbiter() *usbarbiter.Arbiter { return e.arbiter }

// GetPlaybackState snapshots the engine and mixer state.
func (e *Engine) GetPlaybackState() PlaybackState {
	e.mu.Lock()
	primary := e.primary
	state := e.state
	e.mu.Unlock()
	return PlaybackState{
		EngineState:  state,
		Primary:      primary,
		Mixer:        e.mixer.State(),
		DuckingLevel: e.ducker.G(),
	}
}

// Spectrum, Levels, and Waveform pull the latest visualizer snapshots.
func (e *Engine) Spectrum() visualizer.Spectrum { return e.visualizer.Spectrum() }
func (e *Engine) Levels() visualizer.Levels      { return e.visualizer.Levels() }
func (e *Engine) Waveform() visualizer.Waveform  { return e.visualizer.Waveform() }

// SinkManager exposes the sink manager for the control plane's device
// and failover verbs (listOutputDevices, setOutputDevice, ...).
func (e *Engine) SinkManager() *sink.Manager { return e.sinks }

// Dispose tears down every source and sink and transitions to Disposed.
// The Engine is unusable afterwards.
func (e *Engine) Dispose(ctx context.Context) error {
	if e.State() != Stopped {
		if err := e.Stop(ctx); err != nil {
			return err
		}
	}

	e.mu.Lock()
	sources := make([]source.Handle, 0, len(e.sources))
	for _, s := range e.sources {
		sources = append(sources, s)
	}
	watchers := make([]chan struct{}, 0, len(e.watchers))
	for _, w := range e.watchers {
		watchers = append(watchers, w)
	}
	e.sources = make(map[source.ID]source.Handle)
	e.watchers = make(map[source.ID]chan struct{})
	e.mu.Unlock()

	for _, w := range watchers {
		close(w)
	}
	for _, s := range sources {
		_ = s.Dispose(ctx)
	}

	e.setState(Disposed)
	return nil
}
