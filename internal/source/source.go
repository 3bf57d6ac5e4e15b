// Package source implements the Source entity and state machine shared
// by every primary and event producer. Sources are
// modeled as a tagged variant plus a capability bitset, not an
// inheritance tree.
package source

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hearthcast/engine/internal/errs"
	"github.com/hearthcast/engine/internal/ring"
)

// ID is an opaque stable identifier, unique per engine lifetime.
type ID string

// NewID mints a fresh 128-bit source id.
func NewID() ID {
	return ID(uuid.NewString())
}

// Type enumerates the kinds of source the engine recognizes.
type Type int

const (
	TypeRadio Type = iota
	TypeVinyl
	TypeFilePlayer
	TypeSpotify
	TypeHttpPull
	TypeTts
	TypeChime
	TypeNotification
	TypeEffect
)

func (t Type) String() string {
	switch t {
	case TypeRadio:
		return "Radio"
	case TypeVinyl:
		return "Vinyl"
	case TypeFilePlayer:
		return "FilePlayer"
	case TypeSpotify:
		return "Spotify"
	case TypeHttpPull:
		return "HttpPull"
	case TypeTts:
		return "Tts"
	case TypeChime:
		return "Chime"
	case TypeNotification:
		return "Notification"
	case TypeEffect:
		return "Effect"
	default:
		return "Unknown"
	}
}

// Category distinguishes the dominant primary producer from an ephemeral
// overlay.
type Category int

const (
	Primary Category = iota
	Event
)

// CategoryOf returns the fixed category for a given Type.
func CategoryOf(t Type) Category {
	switch t {
	case TypeTts, TypeChime, TypeNotification, TypeEffect:
		return Event
	default:
		return Primary
	}
}

// State is a position in the source lifecycle state machine.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Playing
	Paused
	Stopped
	Failed
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
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	case Stopped:
		return "Stopped"
	case Failed:
		return "Failed"
	case Disposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state produces silence unconditionally.
func (s State) Terminal() bool {
	return s == Stopped || s == Failed || s == Disposed
}

// Capability is a transport verb bit (capability polymorphism
// over inheritance).
type Capability uint16

const (
	CapPlay Capability = 1 << iota
	CapPause
	CapStop
	CapSeek
	CapNext
	CapPrevious
	CapShuffle
	CapRepeat
	CapQueue
)

func (c Capability) Has(bit Capability) bool { return c&bit != 0 }

// RepeatMode mirrors a typical transport's repeat setting.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatOne
	RepeatAll
)

// Metadata is an opaque title/artist/album/cover-url bag; keys are not
// interpreted by the core.
type Metadata map[string]string

// Handle is the Engine-owned control surface of a Source. The Mixer only
// ever holds an ID and reads the Source's ring (this breaks the cyclic
// reference resolved by ID + registry) — it never calls these methods.
type Handle interface {
	ID() ID
	Name() string
	Type() Type
	Category() Category
	Capabilities() Capability

	State() State
	Volume() float64
	SetVolume(v float64) error
	Muted() bool
	SetMuted(m bool)

	Metadata() Metadata
	Position() (pos, duration float64, ok bool)

	// Ring returns the producer→mixer ring this source writes blocks
	// into. The mixer only ever Pops from it.
	Ring() *ring.Buffer

	Initialize(ctx context.Context) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Dispose(ctx context.Context) error

	Seek(ctx context.Context, position float64) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	SetShuffle(ctx context.Context, on bool) error
	SetRepeat(ctx context.Context, mode RepeatMode) error

	// Priority orders concurrent Event sources for the Ducking
	// Controller; meaningless for Primary sources.
	Priority() int

	// Done returns a channel closed when an Event source's underlying
	// clip completes and it has auto-transitioned Playing->Stopped.
	// Primary sources return a channel that is never closed.
	Done() <-chan struct{}
}

// Base implements the state machine, capability checks, and the common
// bookkeeping (volume/mute/metadata/ring) that every concrete source
// embeds. Concrete sources add their own Initialize/Play/.../Seek bodies
// and call Base's transition helpers.
type Base struct {
	mu           sync.Mutex
	id           ID
	name         string
	typ          Type
	capabilities Capability
	state        State
	volume       float64
	muted        bool
	metadata     Metadata
	priority     int

	ring *ring.Buffer
	done chan struct{}
}

// NewBase constructs a Base in Uninitialized state with volume 1.0.
func NewBase(name string, typ Type, caps Capability, priority int, ringBuf *ring.Buffer) *Base {
	return &Base{
		id:           NewID(),
		name:         name,
		typ:          typ,
		capabilities: caps,
		state:        Uninitialized,
		volume:       1.0,
		metadata:     Metadata{},
		priority:     priority,
		ring:         ringBuf,
		done:         make(chan struct{}),
	}
}

func (b *Base) ID() ID                     { return b.id }
func (b *Base) Name() string                { return b.name }
func (b *Base) Type() Type                  { return b.typ }
func (b *Base) Category() Category          { return CategoryOf(b.typ) }
func (b *Base) Capabilities() Capability     { return b.capabilities }
func (b *Base) Ring() *ring.Buffer          { return b.ring }
func (b *Base) Priority() int                { return b.priority }
func (b *Base) Done() <-chan struct{}        { return b.done }

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Base) Volume() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volume
}

func (b *Base) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return errs.New(errs.OutOfRange, "volume %f outside [0,1]", v)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volume = v
	return nil
}

func (b *Base) Muted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.muted
}

func (b *Base) SetMuted(m bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.muted = m
}

func (b *Base) Metadata() Metadata {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(Metadata, len(b.metadata))
	for k, v := range b.metadata {
		out[k] = v
	}
	return out
}

func (b *Base) SetMetadata(md Metadata) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metadata = md
}

// requireCapability returns Unsupported if bit is not set.
func (b *Base) requireCapability(bit Capability) error {
	if !b.capabilities.Has(bit) {
		return errs.New(errs.Unsupported, "capability not set")
	}
	return nil
}

// transition performs a checked state change, returning Fatal if from
// doesn't match the current state (a programmer error in the concrete
// source, not something callers retry).
func (b *Base) transition(from []State, to State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ok := false
	for _, f := range from {
		if b.state == f {
			ok = true
			break
		}
	}
	if !ok {
		return errs.New(errs.Fatal, "invalid transition from %s to %s", b.state, to)
	}
	b.state = to
	return nil
}

// ForceState sets state unconditionally; used for Failed (reachable from
// any state) and by tests.
func (b *Base) ForceState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

// MarkDone closes the completion channel exactly once, used by Event
// sources when their clip finishes.
func (b *Base) MarkDone() {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}

// Exported transition helpers used by concrete source Initialize/Play/etc.

func (b *Base) BeginInitializing() error { return b.transition([]State{Uninitialized}, Initializing) }
func (b *Base) FinishInitializing() error { return b.transition([]State{Initializing}, Ready) }
func (b *Base) FailInitializing() error   { return b.transition([]State{Initializing}, Failed) }

func (b *Base) BeginPlaying() error {
	if err := b.requireCapability(CapPlay); err != nil {
		return err
	}
	return b.transition([]State{Ready, Paused}, Playing)
}

func (b *Base) BeginPausing() error {
	if err := b.requireCapability(CapPause); err != nil {
		return err
	}
	return b.transition([]State{Playing}, Paused)
}

func (b *Base) BeginStopping() error {
	b.mu.Lock()
	cur := b.state
	b.mu.Unlock()
	if cur == Disposed {
		return errs.New(errs.Fatal, "cannot stop a disposed source")
	}
	return b.transition([]State{Uninitialized, Initializing, Ready, Playing, Paused, Stopped, Failed}, Stopped)
}

func (b *Base) BeginDisposing() error {
	return b.transition([]State{Stopped, Failed, Ready, Uninitialized}, Disposed)
}

func (b *Base) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Failed
}

// CheckSeekable returns Unsupported unless CapSeek is set.
func (b *Base) CheckSeekable() error { return b.requireCapability(CapSeek) }
func (b *Base) CheckPausable() error { return b.requireCapability(CapPause) }
func (b *Base) CheckNext() error     { return b.requireCapability(CapNext) }
func (b *Base) CheckPrevious() error { return b.requireCapability(CapPrevious) }
func (b *Base) CheckShuffle() error  { return b.requireCapability(CapShuffle) }
func (b *Base) CheckRepeat() error   { return b.requireCapability(CapRepeat) }
