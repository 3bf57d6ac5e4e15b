// Package ducking implements the attenuation envelope that lets event
// sources (announcements, chimes, notifications, effects) temporarily
// duck the primary and/or other events.
package ducking

import (
	"sort"
	"time"

	"github.com/hearthcast/engine/internal/source"
)

// Policy controls which sources an active event attenuates.
type Policy int

const (
	// AttenuatePrimary ducks only the Primary source; events pass at
	// their own volume.
	AttenuatePrimary Policy = iota
	// AttenuateAll ducks every source, events included (at a separate,
	// possibly higher floor — see Options.EventFloor).
	AttenuateAll
	// Mute zeroes the Primary for the event's entire duration; events
	// are unaffected.
	Mute
)

// Options configures the envelope.
type Options struct {
	Floor      float64       // target attenuation floor, e.g. 0.15
	EventFloor float64       // floor applied to events under AttenuateAll
	AttackMs   time.Duration // ramp-down duration when an event begins
	ReleaseMs  time.Duration // ramp-up duration when the last event ends
}

// DefaultOptions holds the defaults used absent explicit configuration.
var DefaultOptions = Options{
	Floor:      0.15,
	EventFloor: 0.4,
	AttackMs:   80 * time.Millisecond,
	ReleaseMs:  300 * time.Millisecond,
}

// activeEvent is the controller's bookkeeping for one currently-Playing
// event source.
type activeEvent struct {
	id       source.ID
	policy   Policy
	priority int
	startedAt time.Time
	endsAt    *time.Time // nil if duration is unknown (e.g. a live TTS stream)
}

// Controller tracks active Event sources and computes the per-block
// attenuation factor g and routing flag. It has no goroutine of its own:
// the Mixer calls Evaluate once per block, holding the result constant
// across every sample in that block.
type Controller struct {
	opts   Options
	events map[source.ID]*activeEvent

	g          float64 // current primary-channel envelope value
	eventG     float64 // current event-channel envelope value (AttenuateAll only)
	target     float64 // primary floor we're ramping toward (1.0 when idle)
	eventTarget float64
	rampStart  time.Time
	rampFrom   float64
	rampTo     float64
	eventRampFrom float64
	eventRampTo   float64
	rampDur    time.Duration
	activePolicy Policy
}

// New creates a Controller at full envelope (g=1, no active events).
func New(opts Options) *Controller {
	return &Controller{
		opts:        opts,
		events:      make(map[source.ID]*activeEvent),
		g:           1.0,
		eventG:      1.0,
		target:      1.0,
		eventTarget: 1.0,
		rampTo:      1.0,
		eventRampTo: 1.0,
	}
}

// Begin registers an event source as duck-active; called when the
// engine transitions it to Playing.
func (c *Controller) Begin(id source.ID, policy Policy, priority int, duration *time.Duration, now time.Time) {
	ev := &activeEvent{id: id, policy: policy, priority: priority, startedAt: now}
	if duration != nil {
		ends := now.Add(*duration)
		ev.endsAt = &ends
	}
	c.events[id] = ev
	c.recompute(now)
}

// End unregisters an event source; called on its Playing->Stopped
// transition.
func (c *Controller) End(id source.ID, now time.Time) {
	delete(c.events, id)
	c.recompute(now)
}

// recompute picks the new target floor and policy from tie-breaking
// rules (most-restrictive floor wins; on equal floors,
// longest remaining duration; on equal duration, highest priority) and
// starts a fresh ramp toward it if the target changed.
func (c *Controller) recompute(now time.Time) {
	if len(c.events) == 0 {
		c.startRamp(1.0, 1.0, c.opts.ReleaseMs, now)
		return
	}

	ordered := make([]*activeEvent, 0, len(c.events))
	for _, ev := range c.events {
		ordered = append(ordered, ev)
	}
	sort.Slice(ordered, func(i, j int) bool {
		fi, fj := floorFor(ordered[i].policy, c.opts), floorFor(ordered[j].policy, c.opts)
		if fi != fj {
			return fi < fj // most restrictive (lowest) floor first
		}
		ri, rj := remaining(ordered[i], now), remaining(ordered[j], now)
		if ri != rj {
			return ri > rj // longest remaining duration first
		}
		return ordered[i].priority > ordered[j].priority // highest priority first
	})

	winner := ordered[0]
	c.activePolicy = winner.policy
	target := floorFor(winner.policy, c.opts)
	eventTarget := eventFloorFor(winner.policy, c.opts)
	if target != c.target || eventTarget != c.eventTarget {
		c.startRamp(target, eventTarget, c.opts.AttackMs, now)
	}
}

// floorFor is the floor applied to the Primary source.
func floorFor(p Policy, opts Options) float64 {
	switch p {
	case Mute:
		return 0
	default: // AttenuatePrimary, AttenuateAll
		return opts.Floor
	}
}

// eventFloorFor is the floor applied to Event sources themselves.
// AttenuatePrimary and Mute both leave events at their own volume;
// AttenuateAll ducks them too, at a separate (possibly higher) floor
// by design.
func eventFloorFor(p Policy, opts Options) float64 {
	if p == AttenuateAll {
		return opts.EventFloor
	}
	return 1.0
}

func remaining(ev *activeEvent, now time.Time) time.Duration {
	if ev.endsAt == nil {
		return time.Duration(1<<62 - 1) // unknown duration sorts as "longest"
	}
	return ev.endsAt.Sub(now)
}

func (c *Controller) startRamp(target, eventTarget float64, dur time.Duration, now time.Time) {
	c.target = target
	c.eventTarget = eventTarget
	c.rampFrom = c.g
	c.rampTo = target
	c.eventRampFrom = c.eventG
	c.eventRampTo = eventTarget
	c.rampStart = now
	c.rampDur = dur
}

// Evaluate advances the envelope by one block and returns the Primary
// channel gain, the Event channel gain, and the winning policy. The
// caller must call this exactly once per block and hold both gains
// constant across every sample in that block.
func (c *Controller) Evaluate(now time.Time) (primaryG, eventG float64, policy Policy) {
	if c.rampDur <= 0 {
		c.g, c.eventG = c.rampTo, c.eventRampTo
		return c.g, c.eventG, c.activePolicy
	}
	elapsed := now.Sub(c.rampStart)
	t := 1.0
	if elapsed < c.rampDur {
		t = float64(elapsed) / float64(c.rampDur)
	}
	c.g = c.rampFrom + (c.rampTo-c.rampFrom)*t
	c.eventG = c.eventRampFrom + (c.eventRampTo-c.eventRampFrom)*t
	return c.g, c.eventG, c.activePolicy
}

// ActiveCount returns the number of currently duck-active events —
// used to confirm the active-event count returns to its prior value
// once every event has ended.
func (c *Controller) ActiveCount() int { return len(c.events) }

// G returns the envelope value held from the most recent Evaluate call,
// without advancing it.
func (c *Controller) G() float64 { return c.g }
