// Package sink implements the mix output stages: the local device,
// the HTTP broadcast stream, the net-receiver cast path, and the
// priority-ordered failover between them.
package sink

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/errs"
	"github.com/hearthcast/engine/internal/ring"
)

// FailoverBudget is the maximum audio interruption allowed when the
// Manager promotes the next ready sink.
const FailoverBudget = 200 * time.Millisecond

// RetryInitial and RetryMax bound the exponential backoff applied to a
// failed sink's periodic retry.
const (
	RetryInitial = 1 * time.Second
	RetryMax     = 60 * time.Second
)

// Status is a sink's self-reported health.
type Status int

const (
	StatusReady Status = iota
	StatusFailed
)

// Sink is one mix destination. Start begins draining Ring on its own
// goroutine; Stop tears that down. Each implementation allocates its own
// Ring, and the Mixer is its producer via SinkOutput. NetReceiver carries
// no PCM itself: its Ring is nil and it starts no draining goroutine.
type Sink interface {
	ID() string
	Priority() int
	Ring() *ring.Buffer
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() Status
	SetStatus(Status)
}

// base holds the bookkeeping shared by every Sink implementation.
type base struct {
	id       string
	priority int
	ring     *ring.Buffer
	frame    clock.Frame
	log      *log.Logger

	mu     sync.Mutex
	status Status
}

func (b *base) ID() string       { return b.id }
func (b *base) Priority() int    { return b.priority }
func (b *base) Ring() *ring.Buffer { return b.ring }

func (b *base) SetStatus(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
}

func (b *base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// retryState tracks one sink's exponential backoff.
type retryState struct {
	next    time.Duration
	lastTry time.Time
}

func newRetryState() *retryState { return &retryState{next: RetryInitial} }

func (r *retryState) advance(now time.Time) {
	r.lastTry = now
	r.next *= 2
	if r.next > RetryMax {
		r.next = RetryMax
	}
}

func (r *retryState) reset() { r.next = RetryInitial }

func (r *retryState) due(now time.Time) bool {
	return r.lastTry.IsZero() || now.Sub(r.lastTry) >= r.next
}

// Manager holds every configured sink in priority order and promotes the
// next ready sink when the active one fails, retrying failed sinks on a
// backoff schedule. It does not itself drain audio; each Sink's own
// goroutine does that against the ring the Mixer writes into.
type Manager struct {
	log *log.Logger

	mu      sync.Mutex
	sinks   []Sink
	retries map[string]*retryState
	active  string
}

// NewManager constructs an empty Manager.
func NewManager(logger *log.Logger) *Manager {
	return &Manager{
		log:     logger.With("component", "sinkmanager"),
		retries: make(map[string]*retryState),
	}
}

// Add registers a sink and keeps the priority ordering (lowest number
// highest priority).
func (m *Manager) Add(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
	m.retries[s.ID()] = newRetryState()
	sortByPriority(m.sinks)
}

func sortByPriority(sinks []Sink) {
	for i := 1; i < len(sinks); i++ {
		for j := i; j > 0 && sinks[j].Priority() < sinks[j-1].Priority(); j-- {
			sinks[j], sinks[j-1] = sinks[j-1], sinks[j]
		}
	}
}

// Remove unregisters a sink by ID.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sinks {
		if s.ID() == id {
			m.sinks = append(m.sinks[:i], m.sinks[i+1:]...)
			delete(m.retries, id)
			return
		}
	}
}

// Get looks up a registered sink by ID.
func (m *Manager) Get(id string) (Sink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sinks {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// List returns every registered sink's ID and status, in priority order.
func (m *Manager) List() []SinkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SinkStatus, 0, len(m.sinks))
	for _, s := range m.sinks {
		out = append(out, SinkStatus{ID: s.ID(), Priority: s.Priority(), Status: s.Status()})
	}
	return out
}

// SinkStatus is a listing-friendly snapshot of one registered sink.
type SinkStatus struct {
	ID       string
	Priority int
	Status   Status
}

// Active returns the ID of the currently-promoted sink, or "" if none.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Reconcile promotes the highest-priority ready sink if the current
// active sink has failed or none is active yet, and retries any failed
// sink whose backoff has elapsed. Call this periodically (e.g. once per
// block) from the engine's command loop.
func (m *Manager) Reconcile(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	sinks := append([]Sink(nil), m.sinks...)
	active := m.active
	m.mu.Unlock()

	for _, s := range sinks {
		if s.Status() != StatusFailed {
			continue
		}
		m.mu.Lock()
		rs := m.retries[s.ID()]
		m.mu.Unlock()
		if rs == nil {
			continue
		}
		if rs.lastTry.IsZero() {
			// First sighting of this failure: start the backoff clock.
			rs.lastTry = now
			continue
		}
		if !rs.due(now) {
			continue
		}
		if err := s.Start(ctx); err != nil {
			rs.advance(now)
			continue
		}
		rs.reset()
	}

	var best Sink
	for _, s := range sinks {
		if s.Status() == StatusReady {
			best = s
			break
		}
	}

	if best == nil {
		if active != "" {
			m.mu.Lock()
			m.active = ""
			m.mu.Unlock()
		}
		return errs.New(errs.Unavailable, "no ready sink")
	}

	if best.ID() != active {
		m.log.Info("promoting sink", "from", active, "to", best.ID())
		m.mu.Lock()
		m.active = best.ID()
		m.mu.Unlock()
	}
	return nil
}

// MarkFailed records a sink transitioning to failed and starts its
// backoff clock.
func (m *Manager) MarkFailed(id string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sinks {
		if s.ID() == id {
			s.SetStatus(StatusFailed)
		}
	}
	if rs, ok := m.retries[id]; ok {
		rs.lastTry = now
	}
}
