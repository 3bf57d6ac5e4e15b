// Package usbarbiter implements the process-global exclusive-device
// reservation table: a mapping from exclusive device path
// to owning SourceId, protected by a single mutex held only for the
// table mutation itself.
package usbarbiter

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/hearthcast/engine/internal/errs"
)

// Arbiter is safe for concurrent use. There is normally exactly one
// instance per engine, shared by every Source that may claim exclusive
// hardware (a tuner's serial CAT port, a USB turntable's control node).
type Arbiter struct {
	mu    sync.Mutex
	owner map[string]string // exclusive_path -> owner source id
	log   *log.Logger
}

// New creates an empty reservation table.
func New(logger *log.Logger) *Arbiter {
	if logger == nil {
		logger = log.Default()
	}
	return &Arbiter{
		owner: make(map[string]string),
		log:   logger.With("component", "usbarbiter"),
	}
}

// Reserve claims path for owner. It is idempotent for the current owner
// (re-reserving your own path succeeds) but returns a Busy conflict
// naming the current owner otherwise.
func (a *Arbiter) Reserve(path, owner string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if current, held := a.owner[path]; held {
		if current == owner {
			return nil
		}
		return errs.Wrap(errs.Busy, &errs.Conflict{CurrentOwner: current}, "path %s already reserved", path)
	}
	a.owner[path] = owner
	a.log.Info("reserved", "path", path, "owner", owner)
	return nil
}

// Release frees path if owner currently holds it. Release-without-reserve
// and double-release are idempotent no-ops; releasing a path held by a
// different owner returns NotFound.
func (a *Arbiter) Release(path, owner string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, held := a.owner[path]
	if !held {
		return nil
	}
	if current != owner {
		return errs.New(errs.NotFound, "path %s is owned by %s, not %s", path, current, owner)
	}
	delete(a.owner, path)
	a.log.Info("released", "path", path, "owner", owner)
	return nil
}

// ReleaseAll releases every path currently held by owner, regardless of
// how many there are. The Engine calls this on a source's Disposed exit
// so a misbehaving source can never leak a reservation.
func (a *Arbiter) ReleaseAll(owner string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for path, current := range a.owner {
		if current == owner {
			delete(a.owner, path)
			a.log.Info("released on dispose", "path", path, "owner", owner)
		}
	}
}

// InUse reports whether path currently has an owner.
func (a *Arbiter) InUse(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, held := a.owner[path]
	return held
}

// List returns a snapshot copy of the full reservation table.
func (a *Arbiter) List() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.owner))
	for k, v := range a.owner {
		out[k] = v
	}
	return out
}
