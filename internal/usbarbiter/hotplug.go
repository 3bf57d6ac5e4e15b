package usbarbiter

import (
	"context"

	udev "github.com/jochenvg/go-udev"
)

// watchedSubsystem is the udev subsystem whose remove events can carry
// an exclusive device path this appliance cares about (serial CAT ports,
// USB turntable control nodes).
const watchedSubsystem = "tty"

// ReleaseOnRemoval drops the reservation for path regardless of owner,
// if one is held. It is the hotplug-driven counterpart to Release: the
// udev watcher calls it on a device's remove event so a reservation
// never outlives the hardware backing it.
func (a *Arbiter) ReleaseOnRemoval(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if owner, held := a.owner[path]; held {
		delete(a.owner, path)
		a.log.Info("released on device removal", "path", path, "owner", owner)
	}
}

// Watch starts a udev monitor on the netlink "udev" source, filtered to
// watchedSubsystem, and releases any reservation on a device's remove
// event. It runs until ctx is canceled; call it from the Engine's
// Initialize alongside the other background watchers.
func Watch(ctx context.Context, a *Arbiter) error {
	u := &udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if err := mon.FilterAddMatchSubsystem(watchedSubsystem); err != nil {
		return err
	}

	deviceCh, errCh, err := mon.DeviceChan(ctx)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case dev, ok := <-deviceCh:
				if !ok {
					return
				}
				if dev.Action() == "remove" {
					a.ReleaseOnRemoval(dev.Devnode())
				}
			case err, ok := <-errCh:
				if !ok {
					return
				}
				a.log.Warn("udev monitor error", "error", err)
			}
		}
	}()
	return nil
}
