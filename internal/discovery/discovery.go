// Package discovery announces the HTTP-broadcast stream over mDNS/DNS-SD
// and browses for other receivers on the local network, using the pure-Go
// brutella/dnssd implementation (no system daemon dependency).
package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

// ServiceType is the service name net-receiver casting targets browse for.
const ServiceType = "_hearthcast-cast._tcp"

// Announcer advertises this appliance's broadcast stream for discovery
// by net-receiver sinks on other appliances.
type Announcer struct {
	log  *log.Logger
	resp dnssd.Responder

	mu     sync.Mutex
	handle dnssd.ServiceHandle
}

// NewAnnouncer constructs an Announcer; call Start to begin responding.
func NewAnnouncer(logger *log.Logger) (*Announcer, error) {
	resp, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("create dns-sd responder: %w", err)
	}
	return &Announcer{log: logger.With("component", "discovery"), resp: resp}, nil
}

// Start advertises name on ServiceType at the given port and begins
// responding to mDNS queries until ctx is canceled.
func (a *Announcer) Start(ctx context.Context, name string, port int) error {
	cfg := dnssd.Config{
		Name: name,
		Type: ServiceType,
		Port: port,
	}
	svc, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("create dns-sd service: %w", err)
	}

	handle, err := a.resp.Add(svc)
	if err != nil {
		return fmt.Errorf("add dns-sd service: %w", err)
	}

	a.mu.Lock()
	a.handle = handle
	a.mu.Unlock()

	go func() {
		if err := a.resp.Respond(ctx); err != nil {
			a.log.Warn("dns-sd responder stopped", "error", err)
		}
	}()

	a.log.Info("announcing broadcast stream", "name", name, "port", port)
	return nil
}

// Stop withdraws the advertised service.
func (a *Announcer) Stop(ctx context.Context) error {
	a.mu.Lock()
	handle := a.handle
	a.mu.Unlock()
	if handle == nil {
		return nil
	}
	return a.resp.Remove(ctx, handle)
}

// Receiver describes one discovered net-receiver target.
type Receiver struct {
	Name string
	Host string
	Port int
	Text map[string]string
}

// Browse watches for ServiceType receivers appearing and disappearing on
// the network, invoking onAdd/onRemove as dnssd reports them. It blocks
// until ctx is canceled.
func Browse(ctx context.Context, onAdd, onRemove func(Receiver)) error {
	add := func(e dnssd.BrowseEntry) {
		if onAdd == nil {
			return
		}
		host := ""
		if len(e.IPs) > 0 {
			host = e.IPs[0].String()
		}
		onAdd(Receiver{Name: e.Name, Host: host, Port: e.Port, Text: e.Text})
	}
	remove := func(e dnssd.BrowseEntry) {
		if onRemove == nil {
			return
		}
		onRemove(Receiver{Name: e.Name, Port: e.Port})
	}
	return dnssd.LookupType(ctx, ServiceType, add, remove)
}
