package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/discovery"
	"github.com/hearthcast/engine/internal/errs"
)

// NetReceiver casts to a discovered receiver by performing a
// connect/announce handshake and then pointing it at the URL served by
// an HttpBroadcast sink — it never streams PCM itself.
type NetReceiver struct {
	*base

	target   discovery.Receiver
	streamURL string
	client    *http.Client

	mu        sync.Mutex
	connected bool
}

// NewNetReceiver constructs a NetReceiver targeting a receiver discovered
// via internal/discovery, casting the stream served at streamURL (an
// HttpBroadcast sink's ServeHTTP endpoint).
func NewNetReceiver(id string, priority int, target discovery.Receiver, streamURL string, frame clock.Frame, logger *log.Logger) *NetReceiver {
	return &NetReceiver{
		base: &base{
			id:       id,
			priority: priority,
			frame:    frame,
			log:      logger.With("sink", id, "target", target.Name),
		},
		target:    target,
		streamURL: streamURL,
		client:    &http.Client{Timeout: 5 * time.Second},
	}
}

// connectPayload is the handshake body sent to the receiver's cast
// endpoint, pointing it at the stream URL it should open.
type connectPayload struct {
	StreamURL string `json:"streamUrl"`
}

func jsonBody(v any) io.Reader {
	b, err := json.Marshal(v)
	if err != nil {
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(b)
}

func (n *NetReceiver) Start(ctx context.Context) error {
	if n.target.Host == "" {
		return errs.New(errs.NotFound, "net-receiver target %q has no address", n.target.Name)
	}

	castURL := fmt.Sprintf("http://%s:%d/cast", n.target.Host, n.target.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, castURL, jsonBody(connectPayload{StreamURL: n.streamURL}))
	if err != nil {
		n.SetStatus(StatusFailed)
		return errs.Wrap(errs.Transient, err, "build cast request to %q", n.target.Name)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.SetStatus(StatusFailed)
		return errs.Wrap(errs.Transient, err, "cast handshake with %q", n.target.Name)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		n.SetStatus(StatusFailed)
		return errs.New(errs.Unavailable, "cast handshake with %q rejected: %d", n.target.Name, resp.StatusCode)
	}

	n.mu.Lock()
	n.connected = true
	n.mu.Unlock()
	n.SetStatus(StatusReady)
	return nil
}

func (n *NetReceiver) Stop(ctx context.Context) error {
	n.mu.Lock()
	wasConnected := n.connected
	n.connected = false
	n.mu.Unlock()
	if !wasConnected {
		return nil
	}

	disconnectURL := fmt.Sprintf("http://%s:%d/disconnect", n.target.Host, n.target.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, disconnectURL, nil)
	if err != nil {
		return nil
	}
	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("disconnect handshake failed", "error", err)
		return nil
	}
	resp.Body.Close()
	return nil
}
