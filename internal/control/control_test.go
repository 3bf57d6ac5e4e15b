package control_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/config"
	"github.com/hearthcast/engine/internal/control"
	"github.com/hearthcast/engine/internal/engine"
	"github.com/hearthcast/engine/internal/source"
)

func testLogger() *log.Logger { return log.New(io.Discard) }

// startTestServer boots a control.Server on a fixed loopback port and
// blocks until it accepts connections, returning the base URL and a
// teardown func.
func startTestServer(t *testing.T, addr string) (*control.Server, *engine.Engine, string, func()) {
	t.Helper()
	e, err := engine.New(clock.Default, config.Default(), testLogger())
	require.NoError(t, err)
	require.NoError(t, e.Initialize(context.Background()))
	require.NoError(t, e.Start(context.Background()))

	srv := control.NewServer(e, addr, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Run(ctx) }()

	base := "http://" + addr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/playback")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return srv, e, base, func() {
		cancel()
		e.Stop(context.Background())
	}
}

func TestGetPlaybackStateReturnsOK(t *testing.T) {
	_, _, base, teardown := startTestServer(t, "127.0.0.1:18181")
	defer teardown()

	resp, err := http.Get(base + "/playback")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var state engine.PlaybackState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, engine.Running, state.EngineState)
}

func TestSetMasterVolumeOutOfRangeReturnsBadRequest(t *testing.T) {
	_, _, base, teardown := startTestServer(t, "127.0.0.1:18182")
	defer teardown()

	vol := 1.5
	body, _ := json.Marshal(map[string]any{"volume": vol})
	resp, err := http.Post(base+"/master", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSpawnEventViaRegisteredClip(t *testing.T) {
	srv, _, base, teardown := startTestServer(t, "127.0.0.1:18183")
	defer teardown()

	samples := make([]float32, clock.Default.Channels*4)
	srv.RegisterClip("doorbell", func() source.Handle {
		return source.NewEventSource(source.TypeChime, "doorbell", samples, 5, clock.Default, testLogger())
	})

	body, _ := json.Marshal(map[string]any{"clipRef": "doorbell", "priority": 5, "policy": "AttenuatePrimary"})
	resp, err := http.Post(base+"/events/spawn", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out["eventId"])
}

func TestSpawnEventUnknownClipReturnsUnavailable(t *testing.T) {
	_, _, base, teardown := startTestServer(t, "127.0.0.1:18184")
	defer teardown()

	body, _ := json.Marshal(map[string]any{"clipRef": "missing"})
	resp, err := http.Post(base+"/events/spawn", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestListSourcesAndSwitchPrimary(t *testing.T) {
	_, e, base, teardown := startTestServer(t, "127.0.0.1:18185")
	defer teardown()

	samples := make([]float32, clock.Default.Channels*clock.Default.FramesPerBlock*4)
	primaryA := source.NewFilePlayer("radio-a", samples, clock.Default, testLogger())
	primaryB := source.NewFilePlayer("radio-b", samples, clock.Default, testLogger())
	require.NoError(t, e.RegisterSource(primaryA))
	require.NoError(t, e.RegisterSource(primaryB))
	require.NoError(t, e.SwitchPrimary(context.Background(), primaryA.ID()))

	resp, err := http.Get(base + "/sources")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := json.Marshal(map[string]string{"sourceId": string(primaryB.ID())})
	resp2, err := http.Post(base+"/sources/switch-primary", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, primaryB.ID(), e.PrimarySource().ID())
}
