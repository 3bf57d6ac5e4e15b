// Package control implements the transport-agnostic RPC verbs over
// plain HTTP: JSON request/response for the synchronous verbs, a
// gorilla/websocket push channel for subscribeVisualization, and a
// streamAudio endpoint that hands off to whichever HttpBroadcast sink
// is registered under the requested ID.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/lestrrat-go/strftime"

	"github.com/hearthcast/engine/internal/ducking"
	"github.com/hearthcast/engine/internal/engine"
	"github.com/hearthcast/engine/internal/errs"
	"github.com/hearthcast/engine/internal/sink"
	"github.com/hearthcast/engine/internal/source"
)

// DefaultTimestampFormat is the strftime-style layout applied to the
// access log prefix when no override is configured.
const DefaultTimestampFormat = "%Y-%m-%d %H:%M:%S"

// ClipFactory materializes a fresh Event source.Handle for a clipRef.
// Registered by whatever owns the clip library (chimes, TTS renders,
// notification sounds) before spawnEvent can reference that ref.
type ClipFactory func() source.Handle

// Server exposes the engine's control surface over HTTP.
type Server struct {
	eng *engine.Engine
	log *log.Logger

	upgrader websocket.Upgrader
	mux      *http.ServeMux
	http     *http.Server

	clips    map[string]ClipFactory
	tsFormat string
}

// NewServer builds a Server bound to addr; call Run to start listening.
func NewServer(eng *engine.Engine, addr string, logger *log.Logger) *Server {
	s := &Server{
		eng: eng,
		log: logger.With("component", "control"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		clips: make(map[string]ClipFactory),
	}
	s.SetTimestampFormat(DefaultTimestampFormat)
	s.mux = http.NewServeMux()
	s.registerRoutes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.accessLog(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetTimestampFormat installs the strftime-style layout used to prefix
// access log lines. An invalid format is validated eagerly so a bad
// config value surfaces at startup instead of on the first request.
func (s *Server) SetTimestampFormat(format string) {
	if _, err := strftime.Format(format, time.Now()); err != nil {
		s.log.Warn("invalid timestamp format, keeping previous", "format", format, "error", err)
		return
	}
	s.tsFormat = format
}

// accessLog wraps next with a request log line prefixed by the
// configured strftime timestamp.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stamp, err := strftime.Format(s.tsFormat, time.Now())
		if err != nil {
			stamp = time.Now().Format(time.RFC3339)
		}
		s.log.Debug("request", "at", stamp, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// RegisterClip makes clipRef spawnable via the spawnEvent verb.
func (s *Server) RegisterClip(clipRef string, factory ClipFactory) {
	s.clips[clipRef] = factory
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/playback", s.handleGetPlaybackState)
	s.mux.HandleFunc("/master", s.handleSetMaster)
	s.mux.HandleFunc("/transport", s.handleTransport)
	s.mux.HandleFunc("/sources", s.handleListSources)
	s.mux.HandleFunc("/sources/switch-primary", s.handleSwitchPrimary)
	s.mux.HandleFunc("/events/spawn", s.handleSpawnEvent)
	s.mux.HandleFunc("/devices", s.handleListOutputDevices)
	s.mux.HandleFunc("/devices/refresh", s.handleRefreshDevices)
	s.mux.HandleFunc("/devices/set-output", s.handleSetOutputDevice)
	s.mux.HandleFunc("/usb-reservations", s.handleUsbReservations)
	s.mux.HandleFunc("/visualizer/spectrum", s.handleGetSpectrum)
	s.mux.HandleFunc("/visualizer/levels", s.handleGetLevels)
	s.mux.HandleFunc("/visualizer/waveform", s.handleGetWaveform)
	s.mux.HandleFunc("/visualizer/subscribe", s.handleSubscribeVisualization)
	s.mux.HandleFunc("/stream/", s.handleStreamAudio)
}

// Run blocks serving HTTP until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("shutdown", "error", err)
		}
	}()

	s.log.Info("listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errs.Wrap(errs.Fatal, err, "control server")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if e, ok := err.(*errs.Error); ok {
		switch e.Kind {
		case errs.OutOfRange, errs.Unsupported:
			status = http.StatusBadRequest
		case errs.NotFound:
			status = http.StatusNotFound
		case errs.Busy:
			status = http.StatusConflict
		case errs.Unavailable:
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleGetPlaybackState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.GetPlaybackState())
}

type setMasterRequest struct {
	Volume *float64 `json:"volume,omitempty"`
	Balance *float64 `json:"balance,omitempty"`
	Muted   *bool    `json:"muted,omitempty"`
}

func (s *Server) handleSetMaster(w http.ResponseWriter, r *http.Request) {
	var req setMasterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Volume != nil {
		if err := s.eng.SetMasterVolume(*req.Volume); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Balance != nil {
		if err := s.eng.SetBalance(*req.Balance); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Muted != nil {
		if err := s.eng.SetMuted(*req.Muted); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.eng.GetPlaybackState())
}

type transportRequest struct {
	Action string  `json:"action"`
	Pos    float64 `json:"pos,omitempty"`
}

func (s *Server) handleTransport(w http.ResponseWriter, r *http.Request) {
	var req transportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	primary := s.eng.PrimarySource()
	if primary == nil {
		writeError(w, errs.New(errs.Unavailable, "no primary source"))
		return
	}

	ctx := r.Context()
	var err error
	switch req.Action {
	case "Play":
		err = primary.Play(ctx)
	case "Pause":
		err = primary.Pause(ctx)
	case "Stop":
		err = primary.Stop(ctx)
	case "Seek":
		err = primary.Seek(ctx, req.Pos)
	case "Next":
		err = primary.Next(ctx)
	case "Previous":
		err = primary.Previous(ctx)
	default:
		err = errs.New(errs.Unsupported, "unknown transport action %q", req.Action)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.GetPlaybackState())
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	ids, primary := s.eng.ListSources()
	writeJSON(w, http.StatusOK, map[string]any{"sources": ids, "primary": primary})
}

type switchPrimaryRequest struct {
	SourceID string `json:"sourceId"`
}

func (s *Server) handleSwitchPrimary(w http.ResponseWriter, r *http.Request) {
	var req switchPrimaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.eng.SwitchPrimary(r.Context(), source.ID(req.SourceID)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.GetPlaybackState())
}

type spawnEventRequest struct {
	ClipRef  string `json:"clipRef"`
	Priority int    `json:"priority"`
	Policy   string `json:"policy"`
}

func parseDuckingPolicy(s string) (ducking.Policy, error) {
	switch s {
	case "", "AttenuatePrimary":
		return ducking.AttenuatePrimary, nil
	case "AttenuateAll":
		return ducking.AttenuateAll, nil
	case "Mute":
		return ducking.Mute, nil
	default:
		return 0, errs.New(errs.OutOfRange, "unknown ducking policy %q", s)
	}
}

func (s *Server) handleSpawnEvent(w http.ResponseWriter, r *http.Request) {
	var req spawnEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	factory, ok := s.clips[req.ClipRef]
	if !ok {
		writeError(w, errs.New(errs.Unavailable, "clip %q is not registered", req.ClipRef))
		return
	}
	policy, err := parseDuckingPolicy(req.Policy)
	if err != nil {
		writeError(w, err)
		return
	}

	id, err := s.eng.SpawnEvent(r.Context(), engine.EventSpec{
		Source:   factory(),
		Policy:   policy,
		Priority: req.Priority,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"eventId": string(id)})
}

func (s *Server) handleListOutputDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := sink.ListOutputDevices()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleRefreshDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := sink.RefreshDevices()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

type setOutputDeviceRequest struct {
	SinkID string `json:"sinkId"`
	Device string `json:"device"`
}

func (s *Server) handleSetOutputDevice(w http.ResponseWriter, r *http.Request) {
	var req setOutputDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	found, ok := s.eng.SinkManager().Get(req.SinkID)
	if !ok {
		writeError(w, errs.New(errs.NotFound, "sink %q not registered", req.SinkID))
		return
	}
	local, ok := found.(*sink.Local)
	if !ok {
		writeError(w, errs.New(errs.Unsupported, "sink %q does not support device selection", req.SinkID))
		return
	}
	if err := local.SetOutputDevice(r.Context(), req.Device); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUsbReservations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.UsbReservations())
}

func (s *Server) handleGetSpectrum(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Spectrum())
}

func (s *Server) handleGetLevels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Levels())
}

func (s *Server) handleGetWaveform(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Waveform())
}

// visualizationPushRate bounds how often subscribeVisualization pushes
// a fresh snapshot over the websocket, independent of the block rate.
const visualizationPushRate = 50 * time.Millisecond

type visualizationPush struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// handleSubscribeVisualization upgrades to a websocket and pushes
// spectrum/levels/waveform snapshots on every tick until the client
// disconnects. channels is read once from the query string
// (?channels=spectrum,levels,waveform); an empty value means all three.
func (s *Server) handleSubscribeVisualization(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("visualization websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	channels := parseChannels(r.URL.Query().Get("channels"))
	ticker := time.NewTicker(visualizationPushRate)
	defer ticker.Stop()

	for range ticker.C {
		if channels["spectrum"] {
			if err := conn.WriteJSON(visualizationPush{"spectrum", s.eng.Spectrum()}); err != nil {
				return
			}
		}
		if channels["levels"] {
			if err := conn.WriteJSON(visualizationPush{"levels", s.eng.Levels()}); err != nil {
				return
			}
		}
		if channels["waveform"] {
			if err := conn.WriteJSON(visualizationPush{"waveform", s.eng.Waveform()}); err != nil {
				return
			}
		}
	}
}

func parseChannels(raw string) map[string]bool {
	if raw == "" {
		return map[string]bool{"spectrum": true, "levels": true, "waveform": true}
	}
	out := make(map[string]bool)
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out[raw[start:i]] = true
			}
			start = i + 1
		}
	}
	return out
}

// handleStreamAudio delegates to whichever HttpBroadcast sink is
// registered under the path's trailing ID, serving the chunked PCM feed
// (audio/L16 equivalent: 32-bit float WAV) directly from that sink.
func (s *Server) handleStreamAudio(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[len("/stream/"):]
	found, ok := s.eng.SinkManager().Get(id)
	if !ok {
		writeError(w, errs.New(errs.NotFound, "sink %q not registered", id))
		return
	}
	broadcast, ok := found.(*sink.HttpBroadcast)
	if !ok {
		writeError(w, errs.New(errs.Unsupported, "sink %q does not serve an HTTP stream", id))
		return
	}
	broadcast.ServeHTTP(w, r)
}
