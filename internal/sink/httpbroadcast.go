package sink

import (
	"context"
	"encoding/binary"
	"math"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/hearthcast/engine/internal/clock"
	"github.com/hearthcast/engine/internal/ring"
)

// clientQueueDepth is the bounded per-client chunk queue. A slow client
// that cannot keep up is dropped, never the whole sink.
const clientQueueDepth = 32

// HttpBroadcast fans the mix out to any number of HTTP clients. Each
// client gets a short WAV header derived from the engine's clock
// followed by a chunked stream of little-endian interleaved PCM.
type HttpBroadcast struct {
	*base

	mu      sync.Mutex
	clients map[string]chan []byte
	nextID  uint64

	stopped chan struct{}
	wg      sync.WaitGroup
}

// NewHttpBroadcast constructs an HttpBroadcast sink. Call ServeHTTP from
// the control plane's HTTP mux to accept client connections.
func NewHttpBroadcast(id string, priority int, frame clock.Frame, logger *log.Logger) *HttpBroadcast {
	return &HttpBroadcast{
		base: &base{
			id:       id,
			priority: priority,
			ring:     ring.New(frame.SamplesPerBlock(), 8, ring.DropOldest),
			frame:    frame,
			log:      logger.With("sink", id),
		},
		clients: make(map[string]chan []byte),
	}
}

func (h *HttpBroadcast) Start(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = make(chan struct{})
	h.mu.Unlock()
	h.SetStatus(StatusReady)
	h.wg.Add(1)
	go h.loop()
	return nil
}

func (h *HttpBroadcast) loop() {
	defer h.wg.Done()
	block := make([]float32, h.frame.SamplesPerBlock())
	buf := make([]byte, len(block)*4)
	for {
		select {
		case <-h.stopped:
			return
		default:
		}
		h.ring.Pop(block)
		encodeLE(block, buf)

		h.mu.Lock()
		for id, ch := range h.clients {
			select {
			case ch <- append([]byte(nil), buf...):
			default:
				h.log.Warn("dropping slow client", "client", id)
				close(ch)
				delete(h.clients, id)
			}
		}
		h.mu.Unlock()
	}
}

func (h *HttpBroadcast) Stop(ctx context.Context) error {
	h.mu.Lock()
	stopped := h.stopped
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if stopped != nil {
		select {
		case <-stopped:
		default:
			close(stopped)
		}
	}
	h.wg.Wait()
	return nil
}

// ServeHTTP attaches the requester as a streaming client: a WAV header
// followed by a live chunked PCM feed until the connection closes.
func (h *HttpBroadcast) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan []byte, clientQueueDepth)
	h.mu.Lock()
	h.nextID++
	id := clientID(h.nextID)
	h.clients[id] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "audio/x-wav")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)

	header := wavHeader(h.frame)
	if _, err := w.Write(header); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func clientID(n uint64) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return string(buf)
}

func encodeLE(block []float32, dst []byte) {
	for i, s := range block {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}

// wavHeader builds a streaming-friendly (size fields maxed out) WAV/RIFF
// header for 32-bit float PCM at the engine's clock.
func wavHeader(frame clock.Frame) []byte {
	const bitsPerSample = 32
	byteRate := frame.SampleRate * frame.Channels * bitsPerSample / 8
	blockAlign := frame.Channels * bitsPerSample / 8

	buf := make([]byte, 44)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 0xFFFFFFFF)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 3) // IEEE float
	binary.LittleEndian.PutUint16(buf[22:24], uint16(frame.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(frame.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], 0xFFFFFFFF)
	return buf
}
