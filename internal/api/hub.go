package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ashureev/healdash/internal/domain"
	"github.com/ashureev/healdash/internal/live"
)

const defaultViewerQueueSize = 64

// Source publishes live session state.
type Source interface {
	Snapshot() domain.Snapshot
	Status() domain.ConnectionStatus
	Current() live.Update
	Subscribe(fn func(live.Update)) (unsubscribe func())
}

// Viewer is one connected dashboard client.
type Viewer struct {
	ID      int64
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Frames delivers encoded updates, oldest first.
func (v *Viewer) Frames() <-chan []byte { return v.queue }

// Done is closed when the hub drops the viewer.
func (v *Viewer) Done() <-chan struct{} { return v.done }

// Dropped counts frames discarded because the viewer fell behind.
func (v *Viewer) Dropped() int64 { return v.dropped.Load() }

func (v *Viewer) close() { v.once.Do(func() { close(v.done) }) }

// enqueue never blocks: when the queue is full the oldest frame is dropped.
// Every frame is a full snapshot, so only intermediate states are lost.
func (v *Viewer) enqueue(data []byte) {
	select {
	case v.queue <- data:
		return
	default:
	}

	select {
	case <-v.queue:
		v.dropped.Add(1)
	default:
	}

	select {
	case v.queue <- data:
	default:
		v.dropped.Add(1)
	}
}

// Hub fans live session updates out to viewers.
type Hub struct {
	queueSize int
	logger    *slog.Logger
	unsub     func()

	mu      sync.Mutex
	viewers map[int64]*Viewer
	nextID  int64
	last    []byte
	closed  bool
}

// NewHub subscribes to src and starts fanning out its updates.
func NewHub(src Source, queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = defaultViewerQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		queueSize: queueSize,
		logger:    logger,
		viewers:   make(map[int64]*Viewer),
	}
	h.unsub = src.Subscribe(h.broadcast)

	// Seed the first frame unless an update already arrived.
	initial, err := encodeFrame(src.Current())
	if err != nil {
		logger.Error("Failed to encode initial frame", "error", err)
		return h
	}
	h.mu.Lock()
	if h.last == nil {
		h.last = initial
	}
	h.mu.Unlock()
	return h
}

func encodeFrame(u live.Update) ([]byte, error) {
	return json.Marshal(newSessionView(u))
}

func (h *Hub) broadcast(u live.Update) {
	data, err := encodeFrame(u)
	if err != nil {
		h.logger.Error("Failed to encode session update", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.last = data
	for _, v := range h.viewers {
		v.enqueue(data)
	}
}

// Join registers a viewer and returns it with the latest frame.
// Frames sent to the viewer afterwards are never older than that frame.
func (h *Hub) Join() (*Viewer, []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	v := &Viewer{
		ID:    h.nextID,
		queue: make(chan []byte, h.queueSize),
		done:  make(chan struct{}),
	}
	if h.closed {
		v.close()
		return v, h.last
	}
	h.viewers[v.ID] = v
	h.logger.Info("Dashboard viewer joined", "viewer_id", v.ID, "viewers", len(h.viewers))
	return v, h.last
}

// Leave unregisters a viewer.
func (h *Hub) Leave(v *Viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.viewers[v.ID]; ok && current == v {
		delete(h.viewers, v.ID)
		h.logger.Info("Dashboard viewer left",
			"viewer_id", v.ID,
			"dropped_frames", v.Dropped(),
			"viewers", len(h.viewers),
		)
	}
	v.close()
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Close unsubscribes from the session and disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, v := range h.viewers {
		v.close()
		delete(h.viewers, id)
	}
	h.mu.Unlock()

	h.unsub()
}
