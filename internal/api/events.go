package api

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// HandleEvents streams session updates as server-sent events. Every event
// carries a full snapshot, so a reconnecting client needs no replay.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", h.opts.SSERetryDelay.Milliseconds()); err != nil {
		h.logger.Warn("Failed to write SSE retry header", "error", err)
		return
	}

	v, initial := h.hub.Join()
	defer h.hub.Leave(v)

	var eventID int64 = 1
	if err := writeSSEWithID(w, eventID, "snapshot", string(initial)); err != nil {
		h.logger.Warn("Failed to write SSE snapshot", "error", err)
		return
	}
	flusher.Flush()
	h.logger.Info("SSE connection established", "viewer_id", v.ID, "ip", clientIP(r))

	keepalive := time.NewTicker(h.opts.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE connection closed", "viewer_id", v.ID)
			return
		case <-v.Done():
			return
		case data := <-v.Frames():
			eventID++
			if err := writeSSEWithID(w, eventID, "update", string(data)); err != nil {
				h.logger.Debug("SSE write failed", "error", err, "viewer_id", v.ID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Debug("Failed to write SSE keepalive ping", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
