package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const viewerWriteTimeout = 10 * time.Second

// HandleLiveWS pushes session updates to a dashboard over WebSocket.
// The first frame is the current state; later frames follow every change.
func (h *Handler) HandleLiveWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "ip", clientIP(r))
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "viewer closed"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	v, initial := h.hub.Join()
	defer h.hub.Leave(v)

	// Viewers only listen; CloseRead handles control frames and cancels
	// ctx once the client goes away.
	ctx := ws.CloseRead(r.Context())

	if err := writeFrame(ctx, ws, initial); err != nil {
		h.logger.Debug("Failed to send initial frame", "error", err, "viewer_id", v.ID)
		return
	}

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("WebSocket viewer disconnected", "viewer_id", v.ID)
			return
		case <-v.Done():
			return
		case data := <-v.Frames():
			if err := writeFrame(ctx, ws, data); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					h.logger.Warn("WebSocket write error", "error", err, "viewer_id", v.ID)
				}
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, viewerWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" || h.opts.AllowedOrigin == "" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}
