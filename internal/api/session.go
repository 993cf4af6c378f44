package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ashureev/healdash/internal/backend"
	"github.com/ashureev/healdash/internal/diffview"
	"github.com/ashureev/healdash/internal/runner"
	"github.com/go-chi/chi/v5"
)

const maxStartBody = 64 << 10

// GetSession returns the connection status and current snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, newSessionView(h.session.Current()))
}

// StartRun starts a healing run for the posted repository.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !h.limiter.Allow(ip) {
		h.logger.Warn("Run submission rate limited", "ip", ip)
		Error(w, http.StatusTooManyRequests, "too many runs, try again later")
		return
	}

	var p runner.Params
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStartBody)).Decode(&p); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID, err := h.runner.Start(r.Context(), p)
	if err != nil {
		h.logger.Error("Failed to start run", "error", err, "repo_url", p.RepoURL, "session_id", sessionID)
		var se *backend.StatusError
		switch {
		case errors.Is(err, runner.ErrInvalidRepoURL):
			Error(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, runner.ErrNotConnected):
			Error(w, http.StatusServiceUnavailable, "live connection unavailable")
		case errors.As(err, &se):
			Error(w, http.StatusBadGateway, "backend rejected the run")
		default:
			Error(w, http.StatusBadGateway, "backend unavailable")
		}
		return
	}

	JSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}

// Connect opens the live connection, reviving it after retries ran out.
func (h *Handler) Connect(w http.ResponseWriter, _ *http.Request) {
	h.session.StartConnection()
	JSON(w, http.StatusAccepted, h.session.Status())
}

// ClearSession empties the snapshot.
func (h *Handler) ClearSession(w http.ResponseWriter, _ *http.Request) {
	h.session.ClearSession()
	w.WriteHeader(http.StatusNoContent)
}

// GetDiff renders one reported change as a unified diff.
func (h *Handler) GetDiff(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || idx < 0 {
		Error(w, http.StatusBadRequest, "invalid diff index")
		return
	}
	diffs := h.session.Snapshot().Diffs
	if idx >= len(diffs) {
		Error(w, http.StatusNotFound, "diff not found")
		return
	}

	d := diffs[idx]
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(diffview.Unified(d.File, d.Line, d.Before, d.After)))
}
