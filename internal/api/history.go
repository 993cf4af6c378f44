package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const maxHistoryLimit = 200

// ListHistory returns recent locally recorded runs.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list runs", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// GetHistoryRun returns one run with its fixes.
func (h *Handler) GetHistoryRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.repo.GetRun(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load run", "error", err, "run_id", id)
		Error(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if run == nil {
		Error(w, http.StatusNotFound, "run not found")
		return
	}
	JSON(w, http.StatusOK, run)
}
