package api

import (
	"context"
	"net/http"
	"strings"
)

// Health returns the health status of the API and its dependencies.
// An unreachable database is fatal; a dropped live connection only degrades.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.HealthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":  "healthy",
		"checks":  checks,
		"viewers": h.hub.Count(),
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		status["status"] = "unhealthy"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	conn := h.session.Status()
	checks["live"] = strings.ToLower(string(conn.State))
	if !conn.Connected && statusCode == http.StatusOK {
		status["status"] = "degraded"
	}

	JSON(w, statusCode, status)
}
