// Package api provides HTTP handlers for the healdash API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/healdash/internal/domain"
	"github.com/ashureev/healdash/internal/live"
	"github.com/ashureev/healdash/internal/runner"
	"github.com/ashureev/healdash/internal/store"
	"github.com/go-chi/chi/v5"
)

// LiveSession is the live session surface the API exposes.
type LiveSession interface {
	Source
	StartConnection()
	ClearSession()
}

// Starter starts healing runs.
type Starter interface {
	Start(ctx context.Context, p runner.Params) (string, error)
}

// Options tunes the handlers.
type Options struct {
	AllowedOrigin      string
	IsDev              bool
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	SSERetryDelay      time.Duration
	KeepaliveInterval  time.Duration
	HealthCheckTimeout time.Duration
	ViewerQueueSize    int
}

func (o *Options) setDefaults() {
	o.AllowedOrigin = strings.TrimRight(strings.TrimSpace(o.AllowedOrigin), "/")
	if o.RateLimitRequests <= 0 {
		o.RateLimitRequests = 5
	}
	if o.RateLimitWindow <= 0 {
		o.RateLimitWindow = time.Minute
	}
	if o.SSERetryDelay <= 0 {
		o.SSERetryDelay = 5 * time.Second
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = 15 * time.Second
	}
	if o.HealthCheckTimeout <= 0 {
		o.HealthCheckTimeout = 5 * time.Second
	}
	if o.ViewerQueueSize <= 0 {
		o.ViewerQueueSize = defaultViewerQueueSize
	}
}

// Handler serves the session, history and health endpoints.
type Handler struct {
	session LiveSession
	runner  Starter
	repo    store.Repository
	hub     *Hub
	limiter *RateLimiter
	opts    Options
	logger  *slog.Logger
}

// NewHandler creates a Handler. Call Close to release the hub and limiter.
func NewHandler(session LiveSession, starter Starter, repo store.Repository, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	opts.setDefaults()
	return &Handler{
		session: session,
		runner:  starter,
		repo:    repo,
		hub:     NewHub(session, opts.ViewerQueueSize, logger),
		limiter: NewRateLimiter(opts.RateLimitRequests, opts.RateLimitWindow),
		opts:    opts,
		logger:  logger,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/", h.StartRun)
			r.Delete("/", h.ClearSession)
			r.Post("/connect", h.Connect)
			r.Get("/diffs/{index}", h.GetDiff)
			r.Get("/events", h.HandleEvents)
		})

		r.Get("/history", h.ListHistory)
		r.Get("/history/{id}", h.GetHistoryRun)
	})
	r.Get("/ws/live", h.HandleLiveWS)
}

// Close disconnects viewers and stops background work.
func (h *Handler) Close() {
	h.hub.Close()
	h.limiter.Close()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// clientIP returns the caller address without its port. RealIP middleware
// rewrites RemoteAddr from proxy headers first.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sessionView is the body of GET /api/session.
type sessionView struct {
	Status   domain.ConnectionStatus `json:"status"`
	Snapshot domain.Snapshot         `json:"snapshot"`
	Complete bool                    `json:"complete"`
}

func newSessionView(u live.Update) sessionView {
	return sessionView{Status: u.Status, Snapshot: u.Snapshot, Complete: u.Snapshot.Complete()}
}
