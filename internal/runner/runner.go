// Package runner starts healing runs: it opens the live session, wakes the
// backend and submits the analysis request.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/healdash/internal/backend"
	"github.com/google/uuid"
)

const (
	defaultConnectTimeout = 15 * time.Second
	defaultWakeTimeout    = 90 * time.Second
)

var (
	// ErrInvalidRepoURL is returned for a repository URL that is not http(s).
	ErrInvalidRepoURL = errors.New("invalid repository url")
	// ErrNotConnected is returned when the event stream could not be opened
	// in time; the backend's events would be lost.
	ErrNotConnected = errors.New("live connection not established")
)

// Session is the live session the runner drives.
type Session interface {
	Begin(sessionID string)
	WaitConnected(ctx context.Context) error
}

// Backend is the subset of the backend API the runner needs.
type Backend interface {
	Wake(ctx context.Context) error
	Analyze(ctx context.Context, req backend.AnalyzeRequest) error
}

// Tracker learns which repository a session belongs to.
type Tracker interface {
	Track(sessionID, repoURL string)
}

// Params describes a run to start.
type Params struct {
	RepoURL     string `json:"repo_url"`
	TeamName    string `json:"team_name"`
	LeaderName  string `json:"leader_name"`
	AccessToken string `json:"access_token,omitempty"`
}

// Config holds runner timeouts.
type Config struct {
	ConnectTimeout time.Duration
	WakeTimeout    time.Duration
}

// Runner starts runs against one live session.
type Runner struct {
	session Session
	backend Backend
	tracker Tracker
	cfg     Config
	logger  *slog.Logger
	newID   func() string
}

// New creates a runner. tracker may be nil.
func New(session Session, be Backend, tracker Tracker, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WakeTimeout <= 0 {
		cfg.WakeTimeout = defaultWakeTimeout
	}
	return &Runner{
		session: session,
		backend: be,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// ValidateRepoURL checks that raw is an absolute http(s) URL with a path.
func ValidateRepoURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRepoURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidRepoURL, raw)
	}
	if strings.Trim(u.Path, "/") == "" {
		return fmt.Errorf("%w: %q has no repository path", ErrInvalidRepoURL, raw)
	}
	return nil
}

// Start begins a run and returns its session ID once the backend accepted it.
// The live session is reset and reconnected before the analysis is posted so
// no event is missed.
func (r *Runner) Start(ctx context.Context, p Params) (string, error) {
	if err := ValidateRepoURL(p.RepoURL); err != nil {
		return "", err
	}
	p.RepoURL = strings.TrimSpace(p.RepoURL)

	sessionID := r.newID()
	if r.tracker != nil {
		r.tracker.Track(sessionID, p.RepoURL)
	}
	log := r.logger.With("session_id", sessionID, "repo_url", p.RepoURL)

	// A sleeping backend refuses dials, so wake it before Begin. Begin resets
	// the backoff left over from refused dials and redials at once.
	wakeCtx, cancel := context.WithTimeout(ctx, r.cfg.WakeTimeout)
	err := r.backend.Wake(wakeCtx)
	cancel()
	if err != nil {
		return sessionID, fmt.Errorf("wake backend: %w", err)
	}
	r.session.Begin(sessionID)

	connCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	err = r.session.WaitConnected(connCtx)
	cancel()
	if err != nil {
		return sessionID, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	if err := r.backend.Analyze(ctx, backend.AnalyzeRequest{
		RepoURL:     p.RepoURL,
		TeamName:    p.TeamName,
		LeaderName:  p.LeaderName,
		AccessToken: p.AccessToken,
		SessionID:   sessionID,
	}); err != nil {
		return sessionID, fmt.Errorf("start analysis: %w", err)
	}

	log.Info("Run started")
	return sessionID, nil
}
