// Package history records finished sessions to the run store.
package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/healdash/internal/domain"
	"github.com/ashureev/healdash/internal/live"
	"github.com/ashureev/healdash/internal/store"
)

const saveTimeout = 10 * time.Second

// Source publishes live session updates.
type Source interface {
	Subscribe(fn func(live.Update)) (unsubscribe func())
}

// Recorder saves one Run per tracked session when its final result arrives.
type Recorder struct {
	repo   store.Repository
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	repos   map[string]string // session ID -> repo URL
	saved   map[string]bool
	unsub   func()
	wg      sync.WaitGroup
	stopped bool
}

// NewRecorder subscribes to src and records results into repo.
func NewRecorder(src Source, repo store.Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		repos:  make(map[string]string),
		saved:  make(map[string]bool),
	}
	r.unsub = src.Subscribe(r.onUpdate)
	return r
}

// Track associates a session with the repository it analyzes.
func (r *Recorder) Track(sessionID, repoURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos[sessionID] = repoURL
}

// Saved reports whether a run was recorded for the session.
func (r *Recorder) Saved(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved[sessionID]
}

func (r *Recorder) onUpdate(u live.Update) {
	snap := u.Snapshot
	if snap.Result == nil || snap.SessionID == "" {
		return
	}

	r.mu.Lock()
	repoURL, tracked := r.repos[snap.SessionID]
	if r.stopped || !tracked || r.saved[snap.SessionID] {
		r.mu.Unlock()
		return
	}
	r.saved[snap.SessionID] = true
	delete(r.repos, snap.SessionID)
	r.wg.Add(1)
	r.mu.Unlock()

	run := domain.NewRun(repoURL, snap, r.now())
	// Store I/O stays off the session's reader goroutine.
	go func() {
		defer r.wg.Done()
		r.save(run)
	}()
}

func (r *Recorder) save(run *domain.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	err := r.repo.SaveRun(ctx, run)
	switch {
	case errors.Is(err, store.ErrDuplicateRun):
		r.logger.Debug("Run already recorded", "session_id", run.SessionID)
	case err != nil:
		r.logger.Error("Failed to record run", "error", err, "session_id", run.SessionID)
	default:
		r.logger.Info("Run recorded",
			"run_id", run.ID,
			"session_id", run.SessionID,
			"score", run.Score,
			"fixes", len(run.Fixes),
		)
	}
}

// Close unsubscribes and waits for in-flight saves.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.unsub()
	r.wg.Wait()
}
