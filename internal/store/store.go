// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/healdash/internal/domain"
)

// ErrDuplicateRun is returned when a run for the same session was already saved.
var ErrDuplicateRun = errors.New("run already recorded for session")

// Repository defines the interface for persisting run history.
type Repository interface {
	// SaveRun inserts a run and its fixes. An empty ID is filled in.
	SaveRun(ctx context.Context, run *domain.Run) error

	// GetRun retrieves a run with its fixes. Returns nil, nil if not found.
	GetRun(ctx context.Context, id string) (*domain.Run, error)

	// ListRuns returns the most recent runs, newest first, without fixes.
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)

	// DeleteRunsBefore removes runs created before t and returns how many went.
	DeleteRunsBefore(ctx context.Context, t time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
