// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/copilot-bridge/internal/domain"
)

// Repository defines the interface for the local thread index.
type Repository interface {
	// GetThread retrieves a thread by id. Returns nil, nil when absent.
	GetThread(ctx context.Context, threadID string) (*domain.Thread, error)

	// UpsertThread creates or updates a thread record. The owner is set
	// once: an update only fills an empty owner. An empty node or state on
	// update keeps the stored value.
	UpsertThread(ctx context.Context, thread *domain.Thread) error

	// ListThreads returns the most recently updated threads of an owner.
	ListThreads(ctx context.Context, ownerID string, limit int) ([]*domain.Thread, error)

	// DeleteThread removes a thread record.
	DeleteThread(ctx context.Context, threadID string) error

	// GetExpiredThreads returns threads not updated within ttl.
	GetExpiredThreads(ctx context.Context, ttl time.Duration) ([]*domain.Thread, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
