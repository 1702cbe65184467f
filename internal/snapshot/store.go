package snapshot

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no snapshot exists for the date.
var ErrNotFound = errors.New("no snapshot for date")

// Store persists one snapshot per calendar date.
//
// Upsert replaces any existing row for the same date atomically. All reads
// tolerate an empty store: they return empty results, never an error.
type Store interface {
	// Upsert writes the snapshot, replacing any row with the same date.
	Upsert(ctx context.Context, s Snapshot) error

	// Get returns the snapshot for a date, or ErrNotFound.
	Get(ctx context.Context, date string) (Snapshot, error)

	// GetRange returns snapshots with start <= date <= end, newest first.
	GetRange(ctx context.Context, start, end string) ([]Snapshot, error)

	// MissingDates returns every calendar date in [start, end] with no
	// stored row, in ascending order.
	MissingDates(ctx context.Context, start, end string) ([]string, error)

	// All returns every stored snapshot, newest first.
	All(ctx context.Context) ([]Snapshot, error)

	// Close releases storage resources.
	Close() error
}
