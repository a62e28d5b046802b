package store

import (
	"context"
	"errors"

	"github.com/evyataryagoni/geoquery/internal/models"
)

// ErrNotFound is returned when the backend understood the address but has no record for it
var ErrNotFound = errors.New("IP address not found")

// Store is the blocking lookup backend the worker pool calls into
// Implementations must be safe for concurrent use by many workers
type Store interface {
	// FindByIP looks up location data for a normalized IP address
	// Returns ErrNotFound when the address has no record
	FindByIP(ctx context.Context, ip string) (*models.Location, error)

	// Close cleans up resources (database connections, file handles, etc.)
	Close() error
}
