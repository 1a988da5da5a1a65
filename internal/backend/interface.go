package backend

import (
	"context"

	"tally/internal/amqp"
	"tally/internal/sheets"
	"tally/internal/storage"
)

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains everything the commands wire services from.
// AMQP and Sheets are nil when not configured.
type BackendResult struct {
	Repo   storage.Repository
	AMQP   *amqp.Client
	Sheets sheets.RowWriter
	Checks map[string]CheckFunc
	Type   BackendType

	cleanups []CleanupFunc
}

// Cleanup releases resources in reverse order of creation and returns the
// first error.
func (r *BackendResult) Cleanup() error {
	var first error
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		if err := r.cleanups[i](); err != nil && first == nil {
			first = err
		}
	}
	r.cleanups = nil
	return first
}

func (r *BackendResult) onCleanup(fn CleanupFunc) {
	r.cleanups = append(r.cleanups, fn)
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// AMQP, optional for every backend
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	RequireAMQP  bool

	// Google Sheets export, optional
	GoogleSpreadsheetID   string
	GoogleSheetName       string
	GoogleCredentialsFile string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
