// Package store provides the storage interface and implementations for case
// state: per-case mutable state (missing fields, conversation history) and
// append-only case records.
package store

import (
	"context"
	"time"

	"github.com/casedesk/casedesk/pkg/models"
)

// DefaultHistoricalLimit bounds historical lookups when the caller passes a
// non-positive limit.
const DefaultHistoricalLimit = 5

// Store is the case persistence interface. Handler and dispatcher code
// depend on this interface, making it easy to swap between in-memory
// (local dev, tests) and PostgreSQL (production) implementations.
//
// Absence is not exceptional: FetchState yields empty state for unknown
// case ids, and UpdateStatus/SaveCase surface recoverable failures as a
// boolean so callers can apply per-action fallback logic.
type Store interface {
	// FetchState returns the outstanding fields and conversation history
	// for a case. A never-persisted case id yields empty slices, nil error.
	FetchState(ctx context.Context, caseID string) (missingFields []string, conversation []models.Message, err error)

	// PersistState appends newMessage to the case conversation (atomic
	// append, never a replace), replaces missingFields wholesale, and bumps
	// updated_at. The first write for a case id creates the record.
	PersistState(ctx context.Context, caseID string, missingFields []string, newMessage models.Message) error

	// UpdateStatus conditionally updates the case status, recording the
	// acting user. Returns false, not an error, when the case does not
	// exist or the write fails for a recoverable reason.
	UpdateStatus(ctx context.Context, caseID string, status models.CaseStatus, actorID string) bool

	// FetchHistorical returns up to limit prior cases for a client,
	// ordered by updated_at descending.
	FetchHistorical(ctx context.Context, clientID string, limit int) ([]models.CaseSummary, error)

	// GetCase returns the full case record, or *ErrNotFound.
	GetCase(ctx context.Context, caseID string) (*models.Case, error)

	// FetchExpired returns up to limit cases whose last update precedes
	// the given cutoff, oldest first.
	FetchExpired(ctx context.Context, before time.Time, limit int) ([]models.Case, error)

	// DeleteCase removes a case and its conversation. Returns false when
	// the case does not exist or the delete failed.
	DeleteCase(ctx context.Context, caseID string) bool

	// SaveCase upserts a case record. Zero-valued fields retain their
	// prior values. Returns false on recoverable write failure.
	SaveCase(ctx context.Context, c *models.Case) bool

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates or updates the backing schema.
	Migrate(ctx context.Context) error
}

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
