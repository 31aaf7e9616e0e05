// Package retention implements the case retention sweep. Cases that have
// seen no activity for the configured window are archived to a durable
// store and then removed from the hot store.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown. Archive failures are fail-safe: a
// case is NOT deleted if archiving fails. When no archiver is registered
// the sweep purges directly, which is the explicit opt-in for deployments
// that do not want cold copies.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/casedesk/casedesk/internal/store"
	"github.com/casedesk/casedesk/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultMaxAge is the retention window applied when none is configured.
const DefaultMaxAge = 90 * 24 * time.Hour

// DefaultSweepBatch is the max cases handled per sweep cycle.
const DefaultSweepBatch = 500

// Archiver writes expired cases to a cold store before they are purged.
type Archiver interface {
	// Kind identifies the backend ("local", "s3", ...).
	Kind() string

	// ArchiveCases persists the batch and returns the archive location.
	ArchiveCases(ctx context.Context, cases []models.Case) (string, error)

	// HealthCheck verifies the backend is writable.
	HealthCheck(ctx context.Context) error
}

// ArchiveRecord describes one completed archive write.
type ArchiveRecord struct {
	ID          string    `json:"id"`
	Backend     string    `json:"backend"`
	URI         string    `json:"uri"`
	RecordCount int       `json:"record_count"`
	OldestItem  time.Time `json:"oldest_item"`
	NewestItem  time.Time `json:"newest_item"`
	CreatedAt   time.Time `json:"created_at"`
}

// CycleStats tracks what happened in a single sweep cycle.
type CycleStats struct {
	Archived int
	Purged   int
	Records  []ArchiveRecord
	Errors   []error
}

// Janitor periodically archives and purges cases past the retention window.
type Janitor struct {
	store    store.Store
	interval time.Duration
	maxAge   time.Duration
	batch    int

	// archivers is a registry of pluggable archive backends.
	archivers      map[string]Archiver
	defaultBackend string
	mu             sync.RWMutex

	now func() time.Time
}

// NewJanitor creates a retention janitor that sweeps on the given interval.
func NewJanitor(s store.Store, interval, maxAge time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Janitor{
		store:     s,
		interval:  interval,
		maxAge:    maxAge,
		batch:     DefaultSweepBatch,
		archivers: make(map[string]Archiver),
		now:       time.Now,
	}
}

// RegisterArchiver adds an archive backend. The first registered backend
// becomes the default.
func (j *Janitor) RegisterArchiver(a Archiver) {
	j.mu.Lock()
	defer j.mu.Unlock()
	kind := a.Kind()
	if len(j.archivers) == 0 {
		j.defaultBackend = kind
	}
	j.archivers[kind] = a
	log.Info().Str("kind", kind).Msg("Archive backend registered")
}

// ListArchivers returns the kinds of all registered archive backends.
func (j *Janitor) ListArchivers() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	kinds := make([]string, 0, len(j.archivers))
	for k := range j.archivers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Start runs the janitor until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Dur("max_age", j.maxAge).
		Strs("archivers", j.ListArchivers()).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one retention sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := j.now()
	cutoff := start.Add(-j.maxAge)

	var stats CycleStats
	expired, err := j.store.FetchExpired(ctx, cutoff, j.batch)
	if err != nil {
		log.Warn().Err(err).Msg("Retention janitor: failed to list expired cases")
		stats.Errors = append(stats.Errors, err)
		return stats
	}
	if len(expired) == 0 {
		return stats
	}

	j.mu.RLock()
	backend := j.defaultBackend
	archiver := j.archivers[backend]
	j.mu.RUnlock()

	if archiver != nil {
		uri, err := archiver.ArchiveCases(ctx, expired)
		if err != nil {
			log.Warn().Err(err).
				Str("backend", backend).
				Int("batch_size", len(expired)).
				Msg("Archive failed — skipping purge (fail-safe)")
			stats.Errors = append(stats.Errors, err)
			return stats
		}
		stats.Archived = len(expired)
		stats.Records = append(stats.Records, ArchiveRecord{
			ID:          uuid.New().String(),
			Backend:     backend,
			URI:         uri,
			RecordCount: len(expired),
			OldestItem:  expired[0].UpdatedAt,
			NewestItem:  expired[len(expired)-1].UpdatedAt,
			CreatedAt:   j.now().UTC(),
		})
	}

	for _, c := range expired {
		if !j.store.DeleteCase(ctx, c.CaseID) {
			log.Warn().Str("case_id", c.CaseID).Msg("Failed to delete expired case")
			continue
		}
		stats.Purged++
	}

	if stats.Archived > 0 || stats.Purged > 0 {
		log.Info().
			Int("archived", stats.Archived).
			Int("purged", stats.Purged).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return stats
}
