// Package store — in-memory Store implementation.
// Used when no DATABASE_URL is configured (local dev, tests). Supports
// file-based snapshot persistence so case state survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/casedesk/casedesk/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Cases map[string]*models.Case `json:"cases"`
}

// MemoryStore implements Store with an in-memory map. The mutex serializes
// per-case writes, which is what makes the conversation append atomic.
type MemoryStore struct {
	mu    sync.RWMutex
	cases map[string]*models.Case // key: case_id

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals the save goroutine to stop
	closeOnce    sync.Once
}

// NewMemoryStore creates a new in-memory store.
// If CASEDESK_DATA_DIR is set, case state is persisted to a JSON file in
// that directory. Otherwise defaults to ~/.casedesk/cases.json.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		cases:  make(map[string]*models.Case),
		saveCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}

	dataDir := os.Getenv("CASEDESK_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dataDir = filepath.Join(home, ".casedesk")
		}
	}
	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "cases.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Cannot read snapshot")
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Cannot parse snapshot, starting empty")
		return
	}
	m.mu.Lock()
	if snap.Cases != nil {
		m.cases = snap.Cases
	}
	m.mu.Unlock()
	log.Info().Int("cases", len(snap.Cases)).Msg("Snapshot loaded")
}

func (m *MemoryStore) saveSnapshot() {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	snap := snapshot{Cases: m.cases}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		log.Warn().Err(err).Msg("Cannot marshal snapshot")
		return
	}

	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Warn().Err(err).Str("path", tmp).Msg("Cannot write snapshot")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Cannot replace snapshot")
	}
}

// ── Store implementation ─────────────────────────────────────

func (m *MemoryStore) FetchState(_ context.Context, caseID string) ([]string, []models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cases[caseID]
	if !ok {
		return []string{}, []models.Message{}, nil
	}
	return append([]string{}, c.MissingFields...), append([]models.Message{}, c.Conversation...), nil
}

func (m *MemoryStore) PersistState(_ context.Context, caseID string, missingFields []string, newMessage models.Message) error {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cases[caseID]
	if !ok {
		c = &models.Case{
			CaseID:    caseID,
			Status:    models.CaseStatusPending,
			ThreadTS:  caseID,
			CreatedAt: now,
		}
		m.cases[caseID] = c
	}
	c.Conversation = append(c.Conversation, newMessage)
	c.MissingFields = append([]string{}, missingFields...)
	c.UpdatedAt = now

	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, caseID string, status models.CaseStatus, actorID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cases[caseID]
	if !ok {
		return false
	}
	c.Status = status
	c.UpdatedBy = actorID
	c.UpdatedAt = time.Now().UTC()

	m.requestSave()
	return true
}

func (m *MemoryStore) FetchHistorical(_ context.Context, clientID string, limit int) ([]models.CaseSummary, error) {
	if limit <= 0 {
		limit = DefaultHistoricalLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var summaries []models.CaseSummary
	for _, c := range m.cases {
		if c.ClientID != clientID {
			continue
		}
		summaries = append(summaries, models.CaseSummary{
			CaseID:       c.CaseID,
			Status:       c.Status,
			UpdatedAt:    c.UpdatedAt,
			BriefSummary: c.BriefSummary,
			ThreadTS:     c.ThreadTS,
			ChannelID:    c.ChannelID,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (m *MemoryStore) GetCase(_ context.Context, caseID string) (*models.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cases[caseID]
	if !ok {
		return nil, &ErrNotFound{Entity: "case", Key: caseID}
	}
	cp := *c
	cp.Tags = append([]string{}, c.Tags...)
	cp.MissingFields = append([]string{}, c.MissingFields...)
	cp.Conversation = append([]models.Message{}, c.Conversation...)
	return &cp, nil
}

func (m *MemoryStore) SaveCase(_ context.Context, c *models.Case) bool {
	if c == nil || c.CaseID == "" {
		return false
	}
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.cases[c.CaseID]
	if !ok {
		cp := *c
		if cp.Status == "" {
			cp.Status = models.CaseStatusPending
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		m.cases[c.CaseID] = &cp
		m.requestSave()
		return true
	}

	// Merge-style upsert: zero-valued fields retain prior values. The
	// conversation is owned by PersistState and never replaced here.
	if c.ClientID != "" {
		existing.ClientID = c.ClientID
	}
	if c.Status != "" {
		existing.Status = c.Status
	}
	if c.ChannelID != "" {
		existing.ChannelID = c.ChannelID
	}
	if c.ClientData != nil {
		existing.ClientData = c.ClientData
	}
	if c.Tags != nil {
		existing.Tags = append([]string{}, c.Tags...)
	}
	if c.MissingFields != nil {
		existing.MissingFields = append([]string{}, c.MissingFields...)
	}
	if c.BriefSummary != "" {
		existing.BriefSummary = c.BriefSummary
	}
	if c.UpdatedBy != "" {
		existing.UpdatedBy = c.UpdatedBy
	}
	existing.UpdatedAt = now

	m.requestSave()
	return true
}

func (m *MemoryStore) FetchExpired(_ context.Context, before time.Time, limit int) ([]models.Case, error) {
	if limit <= 0 {
		limit = DefaultHistoricalLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []models.Case
	for _, c := range m.cases {
		if c.UpdatedAt.Before(before) {
			cp := *c
			cp.Tags = append([]string{}, c.Tags...)
			cp.MissingFields = append([]string{}, c.MissingFields...)
			cp.Conversation = append([]models.Message{}, c.Conversation...)
			expired = append(expired, cp)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].UpdatedAt.Before(expired[j].UpdatedAt)
	})
	if len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (m *MemoryStore) DeleteCase(_ context.Context, caseID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cases[caseID]; !ok {
		return false
	}
	delete(m.cases, caseID)
	m.requestSave()
	return true
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Migrate(context.Context) error { return nil }

// Close stops the save goroutine and flushes a final snapshot.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
	})
	return nil
}
