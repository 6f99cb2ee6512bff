// Package progress tracks background ingestion state in memory. The
// orchestrator is the only writer; HTTP readers poll Get. Records are
// kept after completion so a client that polls late still sees the
// terminal state, and a cron sweep evicts old terminal records.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/log"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.ProgressRecord

	softCap   int
	retention time.Duration
	cron      *cron.Cron
}

type Option func(*MemoryStore)

func WithSoftCap(n int) Option {
	return func(s *MemoryStore) { s.softCap = n }
}

func WithRetention(d time.Duration) Option {
	return func(s *MemoryStore) { s.retention = d }
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		records:   make(map[string]domain.ProgressRecord),
		softCap:   10000,
		retention: time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSweeper runs the retention sweep every minute until Stop.
func (s *MemoryStore) StartSweeper() {
	s.cron = cron.New()
	_, _ = s.cron.AddFunc("@every 1m", s.Sweep)
	s.cron.Start()
}

func (s *MemoryStore) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *MemoryStore) Create(rec domain.ProgressRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) >= s.softCap {
		s.evictOldestTerminalLocked()
	}
	rec.UpdatedAt = time.Now()
	s.records[rec.ProcessID] = rec
}

// Update applies a stage transition. Percent regressions and writes to a
// terminal record indicate an orchestrator bug and are rejected.
func (s *MemoryStore) Update(processID string, stage domain.Stage, percent int, message string, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[processID]
	if !ok {
		return fmt.Errorf("%w: progress record %s", domain.ErrNotFound, processID)
	}
	if rec.Terminal {
		return fmt.Errorf("%w: update to terminal progress record %s", domain.ErrInternalInvariant, processID)
	}
	if percent < rec.Percent {
		return fmt.Errorf("%w: percent regression %d -> %d for %s", domain.ErrInternalInvariant, rec.Percent, percent, processID)
	}

	rec.Stage = stage
	rec.Percent = percent
	rec.Message = message
	rec.Terminal = terminal
	rec.UpdatedAt = time.Now()
	s.records[processID] = rec
	return nil
}

func (s *MemoryStore) SetCounts(processID string, entities, relationships int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[processID]
	if !ok || rec.Terminal {
		return
	}
	rec.EntitiesFound = entities
	rec.RelationshipsFound = relationships
	rec.UpdatedAt = time.Now()
	s.records[processID] = rec
}

func (s *MemoryStore) Get(processID string) (domain.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[processID]
	if !ok {
		return domain.ProgressRecord{}, fmt.Errorf("%w: progress record %s", domain.ErrNotFound, processID)
	}
	return rec, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Sweep drops terminal records older than the retention window.
func (s *MemoryStore) Sweep() {
	cutoff := time.Now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if rec.Terminal && rec.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debug("progress sweep", "removed", removed, "remaining", len(s.records))
	}
}

// evictOldestTerminalLocked makes room at the soft cap. Active records
// are never evicted; over-cap creation is allowed when everything is
// still running.
func (s *MemoryStore) evictOldestTerminalLocked() {
	var oldestID string
	var oldest time.Time
	for id, rec := range s.records {
		if !rec.Terminal {
			continue
		}
		if oldestID == "" || rec.UpdatedAt.Before(oldest) {
			oldestID = id
			oldest = rec.UpdatedAt
		}
	}
	if oldestID != "" {
		delete(s.records, oldestID)
	}
}
