package memory

import (
	"context"
	"sync"

	"collab-server/core"
)

type lockStore struct {
	mu      sync.RWMutex
	records map[string]core.LockRecord
}

// NewLockStore creates an in-memory lock store. Locks kept here do not
// survive a restart; use the sqlite store when that matters.
func NewLockStore() core.LockStore {
	return &lockStore{records: make(map[string]core.LockRecord)}
}

func (s *lockStore) Upsert(_ context.Context, record core.LockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ResourceID] = record
	return nil
}

func (s *lockStore) Delete(_ context.Context, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, resourceID)
	return nil
}

func (s *lockStore) List(_ context.Context) ([]core.LockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.LockRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

// maxActivityEntries bounds the in-memory audit trail; older entries are
// discarded first.
const maxActivityEntries = 1000

type activityStore struct {
	mu      sync.Mutex
	entries []core.ActivityEntry
}

func NewActivityStore() core.ActivityStore {
	return &activityStore{}
}

func (s *activityStore) Record(_ context.Context, entry core.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	if len(s.entries) > maxActivityEntries {
		s.entries = s.entries[len(s.entries)-maxActivityEntries:]
	}
	return nil
}

func (s *activityStore) Recent(_ context.Context, resourceID string, limit int) ([]core.ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := make([]core.ActivityEntry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if resourceID != "" && s.entries[i].ResourceID != resourceID {
			continue
		}
		out = append(out, s.entries[i])
	}
	return out, nil
}
