package snapshot

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. It backs deployments without a
// configured Postgres DSN and the package tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Snapshot)}
}

func (s *MemoryStore) Upsert(ctx context.Context, snap Snapshot) error {
	if _, err := ParseDate(snap.Date); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[snap.Date] = snap
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, date string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.rows[date]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *MemoryStore) GetRange(ctx context.Context, start, end string) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Snapshot
	for date, snap := range s.rows {
		if date >= start && date <= end {
			out = append(out, snap)
		}
	}
	sortByDateDesc(out)
	return out, nil
}

func (s *MemoryStore) MissingDates(ctx context.Context, start, end string) ([]string, error) {
	dates, err := DatesBetween(start, end)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []string
	for _, date := range dates {
		if _, ok := s.rows[date]; !ok {
			missing = append(missing, date)
		}
	}
	return missing, nil
}

func (s *MemoryStore) All(ctx context.Context) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.rows))
	for _, snap := range s.rows {
		out = append(out, snap)
	}
	sortByDateDesc(out)
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// sortByDateDesc orders snapshots newest first. Date keys sort
// lexicographically because of the fixed layout.
func sortByDateDesc(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Date > snaps[j].Date
	})
}
