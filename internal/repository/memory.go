package repository

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryKV is an in-process store with the same version semantics as
// KVRepository. It backs tests and the --ephemeral daemon mode.
type MemoryKV struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{records: make(map[string]Record)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	record.Value = append([]byte(nil), record.Value...)
	return &record, nil
}

func (m *MemoryKV) Put(_ context.Context, writes ...Write) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, write := range writes {
		current := m.records[write.Key].Version
		if current != write.ExpectedVersion {
			return nil, fmt.Errorf("write %s at version %d: %w", write.Key, write.ExpectedVersion, ErrVersionConflict)
		}
	}

	now := time.Now().UTC()
	versions := make([]int64, 0, len(writes))
	for _, write := range writes {
		record := Record{
			Key:       write.Key,
			Value:     append([]byte(nil), write.Value...),
			Version:   write.ExpectedVersion + 1,
			UpdatedAt: now,
		}
		m.records[write.Key] = record
		versions = append(versions, record.Version)
	}
	return versions, nil
}

// Set stores value unconditionally, bumping the version.
func (m *MemoryKV) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := m.records[key]
	m.records[key] = Record{
		Key:       key,
		Value:     append([]byte(nil), value...),
		Version:   record.Version + 1,
		UpdatedAt: time.Now().UTC(),
	}
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}
