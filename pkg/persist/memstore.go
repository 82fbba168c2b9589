package persist

import (
	"context"
	"sync"

	"github.com/tabflow/tabflow/pkg/batch"
	"github.com/tabflow/tabflow/pkg/record"
)

// MemStore keeps records in memory. It backs dry runs and tests.
type MemStore struct {
	mu      sync.Mutex
	records []*record.Record
	batches int

	// FailAfter makes SaveBatch fail once the store holds at least
	// this many records. Zero disables the fault.
	FailAfter int
	// Err is returned on injected failure.
	Err error
}

// SaveBatch implements Persister.
func (m *MemStore) SaveBatch(_ context.Context, b *batch.Batch) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAfter > 0 && len(m.records) >= m.FailAfter {
		return 0, m.Err
	}
	m.records = append(m.records, b.Records...)
	m.batches++
	return b.Len(), nil
}

// Len returns how many records the store holds.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Batches returns how many SaveBatch calls succeeded.
func (m *MemStore) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches
}

// Records returns a copy of the stored records.
func (m *MemStore) Records() []*record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*record.Record(nil), m.records...)
}

// Count implements the export source side.
func (m *MemStore) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records)), nil
}

// Fetch returns the records in [offset, offset+limit).
func (m *MemStore) Fetch(_ context.Context, offset, limit int64) ([]*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= int64(len(m.records)) {
		return nil, nil
	}
	end := offset + limit
	if end > int64(len(m.records)) {
		end = int64(len(m.records))
	}
	return append([]*record.Record(nil), m.records[offset:end]...), nil
}
