package repomanager

import (
	"context"
	"maps"
	"sync"

	"github.com/pashudhan/fieldsync/internal/server/models"
	"github.com/pashudhan/fieldsync/internal/server/repositories/receipts"
	"github.com/pashudhan/fieldsync/internal/server/repositories/records"
)

// MemoryManager keeps everything in process memory. Transactions are
// serialised; each one works on copies of the maps that replace the
// originals only on commit.
type MemoryManager struct {
	mu       sync.Mutex
	records  map[string]models.Record
	receipts map[receipts.Key]models.Receipt
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		records:  make(map[string]models.Record),
		receipts: make(map[receipts.Key]models.Receipt),
	}
}

func (m *MemoryManager) InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	recs := maps.Clone(m.records)
	rcs := maps.Clone(m.receipts)
	err := fn(ctx, Repos{
		Records:  records.NewMemoryRepository(recs),
		Receipts: receipts.NewMemoryRepository(rcs),
	})
	if err != nil {
		return err
	}

	m.records, m.receipts = recs, rcs
	return nil
}

func (m *MemoryManager) Close() error { return nil }
