package receipts

import (
	"context"

	"github.com/pashudhan/fieldsync/internal/common"
	"github.com/pashudhan/fieldsync/internal/server/models"
)

// Key identifies a receipt in a MemoryRepository.
type Key struct {
	RecordID string
	Sequence int64
}

type MemoryRepository struct {
	rows map[Key]models.Receipt
}

func NewMemoryRepository(rows map[Key]models.Receipt) *MemoryRepository {
	return &MemoryRepository{rows: rows}
}

func (r *MemoryRepository) Get(_ context.Context, recordID string, sequence int64) (*models.Receipt, error) {
	rc, ok := r.rows[Key{recordID, sequence}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &rc, nil
}

func (r *MemoryRepository) Create(_ context.Context, rc *models.Receipt) error {
	k := Key{rc.RecordID, rc.Sequence}
	if _, ok := r.rows[k]; !ok {
		r.rows[k] = *rc
	}
	return nil
}
