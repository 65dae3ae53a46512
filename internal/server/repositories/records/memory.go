package records

import (
	"context"
	"slices"

	"github.com/pashudhan/fieldsync/internal/common"
	"github.com/pashudhan/fieldsync/internal/server/models"
)

// MemoryRepository keeps records in a map owned by the caller. It does no
// locking of its own; the repository manager serialises access.
type MemoryRepository struct {
	rows map[string]models.Record
}

func NewMemoryRepository(rows map[string]models.Record) *MemoryRepository {
	return &MemoryRepository{rows: rows}
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*models.Record, error) {
	rec, ok := r.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(rec), nil
}

func (r *MemoryRepository) Create(_ context.Context, rec *models.Record) error {
	if _, ok := r.rows[rec.ID]; ok {
		return common.ErrVersionConflict
	}
	r.rows[rec.ID] = *clone(*rec)
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, rec *models.Record, baseVersion int64) error {
	cur, ok := r.rows[rec.ID]
	if !ok || cur.Version != baseVersion {
		return common.ErrVersionConflict
	}
	r.rows[rec.ID] = *clone(*rec)
	return nil
}

func clone(rec models.Record) *models.Record {
	rec.Features = slices.Clone(rec.Features)
	if rec.Location != nil {
		loc := *rec.Location
		rec.Location = &loc
	}
	return &rec
}
