// Package records stores the canonical copy of every synced animal record.
package records

import (
	"context"

	"github.com/pashudhan/fieldsync/internal/server/models"
)

// Repository persists records. Update is an optimistic write: it succeeds
// only while the stored version still equals baseVersion and otherwise
// returns common.ErrVersionConflict.
type Repository interface {
	// Get returns common.ErrorNotFound for an unknown id. Inside a
	// transaction the row stays locked until commit.
	Get(ctx context.Context, id string) (*models.Record, error)
	Create(ctx context.Context, r *models.Record) error
	Update(ctx context.Context, r *models.Record, baseVersion int64) error
}
