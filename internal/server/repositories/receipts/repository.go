// Package receipts records push outcomes keyed by (record id, sequence).
package receipts

import (
	"context"

	"github.com/pashudhan/fieldsync/internal/server/models"
)

type Repository interface {
	// Get returns common.ErrorNotFound when the pair has not been seen.
	Get(ctx context.Context, recordID string, sequence int64) (*models.Receipt, error)
	// Create stores r. A receipt that already exists is left untouched.
	Create(ctx context.Context, r *models.Receipt) error
}
