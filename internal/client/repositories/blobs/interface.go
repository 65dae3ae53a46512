// Package blobs stores captured image bytes next to the records that own
// them.
package blobs

import (
	"context"

	"github.com/pashudhan/fieldsync/internal/client/models"
)

type Repository interface {
	Insert(ctx context.Context, b *models.ImageBlob) error
	Get(ctx context.Context, ref string) (*models.ImageBlob, error)
	Delete(ctx context.Context, ref string) (int64, error)
	Usage(ctx context.Context) (int64, error)
	Orphans(ctx context.Context) ([]string, error)
}
