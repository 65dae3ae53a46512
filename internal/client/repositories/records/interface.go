package records

import (
	"context"
	"time"

	"github.com/pashudhan/fieldsync/internal/client/models"
)

// Cursor is the keyset position of the last row a listing returned.
type Cursor struct {
	CapturedAt time.Time
	ID         string
}

type Repository interface {
	Insert(ctx context.Context, r *models.AnimalRecord) error
	Get(ctx context.Context, id string) (*models.AnimalRecord, error)
	Save(ctx context.Context, r *models.AnimalRecord) error
	HardDelete(ctx context.Context, id string) error

	ListPage(ctx context.Context, f models.Filter, after *Cursor, offset, limit int) ([]models.AnimalRecord, error)
	ListConflicts(ctx context.Context) ([]models.AnimalRecord, error)
	SyncedBefore(ctx context.Context, before time.Time) ([]string, error)

	SetSnapshot(ctx context.Context, id string, snapshot *models.RemoteSnapshot) error
	Snapshot(ctx context.Context, id string) (*models.RemoteSnapshot, error)

	Claimable(ctx context.Context, now time.Time, limit int) ([]string, error)
	NextRetryAt(ctx context.Context) (*time.Time, error)
	ResetState(ctx context.Context, from, to models.SyncState) (int64, error)

	Usage(ctx context.Context) (int64, error)
	CountByState(ctx context.Context) (map[models.SyncState]int, error)
	Count(ctx context.Context) (int, error)
	DistinctBreeds(ctx context.Context) (int, error)
	Analytics(ctx context.Context, userID string, since time.Time) (*models.Analytics, error)
}
