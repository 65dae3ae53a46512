// Package changelog persists the ordered log of local mutations.
//
// Sequence numbers come from the SQLite AUTOINCREMENT rowid, so they are
// strictly increasing for the lifetime of the database file and are never
// reused after a prune. Payloads are JSON snapshots compressed with snappy.
package changelog

import (
	"context"
	"time"

	"github.com/pashudhan/fieldsync/internal/client/models"
)

type Repository interface {
	Append(ctx context.Context, e *models.ChangeLogEntry) (int64, error)
	Get(ctx context.Context, sequence int64) (*models.ChangeLogEntry, error)
	Pending(ctx context.Context, afterSequence int64, limit int) ([]models.ChangeLogEntry, error)
	PendingForRecord(ctx context.Context, recordID string) ([]models.ChangeLogEntry, error)
	MarkApplied(ctx context.Context, sequence int64, at time.Time) (bool, error)
	Supersede(ctx context.Context, recordID string, at time.Time) (int64, error)
	CountPending(ctx context.Context) (int, error)
	Prune(ctx context.Context, beforeSequence int64, appliedBefore time.Time) (int64, error)
	MaxSequence(ctx context.Context) (int64, error)
}
