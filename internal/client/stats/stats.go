// Package stats computes the read-only dashboard views over the local
// store. Every view is a plain read on the database; none of them takes the
// store's write locks.
package stats

import (
	"context"
	"time"

	"github.com/pashudhan/fieldsync/internal/client/models"
	"github.com/pashudhan/fieldsync/internal/client/netstate"
	"github.com/pashudhan/fieldsync/internal/client/repositories/records"
	"github.com/pashudhan/fieldsync/internal/client/store"
	"github.com/pashudhan/fieldsync/internal/client/syncstate"
	"github.com/pashudhan/fieldsync/internal/common"
)

type Aggregator struct {
	store   *store.Store
	records records.Repository
	tracker *syncstate.Tracker
	net     *netstate.Notifier
}

func NewAggregator(s *store.Store, t *syncstate.Tracker, n *netstate.Notifier) *Aggregator {
	return &Aggregator{
		store:   s,
		records: records.NewSQLiteRepository(s.DB()),
		tracker: t,
		net:     n,
	}
}

func (a *Aggregator) Statistics(ctx context.Context) (*models.Statistics, error) {
	total, err := a.records.Count(ctx)
	if err != nil {
		return nil, common.StorageError("statistics", err)
	}
	breeds, err := a.records.DistinctBreeds(ctx)
	if err != nil {
		return nil, common.StorageError("statistics", err)
	}
	byState, err := a.records.CountByState(ctx)
	if err != nil {
		return nil, common.StorageError("statistics", err)
	}

	st := &models.Statistics{
		TotalAnimals:  total,
		TotalBreeds:   breeds,
		ConflictCount: byState[models.SyncConflict],
		FailedCount:   byState[models.SyncFailed],
		StorageUsage:  a.store.Quota().State(),
	}
	for _, s := range models.UnsyncedStates {
		st.UnsyncedCount += byState[s]
	}
	return st, nil
}

// Analytics summarises the identifications userID made since since. An
// empty userID covers every user.
func (a *Aggregator) Analytics(ctx context.Context, userID string, since time.Time) (*models.Analytics, error) {
	out, err := a.records.Analytics(ctx, userID, since)
	if err != nil {
		return nil, common.StorageError("analytics", err)
	}
	return out, nil
}

func (a *Aggregator) SyncStatus(ctx context.Context) (*models.SyncStatus, error) {
	byState, err := a.records.CountByState(ctx)
	if err != nil {
		return nil, common.StorageError("sync status", err)
	}
	backlog, err := a.tracker.Backlog(ctx)
	if err != nil {
		return nil, common.StorageError("sync status", err)
	}
	last, err := a.tracker.LastSync(ctx)
	if err != nil {
		return nil, common.StorageError("sync status", err)
	}
	return &models.SyncStatus{
		Online:       a.net.Online(),
		LastSyncAt:   last,
		PendingCount: byState[models.SyncPending] + byState[models.SyncSyncing],
		FailedCount:  byState[models.SyncFailed],
		Conflicts:    byState[models.SyncConflict],
		Backlog:      backlog,
	}, nil
}
