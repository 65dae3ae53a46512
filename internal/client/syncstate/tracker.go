// Package syncstate owns each record's position in the sync state machine
// and the ordered log of changes still to be pushed.
//
// Every transition runs inside its own write transaction that reads the
// current row, checks the edge against models.CanTransition and writes the
// result back, so transitions never interleave with a concurrent local
// edit of the same record.
package syncstate

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	"github.com/pashudhan/fieldsync/internal/client/models"
	"github.com/pashudhan/fieldsync/internal/client/repositories/changelog"
	"github.com/pashudhan/fieldsync/internal/client/repositories/metadata"
	"github.com/pashudhan/fieldsync/internal/client/repositories/records"
	"github.com/pashudhan/fieldsync/internal/common"
	"github.com/pashudhan/fieldsync/internal/dbx"
	"github.com/pashudhan/fieldsync/internal/logging"
)

const (
	lastSyncKey  = "last_sync_at"
	pendingBatch = 200
)

type Tracker struct {
	db     *sql.DB
	now    func() time.Time
	grace  time.Duration
	logger logging.Logger
}

// New returns a Tracker. grace is how long applied entries are kept so
// that late duplicate acknowledgements can still be matched.
func New(db *sql.DB, grace time.Duration, now func() time.Time, logger logging.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{db: db, now: now, grace: grace, logger: logger.With("module", "syncstate")}
}

type repos struct {
	records   records.Repository
	changelog changelog.Repository
	metadata  metadata.Repository
}

func (t *Tracker) withTx(ctx context.Context, fn func(ctx context.Context, r repos) error) error {
	return dbx.WithTx(ctx, t.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, repos{
			records:   records.NewSQLiteRepository(tx),
			changelog: changelog.NewSQLiteRepository(tx),
			metadata:  metadata.NewSQLiteRepository(tx),
		})
	})
}

// transition moves record id to state to and lets fn adjust the row before
// it is saved.
func (t *Tracker) transition(ctx context.Context, id string, to models.SyncState, fn func(ctx context.Context, r repos, rec *models.AnimalRecord) error) (*models.AnimalRecord, error) {
	var out *models.AnimalRecord
	err := t.withTx(ctx, func(ctx context.Context, r repos) error {
		rec, err := r.records.Get(ctx, id)
		if err != nil {
			return err
		}
		if !models.CanTransition(rec.SyncState, to) {
			return fmt.Errorf("%w: record %s %s -> %s", common.ErrInvalidTransition, id, rec.SyncState, to)
		}
		rec.SyncState = to
		if fn != nil {
			if err := fn(ctx, r, rec); err != nil {
				return err
			}
		}
		if err := r.records.Save(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.logger.Debug(ctx, "sync state changed", "record_id", id, "state", to)
	return out, nil
}

func clearRetry(rec *models.AnimalRecord) {
	rec.Attempts = 0
	rec.LastError = ""
	rec.NextAttemptAt = nil
}

// MarkPending requeues a record from any state that allows it.
func (t *Tracker) MarkPending(ctx context.Context, id string) (*models.AnimalRecord, error) {
	return t.transition(ctx, id, models.SyncPending, nil)
}

// MarkSyncing claims a record for the engine and returns it with its
// unapplied changes in sequence order. A failed record whose retry is due
// passes through pending on the way.
func (t *Tracker) MarkSyncing(ctx context.Context, id string) (*models.AnimalRecord, []models.ChangeLogEntry, error) {
	var (
		out     *models.AnimalRecord
		entries []models.ChangeLogEntry
	)
	err := t.withTx(ctx, func(ctx context.Context, r repos) error {
		rec, err := r.records.Get(ctx, id)
		if err != nil {
			return err
		}
		if rec.SyncState == models.SyncFailed {
			if rec.NextAttemptAt == nil || rec.NextAttemptAt.After(t.now()) {
				return fmt.Errorf("%w: record %s is not due for retry", common.ErrInvalidTransition, id)
			}
			rec.SyncState = models.SyncPending
		}
		if !models.CanTransition(rec.SyncState, models.SyncSyncing) {
			return fmt.Errorf("%w: record %s %s -> %s", common.ErrInvalidTransition, id, rec.SyncState, models.SyncSyncing)
		}
		rec.SyncState = models.SyncSyncing
		if err := r.records.Save(ctx, rec); err != nil {
			return err
		}
		entries, err = r.changelog.PendingForRecord(ctx, id)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, entries, nil
}

// MarkApplied records that the system of record accepted change sequence
// of record id under remoteID at remoteVersion. The record stays syncing.
// It reports false when the change had already been applied.
func (t *Tracker) MarkApplied(ctx context.Context, id string, sequence int64, remoteID string, remoteVersion int64) (bool, error) {
	var applied bool
	err := t.withTx(ctx, func(ctx context.Context, r repos) error {
		rec, err := r.records.Get(ctx, id)
		if err != nil {
			return err
		}
		if rec.SyncState != models.SyncSyncing {
			return fmt.Errorf("%w: record %s is %s, not syncing", common.ErrInvalidTransition, id, rec.SyncState)
		}
		applied, err = r.changelog.MarkApplied(ctx, sequence, t.now())
		if err != nil {
			return err
		}
		if remoteID != "" {
			rec.RemoteID = remoteID
		}
		if remoteVersion > rec.RemoteVersion {
			rec.RemoteVersion = remoteVersion
		}
		clearRetry(rec)
		return r.records.Save(ctx, rec)
	})
	return applied, err
}

// MarkSynced finishes a sync pass. The record becomes synced when every
// change has been applied; if a local edit arrived while the pass was in
// flight it goes back to pending instead. A synced tombstone is removed.
// The resulting state is returned.
func (t *Tracker) MarkSynced(ctx context.Context, id string) (models.SyncState, error) {
	var state models.SyncState
	err := t.withTx(ctx, func(ctx context.Context, r repos) error {
		rec, err := r.records.Get(ctx, id)
		if err != nil {
			return err
		}
		if rec.SyncState != models.SyncSyncing {
			return fmt.Errorf("%w: record %s is %s, not syncing", common.ErrInvalidTransition, id, rec.SyncState)
		}
		left, err := r.changelog.PendingForRecord(ctx, id)
		if err != nil {
			return err
		}
		now := t.now()
		if len(left) > 0 {
			state = models.SyncPending
		} else {
			state = models.SyncSynced
			if err := r.metadata.SetTime(ctx, lastSyncKey, now); err != nil {
				return err
			}
		}
		if state == models.SyncSynced && rec.Deleted {
			return r.records.HardDelete(ctx, id)
		}
		rec.SyncState = state
		clearRetry(rec)
		return r.records.Save(ctx, rec)
	})
	return state, err
}

// MarkConflict parks the record with the remote copy the server reported.
func (t *Tracker) MarkConflict(ctx context.Context, id string, snap models.RemoteSnapshot) (*models.AnimalRecord, error) {
	return t.transition(ctx, id, models.SyncConflict, func(ctx context.Context, r repos, rec *models.AnimalRecord) error {
		if rec.RemoteID == "" {
			rec.RemoteID = snap.RemoteID
		}
		rec.LastError = fmt.Sprintf("remote copy is at version %d, expected %d", snap.Version, rec.RemoteVersion)
		rec.NextAttemptAt = nil
		return r.records.SetSnapshot(ctx, rec.ID, &snap)
	})
}

// MarkFailed records a permanent failure. The record is not retried until
// the user asks for it.
func (t *Tracker) MarkFailed(ctx context.Context, id, reason string) (*models.AnimalRecord, error) {
	return t.transition(ctx, id, models.SyncFailed, func(ctx context.Context, r repos, rec *models.AnimalRecord) error {
		rec.Attempts++
		rec.LastError = reason
		rec.NextAttemptAt = nil
		return nil
	})
}

// ScheduleRetry records a transient failure and when to try again.
func (t *Tracker) ScheduleRetry(ctx context.Context, id, reason string, at time.Time) (*models.AnimalRecord, error) {
	return t.transition(ctx, id, models.SyncFailed, func(ctx context.Context, r repos, rec *models.AnimalRecord) error {
		rec.Attempts++
		rec.LastError = reason
		next := at.UTC()
		rec.NextAttemptAt = &next
		return nil
	})
}

// Requeue hands an in-flight record back without counting an attempt.
func (t *Tracker) Requeue(ctx context.Context, id string) (*models.AnimalRecord, error) {
	return t.transition(ctx, id, models.SyncPending, nil)
}

// Retry puts a failed record back in the queue with a fresh attempt budget.
func (t *Tracker) Retry(ctx context.Context, id string) (*models.AnimalRecord, error) {
	return t.transition(ctx, id, models.SyncPending, func(ctx context.Context, r repos, rec *models.AnimalRecord) error {
		clearRetry(rec)
		return nil
	})
}

// ResolveConflict keeps the local side of a conflict: the record is rebased
// onto the remote version it conflicted with and queued again.
func (t *Tracker) ResolveConflict(ctx context.Context, id string, snap models.RemoteSnapshot) (*models.AnimalRecord, error) {
	return t.transition(ctx, id, models.SyncPending, func(ctx context.Context, r repos, rec *models.AnimalRecord) error {
		if snap.RemoteID != "" {
			rec.RemoteID = snap.RemoteID
		}
		rec.RemoteVersion = snap.Version
		clearRetry(rec)
		return r.records.SetSnapshot(ctx, rec.ID, nil)
	})
}

// RecoverInFlight returns records left syncing by a previous process to
// pending. Their unapplied changes are pushed again; the server recognises
// the ones it already applied.
func (t *Tracker) RecoverInFlight(ctx context.Context) (int64, error) {
	n, err := records.NewSQLiteRepository(t.db).ResetState(ctx, models.SyncSyncing, models.SyncPending)
	if err != nil {
		return 0, common.StorageError("recover in-flight", err)
	}
	if n > 0 {
		t.logger.Info(ctx, "requeued records interrupted mid-sync", "count", n)
	}
	return n, nil
}

// Claimable lists up to limit records the engine may claim now.
func (t *Tracker) Claimable(ctx context.Context, limit int) ([]string, error) {
	return records.NewSQLiteRepository(t.db).Claimable(ctx, t.now(), limit)
}

// NextRetryAt is the earliest scheduled retry, nil when none is pending.
func (t *Tracker) NextRetryAt(ctx context.Context) (*time.Time, error) {
	return records.NewSQLiteRepository(t.db).NextRetryAt(ctx)
}

// PendingChanges streams every unapplied change in sequence order. It is
// restartable: each range starts again from the first unapplied entry.
func (t *Tracker) PendingChanges(ctx context.Context) iter.Seq2[models.ChangeLogEntry, error] {
	return func(yield func(models.ChangeLogEntry, error) bool) {
		repo := changelog.NewSQLiteRepository(t.db)
		var after int64
		for {
			batch, err := repo.Pending(ctx, after, pendingBatch)
			if err != nil {
				yield(models.ChangeLogEntry{}, common.StorageError("pending changes", err))
				return
			}
			for _, e := range batch {
				if !yield(e, nil) {
					return
				}
			}
			if len(batch) < pendingBatch {
				return
			}
			after = batch[len(batch)-1].Sequence
		}
	}
}

// Backlog is the number of unapplied changes.
func (t *Tracker) Backlog(ctx context.Context) (int, error) {
	return changelog.NewSQLiteRepository(t.db).CountPending(ctx)
}

// Prune removes applied changes below beforeSequence whose grace window
// has passed.
func (t *Tracker) Prune(ctx context.Context, beforeSequence int64) (int64, error) {
	n, err := changelog.NewSQLiteRepository(t.db).Prune(ctx, beforeSequence, t.now().Add(-t.grace))
	if err != nil {
		return 0, common.StorageError("prune", err)
	}
	return n, nil
}

// LastSync is when a sync pass last left a record fully synced.
func (t *Tracker) LastSync(ctx context.Context) (*time.Time, error) {
	return metadata.NewSQLiteRepository(t.db).GetTime(ctx, lastSyncKey)
}
