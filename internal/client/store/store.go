package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pashudhan/fieldsync/internal/client/models"
	"github.com/pashudhan/fieldsync/internal/client/quota"
	"github.com/pashudhan/fieldsync/internal/client/repositories/blobs"
	"github.com/pashudhan/fieldsync/internal/client/repositories/changelog"
	"github.com/pashudhan/fieldsync/internal/client/repositories/records"
	"github.com/pashudhan/fieldsync/internal/common"
	"github.com/pashudhan/fieldsync/internal/dbx"
	"github.com/pashudhan/fieldsync/internal/logging"
)

type Config struct {
	QuotaLimitBytes int64
	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

type Store struct {
	db     *sql.DB
	quota  *quota.Manager
	logger logging.Logger
	now    func() time.Time
	newID  func() string

	writeMu sync.Mutex
	changes chan struct{}

	// checkpoint runs between the steps of a write transaction. Tests use
	// it to abort a transaction half way.
	checkpoint func(stage string) error
}

func New(db *sql.DB, cfg Config, logger logging.Logger) *Store {
	s := &Store{
		db:      db,
		logger:  logger.With("module", "store"),
		now:     cfg.Now,
		newID:   cfg.NewID,
		changes: make(chan struct{}, 1),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	s.quota = quota.NewManager(cfg.QuotaLimitBytes, quota.UsageScannerFunc(s.usage), logger)
	return s
}

// Open builds a Store, drops image blobs no record owns and computes the
// initial quota usage.
func Open(ctx context.Context, db *sql.DB, cfg Config, logger logging.Logger) (*Store, error) {
	s := New(db, cfg, logger)

	repo := blobs.NewSQLiteRepository(db)
	orphans, err := repo.Orphans(ctx)
	if err != nil {
		return nil, common.StorageError("open store", err)
	}
	for _, ref := range orphans {
		if _, err := repo.Delete(ctx, ref); err != nil {
			return nil, common.StorageError("open store", err)
		}
		s.logger.Warn(ctx, "removed orphaned image blob", "ref", ref)
	}

	if _, err := s.ReconcileQuota(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Quota() *quota.Manager { return s.quota }

// Changes delivers a signal after committed mutations. Signals coalesce.
func (s *Store) Changes() <-chan struct{} { return s.changes }

func (s *Store) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Store) usage(ctx context.Context) (int64, error) {
	r, err := records.NewSQLiteRepository(s.db).Usage(ctx)
	if err != nil {
		return 0, err
	}
	b, err := blobs.NewSQLiteRepository(s.db).Usage(ctx)
	if err != nil {
		return 0, err
	}
	return r + b, nil
}

// ReconcileQuota recomputes usage while no write is in flight.
func (s *Store) ReconcileQuota(ctx context.Context) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.quota.Reconcile(ctx)
}

// RunReconciler reconciles the quota every interval until ctx is done.
func (s *Store) RunReconciler(ctx context.Context, interval time.Duration) {
	quota.RunReconciler(ctx, interval, s.ReconcileQuota, s.logger)
}

type repos struct {
	records   records.Repository
	blobs     blobs.Repository
	changelog changelog.Repository
}

// account collects the quota effects of one transaction. Reservations are
// taken inside the transaction and returned if it does not commit.
type account struct {
	q        *quota.Manager
	reserved int64
	freed    int64
	charged  int64
}

func (a *account) admit(n int64) error {
	if n <= 0 {
		return nil
	}
	if err := a.q.Admit(n); err != nil {
		return err
	}
	a.reserved += n
	return nil
}

// resize adjusts usage for a record whose footprint changed.
func (a *account) resize(before, after int64) error {
	if after > before {
		return a.admit(after - before)
	}
	a.freed += before - after
	return nil
}

// mutate runs fn in a write transaction under the store-wide write lock.
// SQLite admits a single writer, so the lock only orders writers in process
// and keeps quota reservations in step with commit order.
func (s *Store) mutate(ctx context.Context, op string, fn func(ctx context.Context, r repos, acct *account) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	acct := &account{q: s.quota}
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, repos{
			records:   records.NewSQLiteRepository(tx),
			blobs:     blobs.NewSQLiteRepository(tx),
			changelog: changelog.NewSQLiteRepository(tx),
		}, acct)
	})
	if err != nil {
		s.quota.Release(acct.reserved)
		return wrapErr(op, err)
	}
	s.quota.Release(acct.freed)
	s.quota.Charge(acct.charged)
	s.signal()
	return nil
}

func (s *Store) step(stage string) error {
	if s.checkpoint == nil {
		return nil
	}
	return s.checkpoint(stage)
}

// wrapErr passes domain errors through and reports everything else as a
// storage failure.
func wrapErr(op string, err error) error {
	for _, known := range []error{
		common.ErrorNotFound,
		common.ErrVersionConflict,
		common.ErrQuotaExceeded,
		common.ErrValidation,
		common.ErrInvalidTransition,
		common.ErrStorage,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return common.StorageError(op, err)
}

// recordSize is the footprint of a record's metadata charged to the quota.
func recordSize(c models.Content) int64 {
	b, err := json.Marshal(c)
	if err != nil {
		return 0
	}
	return int64(len(b))
}
