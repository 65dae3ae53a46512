// Package quota enforces the device storage ceiling.
//
// The manager keeps a cached byte count that every write path adjusts. The
// policy is to refuse new writes once the ceiling would be crossed; nothing
// is ever evicted to make room. A periodic reconcile recomputes usage from
// the database and corrects any drift.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pashudhan/fieldsync/internal/client/models"
	"github.com/pashudhan/fieldsync/internal/common"
	"github.com/pashudhan/fieldsync/internal/logging"
)

// DefaultLimitBytes is the ceiling used when none is configured.
const DefaultLimitBytes int64 = 50 * 1024 * 1024

// UsageScanner computes the true usage from persistent state.
type UsageScanner interface {
	Usage(ctx context.Context) (int64, error)
}

type UsageScannerFunc func(ctx context.Context) (int64, error)

func (f UsageScannerFunc) Usage(ctx context.Context) (int64, error) { return f(ctx) }

type Manager struct {
	mu      sync.Mutex
	used    int64
	limit   int64
	scanner UsageScanner
	logger  logging.Logger
}

func NewManager(limit int64, scanner UsageScanner, logger logging.Logger) *Manager {
	if limit <= 0 {
		limit = DefaultLimitBytes
	}
	return &Manager{limit: limit, scanner: scanner, logger: logger.With("module", "quota")}
}

// Admit reserves n bytes. It fails with ErrQuotaExceeded, leaving usage
// untouched, when the reservation would cross the ceiling.
func (m *Manager) Admit(n int64) error {
	if n < 0 {
		return fmt.Errorf("admit %d bytes: negative size", n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used+n > m.limit {
		return fmt.Errorf("%w: need %d bytes, %d of %d in use", common.ErrQuotaExceeded, n, m.used, m.limit)
	}
	m.used += n
	return nil
}

// Release returns n bytes, either a reservation that was rolled back or
// space freed by a delete.
func (m *Manager) Release(n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= n
	if m.used < 0 {
		m.used = 0
	}
}

// Charge records growth that cannot be refused, such as a remote copy
// applied during conflict resolution. Usage may exceed the ceiling until
// the user frees space.
func (m *Manager) Charge(n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used += n
}

// Reconcile replaces the cached usage with a full recompute and returns the
// correction applied. Callers must make sure no write is in flight.
func (m *Manager) Reconcile(ctx context.Context) (int64, error) {
	if m.scanner == nil {
		return 0, nil
	}
	actual, err := m.scanner.Usage(ctx)
	if err != nil {
		return 0, common.StorageError("reconcile quota", err)
	}

	m.mu.Lock()
	drift := actual - m.used
	m.used = actual
	m.mu.Unlock()

	if drift != 0 {
		m.logger.Warn(ctx, "quota drift corrected", "drift_bytes", drift, "used_bytes", actual)
	}
	return drift, nil
}

func (m *Manager) State() models.QuotaState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.QuotaState{UsedBytes: m.used, LimitBytes: m.limit}
}

func (m *Manager) Percentage() float64 {
	return m.State().Percentage()
}

// Remaining is the number of bytes Admit would still accept.
func (m *Manager) Remaining() int64 {
	s := m.State()
	if s.UsedBytes >= s.LimitBytes {
		return 0
	}
	return s.LimitBytes - s.UsedBytes
}

// RunReconciler calls reconcile every interval until ctx is done.
func RunReconciler(ctx context.Context, interval time.Duration, reconcile func(ctx context.Context) (int64, error), logger logging.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := reconcile(ctx); err != nil {
				logger.Error(ctx, "quota reconcile failed", "error", err)
			}
		}
	}
}
