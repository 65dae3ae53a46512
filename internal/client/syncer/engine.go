// Package syncer drains the local change log into the system of record.
//
// The engine claims records that have unapplied changes, pushes each
// record's changes one at a time in sequence order and moves the record
// through the sync state machine according to the outcome. Different
// records are pushed concurrently by a bounded worker group. The engine
// never resolves a conflict by itself; Resolve must be called with an
// explicit policy.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pashudhan/fieldsync/internal/client/client"
	"github.com/pashudhan/fieldsync/internal/client/models"
	"github.com/pashudhan/fieldsync/internal/client/netstate"
	"github.com/pashudhan/fieldsync/internal/client/store"
	"github.com/pashudhan/fieldsync/internal/client/syncstate"
	"github.com/pashudhan/fieldsync/internal/common"
	"github.com/pashudhan/fieldsync/internal/logging"
	"github.com/pashudhan/fieldsync/internal/wire"
)

type Config struct {
	Workers       int
	ClaimBatch    int
	PushTimeout   time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	JitterPercent uint64
	MaxAttempts   int
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ClaimBatch <= 0 {
		c.ClaimBatch = 64
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = 15 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
}

// Report counts what one drain did.
type Report struct {
	Claimed   int
	Pushed    int
	Synced    int
	Requeued  int
	Conflicts int
	Retrying  int
	Failed    int
}

type Engine struct {
	store   *store.Store
	tracker *syncstate.Tracker
	remote  client.Remote
	net     *netstate.Notifier
	cfg     Config
	now     func() time.Time
	logger  logging.Logger

	drainMu sync.Mutex
	kick    chan struct{}
}

func New(s *store.Store, t *syncstate.Tracker, remote client.Remote, n *netstate.Notifier, cfg Config, now func() time.Time, logger logging.Logger) *Engine {
	cfg.setDefaults()
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:   s,
		tracker: t,
		remote:  remote,
		net:     n,
		cfg:     cfg,
		now:     now,
		logger:  logger.With("module", "syncer"),
		kick:    make(chan struct{}, 1),
	}
}

// Kick asks a running engine to drain as soon as possible.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

type tally struct {
	mu sync.Mutex
	r  Report
}

func (t *tally) add(fn func(r *Report)) {
	t.mu.Lock()
	fn(&t.r)
	t.mu.Unlock()
}

// Drain pushes every claimable record once. It returns immediately when
// the server is known to be unreachable; being offline is not an error.
func (e *Engine) Drain(ctx context.Context) (Report, error) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	var t tally
	seen := make(map[string]int)
	for e.net.Online() {
		ids, err := e.tracker.Claimable(ctx, e.cfg.ClaimBatch)
		if err != nil {
			return t.r, common.StorageError("drain", err)
		}

		var round []string
		for _, id := range ids {
			// A record edited faster than it can be pushed would otherwise
			// keep the loop alive forever.
			if seen[id] > e.cfg.MaxAttempts {
				continue
			}
			seen[id]++
			round = append(round, id)
		}
		if len(round) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.Workers)
		for _, id := range round {
			g.Go(func() error {
				return e.syncRecord(gctx, id, &t)
			})
		}
		if err := g.Wait(); err != nil {
			return t.r, err
		}
	}
	return t.r, nil
}

func (e *Engine) syncRecord(ctx context.Context, id string, t *tally) error {
	rec, entries, err := e.tracker.MarkSyncing(ctx, id)
	if errors.Is(err, common.ErrInvalidTransition) || errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return common.StorageError("claim", err)
	}
	t.add(func(r *Report) { r.Claimed++ })

	log := e.logger.With("record_id", id)
	base := rec.RemoteVersion
	attempts := rec.Attempts

	for _, en := range entries {
		req, err := e.request(ctx, id, en, base)
		if err != nil {
			return e.giveUp(ctx, id, err.Error(), t)
		}

		pctx, cancel := context.WithTimeout(ctx, e.cfg.PushTimeout)
		resp, err := e.remote.Push(pctx, req)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				_, rerr := e.tracker.Requeue(context.WithoutCancel(ctx), id)
				return errors.Join(ctx.Err(), rerr)
			}
			if errors.Is(err, client.ErrUnauthorized) || errors.Is(err, client.ErrRejected) {
				return e.giveUp(ctx, id, err.Error(), t)
			}
			return e.transient(ctx, id, attempts, err, t)
		}
		t.add(func(r *Report) { r.Pushed++ })

		switch resp.Outcome {
		case wire.OutcomeAccepted:
			if _, err := e.tracker.MarkApplied(ctx, id, en.Sequence, resp.RemoteID, resp.RemoteVersion); err != nil {
				return common.StorageError("mark applied", err)
			}
			base = resp.RemoteVersion
			attempts = 0
			log.Debug(ctx, "change applied", "sequence", en.Sequence, "remote_version", resp.RemoteVersion)
		case wire.OutcomeConflict:
			snap := fromWireSnapshot(resp.Snapshot)
			if _, err := e.tracker.MarkConflict(ctx, id, snap); err != nil {
				return common.StorageError("mark conflict", err)
			}
			t.add(func(r *Report) { r.Conflicts++ })
			log.Warn(ctx, "sync conflict", "sequence", en.Sequence, "remote_version", snap.Version, "base_version", base)
			return nil
		case wire.OutcomeRejected:
			return e.giveUp(ctx, id, "rejected: "+resp.Reason, t)
		default:
			return e.transient(ctx, id, attempts, fmt.Errorf("unknown push outcome %q", resp.Outcome), t)
		}
	}

	state, err := e.tracker.MarkSynced(ctx, id)
	if err != nil {
		return common.StorageError("mark synced", err)
	}
	if state == models.SyncPending {
		t.add(func(r *Report) { r.Requeued++ })
		log.Debug(ctx, "record changed while in flight, requeued")
		return nil
	}
	t.add(func(r *Report) { r.Synced++ })
	return nil
}

func (e *Engine) request(ctx context.Context, id string, en models.ChangeLogEntry, base int64) (*wire.PushRequest, error) {
	req := &wire.PushRequest{
		RecordID:       id,
		Sequence:       en.Sequence,
		Operation:      string(en.Operation),
		BaseVersion:    base,
		PayloadVersion: en.PayloadVersion,
		Record:         toWireRecord(id, en.Payload),
	}
	if en.Operation == models.OpCreate && en.Payload.ImageRef != "" {
		img, err := e.store.Image(ctx, en.Payload.ImageRef)
		switch {
		case errors.Is(err, common.ErrorNotFound):
		case err != nil:
			return nil, err
		default:
			req.Image = img
		}
	}
	return req, nil
}

// transient schedules a retry with backoff, or gives up once the attempt
// budget is spent.
func (e *Engine) transient(ctx context.Context, id string, attempts int, cause error, t *tally) error {
	attempts++
	if attempts >= e.cfg.MaxAttempts {
		reason := fmt.Sprintf("%s after %d attempts: %v", common.ErrSyncPermanent, attempts, cause)
		return e.giveUp(ctx, id, reason, t)
	}
	at := e.now().Add(e.retryDelay(attempts))
	if _, err := e.tracker.ScheduleRetry(ctx, id, fmt.Sprintf("%s: %v", common.ErrSyncTransient, cause), at); err != nil {
		return common.StorageError("schedule retry", err)
	}
	t.add(func(r *Report) { r.Retrying++ })
	e.logger.Info(ctx, "sync attempt failed, retry scheduled", "record_id", id, "attempt", attempts, "retry_at", at, "error", cause)
	return nil
}

func (e *Engine) giveUp(ctx context.Context, id, reason string, t *tally) error {
	if _, err := e.tracker.MarkFailed(ctx, id, reason); err != nil {
		return common.StorageError("mark failed", err)
	}
	t.add(func(r *Report) { r.Failed++ })
	e.logger.Warn(ctx, "sync failed permanently", "record_id", id, "reason", reason)
	return nil
}

// Resolve settles a parked conflict with the given policy and queues the
// record again when the local side has something left to push.
func (e *Engine) Resolve(ctx context.Context, id string, resolve Resolver) (*models.AnimalRecord, error) {
	c, err := e.store.Conflict(ctx, id)
	if err != nil {
		return nil, err
	}
	d, err := resolve(*c)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", id, err)
	}

	var rec *models.AnimalRecord
	switch d.Side {
	case SideLocal:
		rec, err = e.tracker.ResolveConflict(ctx, id, c.Remote)
	case SideRemote:
		rec, err = e.store.AcceptRemote(ctx, id, c.Remote)
	case SideMerged:
		rec, err = e.store.Rebase(ctx, id, d.Merged, c.Remote)
	default:
		return nil, fmt.Errorf("resolve %s: unknown decision %d", id, d.Side)
	}
	if err != nil {
		return nil, err
	}
	e.logger.Info(ctx, "conflict resolved", "record_id", id, "side", d.Side)
	e.Kick()
	return rec, nil
}

// Retry re-queues a failed record with a fresh attempt budget.
func (e *Engine) Retry(ctx context.Context, id string) (*models.AnimalRecord, error) {
	rec, err := e.tracker.Retry(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Kick()
	return rec, nil
}

// Run drains whenever connectivity comes back, the store reports a local
// change, a scheduled retry falls due or Kick is called. It returns when
// ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if _, err := e.tracker.RecoverInFlight(ctx); err != nil {
		return err
	}

	online, unsubscribe := e.net.Subscribe()
	defer unsubscribe()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if e.net.Online() {
			report, err := e.Drain(ctx)
			if err != nil && ctx.Err() == nil {
				e.logger.Error(ctx, "drain failed", "error", err)
			}
			if report.Claimed > 0 {
				e.logger.Info(ctx, "drain finished",
					"claimed", report.Claimed, "synced", report.Synced, "requeued", report.Requeued,
					"conflicts", report.Conflicts, "retrying", report.Retrying, "failed", report.Failed)
				if _, err := e.tracker.Prune(ctx, math.MaxInt64); err != nil {
					e.logger.Error(ctx, "change log prune failed", "error", err)
				}
			}
		}

		timer.Reset(e.untilNextRetry(ctx))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-online:
		case <-e.store.Changes():
		case <-e.kick:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (e *Engine) untilNextRetry(ctx context.Context) time.Duration {
	const idle = time.Hour
	next, err := e.tracker.NextRetryAt(ctx)
	if err != nil || next == nil {
		return idle
	}
	d := next.Sub(e.now())
	if d < 0 {
		return 0
	}
	return min(d, idle)
}
