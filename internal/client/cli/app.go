package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/pashudhan/fieldsync/internal/client/client"
	"github.com/pashudhan/fieldsync/internal/client/config"
	"github.com/pashudhan/fieldsync/internal/client/identify"
	"github.com/pashudhan/fieldsync/internal/client/netstate"
	"github.com/pashudhan/fieldsync/internal/client/services"
	"github.com/pashudhan/fieldsync/internal/client/stats"
	"github.com/pashudhan/fieldsync/internal/client/store"
	"github.com/pashudhan/fieldsync/internal/client/syncer"
	"github.com/pashudhan/fieldsync/internal/client/syncstate"
	"github.com/pashudhan/fieldsync/internal/logging"
)

type App struct {
	config  *config.Config
	db      *sql.DB
	store   *store.Store
	tracker *syncstate.Tracker
	engine  *syncer.Engine
	capture services.CaptureService
	stats   *stats.Aggregator
	net     *netstate.Notifier
	prober  *netstate.Prober
	remote  client.Remote
	logger  logging.Logger

	in       io.Reader
	reader   *bufio.Reader
	out      io.Writer
	now      func() time.Time
	readFile func(string) ([]byte, error)
}

// deps are the collaborators an App is assembled from. Tests provide them
// directly; NewApp builds the real ones.
type deps struct {
	db         *sql.DB
	remote     client.Remote
	identifier identify.Identifier
	now        func() time.Time
	in         io.Reader
	out        io.Writer
}

func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	db, err := client.OpenDatabase(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	remote, err := client.NewGRPCClient(cfg.ServerEndpointAddr, cfg.AccessToken)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	a, err := newApp(ctx, cfg, logger, deps{
		db:         db,
		remote:     remote,
		identifier: identify.NewStatic(),
		in:         os.Stdin,
		out:        os.Stdout,
	})
	if err != nil {
		_ = remote.Close()
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger logging.Logger, d deps) (*App, error) {
	if d.now == nil {
		d.now = time.Now
	}
	st, err := store.Open(ctx, d.db, store.Config{QuotaLimitBytes: cfg.QuotaLimitBytes, Now: d.now}, logger)
	if err != nil {
		return nil, err
	}

	n := netstate.NewNotifier(logger)
	tr := syncstate.New(d.db, cfg.PruneGrace, d.now, logger)
	eng := syncer.New(st, tr, d.remote, n, syncer.Config{
		Workers:       cfg.SyncWorkers,
		PushTimeout:   cfg.PushTimeout,
		BackoffBase:   cfg.BackoffBase,
		BackoffCap:    cfg.BackoffCap,
		JitterPercent: cfg.BackoffJitterPercent,
		MaxAttempts:   cfg.MaxAttempts,
	}, d.now, logger)

	return &App{
		config:   cfg,
		db:       d.db,
		store:    st,
		tracker:  tr,
		engine:   eng,
		capture:  services.NewCaptureService(d.identifier, st, d.now, logger),
		stats:    stats.NewAggregator(st, tr, n),
		net:      n,
		prober:   netstate.NewProber(d.remote, n, cfg.OnlineCheckInterval, 3*time.Second),
		remote:   d.remote,
		logger:   logger,
		in:       d.in,
		reader:   bufio.NewReader(d.in),
		out:      d.out,
		now:      d.now,
		readFile: os.ReadFile,
	}, nil
}

// Run starts the background workers and the REPL. It returns when the
// user exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.prober.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.store.RunReconciler(gctx, a.config.ReconcileInterval)
		return nil
	})
	g.Go(func() error {
		return a.engine.Run(gctx)
	})

	fmt.Fprintln(a.out, "Fieldsync client (type 'help' for commands)")
	prompt := func() string { return "" }
	if f, ok := a.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		prompt = func() string { return fmt.Sprintf("fs %s> ", a.getStatus(ctx)) }
	}
	runREPL(ctx, a, prompt, bufio.NewScanner(a.reader), a.out)

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) Close() error {
	return errors.Join(a.remote.Close(), a.db.Close())
}

func (a *App) getStatus(ctx context.Context) string {
	mode := "offline"
	if a.net.Online() {
		mode = "online"
	}
	backlog, err := a.tracker.Backlog(ctx)
	if err != nil || backlog == 0 {
		return "(" + mode + ")"
	}
	return fmt.Sprintf("(%s, %d pending)", mode, backlog)
}
