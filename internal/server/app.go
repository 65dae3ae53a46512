// Package server wires the system of record together: storage backends,
// the record service and the gRPC endpoint, with graceful shutdown on
// SIGINT/SIGTERM.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pashudhan/fieldsync/internal/logging"
	"github.com/pashudhan/fieldsync/internal/server/auth"
	"github.com/pashudhan/fieldsync/internal/server/blobstore"
	"github.com/pashudhan/fieldsync/internal/server/config"
	"github.com/pashudhan/fieldsync/internal/server/repositories/repomanager"
	"github.com/pashudhan/fieldsync/internal/server/services"

	gs "github.com/pashudhan/fieldsync/internal/server/grpc"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	repos   repomanager.Manager
	records *services.RecordService
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	repos, err := openRepos(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	blobs, err := openBlobs(ctx, c)
	if err != nil {
		_ = repos.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	return &App{
		config:  c,
		logger:  logger,
		repos:   repos,
		records: services.NewRecordService(repos, blobs, time.Now, logger),
	}, nil
}

func openRepos(ctx context.Context, c *config.Config) (repomanager.Manager, error) {
	if c.UseMemory() {
		return repomanager.NewMemoryManager(), nil
	}
	return repomanager.OpenPostgres(ctx, c.DatabaseDSN)
}

// openBlobs keeps images in memory for the memory backend or when no
// bucket is configured.
func openBlobs(ctx context.Context, c *config.Config) (blobstore.Store, error) {
	if c.UseMemory() || c.S3Bucket == "" {
		return blobstore.NewMemoryStore(), nil
	}
	return blobstore.NewS3Store(ctx, blobstore.S3Config{
		User:         c.S3RootUser,
		Password:     c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	})
}

// MintToken issues an access token for userID signed with the configured
// secret.
func MintToken(c *config.Config, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	return auth.GenerateToken(userID, []byte(c.SecretKey), c.AccessTokenValidityDuration)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) error {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.records, app.config.SecretKey)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server failed", "error", err)
		cancelFunc()
		return err
	}
	return nil
}

// Run serves until ctx is cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "backend", app.backend())

	app.initSignalHandler(cancelFunc)

	var (
		wg     sync.WaitGroup
		runErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.repos.Close(); err != nil {
		app.logger.Error(ctx, "closing database", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
	return runErr
}

func (app *App) backend() string {
	if app.config.UseMemory() {
		return "memory"
	}
	return "postgres"
}
