package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/pashudhan/fieldsync/internal/dbx"
	"github.com/pashudhan/fieldsync/internal/server/migrations"
	"github.com/pashudhan/fieldsync/internal/server/repositories/receipts"
	"github.com/pashudhan/fieldsync/internal/server/repositories/records"
)

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// PostgresManager vends PostgreSQL-backed repositories.
type PostgresManager struct {
	db *sql.DB
}

func NewPostgresManager(db *sql.DB) *PostgresManager {
	return &PostgresManager{db: db}
}

// OpenPostgres connects to dsn through the pgx driver and migrates the
// schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	m := NewPostgresManager(db)
	if err := m.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return m, nil
}

// RunMigrations applies the embedded goose migrations.
func (m *PostgresManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, m.db, ".")
}

func (m *PostgresManager) InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, Repos{
			Records:  records.NewPostgresRepository(tx),
			Receipts: receipts.NewPostgresRepository(tx),
		})
	})
}

func (m *PostgresManager) Close() error {
	return m.db.Close()
}
