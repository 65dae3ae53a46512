// Package repomanager hands out repositories bound to a single transaction,
// for PostgreSQL (pgx + goose migrations) and for an in-memory backend.
package repomanager

import (
	"context"

	"github.com/pashudhan/fieldsync/internal/server/repositories/receipts"
	"github.com/pashudhan/fieldsync/internal/server/repositories/records"
)

// Repos is the set of repositories visible inside one transaction.
type Repos struct {
	Records  records.Repository
	Receipts receipts.Repository
}

type Manager interface {
	// InTx runs fn in a transaction. It commits when fn returns nil and
	// rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
	Close() error
}
