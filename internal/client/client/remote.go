package client

import (
	"context"

	"github.com/pashudhan/fieldsync/internal/wire"
)

// Remote is the system of record as seen by the sync engine.
type Remote interface {
	Push(ctx context.Context, req *wire.PushRequest) (*wire.PushResponse, error)
	Health(ctx context.Context) error
	Close() error
}
