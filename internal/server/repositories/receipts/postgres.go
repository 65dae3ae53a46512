package receipts

import (
	"context"
	"fmt"

	"github.com/pashudhan/fieldsync/internal/common"
	"github.com/pashudhan/fieldsync/internal/dbx"
	"github.com/pashudhan/fieldsync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, recordID string, sequence int64) (*models.Receipt, error) {
	query := `
		SELECT record_id, sequence, user_id, outcome, remote_id, remote_version, reason, created_at
		FROM receipts WHERE record_id = $1 AND sequence = $2`

	var rc models.Receipt
	err := r.db.QueryRowContext(ctx, query, recordID, sequence).Scan(
		&rc.RecordID, &rc.Sequence, &rc.UserID, &rc.Outcome, &rc.RemoteID, &rc.RemoteVersion, &rc.Reason, &rc.CreatedAt,
	)
	if dbx.IsNoRows(err) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select receipt: %w", err)
	}
	return &rc, nil
}

func (r *PostgresRepository) Create(ctx context.Context, rc *models.Receipt) error {
	query := `
		INSERT INTO receipts (record_id, sequence, user_id, outcome, remote_id, remote_version, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (record_id, sequence) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		rc.RecordID, rc.Sequence, rc.UserID, rc.Outcome, rc.RemoteID, rc.RemoteVersion, rc.Reason, rc.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
