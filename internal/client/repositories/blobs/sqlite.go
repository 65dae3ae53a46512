package blobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pashudhan/fieldsync/internal/client/models"
	"github.com/pashudhan/fieldsync/internal/common"
	"github.com/pashudhan/fieldsync/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

var _ Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, b *models.ImageBlob) error {
	query := `INSERT INTO image_blobs (ref, record_id, bytes, size_bytes, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, b.Ref, b.RecordID, b.Bytes, b.SizeBytes, b.Checksum, b.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert image blob: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, ref string) (*models.ImageBlob, error) {
	query := `SELECT ref, record_id, bytes, size_bytes, checksum, created_at FROM image_blobs WHERE ref = ?`
	b := &models.ImageBlob{}
	var created int64
	err := r.db.QueryRowContext(ctx, query, ref).Scan(&b.Ref, &b.RecordID, &b.Bytes, &b.SizeBytes, &b.Checksum, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image blob %s: %w", ref, err)
	}
	b.CreatedAt = time.Unix(0, created).UTC()
	return b, nil
}

// Delete removes the blob and returns the number of bytes it held. Deleting
// an absent ref is not an error and frees nothing.
func (r *SQLiteRepository) Delete(ctx context.Context, ref string) (int64, error) {
	var size int64
	err := r.db.QueryRowContext(ctx, `DELETE FROM image_blobs WHERE ref = ? RETURNING size_bytes`, ref).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete image blob %s: %w", ref, err)
	}
	return size, nil
}

func (r *SQLiteRepository) Usage(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM image_blobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to sum image sizes: %w", err)
	}
	return n, nil
}

// Orphans lists blobs whose owning record is gone or no longer refers to
// them.
func (r *SQLiteRepository) Orphans(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT b.ref FROM image_blobs b
		LEFT JOIN records r ON r.id = b.record_id AND r.image_ref = b.ref
		WHERE r.id IS NULL ORDER BY b.ref`)
	if err != nil {
		return nil, fmt.Errorf("failed to select orphan blobs: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
