package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pashudhan/fieldsync/internal/common"
	"github.com/pashudhan/fieldsync/internal/dbx"
	"github.com/pashudhan/fieldsync/internal/server/models"
)

// PostgresRepository implements record storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Record, error) {
	query := `
		SELECT id, remote_id, user_id, breed_name, confidence, captured_at, latitude, longitude,
			features, image_ref, image_key, version, deleted, updated_at
		FROM records WHERE id = $1
		FOR UPDATE`

	var (
		rec      models.Record
		lat, lon sql.NullFloat64
		features []byte
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.RemoteID, &rec.UserID, &rec.BreedName, &rec.Confidence, &rec.CapturedAt,
		&lat, &lon, &features, &rec.ImageRef, &rec.ImageKey, &rec.Version, &rec.Deleted, &rec.UpdatedAt,
	)
	if dbx.IsNoRows(err) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select record: %w", err)
	}

	if lat.Valid && lon.Valid {
		rec.Location = &models.Location{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &rec.Features); err != nil {
			return nil, fmt.Errorf("decode features: %w", err)
		}
	}
	return &rec, nil
}

// Create inserts a new record. An existing row with the same id yields
// common.ErrVersionConflict.
func (r *PostgresRepository) Create(ctx context.Context, rec *models.Record) error {
	query := `
		INSERT INTO records (id, remote_id, user_id, breed_name, confidence, captured_at, latitude, longitude,
			features, image_ref, image_key, version, deleted, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	args, err := columns(rec)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, append([]any{rec.ID, rec.RemoteID}, args...)...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRow(res)
}

func (r *PostgresRepository) Update(ctx context.Context, rec *models.Record, baseVersion int64) error {
	query := `
		UPDATE records SET
			user_id = $3, breed_name = $4, confidence = $5, captured_at = $6, latitude = $7, longitude = $8,
			features = $9, image_ref = $10, image_key = $11, version = $12, deleted = $13, updated_at = $14
		WHERE id = $1 AND version = $2`

	args, err := columns(rec)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, append([]any{rec.ID, baseVersion}, args...)...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRow(res)
}

// columns returns the values for placeholders $3..$14.
func columns(rec *models.Record) ([]any, error) {
	features := rec.Features
	if features == nil {
		features = []string{}
	}
	encoded, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}

	var lat, lon sql.NullFloat64
	if rec.Location != nil {
		lat = sql.NullFloat64{Float64: rec.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: rec.Location.Longitude, Valid: true}
	}

	return []any{
		rec.UserID, rec.BreedName, rec.Confidence, rec.CapturedAt.UTC(), lat, lon,
		string(encoded), rec.ImageRef, rec.ImageKey, rec.Version, rec.Deleted, rec.UpdatedAt.UTC(),
	}, nil
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
