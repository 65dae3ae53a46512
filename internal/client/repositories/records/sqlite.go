package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pashudhan/fieldsync/internal/client/models"
	"github.com/pashudhan/fieldsync/internal/common"
	"github.com/pashudhan/fieldsync/internal/dbx"
)

const columns = `id, user_id, breed_name, confidence, captured_at, latitude, longitude, features, image_ref,
	sync_state, remote_id, version, remote_version, attempts, last_error, next_attempt_at,
	size_bytes, deleted, created_at, updated_at`

type SQLiteRepository struct {
	db dbx.DBTX
}

var _ Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

func args(r *models.AnimalRecord) ([]any, error) {
	features, err := json.Marshal(r.Features)
	if err != nil {
		return nil, fmt.Errorf("failed to encode features: %w", err)
	}
	if r.Features == nil {
		features = []byte("[]")
	}
	var lat, lon sql.NullFloat64
	if r.Location != nil {
		lat = sql.NullFloat64{Float64: r.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: r.Location.Longitude, Valid: true}
	}
	return []any{
		r.ID, r.UserID, r.BreedName, r.Confidence, nanos(r.Timestamp), lat, lon, string(features),
		nullString(r.ImageRef), string(r.SyncState), nullString(r.RemoteID), r.Version, r.RemoteVersion,
		r.Attempts, r.LastError, nullNanos(r.NextAttemptAt), r.SizeBytes, r.Deleted,
		nanos(r.CreatedAt), nanos(r.UpdatedAt),
	}, nil
}

func scan(s scanner) (*models.AnimalRecord, error) {
	var (
		r                    models.AnimalRecord
		capturedAt           int64
		lat, lon             sql.NullFloat64
		features             string
		imageRef, remoteID   sql.NullString
		state                string
		nextAttempt          sql.NullInt64
		createdAt, updatedAt int64
	)
	err := s.Scan(&r.ID, &r.UserID, &r.BreedName, &r.Confidence, &capturedAt, &lat, &lon, &features,
		&imageRef, &state, &remoteID, &r.Version, &r.RemoteVersion, &r.Attempts, &r.LastError,
		&nextAttempt, &r.SizeBytes, &r.Deleted, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.Timestamp = fromNanos(capturedAt)
	if lat.Valid && lon.Valid {
		r.Location = &models.Location{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	if err := json.Unmarshal([]byte(features), &r.Features); err != nil {
		return nil, fmt.Errorf("failed to decode features of %s: %w", r.ID, err)
	}
	if len(r.Features) == 0 {
		r.Features = nil
	}
	r.ImageRef = imageRef.String
	r.SyncState = models.SyncState(state)
	r.RemoteID = remoteID.String
	if nextAttempt.Valid {
		t := fromNanos(nextAttempt.Int64)
		r.NextAttemptAt = &t
	}
	r.CreatedAt = fromNanos(createdAt)
	r.UpdatedAt = fromNanos(updatedAt)
	return &r, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, rec *models.AnimalRecord) error {
	a, err := args(rec)
	if err != nil {
		return err
	}
	query := `INSERT INTO records (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, a...); err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// Get returns the row for id, tombstones included.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.AnimalRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM records WHERE id = ?`, id)
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return rec, nil
}

// Save overwrites every mutable column of an existing row.
func (r *SQLiteRepository) Save(ctx context.Context, rec *models.AnimalRecord) error {
	a, err := args(rec)
	if err != nil {
		return err
	}
	query := `UPDATE records SET
		user_id = ?, breed_name = ?, confidence = ?, captured_at = ?, latitude = ?, longitude = ?,
		features = ?, image_ref = ?, sync_state = ?, remote_id = ?, version = ?, remote_version = ?,
		attempts = ?, last_error = ?, next_attempt_at = ?, size_bytes = ?, deleted = ?,
		created_at = ?, updated_at = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, append(a[1:], rec.ID)...)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) HardDelete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to purge record: %w", err)
	}
	return nil
}

func filterClause(f models.Filter) ([]string, []any) {
	conds := []string{"deleted = 0"}
	var a []any
	if len(f.States) > 0 {
		marks := make([]string, len(f.States))
		for i, s := range f.States {
			marks[i] = "?"
			a = append(a, string(s))
		}
		conds = append(conds, "sync_state IN ("+strings.Join(marks, ", ")+")")
	}
	if f.BreedName != "" {
		conds = append(conds, "breed_name = ? COLLATE NOCASE")
		a = append(a, f.BreedName)
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		a = append(a, f.UserID)
	}
	if !f.From.IsZero() {
		conds = append(conds, "captured_at >= ?")
		a = append(a, nanos(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "captured_at < ?")
		a = append(a, nanos(f.To))
	}
	return conds, a
}

// ListPage returns up to limit live rows matching f, ordered by capture
// time (newest first unless f.Ascending) and id. When after is set the page
// starts strictly past it and offset is ignored.
func (r *SQLiteRepository) ListPage(ctx context.Context, f models.Filter, after *Cursor, offset, limit int) ([]models.AnimalRecord, error) {
	conds, a := filterClause(f)
	cmp, dir := "<", "DESC"
	if f.Ascending {
		cmp, dir = ">", "ASC"
	}
	if after != nil {
		conds = append(conds, "(captured_at "+cmp+" ? OR (captured_at = ? AND id "+cmp+" ?))")
		at := nanos(after.CapturedAt)
		a = append(a, at, at, after.ID)
		offset = 0
	}
	query := `SELECT ` + columns + ` FROM records WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY captured_at ` + dir + `, id ` + dir + ` LIMIT ? OFFSET ?`
	a = append(a, limit, offset)
	return r.query(ctx, query, a...)
}

// ListConflicts returns every record parked in conflict, tombstones
// included, oldest update first.
func (r *SQLiteRepository) ListConflicts(ctx context.Context) ([]models.AnimalRecord, error) {
	return r.query(ctx, `SELECT `+columns+` FROM records WHERE sync_state = ? ORDER BY updated_at, id`,
		string(models.SyncConflict))
}

func (r *SQLiteRepository) query(ctx context.Context, query string, a ...any) ([]models.AnimalRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []models.AnimalRecord
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) ids(ctx context.Context, query string, a ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to select record ids: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

// SyncedBefore lists live synced records captured before the cutoff.
func (r *SQLiteRepository) SyncedBefore(ctx context.Context, before time.Time) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM records
		WHERE deleted = 0 AND sync_state = ? AND captured_at < ?
		ORDER BY captured_at, id`, string(models.SyncSynced), nanos(before))
}

// SetSnapshot stores the remote copy reported with a conflict. A nil
// snapshot clears it.
func (r *SQLiteRepository) SetSnapshot(ctx context.Context, id string, snapshot *models.RemoteSnapshot) error {
	var raw []byte
	if snapshot != nil {
		b, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("failed to encode remote snapshot: %w", err)
		}
		raw = b
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE records SET remote_snapshot = ? WHERE id = ?`, raw, id); err != nil {
		return fmt.Errorf("failed to store remote snapshot: %w", err)
	}
	return nil
}

// Snapshot returns the stored remote snapshot, or nil when none is held.
func (r *SQLiteRepository) Snapshot(ctx context.Context, id string) (*models.RemoteSnapshot, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT remote_snapshot FROM records WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read remote snapshot: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var snap models.RemoteSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode remote snapshot: %w", err)
	}
	return &snap, nil
}

// Claimable lists records the engine may pick up at now: pending ones and
// failed ones whose retry time has come. Records are ordered by their
// oldest unapplied change.
func (r *SQLiteRepository) Claimable(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return r.ids(ctx, `SELECT r.id FROM records r
		WHERE r.sync_state = ?
		   OR (r.sync_state = ? AND r.next_attempt_at IS NOT NULL AND r.next_attempt_at <= ?)
		ORDER BY COALESCE((SELECT MIN(c.sequence) FROM change_log c
			WHERE c.record_id = r.id AND c.applied_at IS NULL), 0), r.id
		LIMIT ?`, string(models.SyncPending), string(models.SyncFailed), nanos(now), limit)
}

// NextRetryAt is the earliest scheduled retry, nil when none is scheduled.
func (r *SQLiteRepository) NextRetryAt(ctx context.Context) (*time.Time, error) {
	var n sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MIN(next_attempt_at) FROM records
		WHERE sync_state = ? AND next_attempt_at IS NOT NULL`, string(models.SyncFailed)).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("failed to read next retry: %w", err)
	}
	if !n.Valid {
		return nil, nil
	}
	t := fromNanos(n.Int64)
	return &t, nil
}

func (r *SQLiteRepository) ResetState(ctx context.Context, from, to models.SyncState) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE records SET sync_state = ? WHERE sync_state = ?`, string(to), string(from))
	if err != nil {
		return 0, fmt.Errorf("failed to reset sync state: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) Usage(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to sum record sizes: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) CountByState(ctx context.Context) (map[models.SyncState]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT sync_state, COUNT(*) FROM records WHERE deleted = 0 GROUP BY sync_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count records by state: %w", err)
	}
	defer rows.Close()

	result := make(map[models.SyncState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		result[models.SyncState(state)] = n
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE deleted = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) DistinctBreeds(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT LOWER(breed_name)) FROM records WHERE deleted = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count breeds: %w", err)
	}
	return n, nil
}

// Analytics summarises live records captured at or after since. An empty
// userID covers every user on the device.
func (r *SQLiteRepository) Analytics(ctx context.Context, userID string, since time.Time) (*models.Analytics, error) {
	f := models.Filter{UserID: userID, From: since}
	conds, a := filterClause(f)
	where := strings.Join(conds, " AND ")

	out := &models.Analytics{UserID: userID, Since: since}
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(AVG(confidence), 0) FROM records WHERE `+where, a...).
		Scan(&out.Total, &out.AverageConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate records: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT breed_name, COUNT(*) AS n FROM records WHERE `+where+`
		GROUP BY breed_name ORDER BY n DESC, breed_name`, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate breeds: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var bc models.BreedCount
		if err := rows.Scan(&bc.Breed, &bc.Count); err != nil {
			return nil, err
		}
		out.BreedDistribution = append(out.BreedDistribution, bc)
	}
	return out, rows.Err()
}
