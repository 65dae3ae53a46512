package changelog

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

const columns = `sequence, record_id, operation, payload_version, payload, created_at, applied_at`

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

func scan(s scanner) (*models.ChangeLogEntry, error) {
	var (
		e       models.ChangeLogEntry
		op      string
		payload []byte
		created int64
		applied sql.NullInt64
	)
	if err := s.Scan(&e.Sequence, &e.RecordID, &op, &e.PayloadVersion, &payload, &created, &applied); err != nil {
		return nil, err
	}
	e.Operation = models.Operation(op)
	content, err := DecodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", e.Sequence, err)
	}
	e.Payload = content
	e.CreatedAt = time.Unix(0, created).UTC()
	if applied.Valid {
		t := time.Unix(0, applied.Int64).UTC()
		e.AppliedAt = &t
	}
	return &e, nil
}

// Append writes e and returns the sequence assigned to it. e.Sequence is
// updated in place.
func (r *SQLiteRepository) Append(ctx context.Context, e *models.ChangeLogEntry) (int64, error) {
	payload, err := EncodePayload(e.Payload)
	if err != nil {
		return 0, err
	}
	query := `INSERT INTO change_log (record_id, operation, payload_version, payload, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING sequence`
	var seq int64
	err = r.db.QueryRowContext(ctx, query, e.RecordID, string(e.Operation), e.PayloadVersion, payload,
		e.CreatedAt.UTC().UnixNano()).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to append change: %w", err)
	}
	e.Sequence = seq
	return seq, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, sequence int64) (*models.ChangeLogEntry, error) {
	e, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM change_log WHERE sequence = ?`, sequence))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get change %d: %w", sequence, err)
	}
	return e, nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, a ...any) ([]models.ChangeLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to select changes: %w", err)
	}
	defer rows.Close()

	var result []models.ChangeLogEntry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate changes: %w", err)
	}
	return result, nil
}

// Pending returns unapplied entries with a sequence above afterSequence in
// ascending order.
func (r *SQLiteRepository) Pending(ctx context.Context, afterSequence int64, limit int) ([]models.ChangeLogEntry, error) {
	return r.list(ctx, `SELECT `+columns+` FROM change_log
		WHERE applied_at IS NULL AND sequence > ? ORDER BY sequence LIMIT ?`, afterSequence, limit)
}

func (r *SQLiteRepository) PendingForRecord(ctx context.Context, recordID string) ([]models.ChangeLogEntry, error) {
	return r.list(ctx, `SELECT `+columns+` FROM change_log
		WHERE applied_at IS NULL AND record_id = ? ORDER BY sequence`, recordID)
}

// MarkApplied stamps the entry. It reports false when the entry was already
// applied or no longer exists.
func (r *SQLiteRepository) MarkApplied(ctx context.Context, sequence int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE change_log SET applied_at = ? WHERE sequence = ? AND applied_at IS NULL`,
		at.UTC().UnixNano(), sequence)
	if err != nil {
		return false, fmt.Errorf("failed to mark change %d applied: %w", sequence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// Supersede stamps every unapplied entry of the record as applied without
// sending it. Used when the remote copy wins a conflict.
func (r *SQLiteRepository) Supersede(ctx context.Context, recordID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE change_log SET applied_at = ? WHERE record_id = ? AND applied_at IS NULL`,
		at.UTC().UnixNano(), recordID)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede changes of %s: %w", recordID, err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM change_log WHERE applied_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending changes: %w", err)
	}
	return n, nil
}

// Prune deletes applied entries below beforeSequence that were applied
// before appliedBefore. Unapplied entries are never removed.
func (r *SQLiteRepository) Prune(ctx context.Context, beforeSequence int64, appliedBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM change_log
		WHERE sequence < ? AND applied_at IS NOT NULL AND applied_at < ?`,
		beforeSequence, appliedBefore.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune change log: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) MaxSequence(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM change_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to read max sequence: %w", err)
	}
	return n, nil
}
