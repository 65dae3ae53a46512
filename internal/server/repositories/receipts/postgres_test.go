package receipts

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pashudhan/fieldsync/internal/common"
	"github.com/pashudhan/fieldsync/internal/server/models"
)

var createdAt = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestPostgresRepository_Get(t *testing.T) {
	q := `SELECT .* FROM receipts WHERE record_id = \$1 AND sequence = \$2`

	t.Run("found", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(q).WithArgs("rec-1", int64(2)).WillReturnRows(
			sqlmock.NewRows([]string{"record_id", "sequence", "user_id", "outcome", "remote_id", "remote_version", "reason", "created_at"}).
				AddRow("rec-1", int64(2), "u1", "accepted", "r-1", int64(2), "", createdAt))

		rc, err := repo.Get(context.Background(), "rec-1", 2)
		require.NoError(t, err)
		assert.Equal(t, "accepted", rc.Outcome)
		assert.Equal(t, int64(2), rc.RemoteVersion)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(q).WithArgs("rec-1", int64(3)).WillReturnError(sql.ErrNoRows)

		_, err := repo.Get(context.Background(), "rec-1", 3)
		require.ErrorIs(t, err, common.ErrorNotFound)
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(q).WillReturnError(errors.New("db is down"))

		_, err := repo.Get(context.Background(), "rec-1", 3)
		require.ErrorContains(t, err, "select receipt: db is down")
	})
}

func TestPostgresRepository_Create(t *testing.T) {
	q := `INSERT INTO receipts .* ON CONFLICT \(record_id, sequence\) DO NOTHING`
	rc := &models.Receipt{RecordID: "rec-1", Sequence: 1, UserID: "u1", Outcome: "rejected", Reason: "nope", CreatedAt: createdAt}

	t.Run("ok", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).
			WithArgs("rec-1", int64(1), "u1", "rejected", "", int64(0), "nope", createdAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Create(context.Background(), rc))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WillReturnError(errors.New("db is down"))

		require.ErrorContains(t, repo.Create(context.Background(), rc), "db error: db is down")
	})
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(make(map[Key]models.Receipt))

	_, err := repo.Get(ctx, "rec-1", 1)
	require.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, repo.Create(ctx, &models.Receipt{RecordID: "rec-1", Sequence: 1, Outcome: "accepted"}))
	require.NoError(t, repo.Create(ctx, &models.Receipt{RecordID: "rec-1", Sequence: 1, Outcome: "rejected"}))

	rc, err := repo.Get(ctx, "rec-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "accepted", rc.Outcome)
}
