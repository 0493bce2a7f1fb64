package chunks

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock, db
}

func TestCreate_Upserts(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)INSERT INTO file_chunks .*ON CONFLICT \(file_id, chunk_index\)\s+DO UPDATE`).
		WithArgs("f1", 2, "c/u1/f1/00000002/ab", int64(4), "ab").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	c := &models.Chunk{FileID: "f1", Index: 2, Key: "c/u1/f1/00000002/ab", Size: 4, Hash: "ab"}
	require.NoError(t, repo.Create(context.Background(), c))
	assert.Equal(t, now, c.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_Error(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	mock.ExpectQuery(`INSERT INTO file_chunks`).WillReturnError(errors.New("fk violation"))

	err := repo.Create(context.Background(), &models.Chunk{FileID: "f1"})
	assert.ErrorContains(t, err, "db error: fk violation")
}

func TestListByFile_Ordered(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)SELECT .* FROM file_chunks WHERE file_id = \$1 ORDER BY chunk_index`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"file_id", "chunk_index", "chunk_key", "size", "hash", "created_at"}).
			AddRow("f1", 0, "k0", int64(4), "h0", now).
			AddRow("f1", 1, "k1", int64(2), "h1", now))

	got, err := repo.ListByFile(context.Background(), "f1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, "k1", got[1].Key)
}

func TestListByFile_QueryError(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	mock.ExpectQuery(`FROM file_chunks`).WillReturnError(errors.New("down"))

	_, err := repo.ListByFile(context.Background(), "f1")
	assert.ErrorContains(t, err, "failed to select chunks")
}

func TestCount(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM file_chunks WHERE file_id = \$1`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.Count(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeleteByFile(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	mock.ExpectExec(`DELETE FROM file_chunks WHERE file_id = \$1`).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteByFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
