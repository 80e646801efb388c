package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorflowhq/vectorflow/internal/core"
	"github.com/vectorflowhq/vectorflow/internal/models"
)

func newMockRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewRegistry(sqlDB), mock
}

func recordRows(rec *models.UploadRecord) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "content_hash", "original_filename", "uploaded_by", "job_id",
		"object_key", "status", "chunk_count", "error_message", "uploaded_at", "updated_at",
	}).AddRow(
		rec.ID, rec.ContentHash, rec.OriginalFilename, rec.UploadedBy, rec.JobID,
		rec.ObjectKey, rec.Status, rec.ChunkCount, rec.ErrorMessage, now, now,
	)
}

func TestUpsertProcessingBindsJob(t *testing.T) {
	r, mock := newMockRegistry(t)

	mock.ExpectExec(`INSERT INTO upload_records`).
		WithArgs("rec-1", "hash-1", "doc.pdf", nil, "job-1", "uploads/hash-1/1-doc.pdf").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.UpsertProcessing(context.Background(), &models.UploadRecord{
		ID:               "rec-1",
		ContentHash:      "hash-1",
		OriginalFilename: "doc.pdf",
		JobID:            "job-1",
		ObjectKey:        "uploads/hash-1/1-doc.pdf",
		Status:           models.StatusProcessing,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProcessingNilRecord(t *testing.T) {
	r, _ := newMockRegistry(t)
	assert.Error(t, r.UpsertProcessing(context.Background(), nil))
}

func TestGetByHashFound(t *testing.T) {
	r, mock := newMockRegistry(t)
	want := &models.UploadRecord{
		ID:               "rec-1",
		ContentHash:      "hash-1",
		OriginalFilename: "doc.pdf",
		JobID:            "job-1",
		ObjectKey:        "uploads/hash-1/1-doc.pdf",
		Status:           models.StatusCompleted,
		ChunkCount:       12,
	}

	mock.ExpectQuery(`SELECT .+ FROM upload_records WHERE content_hash`).
		WithArgs("hash-1").
		WillReturnRows(recordRows(want))

	got, err := r.GetByHash(context.Background(), "hash-1")
	require.NoError(t, err)

	assert.Equal(t, want.JobID, got.JobID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 12, got.ChunkCount)
	assert.Nil(t, got.UploadedBy)
}

func TestGetByHashNotFound(t *testing.T) {
	r, mock := newMockRegistry(t)

	mock.ExpectQuery(`SELECT .+ FROM upload_records WHERE content_hash`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := r.GetByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestGetByJobID(t *testing.T) {
	r, mock := newMockRegistry(t)
	want := &models.UploadRecord{ID: "rec-2", ContentHash: "hash-2", JobID: "job-2", Status: models.StatusProcessing}

	mock.ExpectQuery(`SELECT .+ FROM upload_records WHERE job_id`).
		WithArgs("job-2").
		WillReturnRows(recordRows(want))

	got, err := r.GetByJobID(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, "hash-2", got.ContentHash)
}

func TestMarkCompletedSetsChunkCount(t *testing.T) {
	r, mock := newMockRegistry(t)

	mock.ExpectExec(`UPDATE upload_records`).
		WithArgs("job-1", 42).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.MarkCompleted(context.Background(), "job-1", 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCompletedOrphanedJob(t *testing.T) {
	r, mock := newMockRegistry(t)

	mock.ExpectExec(`UPDATE upload_records`).
		WithArgs("orphan", 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := r.MarkCompleted(context.Background(), "orphan", 1)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMarkFailedStoresMessage(t *testing.T) {
	r, mock := newMockRegistry(t)

	mock.ExpectExec(`UPDATE upload_records`).
		WithArgs("job-1", "extract text: parser exploded").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.MarkFailed(context.Background(), "job-1", "extract text: parser exploded"))
}

func TestListRecentDefaultsLimit(t *testing.T) {
	r, mock := newMockRegistry(t)
	rec := &models.UploadRecord{ID: "rec-1", ContentHash: "hash-1", Status: models.StatusCompleted}

	mock.ExpectQuery(`SELECT .+ FROM upload_records`).
		WithArgs(50).
		WillReturnRows(recordRows(rec))

	out, err := r.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "hash-1", out[0].ContentHash)
}
