package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorflowhq/vectorflow/internal/core"
)

func newMockQueue(t *testing.T) (*PostgresQueue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresQueue(db, 3), mock
}

func jobRows(t *testing.T, id string, p Payload, status Status, progress, attempts int) *sqlmock.Rows {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "payload", "status", "progress", "attempts", "max_attempts",
		"return_value", "failure_reason", "created_at", "updated_at", "heartbeat_at",
	}).AddRow(id, raw, string(status), progress, attempts, 3, nil, nil, now, now, now)
}

func TestEnqueueInsertsQueuedJob(t *testing.T) {
	q, mock := newMockQueue(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO ingest_jobs`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 3).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	job, err := q.Enqueue(context.Background(), Payload{
		ObjectKey:   "uploads/abc/1-doc.pdf",
		ContentHash: "hash-abc",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUnknownJobIsNotFound(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectQuery(`SELECT .+ FROM ingest_jobs WHERE id`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := q.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestGetScansPayloadAndFailure(t *testing.T) {
	q, mock := newMockQueue(t)
	p := Payload{ObjectKey: "k", ContentHash: "h", OriginalFilename: "doc.pdf"}

	rows := jobRows(t, "job-1", p, StatusActive, 30, 1)
	mock.ExpectQuery(`SELECT .+ FROM ingest_jobs WHERE id`).
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := q.Get(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, p, job.Payload)
	assert.Equal(t, StatusActive, job.Status)
	assert.Equal(t, 30, job.Progress)
	assert.Empty(t, job.FailureReason)
}

func TestClaimEmptyQueueReturnsNil(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectQuery(`UPDATE ingest_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	job, err := q.Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimReturnsActivatedJob(t *testing.T) {
	q, mock := newMockQueue(t)
	p := Payload{ObjectKey: "k", ContentHash: "h"}

	mock.ExpectQuery(`UPDATE ingest_jobs`).
		WillReturnRows(jobRows(t, "job-2", p, StatusActive, 0, 1))

	job, err := q.Claim(context.Background())
	require.NoError(t, err)

	require.NotNil(t, job)
	assert.Equal(t, "job-2", job.ID)
	assert.Equal(t, StatusActive, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestProgressClampsPercent(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`UPDATE ingest_jobs`).
		WithArgs("job-3", 100).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Progress(context.Background(), "job-3", 250))

	mock.ExpectExec(`UPDATE ingest_jobs`).
		WithArgs("job-3", 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Progress(context.Background(), "job-3", -5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteStoresReturnValue(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`UPDATE ingest_jobs`).
		WithArgs("job-4", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := q.Complete(context.Background(), "job-4", map[string]any{"chunk_count": 12})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteUnknownJobIsNotFound(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`UPDATE ingest_jobs`).
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := q.Complete(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestFailRecordsReason(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`UPDATE ingest_jobs`).
		WithArgs("job-5", "extract text: parser exploded").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Fail(context.Background(), "job-5", "extract text: parser exploded"))
}

func TestRequeueStalledSplitsByAttemptBudget(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE ingest_jobs`).
		WithArgs(float64(300)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("job-a").AddRow("job-b"))
	mock.ExpectQuery(`UPDATE ingest_jobs`).
		WithArgs(float64(300)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("job-c"))
	mock.ExpectCommit()

	requeued, failed, err := q.RequeueStalled(context.Background(), 5*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, []string{"job-a", "job-b"}, requeued)
	assert.Equal(t, []string{"job-c"}, failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueStalledNothingStalled(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE ingest_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`UPDATE ingest_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	requeued, failed, err := q.RequeueStalled(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, requeued)
	assert.Empty(t, failed)
}
