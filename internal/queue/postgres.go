package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vectorflowhq/vectorflow/internal/core"
)

// PostgresQueue implements Queue on top of the ingest_jobs table. Claims use
// FOR UPDATE SKIP LOCKED so multiple worker processes can share one queue.
type PostgresQueue struct {
	db          *sql.DB
	maxAttempts int
}

func NewPostgresQueue(db *sql.DB, maxAttempts int) *PostgresQueue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &PostgresQueue{db: db, maxAttempts: maxAttempts}
}

const jobColumns = `id, payload, status, progress, attempts, max_attempts, return_value, failure_reason, created_at, updated_at, heartbeat_at`

func (q *PostgresQueue) Enqueue(ctx context.Context, payload Payload) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	job := &Job{
		ID:          uuid.NewString(),
		Payload:     payload,
		Status:      StatusQueued,
		MaxAttempts: q.maxAttempts,
	}

	const query = `
		INSERT INTO ingest_jobs (id, payload, status, max_attempts)
		VALUES ($1, $2, 'queued', $3)
		RETURNING created_at, updated_at
	`
	err = q.db.QueryRowContext(ctx, query, job.ID, raw, job.MaxAttempts).
		Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

func (q *PostgresQueue) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM ingest_jobs WHERE id = $1`
	job, err := scanJob(q.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Claim takes the oldest queued job and marks it active. The subquery with
// SKIP LOCKED keeps concurrent claimers from ever seeing the same row.
func (q *PostgresQueue) Claim(ctx context.Context) (*Job, error) {
	query := `
		UPDATE ingest_jobs
		SET status = 'active', attempts = attempts + 1,
		    heartbeat_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM ingest_jobs
			WHERE status = 'queued'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns
	job, err := scanJob(q.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (q *PostgresQueue) Progress(ctx context.Context, id string, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	const query = `
		UPDATE ingest_jobs
		SET progress = $2, heartbeat_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'active'
	`
	_, err := q.db.ExecContext(ctx, query, id, pct)
	if err != nil {
		return fmt.Errorf("report progress: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Complete(ctx context.Context, id string, returnValue map[string]any) error {
	var raw []byte
	if returnValue != nil {
		var err error
		raw, err = json.Marshal(returnValue)
		if err != nil {
			return fmt.Errorf("marshal return value: %w", err)
		}
	}
	const query = `
		UPDATE ingest_jobs
		SET status = 'completed', progress = 100, return_value = $2,
		    heartbeat_at = now(), updated_at = now()
		WHERE id = $1
	`
	res, err := q.db.ExecContext(ctx, query, id, raw)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return requireRow(res)
}

func (q *PostgresQueue) Fail(ctx context.Context, id string, reason string) error {
	const query = `
		UPDATE ingest_jobs
		SET status = 'failed', failure_reason = $2,
		    heartbeat_at = now(), updated_at = now()
		WHERE id = $1
	`
	res, err := q.db.ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return requireRow(res)
}

func (q *PostgresQueue) RequeueStalled(ctx context.Context, olderThan time.Duration) (requeued, failed []string, err error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin requeue tx: %w", err)
	}
	defer tx.Rollback()

	secs := olderThan.Seconds()

	const requeueQuery = `
		UPDATE ingest_jobs
		SET status = 'queued', progress = 0, updated_at = now()
		WHERE status = 'active'
		  AND heartbeat_at < now() - make_interval(secs => $1)
		  AND attempts < max_attempts
		RETURNING id
	`
	requeued, err = collectIDs(tx.QueryContext(ctx, requeueQuery, secs))
	if err != nil {
		return nil, nil, fmt.Errorf("requeue stalled: %w", err)
	}

	const exhaustQuery = `
		UPDATE ingest_jobs
		SET status = 'failed',
		    failure_reason = 'stalled: no progress reported and attempt budget exhausted',
		    updated_at = now()
		WHERE status = 'active'
		  AND heartbeat_at < now() - make_interval(secs => $1)
		  AND attempts >= max_attempts
		RETURNING id
	`
	failed, err = collectIDs(tx.QueryContext(ctx, exhaustQuery, secs))
	if err != nil {
		return nil, nil, fmt.Errorf("fail stalled: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit requeue tx: %w", err)
	}
	return requeued, failed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j       Job
		rawPay  []byte
		rawRet  sql.Null[[]byte]
		failure sql.NullString
	)
	err := row.Scan(
		&j.ID, &rawPay, &j.Status, &j.Progress, &j.Attempts, &j.MaxAttempts,
		&rawRet, &failure, &j.CreatedAt, &j.UpdatedAt, &j.HeartbeatAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rawPay, &j.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if rawRet.Valid && len(rawRet.V) > 0 {
		if err := json.Unmarshal(rawRet.V, &j.ReturnValue); err != nil {
			return nil, fmt.Errorf("unmarshal return value: %w", err)
		}
	}
	j.FailureReason = failure.String
	return &j, nil
}

func collectIDs(rows *sql.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
