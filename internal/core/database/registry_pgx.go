package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vectorflowhq/vectorflow/internal/core"
	"github.com/vectorflowhq/vectorflow/internal/models"
)

// Registry implements core.RegistryClient over upload_records.
type Registry struct {
	db *sql.DB
}

func NewRegistry(sqlDB *sql.DB) *Registry {
	return &Registry{db: sqlDB}
}

var _ core.RegistryClient = (*Registry)(nil)

const recordColumns = `id, content_hash, original_filename, uploaded_by, job_id, object_key, status, chunk_count, error_message, uploaded_at, updated_at`

// UpsertProcessing creates a processing record for new content, or rebinds an
// existing record (same hash) to a fresh job. The conflict clause is what
// keeps content_hash unique across retries and racing uploads.
func (r *Registry) UpsertProcessing(ctx context.Context, rec *models.UploadRecord) error {
	if rec == nil {
		return errors.New("nil upload record")
	}
	const q = `
		INSERT INTO upload_records
			(id, content_hash, original_filename, uploaded_by, job_id, object_key, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'processing')
		ON CONFLICT (content_hash) DO UPDATE SET
			original_filename = EXCLUDED.original_filename,
			uploaded_by       = EXCLUDED.uploaded_by,
			job_id            = EXCLUDED.job_id,
			object_key        = EXCLUDED.object_key,
			status            = 'processing',
			chunk_count       = 0,
			error_message     = '',
			updated_at        = now()
	`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.ContentHash, rec.OriginalFilename, rec.UploadedBy, rec.JobID, rec.ObjectKey)
	if err != nil {
		return fmt.Errorf("upsert upload record: %w", err)
	}
	return nil
}

func (r *Registry) GetByHash(ctx context.Context, hash string) (*models.UploadRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM upload_records WHERE content_hash = $1`
	return r.getOne(ctx, q, hash)
}

func (r *Registry) GetByJobID(ctx context.Context, jobID string) (*models.UploadRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM upload_records WHERE job_id = $1`
	return r.getOne(ctx, q, jobID)
}

func (r *Registry) getOne(ctx context.Context, q string, arg any) (*models.UploadRecord, error) {
	var rec models.UploadRecord
	err := r.db.QueryRowContext(ctx, q, arg).Scan(
		&rec.ID, &rec.ContentHash, &rec.OriginalFilename, &rec.UploadedBy,
		&rec.JobID, &rec.ObjectKey, &rec.Status, &rec.ChunkCount,
		&rec.ErrorMessage, &rec.UploadedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get upload record: %w", err)
	}
	return &rec, nil
}

func (r *Registry) MarkCompleted(ctx context.Context, jobID string, chunkCount int) error {
	const q = `
		UPDATE upload_records
		SET status = 'completed', chunk_count = $2, error_message = '', updated_at = now()
		WHERE job_id = $1
	`
	return r.mark(ctx, q, jobID, chunkCount)
}

func (r *Registry) MarkFailed(ctx context.Context, jobID string, message string) error {
	const q = `
		UPDATE upload_records
		SET status = 'failed', error_message = $2, updated_at = now()
		WHERE job_id = $1
	`
	return r.mark(ctx, q, jobID, message)
}

func (r *Registry) mark(ctx context.Context, q, jobID string, arg any) error {
	res, err := r.db.ExecContext(ctx, q, jobID, arg)
	if err != nil {
		return fmt.Errorf("update upload record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Orphaned job: enqueued but its record was never written.
		return core.ErrNotFound
	}
	return nil
}

func (r *Registry) ListRecent(ctx context.Context, limit int) ([]models.UploadRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + recordColumns + `
		FROM upload_records
		ORDER BY updated_at DESC
		LIMIT $1`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list upload records: %w", err)
	}
	defer rows.Close()

	var out []models.UploadRecord
	for rows.Next() {
		var rec models.UploadRecord
		if err := rows.Scan(
			&rec.ID, &rec.ContentHash, &rec.OriginalFilename, &rec.UploadedBy,
			&rec.JobID, &rec.ObjectKey, &rec.Status, &rec.ChunkCount,
			&rec.ErrorMessage, &rec.UploadedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Registry) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
