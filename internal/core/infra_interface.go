package core

import (
	"context"
	"io"
	"time"

	"github.com/vectorflowhq/vectorflow/internal/models"
)

// RegistryClient defines the upload metadata registry. It abstracts
// Postgres so higher layers never depend on a specific DB.
type RegistryClient interface {
	// UpsertProcessing inserts a processing record, or replaces the job
	// binding on an existing record with the same content hash.
	UpsertProcessing(ctx context.Context, rec *models.UploadRecord) error
	GetByHash(ctx context.Context, hash string) (*models.UploadRecord, error)
	GetByJobID(ctx context.Context, jobID string) (*models.UploadRecord, error)
	MarkCompleted(ctx context.Context, jobID string, chunkCount int) error
	MarkFailed(ctx context.Context, jobID string, message string) error
	ListRecent(ctx context.Context, limit int) ([]models.UploadRecord, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	PresignUpload(ctx context.Context, key string, expires time.Duration) (url string, err error)
	Upload(ctx context.Context, key string, data io.Reader, contentType string) (url string, err error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// EmbeddingProvider turns text into fixed-length vectors. Neither call
// retries internally.
type EmbeddingProvider interface {
	// EmbedBatch embeds all texts in one round trip, all-or-nothing.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedOne embeds a single text; used by the per-chunk fallback path.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// VectorClient upserts points into the vector store. Upserts are idempotent
// by point id, so replaying a persist step is safe.
type VectorClient interface {
	UpsertPoints(ctx context.Context, points []models.VectorPoint) error
}

// PageExtractor parses a document into an ordered sequence of page texts.
type PageExtractor interface {
	ExtractPages(ctx context.Context, r io.Reader) ([]string, error)
}
