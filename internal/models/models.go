package models

import (
	"time"
)

// Upload lifecycle states. A record is created in StatusProcessing when a job
// is enqueued and moved to exactly one terminal state by the worker.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// UploadRecord tracks one distinct document content, keyed by its hash.
// Records are never deleted; completed rows double as the dedup index.
type UploadRecord struct {
	ID               string    `db:"id" json:"id"`
	ContentHash      string    `db:"content_hash" json:"content_hash"`
	OriginalFilename string    `db:"original_filename" json:"original_filename"`
	UploadedBy       *string   `db:"uploaded_by" json:"uploaded_by,omitempty"`
	JobID            string    `db:"job_id" json:"job_id"`
	ObjectKey        string    `db:"object_key" json:"object_key"`
	Status           string    `db:"status" json:"status"` // processing | completed | failed
	ChunkCount       int       `db:"chunk_count" json:"chunk_count"`
	ErrorMessage     string    `db:"error_message" json:"error_message,omitempty"`
	UploadedAt       time.Time `db:"uploaded_at" json:"uploaded_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Chunk is one bounded passage of extracted text. Chunks only live for the
// duration of a single ingestion job.
type Chunk struct {
	Text       string `json:"text"`
	SourcePage int    `json:"source_page"`
	Index      int    `json:"index"`
}

// PointPayload is the metadata stored alongside each embedding.
type PointPayload struct {
	Text           string    `json:"text"`
	ContentHash    string    `json:"content_hash"`
	SourceFilename string    `json:"source_filename"`
	ChunkIndex     int       `json:"chunk_index"`
	PageNumber     int       `json:"page_number"`
	ObjectKey      string    `json:"object_key"`
	IngestedAt     time.Time `json:"ingested_at"`
}

// VectorPoint is one embedded chunk ready for the vector store. IDs are
// generated fresh per point; upserting the same id twice is a no-op.
type VectorPoint struct {
	ID      string       `json:"id"`
	Vector  []float32    `json:"vector"`
	Payload PointPayload `json:"payload"`
}
