package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vectorflowhq/vectorflow/internal/core"
	"github.com/vectorflowhq/vectorflow/internal/models"
	"github.com/vectorflowhq/vectorflow/internal/queue"
)

// Intake statuses returned to clients. Duplicate and already-processing are
// normal short-circuit outcomes, not errors.
const (
	StatusReady             = "ready"
	StatusQueued            = "queued"
	StatusDuplicate         = "duplicate"
	StatusAlreadyProcessing = "processing"
)

// UploadTarget is a presigned destination for the raw file bytes.
type UploadTarget struct {
	UploadURL        string `json:"upload_url"`
	ObjectKey        string `json:"object_key"`
	FileHash         string `json:"file_hash"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// UploadDecision is the outcome of a requestUpload call: either a target to
// upload to, or a short-circuit telling the caller to skip the upload.
type UploadDecision struct {
	Status     string        `json:"status"`
	Message    string        `json:"message,omitempty"`
	JobID      string        `json:"job_id,omitempty"`
	SkipUpload bool          `json:"skip_upload"`
	Target     *UploadTarget `json:"target,omitempty"`
}

// TriggerResult reports whether a processing job was enqueued or content is
// already being handled.
type TriggerResult struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// RetryResult links a fresh job to the terminal one it supersedes.
type RetryResult struct {
	Status        string `json:"status"`
	NewJobID      string `json:"new_job_id"`
	OriginalJobID string `json:"original_job_id"`
}

// IntakeService deduplicates uploads by content hash, issues upload targets
// and enqueues processing jobs. The dedup check is optimistic: two
// near-simultaneous uploads of identical content may both enqueue, which
// wastes work but converges to the same record state.
type IntakeService struct {
	registry  core.RegistryClient
	queue     queue.Queue
	objects   core.ObjectClient
	uploadTTL time.Duration
	logger    *slog.Logger
}

func NewIntakeService(registry core.RegistryClient, q queue.Queue, objects core.ObjectClient, uploadTTL time.Duration, logger *slog.Logger) *IntakeService {
	if uploadTTL <= 0 {
		uploadTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IntakeService{
		registry:  registry,
		queue:     q,
		objects:   objects,
		uploadTTL: uploadTTL,
		logger:    logger,
	}
}

// RequestUpload resolves what the client should do with a file of the given
// hash: skip (duplicate), wait (already processing) or upload to a presigned
// target. No record is created here; that happens at TriggerProcessing.
func (s *IntakeService) RequestUpload(ctx context.Context, filename, contentHash string) (*UploadDecision, error) {
	if err := validateFile(filename, contentHash); err != nil {
		return nil, err
	}

	rec, err := s.registry.GetByHash(ctx, contentHash)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	if rec != nil {
		switch rec.Status {
		case models.StatusCompleted:
			return &UploadDecision{
				Status:     StatusDuplicate,
				Message:    "identical content already ingested",
				SkipUpload: true,
			}, nil
		case models.StatusProcessing:
			return &UploadDecision{
				Status:     StatusAlreadyProcessing,
				Message:    "identical content is being processed",
				JobID:      rec.JobID,
				SkipUpload: true,
			}, nil
		}
		// A failed record falls through: the client may upload again.
	}

	key := ObjectKey(contentHash, filename)
	url, err := s.objects.PresignUpload(ctx, key, s.uploadTTL)
	if err != nil {
		return nil, err
	}

	return &UploadDecision{
		Status: StatusReady,
		Target: &UploadTarget{
			UploadURL:        url,
			ObjectKey:        key,
			FileHash:         contentHash,
			ExpiresInSeconds: int(s.uploadTTL.Seconds()),
		},
	}, nil
}

// TriggerProcessing enqueues an ingestion job for an uploaded object and
// records it in the registry. The job is enqueued before the record is
// written so the record never references a job that does not exist; a record
// write failure after enqueue leaves a harmless orphaned job.
func (s *IntakeService) TriggerProcessing(ctx context.Context, objectKey, filename, contentHash, uploaderID string) (*TriggerResult, error) {
	if err := validateFile(filename, contentHash); err != nil {
		return nil, err
	}
	if objectKey == "" {
		return nil, &core.ValidationError{Field: "object_key", Reason: "must not be empty"}
	}

	// Re-check for an in-flight job so a racing client does not enqueue
	// duplicate work.
	rec, err := s.registry.GetByHash(ctx, contentHash)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	if rec != nil && rec.Status == models.StatusProcessing {
		return &TriggerResult{Status: StatusAlreadyProcessing, JobID: rec.JobID}, nil
	}

	job, err := s.queue.Enqueue(ctx, queue.Payload{
		ObjectKey:        objectKey,
		ContentHash:      contentHash,
		OriginalFilename: filename,
		UploaderID:       uploaderID,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	if err := s.createRecord(ctx, job, uploaderID); err != nil {
		// The enqueued job is orphaned; the worker will log the missing
		// record when it finishes. Fatal to this request, not the process.
		s.logger.Error("upload record creation failed after enqueue", "job_id", job.ID, "err", err)
		return nil, err
	}

	return &TriggerResult{Status: StatusQueued, JobID: job.ID}, nil
}

// Retry re-enqueues the payload of a terminal job under a fresh job id and
// rebinds the content's record to it. Queued or active jobs cannot be
// retried.
func (s *IntakeService) Retry(ctx context.Context, jobID string) (*RetryResult, error) {
	job, err := s.queue.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Terminal() {
		return nil, core.ErrInvalidJobState
	}

	newJob, err := s.queue.Enqueue(ctx, job.Payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue retry job: %w", err)
	}

	if err := s.createRecord(ctx, newJob, job.Payload.UploaderID); err != nil {
		s.logger.Error("upload record creation failed after retry enqueue", "job_id", newJob.ID, "err", err)
		return nil, err
	}

	return &RetryResult{
		Status:        StatusQueued,
		NewJobID:      newJob.ID,
		OriginalJobID: jobID,
	}, nil
}

// DirectUpload is the one-shot path: the server hashes the bytes, applies
// the same dedup short-circuits, stores the object and triggers processing.
func (s *IntakeService) DirectUpload(ctx context.Context, filename, contentType string, data []byte, uploaderID string) (*TriggerResult, error) {
	if len(data) == 0 {
		return nil, &core.ValidationError{Field: "file", Reason: "must not be empty"}
	}
	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])

	if err := validateFile(filename, contentHash); err != nil {
		return nil, err
	}

	rec, err := s.registry.GetByHash(ctx, contentHash)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	if rec != nil {
		switch rec.Status {
		case models.StatusCompleted:
			return &TriggerResult{Status: StatusDuplicate, JobID: rec.JobID}, nil
		case models.StatusProcessing:
			return &TriggerResult{Status: StatusAlreadyProcessing, JobID: rec.JobID}, nil
		}
	}

	key := ObjectKey(contentHash, filename)
	if _, err := s.objects.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return nil, err
	}

	return s.TriggerProcessing(ctx, key, filename, contentHash, uploaderID)
}

// JobStatus looks up a job by id for polling clients.
func (s *IntakeService) JobStatus(ctx context.Context, jobID string) (*queue.Job, error) {
	return s.queue.Get(ctx, jobID)
}

// RecordByHash looks up the upload record for a content hash.
func (s *IntakeService) RecordByHash(ctx context.Context, hash string) (*models.UploadRecord, error) {
	return s.registry.GetByHash(ctx, hash)
}

// ListRecords returns the most recently touched upload records.
func (s *IntakeService) ListRecords(ctx context.Context, limit int) ([]models.UploadRecord, error) {
	return s.registry.ListRecent(ctx, limit)
}

func (s *IntakeService) createRecord(ctx context.Context, job *queue.Job, uploaderID string) error {
	rec := &models.UploadRecord{
		ID:               uuid.NewString(),
		ContentHash:      job.Payload.ContentHash,
		OriginalFilename: job.Payload.OriginalFilename,
		JobID:            job.ID,
		ObjectKey:        job.Payload.ObjectKey,
		Status:           models.StatusProcessing,
	}
	if uploaderID != "" {
		rec.UploadedBy = &uploaderID
	}
	return s.registry.UpsertProcessing(ctx, rec)
}

// ObjectKey derives a collision-resistant storage key from the content hash,
// the current time and a sanitized filename.
func ObjectKey(contentHash, filename string) string {
	short := contentHash
	if len(short) > 12 {
		short = short[:12]
	}
	clean := filepath.Base(strings.TrimSpace(filename))
	clean = strings.ReplaceAll(clean, " ", "_")
	return fmt.Sprintf("uploads/%s/%d-%s", short, time.Now().Unix(), clean)
}

func validateFile(filename, contentHash string) error {
	if strings.TrimSpace(filename) == "" {
		return &core.ValidationError{Field: "file_name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(contentHash) == "" {
		return &core.ValidationError{Field: "file_hash", Reason: "must not be empty"}
	}
	return nil
}
