package queue

import (
	"context"
	"time"
)

// Status is the queue-native lifecycle of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a job can no longer make progress on its own.
// Only terminal jobs may be retried.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Payload is the typed message carried by an ingestion job. Metadata is
// passed through opaquely; the pipeline never inspects it.
type Payload struct {
	ObjectKey        string         `json:"object_key"`
	ContentHash      string         `json:"content_hash"`
	OriginalFilename string         `json:"original_filename"`
	UploaderID       string         `json:"uploader_id,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Job is one unit of queued work. Retries create a new Job with the same
// payload; a job row is never re-run under its original id after it reaches
// a terminal state.
type Job struct {
	ID            string         `json:"id"`
	Payload       Payload        `json:"payload"`
	Status        Status         `json:"status"`
	Progress      int            `json:"progress"` // 0-100
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"max_attempts"`
	ReturnValue   map[string]any `json:"return_value,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	HeartbeatAt   time.Time      `json:"-"`
}

// Queue is a durable, at-least-once work queue with progress reporting and
// stall recovery. Claim hands each queued job to exactly one worker at a
// time; duplicate delivery is only possible through stall requeues.
type Queue interface {
	Enqueue(ctx context.Context, payload Payload) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)

	// Claim atomically takes the oldest queued job, or returns (nil, nil)
	// when the queue is empty.
	Claim(ctx context.Context) (*Job, error)

	// Progress records forward movement and refreshes the stall heartbeat.
	Progress(ctx context.Context, id string, pct int) error

	Complete(ctx context.Context, id string, returnValue map[string]any) error
	Fail(ctx context.Context, id string, reason string) error

	// RequeueStalled requeues active jobs whose heartbeat is older than
	// olderThan and still have attempts left, and fails the rest. It
	// returns the ids of each group.
	RequeueStalled(ctx context.Context, olderThan time.Duration) (requeued, failed []string, err error)
}
