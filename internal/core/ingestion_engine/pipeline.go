package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/vectorflowhq/vectorflow/internal/core"
	"github.com/vectorflowhq/vectorflow/internal/models"
	"github.com/vectorflowhq/vectorflow/internal/queue"
)

// Deps are the collaborators a Worker drives during one job.
type Deps struct {
	Queue     queue.Queue
	Registry  core.RegistryClient
	Objects   core.ObjectClient
	Extractor core.PageExtractor
	Embedder  core.EmbeddingProvider
	Vectors   core.VectorClient
}

// Worker consumes queued ingestion jobs and runs the processing pipeline:
// fetch, extract, chunk, validate, embed, persist, finalize, cleanup.
// Jobs for different content run fully in parallel on the pool; stages
// within one job are sequential.
type Worker struct {
	deps Deps
	cfg  *PipelineConfig

	pool       *ants.Pool
	poll       time.Duration
	stallAfter time.Duration
	logger     *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker) error

// WithPoolSize sets how many jobs may process concurrently.
func WithPoolSize(size int) Option {
	return func(w *Worker) error {
		if size < 1 {
			size = 1
		}
		if w.pool != nil {
			w.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		w.pool = pool
		return nil
	}
}

// WithPollInterval sets how often the claim loop checks for queued jobs.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) error {
		if d > 0 {
			w.poll = d
		}
		return nil
	}
}

// WithStallAfter sets how long a job may go without a progress update before
// the stall monitor requeues it.
func WithStallAfter(d time.Duration) Option {
	return func(w *Worker) error {
		if d > 0 {
			w.stallAfter = d
		}
		return nil
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

func NewWorker(deps Deps, cfg *PipelineConfig, opts ...Option) (*Worker, error) {
	if deps.Queue == nil || deps.Registry == nil || deps.Objects == nil ||
		deps.Extractor == nil || deps.Embedder == nil || deps.Vectors == nil {
		return nil, errors.New("ingestion worker: missing dependency")
	}
	if cfg == nil {
		cfg = DefaultPipelineConfig()
	}

	pool, err := ants.NewPool(4)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		deps:       deps,
		cfg:        cfg,
		pool:       pool,
		poll:       2 * time.Second,
		stallAfter: 5 * time.Minute,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			w.pool.Release()
			return nil, err
		}
	}
	return w, nil
}

// Run claims and processes jobs until ctx is cancelled. The stall monitor
// runs alongside the claim loop.
func (w *Worker) Run(ctx context.Context) error {
	defer w.pool.Release()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.claimLoop(gctx) })
	g.Go(func() error { return w.stallLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) claimLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		// Drain everything queued before sleeping again.
		for {
			job, err := w.deps.Queue.Claim(ctx)
			if err != nil {
				w.logger.Error("claim failed", "err", err)
				break
			}
			if job == nil {
				break
			}

			// A dequeued job runs to completion even through shutdown.
			jobCtx := context.WithoutCancel(ctx)
			j := job
			if err := w.pool.Submit(func() { w.runJob(jobCtx, j) }); err != nil {
				w.logger.Error("submit job", "job_id", j.ID, "err", err)
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) stallLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.stallAfter / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			requeued, failed, err := w.deps.Queue.RequeueStalled(ctx, w.stallAfter)
			if err != nil {
				w.logger.Error("requeue stalled jobs", "err", err)
				continue
			}
			for _, id := range requeued {
				w.logger.Warn("requeued stalled job", "job_id", id)
			}
			for _, id := range failed {
				w.logger.Error("stalled job exhausted attempts", "job_id", id)
				if err := w.deps.Registry.MarkFailed(ctx, id, "job stalled and exhausted its attempts"); err != nil {
					w.logger.Error("mark stalled record failed", "job_id", id, "err", err)
				}
			}
		}
	}
}

func (w *Worker) runJob(ctx context.Context, job *queue.Job) {
	log := w.logger.With("job_id", job.ID, "content_hash", job.Payload.ContentHash)
	log.Info("processing job", "file", job.Payload.OriginalFilename, "attempt", job.Attempts)

	ret, err := w.processJob(ctx, job)
	if err != nil {
		log.Error("job failed", "err", err)

		if regErr := w.deps.Registry.MarkFailed(ctx, job.ID, err.Error()); regErr != nil {
			// Orphaned job: nothing references it, log and move on.
			log.Error("mark record failed", "err", regErr)
		}
		if qErr := w.deps.Queue.Fail(ctx, job.ID, err.Error()); qErr != nil {
			log.Error("record job failure", "err", qErr)
		}
		return
	}

	if err := w.deps.Queue.Complete(ctx, job.ID, ret); err != nil {
		log.Error("record job completion", "err", err)
		return
	}
	log.Info("job completed", "chunk_count", ret["chunk_count"])
}

// processJob drives the pipeline for one job. The staged temp file is
// released on every exit path.
func (w *Worker) processJob(ctx context.Context, job *queue.Job) (map[string]any, error) {
	p := job.Payload

	// Fetch.
	w.progress(ctx, job.ID, progressFetching)
	rc, err := w.deps.Objects.Download(ctx, p.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("fetch object: %w", err)
	}

	tmp, err := os.CreateTemp(w.cfg.TmpDir, "ingest-*.pdf")
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		if rmErr := os.Remove(tmp.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
			w.logger.Warn("remove temp file", "path", tmp.Name(), "err", rmErr)
		}
	}()

	_, err = io.Copy(tmp, rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("stage object: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}

	// Extract.
	w.progress(ctx, job.ID, progressExtracting)
	pages, err := w.deps.Extractor.ExtractPages(ctx, tmp)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	if len(pages) == 0 {
		return nil, core.ErrEmptyDocument
	}

	// Chunk, then validate and re-split oversized passages.
	chunks := SplitPages(pages, w.cfg.TargetChunkSize, w.cfg.ChunkOverlap)
	valid := ValidateChunks(chunks, w.cfg)
	if len(valid) == 0 {
		return nil, core.ErrEmptyDocument
	}

	// Embed.
	w.progress(ctx, job.ID, progressEmbedding)
	vectors := w.embedChunks(ctx, job.ID, valid)

	// Persist. Chunks whose embedding failed carry a nil vector and are
	// excluded here; they are not retried at this stage.
	now := time.Now().UTC()
	points := make([]models.VectorPoint, 0, len(valid))
	for i, c := range valid {
		if vectors[i] == nil {
			continue
		}
		points = append(points, models.VectorPoint{
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Payload: models.PointPayload{
				Text:           c.Text,
				ContentHash:    p.ContentHash,
				SourceFilename: p.OriginalFilename,
				ChunkIndex:     c.Index,
				PageNumber:     c.SourcePage,
				ObjectKey:      p.ObjectKey,
				IngestedAt:     now,
			},
		})
	}
	if len(points) == 0 {
		return nil, &core.EmbeddingError{Op: "all chunks", Err: errors.New("no chunk embedded successfully")}
	}

	w.progress(ctx, job.ID, progressPersisting)
	if err := w.deps.Vectors.UpsertPoints(ctx, points); err != nil {
		return nil, fmt.Errorf("persist vectors: %w", err)
	}

	// Finalize.
	w.progress(ctx, job.ID, progressFinalizing)
	if err := w.deps.Registry.MarkCompleted(ctx, job.ID, len(points)); err != nil {
		return nil, fmt.Errorf("finalize record: %w", err)
	}

	// Raw object cleanup is best-effort; search does not depend on it.
	if err := w.deps.Objects.Delete(ctx, p.ObjectKey); err != nil {
		w.logger.Warn("delete raw object", "key", p.ObjectKey, "err", err)
	}

	return map[string]any{
		"chunk_count":  len(points),
		"content_hash": p.ContentHash,
	}, nil
}

// embedChunks tries one batched call first. On batch failure it embeds each
// chunk individually; a per-chunk failure leaves a nil vector rather than
// aborting the job. Progress advances through the fallback so the job is not
// mistaken for stalled.
func (w *Worker) embedChunks(ctx context.Context, jobID string, chunks []models.Chunk) [][]float32 {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}

	vecs, err := w.deps.Embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) == len(texts) {
		return vecs
	}
	if err == nil {
		err = fmt.Errorf("batch size mismatch: got %d want %d", len(vecs), len(texts))
	}
	w.logger.Warn("batch embedding failed, falling back to per-chunk", "job_id", jobID, "err", err)

	span := progressPersisting - progressEmbedding
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := w.deps.Embedder.EmbedOne(ctx, t)
		if err != nil {
			w.logger.Warn("chunk embedding failed", "job_id", jobID, "chunk", chunks[i].Index, "err", err)
		} else {
			out[i] = v
		}
		w.progress(ctx, jobID, progressEmbedding+(i+1)*span/len(texts))
	}
	return out
}

func (w *Worker) progress(ctx context.Context, jobID string, pct int) {
	if err := w.deps.Queue.Progress(ctx, jobID, pct); err != nil {
		w.logger.Warn("report progress", "job_id", jobID, "pct", pct, "err", err)
	}
}
