package ingestion_engine

import "os"

// PipelineConfig tunes the per-job processing pipeline.
//
// TargetChunkSize: characters per passage (600).
// ChunkOverlap:    characters shared between consecutive passages (100).
// MinChunkSize:    passages shorter than this after trimming are noise (10).
// MaxChunkSize:    practical ceiling under the embedding model's token budget (1500).
// ResplitOverlap:  overlap used when re-splitting an oversized passage (50).
// TmpDir:          where downloaded objects are staged during a job.
type PipelineConfig struct {
	TargetChunkSize int
	ChunkOverlap    int
	MinChunkSize    int
	MaxChunkSize    int
	ResplitOverlap  int
	TmpDir          string
}

func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		TargetChunkSize: 600,
		ChunkOverlap:    100,
		MinChunkSize:    10,
		MaxChunkSize:    1500,
		ResplitOverlap:  50,
		TmpDir:          os.TempDir(),
	}
}

// Progress milestones per pipeline stage. The embedding fallback advances
// between progressEmbedding and progressPersisting so the queue's stall
// detection keeps seeing movement.
const (
	progressFetching   = 10
	progressExtracting = 30
	progressEmbedding  = 50
	progressPersisting = 80
	progressFinalizing = 95
)
