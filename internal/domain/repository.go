package domain

import "context"

// JobTracker persists generation job state. It is a capability, not a hard
// dependency: the orchestrator runs fire-and-forget against NopJobTracker
// when the persistence layer is unavailable.
type JobTracker interface {
	Create(ctx context.Context, job *GenerationJob) error
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, errMsg *string) error
	UpdateBatchState(ctx context.Context, jobID string, stage JobStage, batchID, inputFileID, outputFileID string) error
	UpdateProgress(ctx context.Context, jobID string, progressTotal int) error
	GetByID(ctx context.Context, jobID string) (*GenerationJob, error)
	ListByStatus(ctx context.Context, status JobStatus, limit int) ([]GenerationJob, error)
}

// NopJobTracker drops all writes and reports every read as not found.
type NopJobTracker struct{}

func (NopJobTracker) Create(context.Context, *GenerationJob) error { return nil }

func (NopJobTracker) UpdateStatus(context.Context, string, JobStatus, *string) error { return nil }

func (NopJobTracker) UpdateBatchState(context.Context, string, JobStage, string, string, string) error {
	return nil
}

func (NopJobTracker) UpdateProgress(context.Context, string, int) error { return nil }

func (NopJobTracker) GetByID(context.Context, string) (*GenerationJob, error) {
	return nil, ErrNotFound
}

func (NopJobTracker) ListByStatus(context.Context, JobStatus, int) ([]GenerationJob, error) {
	return nil, nil
}

// GenerationRepository reads the vehicle generations that group generated
// content.
type GenerationRepository interface {
	GetByID(ctx context.Context, id string) (*Generation, error)
	ListAll(ctx context.Context) ([]Generation, error)
}

// FaultRepository persists generated content records.
type FaultRepository interface {
	// InsertBatch inserts faults with insert-or-ignore semantics on
	// (generation_id, sequence_number) and reports how many rows were
	// actually created.
	InsertBatch(ctx context.Context, faults []Fault) (int, error)
	GetByIDs(ctx context.Context, ids []string) ([]Fault, error)
	// ListByGeneration returns one page of a generation's faults ordered by
	// sequence number ascending.
	ListByGeneration(ctx context.Context, generationID string, offset, limit int) ([]Fault, error)
	// ListPage returns one page of the global working set in stable
	// creation order.
	ListPage(ctx context.Context, offset, limit int) ([]Fault, error)
	UpdateMetadata(ctx context.Context, faultID, title, description string) error
}

// EmbeddingRepository persists fault embeddings.
type EmbeddingRepository interface {
	ExistingFaultIDs(ctx context.Context, faultIDs []string) (map[string]struct{}, error)
	InsertBatch(ctx context.Context, embeddings []Embedding) error
	// Insert stores a single embedding, returning ErrDuplicateOperation when
	// one already exists for the fault.
	Insert(ctx context.Context, embedding Embedding) error
}

var _ JobTracker = NopJobTracker{}
