package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"faultgen/internal/batchapi"
	"faultgen/internal/domain"
	"faultgen/internal/jsonl"
	"faultgen/internal/storage"
)

// BatchService is the external batch API surface the orchestrator drives.
type BatchService interface {
	UploadFile(ctx context.Context, filename string, content []byte) (string, error)
	CreateBatch(ctx context.Context, inputFileID string) (*batchapi.Batch, error)
	GetBatch(ctx context.Context, batchID string) (*batchapi.Batch, error)
	ListBatches(ctx context.Context, limit int) ([]batchapi.Batch, error)
	FileContent(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Capacity is the result of a batch capacity check against the external
// service's concurrent-batch limit.
type Capacity struct {
	CanProceed  bool `json:"can_proceed"`
	ActiveCount int  `json:"active_count"`
	MaxAllowed  int  `json:"max_allowed"`
}

// Config tunes orchestration behavior. Zero values take defaults.
type Config struct {
	Model            string
	MaxActiveBatches int
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MaxActiveBatches == 0 {
		c.MaxActiveBatches = 50
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 10 * time.Second
	}
}

// Orchestrator owns generation job lifecycles: it submits stage batches to
// the external service, enforces the global active-batch cap, retries
// transient failures with backoff and advances jobs through the pipeline as
// batches complete.
type Orchestrator struct {
	batches  BatchService
	tracker  domain.JobTracker
	builder  *StageBuilder
	importer *Importer
	store    *storage.FileStore
	logger   zerolog.Logger
	cfg      Config

	// sleep is context-aware and injectable for retry tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires an orchestrator. tracker may be nil: orchestration
// then runs fire-and-forget without persisted job state. store may be nil to
// skip artifact persistence.
func NewOrchestrator(batches BatchService, tracker domain.JobTracker, builder *StageBuilder, importer *Importer, store *storage.FileStore, logger zerolog.Logger, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	if tracker == nil {
		tracker = domain.NopJobTracker{}
	}
	return &Orchestrator{
		batches:  batches,
		tracker:  tracker,
		builder:  builder,
		importer: importer,
		store:    store,
		logger:   logger,
		cfg:      cfg,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SubmitJobs validates and registers jobs for the given specs. Invalid specs
// are dropped silently: callers learn only how many jobs were actually
// created. A tracker failure downgrades the job to untracked instead of
// rejecting it.
func (o *Orchestrator) SubmitJobs(ctx context.Context, specs []domain.JobSpec) []domain.GenerationJob {
	jobs := make([]domain.GenerationJob, 0, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			o.logger.Debug().Err(err).Msg("orchestrator: dropping invalid job spec")
			continue
		}
		job := domain.GenerationJob{
			ID:     uuid.NewString(),
			Spec:   spec,
			Status: domain.JobStatusPending,
			Stage:  domain.StageQuestions,
		}
		if err := o.tracker.Create(ctx, &job); err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: job tracking unavailable, running untracked")
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// ProcessAll runs every job fully in parallel. There is deliberately no
// client-side throttling between jobs; the capacity check is the safety
// valve. Failures are job-local and already recorded on the job.
func (o *Orchestrator) ProcessAll(ctx context.Context, jobs []domain.GenerationJob) {
	g, ctx := errgroup.WithContext(ctx)
	for idx := range jobs {
		job := jobs[idx]
		g.Go(func() error {
			if err := o.Process(ctx, &job); err != nil {
				o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: job processing failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// CheckBatchCapacity queries the external service for batches still holding
// capacity. On a failed check the returned Capacity permits proceeding: the
// orchestrator fails open rather than blocking work indefinitely.
func (o *Orchestrator) CheckBatchCapacity(ctx context.Context) (Capacity, error) {
	capacity := Capacity{CanProceed: true, MaxAllowed: o.cfg.MaxActiveBatches}
	batches, err := o.batches.ListBatches(ctx, 100)
	if err != nil {
		return capacity, fmt.Errorf("list batches: %w", err)
	}
	for _, batch := range batches {
		if batch.Active() {
			capacity.ActiveCount++
		}
	}
	capacity.CanProceed = capacity.ActiveCount < capacity.MaxAllowed
	return capacity, nil
}

// Process starts a job's first stage: it gates on capacity, marks the job
// processing and submits the questions batch.
func (o *Orchestrator) Process(ctx context.Context, job *domain.GenerationJob) error {
	capacity, err := o.CheckBatchCapacity(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: capacity check failed, proceeding anyway")
	} else if !capacity.CanProceed {
		o.logger.Info().
			Str("job_id", job.ID).
			Int("active", capacity.ActiveCount).
			Int("max", capacity.MaxAllowed).
			Msg("orchestrator: batch capacity exhausted, leaving job pending")
		return domain.ErrCapacityExhausted
	}

	o.setStatus(ctx, job, domain.JobStatusProcessing, nil)

	gen := &domain.Generation{
		ID:    job.Spec.GenerationID,
		Brand: job.Spec.Brand,
		Model: job.Spec.Model,
	}
	if fetched, err := o.builder.generations.GetByID(ctx, job.Spec.GenerationID); err == nil {
		gen = fetched
	} else if !errors.Is(err, domain.ErrNotFound) {
		return o.failJob(ctx, job, fmt.Errorf("look up generation: %w", err))
	}

	units := o.builder.BuildQuestionsInput(gen, job.Spec)
	payload, err := jsonl.EncodeUnits(units)
	if err != nil {
		return o.failJob(ctx, job, err)
	}
	o.storeArtifact(ctx, job.ID, "questions-input.jsonl", payload)

	return o.submitStage(ctx, job, domain.StageQuestions, payload)
}

// Advance polls a job's active batch and, when it reaches a terminal state,
// moves the job to its next stage or terminal status. A transient poll
// failure leaves the job untouched for the next sweep.
func (o *Orchestrator) Advance(ctx context.Context, job *domain.GenerationJob) error {
	if job.BatchID == "" {
		return fmt.Errorf("job %s has no active batch", job.ID)
	}
	batch, err := o.batches.GetBatch(ctx, job.BatchID)
	if err != nil {
		return fmt.Errorf("poll batch %s: %w", job.BatchID, err)
	}
	if !batch.Terminal() {
		return nil
	}
	if batch.Status != batchapi.BatchStatusCompleted {
		return o.failJob(ctx, job, fmt.Errorf("batch %s ended as %s", batch.ID, batch.Status))
	}

	results, err := o.fetchResults(ctx, job, batch)
	if err != nil {
		return o.failJob(ctx, job, err)
	}

	switch job.Stage {
	case domain.StageQuestions:
		return o.advanceToAnswers(ctx, job, results)
	case domain.StageAnswers:
		return o.advanceToMetadata(ctx, job, results)
	case domain.StageMetadata:
		return o.finishJob(ctx, job, results)
	default:
		return o.failJob(ctx, job, fmt.Errorf("job in unknown stage %q", job.Stage))
	}
}

func (o *Orchestrator) advanceToAnswers(ctx context.Context, job *domain.GenerationJob, results []jsonl.ResultRecord) error {
	built, err := o.builder.BuildAnswersInput(ctx, results, job.Spec.Language)
	if err != nil {
		return o.failJob(ctx, job, err)
	}
	if built.Skipped > 0 {
		o.logger.Warn().Str("job_id", job.ID).Int("skipped", built.Skipped).Msg("orchestrator: questions output had unusable lines")
	}
	if len(built.Units) == 0 {
		return o.failJob(ctx, job, errors.New("questions stage produced no usable output"))
	}
	payload, err := jsonl.EncodeUnits(built.Units)
	if err != nil {
		return o.failJob(ctx, job, err)
	}
	o.storeArtifact(ctx, job.ID, "answers-input.jsonl", payload)
	return o.submitStage(ctx, job, domain.StageAnswers, payload)
}

func (o *Orchestrator) advanceToMetadata(ctx context.Context, job *domain.GenerationJob, results []jsonl.ResultRecord) error {
	summary := o.importer.ImportAnswers(ctx, results)
	o.logger.Info().
		Str("job_id", job.ID).
		Int("inserted", summary.Inserted).
		Int("duplicates", summary.Duplicates).
		Int("failed", summary.Failed).
		Msg("orchestrator: answers imported")
	if err := o.tracker.UpdateProgress(ctx, job.ID, job.ProgressTotal+summary.Inserted); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: progress update failed")
	}
	job.ProgressTotal += summary.Inserted

	built, err := o.builder.BuildMetadataInput(ctx, results, job.Spec.Language)
	if err != nil {
		return o.failJob(ctx, job, err)
	}
	if len(built.Units) == 0 {
		// Nothing to enrich: the job still produced records, so it completes.
		return o.completeJob(ctx, job)
	}
	payload, err := jsonl.EncodeUnits(built.Units)
	if err != nil {
		return o.failJob(ctx, job, err)
	}
	o.storeArtifact(ctx, job.ID, "metadata-input.jsonl", payload)
	return o.submitStage(ctx, job, domain.StageMetadata, payload)
}

func (o *Orchestrator) finishJob(ctx context.Context, job *domain.GenerationJob, results []jsonl.ResultRecord) error {
	summary := o.importer.ApplyMetadata(ctx, results)
	o.logger.Info().
		Str("job_id", job.ID).
		Int("updated", summary.Inserted).
		Int("failed", summary.Failed).
		Msg("orchestrator: metadata applied")
	return o.completeJob(ctx, job)
}

func (o *Orchestrator) fetchResults(ctx context.Context, job *domain.GenerationJob, batch *batchapi.Batch) ([]jsonl.ResultRecord, error) {
	if batch.OutputFileID == "" {
		return nil, fmt.Errorf("batch %s completed without an output file", batch.ID)
	}
	body, err := o.batches.FileContent(ctx, batch.OutputFileID)
	if err != nil {
		return nil, fmt.Errorf("fetch batch output: %w", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read batch output: %w", err)
	}
	o.storeArtifact(ctx, job.ID, string(job.Stage)+"-output.jsonl", raw)

	records, skipped, err := jsonl.DecodeResults(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		o.logger.Warn().Str("job_id", job.ID).Int("skipped", skipped).Msg("orchestrator: malformed result lines skipped")
	}
	if err := o.tracker.UpdateBatchState(ctx, job.ID, job.Stage, job.BatchID, job.InputFileID, batch.OutputFileID); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: batch state update failed")
	}
	job.OutputFileID = batch.OutputFileID
	return records, nil
}

// submitStage uploads a stage's input file and creates its batch, retrying
// transient failures with exponential backoff. Permanent request errors
// (4xx other than 429) fail the job immediately.
func (o *Orchestrator) submitStage(ctx context.Context, job *domain.GenerationJob, stage domain.JobStage, payload []byte) error {
	filename := fmt.Sprintf("%s-%s.jsonl", job.ID, stage)
	batch, fileID, err := o.submitWithRetry(ctx, filename, payload)
	if err != nil {
		return o.failJob(ctx, job, err)
	}

	job.Stage = stage
	job.BatchID = batch.ID
	job.InputFileID = fileID
	if err := o.tracker.UpdateBatchState(ctx, job.ID, stage, batch.ID, fileID, ""); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: batch state update failed")
	}
	o.logger.Info().
		Str("job_id", job.ID).
		Str("batch_id", batch.ID).
		Str("stage", string(stage)).
		Msg("orchestrator: stage batch submitted")
	return nil
}

func (o *Orchestrator) submitWithRetry(ctx context.Context, filename string, payload []byte) (*batchapi.Batch, string, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := o.sleep(ctx, o.backoffDelay(attempt)); err != nil {
				return nil, "", err
			}
		}
		fileID, err := o.batches.UploadFile(ctx, filename, payload)
		if err != nil {
			if !batchapi.IsRetryable(err) {
				return nil, "", err
			}
			lastErr = err
			continue
		}
		batch, err := o.batches.CreateBatch(ctx, fileID)
		if err != nil {
			if !batchapi.IsRetryable(err) {
				return nil, "", err
			}
			lastErr = err
			continue
		}
		return batch, fileID, nil
	}
	return nil, "", lastErr
}

// backoffDelay doubles from the base delay per extra attempt, capped at the
// configured maximum.
func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	delay := o.cfg.BaseDelay << uint(attempt-2)
	if delay > o.cfg.MaxDelay {
		delay = o.cfg.MaxDelay
	}
	return delay
}

func (o *Orchestrator) completeJob(ctx context.Context, job *domain.GenerationJob) error {
	o.setStatus(ctx, job, domain.JobStatusCompleted, nil)
	return nil
}

// failJob records a terminal failure, distinguishing a service rejection
// from an unreachable service in the diagnostic.
func (o *Orchestrator) failJob(ctx context.Context, job *domain.GenerationJob, cause error) error {
	msg := failureMessage(cause)
	o.setStatus(ctx, job, domain.JobStatusFailed, &msg)
	o.logger.Error().Str("job_id", job.ID).Str("reason", msg).Msg("orchestrator: job failed")
	return cause
}

func failureMessage(err error) string {
	var apiErr *batchapi.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("batch service rejected request: %s", apiErr.Error())
	}
	return fmt.Sprintf("batch service unreachable or pipeline error: %v", err)
}

func (o *Orchestrator) setStatus(ctx context.Context, job *domain.GenerationJob, status domain.JobStatus, errMsg *string) {
	job.Status = status
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	if err := o.tracker.UpdateStatus(ctx, job.ID, status, errMsg); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: status update failed")
	}
}

// storeArtifact persists a stage file locally, best effort: artifact storage
// never blocks the pipeline.
func (o *Orchestrator) storeArtifact(ctx context.Context, jobID, name string, payload []byte) {
	if o.store == nil {
		return
	}
	key := fmt.Sprintf("jobs/%s/%s", jobID, name)
	if _, err := o.store.Write(ctx, key, payload); err != nil {
		o.logger.Warn().Err(err).Str("job_id", jobID).Str("artifact", name).Msg("orchestrator: artifact store failed")
	}
}
