package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"faultgen/internal/adapter/repo"
	"faultgen/internal/batchapi"
	"faultgen/internal/domain"
	"faultgen/internal/infra"
	"faultgen/internal/infra/credentials"
	"faultgen/internal/pipeline"
	"faultgen/internal/sqlinline"
	"faultgen/internal/storage"
)

const pollableJobsPerSweep = 50

type jobWorker struct {
	ctx          context.Context
	runner       *infra.SQLRunner
	logger       infra.Logger
	orchestrator *pipeline.Orchestrator
	tracker      domain.JobTracker
	pollInterval time.Duration
}

var errNoJobAvailable = errors.New("no job available")

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	apiKey := strings.TrimSpace(cfg.OpenAIAPIKey)
	if apiKey == "" {
		credStore := credentials.NewStore(runner)
		keyFromStore, err := credStore.OpenAIAPIKey(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("worker: failed to load openai api key from store")
		} else {
			apiKey = keyFromStore
		}
	}
	if apiKey == "" {
		logger.Warn().Msg("worker: no openai api key configured, batch submissions will fail")
	}

	batchClient, err := batchapi.NewClient(batchapi.Options{
		APIKey:  apiKey,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure batch client")
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	generations := repo.NewGenerationRepository(pool)
	faults := repo.NewFaultRepository(pool)
	tracker := repo.NewJobRepository(pool)

	resolver := pipeline.NewResolver(generations, faults, logger)
	builder := pipeline.NewStageBuilder(generations, cfg.OpenAIModel, logger)
	importer := pipeline.NewImporter(faults, resolver, logger)
	orchestrator := pipeline.NewOrchestrator(batchClient, tracker, builder, importer, fileStore, logger, pipeline.Config{
		Model:            cfg.OpenAIModel,
		MaxActiveBatches: cfg.BatchMaxActive,
		MaxAttempts:      cfg.BatchMaxAttempts,
		BaseDelay:        cfg.BatchBaseDelay,
		MaxDelay:         cfg.BatchMaxDelay,
	})

	worker := &jobWorker{
		ctx:          ctx,
		runner:       runner,
		logger:       logger,
		orchestrator: orchestrator,
		tracker:      tracker,
		pollInterval: cfg.WorkerPollInterval,
	}

	if err := worker.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (w *jobWorker) Run() error {
	w.logger.Info().Msg("worker: started")
	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		default:
		}

		w.sweepActiveBatches()

		claimed, err := w.startPendingJobs()
		if err != nil {
			w.logger.Error().Err(err).Msg("worker: failed to claim job")
		}
		if !claimed {
			select {
			case <-w.ctx.Done():
				return w.ctx.Err()
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// startPendingJobs claims at most one pending job per pass and submits its
// first stage. A job bounced for capacity goes back to pending so a later
// pass can pick it up.
func (w *jobWorker) startPendingJobs() (bool, error) {
	job, err := w.claimJob()
	if err != nil {
		if errors.Is(err, errNoJobAvailable) {
			return false, nil
		}
		return false, err
	}

	w.logger.Info().Str("job_id", job.ID).Msg("worker: picked job")
	if err := w.orchestrator.Process(w.ctx, &job); err != nil {
		if errors.Is(err, domain.ErrCapacityExhausted) {
			if relErr := w.releaseJob(job.ID); relErr != nil {
				w.logger.Error().Err(relErr).Str("job_id", job.ID).Msg("worker: failed to release job")
			}
			return false, nil
		}
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: job submission failed")
	}
	return true, nil
}

// sweepActiveBatches polls every processing job that is bound to an external
// batch and advances the ones whose batch reached a terminal state.
func (w *jobWorker) sweepActiveBatches() {
	rows, err := w.runner.Query(w.ctx, sqlinline.QWorkerListPollableJobs, pollableJobsPerSweep)
	if err != nil {
		w.logger.Error().Err(err).Msg("worker: failed to list pollable jobs")
		return
	}
	defer rows.Close()

	var jobs []domain.GenerationJob
	for rows.Next() {
		var job domain.GenerationJob
		if err := rows.Scan(
			&job.ID,
			&job.Spec.Brand,
			&job.Spec.Model,
			&job.Spec.GenerationID,
			&job.Spec.ContentType,
			&job.Spec.Language,
			&job.Spec.Count,
			&job.Status,
			&job.Stage,
			&job.BatchID,
			&job.InputFileID,
			&job.OutputFileID,
			&job.ProgressTotal,
			&job.ErrorMessage,
			&job.CreatedAt,
			&job.UpdatedAt,
		); err != nil {
			w.logger.Error().Err(err).Msg("worker: failed to scan pollable job")
			return
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		w.logger.Error().Err(err).Msg("worker: pollable job iteration failed")
		return
	}

	for idx := range jobs {
		job := &jobs[idx]
		if err := w.orchestrator.Advance(w.ctx, job); err != nil {
			w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: advance failed")
		}
	}
}

func (w *jobWorker) claimJob() (domain.GenerationJob, error) {
	row := w.runner.QueryRow(w.ctx, sqlinline.QWorkerClaimJob)
	var job domain.GenerationJob
	if err := row.Scan(
		&job.ID,
		&job.Spec.Brand,
		&job.Spec.Model,
		&job.Spec.GenerationID,
		&job.Spec.ContentType,
		&job.Spec.Language,
		&job.Spec.Count,
		&job.Stage,
	); err != nil {
		if infra.IsNoRows(err) {
			return domain.GenerationJob{}, errNoJobAvailable
		}
		return domain.GenerationJob{}, err
	}
	job.Status = domain.JobStatusProcessing
	return job, nil
}

func (w *jobWorker) releaseJob(jobID string) error {
	_, err := w.runner.Exec(w.ctx, sqlinline.QWorkerReleaseJob, jobID)
	return err
}
