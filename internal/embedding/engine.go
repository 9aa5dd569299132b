package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"faultgen/internal/domain"
)

const (
	defaultChunkSize   = 100
	defaultConcurrency = 4
	maxSummaryErrors   = 10
)

// Config tunes the engine. Zero values take defaults.
type Config struct {
	// ChunkSize bounds one provider call and one insert statement.
	ChunkSize int
	// Concurrency bounds chunk fan-out.
	Concurrency int
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
}

// Summary reports one embedding run. A fault counts exactly once: skipped
// when its embedding already existed before the run, successful when a new
// vector was stored (or lost a benign insert race), failed otherwise.
type Summary struct {
	Processed  int      `json:"processed"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors,omitempty"`

	// SuccessfulIDs holds the ids behind Successful, for downstream
	// consumers such as index submission.
	SuccessfulIDs []string `json:"-"`
}

func (s *Summary) fail(faultID, msg string) {
	s.Failed++
	if len(s.Errors) < maxSummaryErrors {
		s.Errors = append(s.Errors, fmt.Sprintf("%s: %s", faultID, msg))
	}
}

func (s *Summary) merge(other Summary) {
	s.Processed += other.Processed
	s.Successful += other.Successful
	s.Failed += other.Failed
	s.Skipped += other.Skipped
	s.SuccessfulIDs = append(s.SuccessfulIDs, other.SuccessfulIDs...)
	for _, msg := range other.Errors {
		if len(s.Errors) >= maxSummaryErrors {
			break
		}
		s.Errors = append(s.Errors, msg)
	}
}

// Engine computes and stores fault embeddings. Runs are idempotent: faults
// that already have a vector are skipped, and a concurrent duplicate insert
// counts as success.
type Engine struct {
	faults     domain.FaultRepository
	embeddings domain.EmbeddingRepository
	provider   Provider
	logger     zerolog.Logger
	cfg        Config
}

// NewEngine wires an engine.
func NewEngine(faults domain.FaultRepository, embeddings domain.EmbeddingRepository, provider Provider, logger zerolog.Logger, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		faults:     faults,
		embeddings: embeddings,
		provider:   provider,
		logger:     logger,
		cfg:        cfg,
	}
}

// EmbedFaults embeds the given faults, fanning chunks out up to the
// configured concurrency. Malformed ids fail fast without touching storage.
func (e *Engine) EmbedFaults(ctx context.Context, faultIDs []string) Summary {
	var summary Summary
	valid := make([]string, 0, len(faultIDs))
	seen := make(map[string]struct{}, len(faultIDs))
	for _, id := range faultIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		summary.Processed++
		if uuid.Validate(id) != nil {
			summary.fail(id, "not a valid fault id")
			continue
		}
		valid = append(valid, id)
	}
	if len(valid) == 0 {
		return summary
	}

	sem := semaphore.NewWeighted(int64(e.cfg.Concurrency))
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for start := 0; start < len(valid); start += e.cfg.ChunkSize {
		end := min(start+e.cfg.ChunkSize, len(valid))
		chunk := valid[start:end]
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			part := e.embedChunk(ctx, chunk)
			mu.Lock()
			summary.merge(part)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		mu.Lock()
		summary.Errors = append(summary.Errors, err.Error())
		mu.Unlock()
	}
	return summary
}

// embedChunk handles one chunk end to end. Its summary carries no Processed
// count: the caller already counted each id once.
func (e *Engine) embedChunk(ctx context.Context, faultIDs []string) Summary {
	var summary Summary

	existing, err := e.embeddings.ExistingFaultIDs(ctx, faultIDs)
	if err != nil {
		for _, id := range faultIDs {
			summary.fail(id, fmt.Sprintf("check existing embedding: %v", err))
		}
		return summary
	}
	remaining := make([]string, 0, len(faultIDs))
	for _, id := range faultIDs {
		if _, ok := existing[id]; ok {
			summary.Skipped++
			continue
		}
		remaining = append(remaining, id)
	}
	if len(remaining) == 0 {
		return summary
	}

	faults, err := e.faults.GetByIDs(ctx, remaining)
	if err != nil {
		for _, id := range remaining {
			summary.fail(id, fmt.Sprintf("load fault: %v", err))
		}
		return summary
	}
	byID := make(map[string]domain.Fault, len(faults))
	for _, fault := range faults {
		byID[fault.ID] = fault
	}

	var texts []string
	var order []string
	for _, id := range remaining {
		fault, ok := byID[id]
		if !ok {
			summary.fail(id, "Fault not found")
			continue
		}
		text := fault.EmbeddingText()
		if text == "" {
			summary.fail(id, "No text content to embed")
			continue
		}
		texts = append(texts, text)
		order = append(order, id)
	}
	if len(order) == 0 {
		return summary
	}

	vectors, err := e.provider.Embed(ctx, texts)
	if err != nil {
		for _, id := range order {
			summary.fail(id, fmt.Sprintf("embedding provider: %v", err))
		}
		return summary
	}

	batch := make([]domain.Embedding, len(order))
	for i, id := range order {
		batch[i] = domain.Embedding{FaultID: id, Vector: vectors[i]}
	}
	if err := e.embeddings.InsertBatch(ctx, batch); err != nil {
		// Batch insert is all-or-nothing; retry row by row so one bad row
		// (or a lost race) cannot sink its neighbors.
		e.logger.Warn().Err(err).Int("rows", len(batch)).Msg("embedding: batch insert failed, falling back to single rows")
		for _, row := range batch {
			summary.merge(e.insertOne(ctx, row))
		}
		return summary
	}
	summary.Successful += len(batch)
	summary.SuccessfulIDs = append(summary.SuccessfulIDs, order...)
	return summary
}

func (e *Engine) insertOne(ctx context.Context, row domain.Embedding) Summary {
	var summary Summary
	switch err := e.embeddings.Insert(ctx, row); {
	case err == nil:
		summary.Successful++
		summary.SuccessfulIDs = append(summary.SuccessfulIDs, row.FaultID)
	case errors.Is(err, domain.ErrDuplicateOperation):
		// Embedding already exists (race condition): another worker stored
		// this vector between our existence check and the insert.
		e.logger.Debug().Str("fault_id", row.FaultID).Msg("embedding: already exists (race condition)")
		summary.Successful++
		summary.SuccessfulIDs = append(summary.SuccessfulIDs, row.FaultID)
	default:
		summary.fail(row.FaultID, fmt.Sprintf("store embedding: %v", err))
	}
	return summary
}
