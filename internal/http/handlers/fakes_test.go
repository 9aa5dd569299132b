package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"faultgen/internal/batchapi"
	"faultgen/internal/domain"
	"faultgen/internal/embedding"
	"faultgen/internal/pipeline"
	"faultgen/internal/progress"
)

var testGeneration = domain.Generation{
	ID:    "11111111-2222-4333-8444-555555555555",
	Brand: "bmw",
	Model: "3 series",
	Name:  "E90",
}

type memGenerations struct{}

func (memGenerations) GetByID(_ context.Context, id string) (*domain.Generation, error) {
	if id == testGeneration.ID {
		gen := testGeneration
		return &gen, nil
	}
	return nil, domain.ErrNotFound
}

func (memGenerations) ListAll(context.Context) ([]domain.Generation, error) {
	return []domain.Generation{testGeneration}, nil
}

type memFaults struct {
	mu     sync.Mutex
	faults []domain.Fault
}

func (m *memFaults) InsertBatch(_ context.Context, faults []domain.Fault) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, fault := range faults {
		dup := false
		for _, have := range m.faults {
			if have.GenerationID == fault.GenerationID && have.SequenceNum == fault.SequenceNum {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		fault.ID = fmt.Sprintf("%08d-0000-4000-8000-000000000000", len(m.faults)+1)
		m.faults = append(m.faults, fault)
		inserted++
	}
	return inserted, nil
}

func (m *memFaults) GetByIDs(_ context.Context, ids []string) ([]domain.Fault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Fault
	for _, fault := range m.faults {
		for _, id := range ids {
			if fault.ID == id {
				out = append(out, fault)
			}
		}
	}
	return out, nil
}

func (m *memFaults) ListByGeneration(_ context.Context, generationID string, offset, limit int) ([]domain.Fault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []domain.Fault
	for _, fault := range m.faults {
		if fault.GenerationID == generationID {
			matched = append(matched, fault)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], nil
}

func (m *memFaults) ListPage(_ context.Context, offset, limit int) ([]domain.Fault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= len(m.faults) {
		return nil, nil
	}
	end := min(offset+limit, len(m.faults))
	return m.faults[offset:end], nil
}

func (m *memFaults) UpdateMetadata(_ context.Context, faultID, title, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, fault := range m.faults {
		if fault.ID == faultID {
			m.faults[i].Title = title
			m.faults[i].Description = description
			return nil
		}
	}
	return domain.ErrNotFound
}

type memEmbeddings struct {
	mu     sync.Mutex
	stored map[string][]float64
}

func newMemEmbeddings() *memEmbeddings {
	return &memEmbeddings{stored: map[string][]float64{}}
}

func (m *memEmbeddings) ExistingFaultIDs(_ context.Context, faultIDs []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := map[string]struct{}{}
	for _, id := range faultIDs {
		if _, ok := m.stored[id]; ok {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}

func (m *memEmbeddings) InsertBatch(_ context.Context, embeddings []domain.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range embeddings {
		m.stored[row.FaultID] = row.Vector
	}
	return nil
}

func (m *memEmbeddings) Insert(_ context.Context, row domain.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stored[row.FaultID]; ok {
		return domain.ErrDuplicateOperation
	}
	m.stored[row.FaultID] = row.Vector
	return nil
}

type staticProvider struct{}

func (staticProvider) Embed(_ context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vectors[i] = []float64{1, 2, 3}
	}
	return vectors, nil
}

type memTracker struct {
	mu   sync.Mutex
	jobs map[string]*domain.GenerationJob
}

func newMemTracker() *memTracker {
	return &memTracker{jobs: map[string]*domain.GenerationJob{}}
}

func (m *memTracker) Create(_ context.Context, job *domain.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memTracker) UpdateStatus(_ context.Context, jobID string, status domain.JobStatus, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.Status = status
		if errMsg != nil {
			job.ErrorMessage = *errMsg
		}
	}
	return nil
}

func (m *memTracker) UpdateBatchState(_ context.Context, jobID string, stage domain.JobStage, batchID, inputFileID, outputFileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.Stage = stage
		job.BatchID = batchID
		job.InputFileID = inputFileID
		if outputFileID != "" {
			job.OutputFileID = outputFileID
		}
	}
	return nil
}

func (m *memTracker) UpdateProgress(_ context.Context, jobID string, progressTotal int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.ProgressTotal = progressTotal
	}
	return nil
}

func (m *memTracker) GetByID(_ context.Context, jobID string) (*domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memTracker) ListByStatus(_ context.Context, status domain.JobStatus, limit int) ([]domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GenerationJob
	for _, job := range m.jobs {
		if job.Status == status && len(out) < limit {
			out = append(out, *job)
		}
	}
	return out, nil
}

type stubBatches struct {
	mu          sync.Mutex
	listErr     error
	batches     []batchapi.Batch
	fileContent map[string]string
	uploads     int
}

func (s *stubBatches) UploadFile(context.Context, string, []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	return "file-1", nil
}

func (s *stubBatches) CreateBatch(_ context.Context, inputFileID string) (*batchapi.Batch, error) {
	return &batchapi.Batch{ID: "batch-1", Status: batchapi.BatchStatusValidating, InputFileID: inputFileID}, nil
}

func (s *stubBatches) GetBatch(_ context.Context, batchID string) (*batchapi.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, batch := range s.batches {
		if batch.ID == batchID {
			b := batch
			return &b, nil
		}
	}
	return nil, &batchapi.APIError{StatusCode: 404, Message: "batch not found"}
}

func (s *stubBatches) ListBatches(context.Context, int) ([]batchapi.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]batchapi.Batch(nil), s.batches...), nil
}

func (s *stubBatches) FileContent(_ context.Context, fileID string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.fileContent[fileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return io.NopCloser(bytes.NewReader([]byte(content))), nil
}

// newTestApp wires an App over in-memory fakes.
func newTestApp(batches *stubBatches) (*App, *memTracker, *memFaults) {
	logger := zerolog.Nop()
	gens := memGenerations{}
	faults := &memFaults{}
	tracker := newMemTracker()
	resolver := pipeline.NewResolver(gens, faults, logger)
	builder := pipeline.NewStageBuilder(gens, "gpt-4o-mini", logger)
	importer := pipeline.NewImporter(faults, resolver, logger)
	orchestrator := pipeline.NewOrchestrator(batches, tracker, builder, importer, nil, logger, pipeline.Config{})

	engine := embedding.NewEngine(faults, newMemEmbeddings(), staticProvider{}, logger, embedding.Config{})
	pages := embedding.NewPageProcessor(engine, nil)

	return &App{
		Logger:       logger,
		Tracker:      tracker,
		Orchestrator: orchestrator,
		Importer:     importer,
		Batches:      batches,
		Engine:       engine,
		Pages:        pages,
		Backfill:     progress.NewController(pages, logger),
	}, tracker, faults
}
