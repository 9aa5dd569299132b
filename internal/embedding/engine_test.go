package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"faultgen/internal/domain"
)

type fakeFaultRepo struct {
	mu     sync.Mutex
	faults []domain.Fault
}

func (f *fakeFaultRepo) InsertBatch(context.Context, []domain.Fault) (int, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeFaultRepo) GetByIDs(_ context.Context, ids []string) ([]domain.Fault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []domain.Fault
	for _, fault := range f.faults {
		if _, ok := want[fault.ID]; ok {
			out = append(out, fault)
		}
	}
	return out, nil
}

func (f *fakeFaultRepo) ListByGeneration(context.Context, string, int, int) ([]domain.Fault, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeFaultRepo) ListPage(_ context.Context, offset, limit int) ([]domain.Fault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset >= len(f.faults) {
		return nil, nil
	}
	end := min(offset+limit, len(f.faults))
	return append([]domain.Fault(nil), f.faults[offset:end]...), nil
}

func (f *fakeFaultRepo) UpdateMetadata(context.Context, string, string, string) error {
	return errors.New("not implemented")
}

type fakeEmbeddingRepo struct {
	mu       sync.Mutex
	stored   map[string][]float64
	batchErr error
	// dupOn forces Insert to report an existing row for these ids, as when
	// another worker won an insert race.
	dupOn   map[string]bool
	inserts int
}

func newFakeEmbeddingRepo() *fakeEmbeddingRepo {
	return &fakeEmbeddingRepo{stored: map[string][]float64{}}
}

func (f *fakeEmbeddingRepo) ExistingFaultIDs(_ context.Context, faultIDs []string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing := map[string]struct{}{}
	for _, id := range faultIDs {
		if _, ok := f.stored[id]; ok {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}

func (f *fakeEmbeddingRepo) InsertBatch(_ context.Context, embeddings []domain.Embedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	for _, row := range embeddings {
		f.stored[row.FaultID] = row.Vector
	}
	return nil
}

func (f *fakeEmbeddingRepo) Insert(_ context.Context, row domain.Embedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.dupOn[row.FaultID] {
		return domain.ErrDuplicateOperation
	}
	if _, ok := f.stored[row.FaultID]; ok {
		return domain.ErrDuplicateOperation
	}
	f.stored[row.FaultID] = row.Vector
	return nil
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeProvider) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vectors[i] = []float64{float64(len(texts[i])), 1, 2}
	}
	return vectors, nil
}

type fakeIndexer struct {
	mu        sync.Mutex
	submitted [][]string
	err       error
}

func (f *fakeIndexer) Submit(_ context.Context, faultIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, faultIDs)
	return nil
}

func testFaultID(n int) string {
	return fmt.Sprintf("%08d-0000-4000-8000-000000000000", n)
}

func seedEngine(count int) (*Engine, *fakeFaultRepo, *fakeEmbeddingRepo, *fakeProvider) {
	faults := &fakeFaultRepo{}
	for n := 1; n <= count; n++ {
		faults.faults = append(faults.faults, domain.Fault{
			ID:       testFaultID(n),
			Question: fmt.Sprintf("Question %d", n),
			Answer:   fmt.Sprintf("Answer %d", n),
		})
	}
	embeddings := newFakeEmbeddingRepo()
	provider := &fakeProvider{}
	engine := NewEngine(faults, embeddings, provider, zerolog.Nop(), Config{})
	return engine, faults, embeddings, provider
}

func seededIDs(faults *fakeFaultRepo) []string {
	ids := make([]string, len(faults.faults))
	for i, fault := range faults.faults {
		ids[i] = fault.ID
	}
	return ids
}

func TestEmbedFaultsIsIdempotent(t *testing.T) {
	engine, faults, embeddings, provider := seedEngine(5)
	ids := seededIDs(faults)

	first := engine.EmbedFaults(context.Background(), ids)
	if first.Successful != 5 || first.Failed != 0 || first.Skipped != 0 {
		t.Fatalf("first run = %+v", first)
	}
	if len(embeddings.stored) != 5 {
		t.Fatalf("stored = %d", len(embeddings.stored))
	}

	second := engine.EmbedFaults(context.Background(), ids)
	if second.Successful != 0 || second.Skipped != 5 || second.Failed != 0 {
		t.Fatalf("second run = %+v", second)
	}
	if provider.calls != 1 {
		t.Fatalf("provider must not be called for already-embedded faults, calls = %d", provider.calls)
	}
}

func TestEmbedFaultsReportsMissingAndEmpty(t *testing.T) {
	engine, faults, _, _ := seedEngine(1)
	faults.faults = append(faults.faults, domain.Fault{ID: testFaultID(2)})

	ids := []string{testFaultID(1), testFaultID(2), testFaultID(3)}
	summary := engine.EmbedFaults(context.Background(), ids)
	if summary.Successful != 1 || summary.Failed != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	joined := strings.Join(summary.Errors, "\n")
	if !strings.Contains(joined, "No text content to embed") {
		t.Fatalf("missing empty-text diagnostic: %q", joined)
	}
	if !strings.Contains(joined, "Fault not found") {
		t.Fatalf("missing not-found diagnostic: %q", joined)
	}
}

func TestEmbedFaultsRejectsMalformedIDs(t *testing.T) {
	engine, _, embeddings, provider := seedEngine(0)

	summary := engine.EmbedFaults(context.Background(), []string{"not-a-uuid", ""})
	if summary.Processed != 2 || summary.Failed != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if provider.calls != 0 || embeddings.inserts != 0 {
		t.Fatal("malformed ids must not reach the provider or storage")
	}
}

func TestEmbedFaultsDeduplicatesInput(t *testing.T) {
	engine, faults, _, _ := seedEngine(1)
	ids := seededIDs(faults)

	summary := engine.EmbedFaults(context.Background(), []string{ids[0], ids[0], ids[0]})
	if summary.Processed != 1 || summary.Successful != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestEmbedFaultsFallsBackRowByRow(t *testing.T) {
	engine, faults, embeddings, _ := seedEngine(3)
	embeddings.batchErr = errors.New("deadlock detected")
	// One row lost an insert race: the single-row pass sees a duplicate and
	// still counts it as success.
	embeddings.dupOn = map[string]bool{faults.faults[0].ID: true}

	summary := engine.EmbedFaults(context.Background(), seededIDs(faults))
	if summary.Successful != 3 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if embeddings.inserts != 3 {
		t.Fatalf("expected 3 single-row inserts, got %d", embeddings.inserts)
	}
}

func TestEmbedFaultsProviderFailureFailsChunk(t *testing.T) {
	engine, faults, _, provider := seedEngine(2)
	provider.err = fmt.Errorf("%w: 503", domain.ErrProviderFailure)

	summary := engine.EmbedFaults(context.Background(), seededIDs(faults))
	if summary.Failed != 2 || summary.Successful != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestProcessPageAdvancesCursor(t *testing.T) {
	engine, _, _, _ := seedEngine(7)
	indexer := &fakeIndexer{}
	processor := NewPageProcessor(engine, indexer)

	result, err := processor.ProcessPage(context.Background(), PageRequest{BatchSize: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 5 || result.Successful != 5 {
		t.Fatalf("first page = %+v", result)
	}
	if result.NextOffset != 5 || !result.HasMore {
		t.Fatalf("cursor = offset %d, more %v", result.NextOffset, result.HasMore)
	}
	if result.IndexSubmitted != 5 {
		t.Fatalf("index submitted = %d", result.IndexSubmitted)
	}

	result, err = processor.ProcessPage(context.Background(), PageRequest{BatchSize: 5, Offset: result.NextOffset})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 2 || result.HasMore {
		t.Fatalf("second page = %+v", result)
	}
	if result.NextOffset != 7 {
		t.Fatalf("next offset = %d", result.NextOffset)
	}

	result, err = processor.ProcessPage(context.Background(), PageRequest{BatchSize: 5, Offset: result.NextOffset})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 0 || result.HasMore || result.NextOffset != 7 {
		t.Fatalf("empty page = %+v", result)
	}
}

func TestProcessPageIndexesOnlyNewlyEmbedded(t *testing.T) {
	engine, faults, embeddings, _ := seedEngine(3)
	faults.faults[1].Question = ""
	faults.faults[1].Answer = ""
	embeddings.stored[testFaultID(3)] = []float64{1, 2, 3}
	indexer := &fakeIndexer{}
	processor := NewPageProcessor(engine, indexer)

	result, err := processor.ProcessPage(context.Background(), PageRequest{BatchSize: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Successful != 1 || result.Failed != 1 || result.Skipped != 1 {
		t.Fatalf("result = %+v", result)
	}
	if result.IndexSubmitted != 1 {
		t.Fatalf("index submitted = %d", result.IndexSubmitted)
	}
	if len(indexer.submitted) != 1 || len(indexer.submitted[0]) != 1 || indexer.submitted[0][0] != testFaultID(1) {
		t.Fatalf("indexer received %v", indexer.submitted)
	}
}

func TestProcessPageSkipIndexing(t *testing.T) {
	engine, _, _, _ := seedEngine(2)
	indexer := &fakeIndexer{}
	processor := NewPageProcessor(engine, indexer)

	result, err := processor.ProcessPage(context.Background(), PageRequest{BatchSize: 5, SkipIndexing: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IndexSubmitted != 0 || len(indexer.submitted) != 0 {
		t.Fatal("indexing must be skipped on request")
	}
}

func TestProcessPageIndexFailureDoesNotFailRun(t *testing.T) {
	engine, _, _, _ := seedEngine(2)
	indexer := &fakeIndexer{err: errors.New("index down")}
	processor := NewPageProcessor(engine, indexer)

	result, err := processor.ProcessPage(context.Background(), PageRequest{BatchSize: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Successful != 2 || result.IndexFailed != 2 {
		t.Fatalf("result = %+v", result)
	}
}
