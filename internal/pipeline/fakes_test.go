package pipeline

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"faultgen/internal/batchapi"
	"faultgen/internal/domain"
	"faultgen/internal/jsonl"
)

type fakeGenerations struct {
	byID map[string]domain.Generation
}

func newFakeGenerations(gens ...domain.Generation) *fakeGenerations {
	byID := make(map[string]domain.Generation, len(gens))
	for _, gen := range gens {
		byID[gen.ID] = gen
	}
	return &fakeGenerations{byID: byID}
}

func (f *fakeGenerations) GetByID(_ context.Context, id string) (*domain.Generation, error) {
	gen, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &gen, nil
}

func (f *fakeGenerations) ListAll(context.Context) ([]domain.Generation, error) {
	gens := make([]domain.Generation, 0, len(f.byID))
	for _, gen := range f.byID {
		gens = append(gens, gen)
	}
	sort.Slice(gens, func(a, b int) bool { return gens[a].ID < gens[b].ID })
	return gens, nil
}

type fakeFaults struct {
	mu       sync.Mutex
	byGroup  map[string][]domain.Fault
	metadata map[string][2]string
	nextID   int
}

func newFakeFaults() *fakeFaults {
	return &fakeFaults{byGroup: map[string][]domain.Fault{}, metadata: map[string][2]string{}}
}

func (f *fakeFaults) InsertBatch(_ context.Context, faults []domain.Fault) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inserted := 0
	for _, fault := range faults {
		exists := false
		for _, have := range f.byGroup[fault.GenerationID] {
			if have.SequenceNum == fault.SequenceNum {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		f.nextID++
		fault.ID = fakeFaultID(f.nextID)
		f.byGroup[fault.GenerationID] = append(f.byGroup[fault.GenerationID], fault)
		inserted++
	}
	for group := range f.byGroup {
		sort.Slice(f.byGroup[group], func(a, b int) bool {
			return f.byGroup[group][a].SequenceNum < f.byGroup[group][b].SequenceNum
		})
	}
	return inserted, nil
}

func fakeFaultID(n int) string {
	// Shape of a uuid so engine-side format validation passes where needed.
	base := []byte("00000000-0000-4000-8000-000000000000")
	for i := len(base) - 1; n > 0 && i >= 0; i-- {
		if base[i] == '-' {
			continue
		}
		base[i] = byte('0' + n%10)
		n /= 10
	}
	return string(base)
}

func (f *fakeFaults) GetByIDs(_ context.Context, ids []string) ([]domain.Fault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []domain.Fault
	for _, faults := range f.byGroup {
		for _, fault := range faults {
			if _, ok := want[fault.ID]; ok {
				out = append(out, fault)
			}
		}
	}
	return out, nil
}

func (f *fakeFaults) ListByGeneration(_ context.Context, generationID string, offset, limit int) ([]domain.Fault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	faults := f.byGroup[generationID]
	if offset >= len(faults) {
		return nil, nil
	}
	end := min(offset+limit, len(faults))
	return append([]domain.Fault(nil), faults[offset:end]...), nil
}

func (f *fakeFaults) ListPage(_ context.Context, offset, limit int) ([]domain.Fault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []domain.Fault
	groups := make([]string, 0, len(f.byGroup))
	for group := range f.byGroup {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	for _, group := range groups {
		all = append(all, f.byGroup[group]...)
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return append([]domain.Fault(nil), all[offset:end]...), nil
}

func (f *fakeFaults) UpdateMetadata(_ context.Context, faultID, title, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for group, faults := range f.byGroup {
		for i, fault := range faults {
			if fault.ID == faultID {
				f.byGroup[group][i].Title = title
				f.byGroup[group][i].Description = description
				f.metadata[faultID] = [2]string{title, description}
				return nil
			}
		}
	}
	return domain.ErrNotFound
}

// fakeBatchService scripts the external service: per-call error queues plus
// recorded invocations.
type fakeBatchService struct {
	mu sync.Mutex

	uploadErrs []error
	createErrs []error
	listErr    error

	uploads int
	creates int

	batches     []batchapi.Batch
	fileContent map[string]string

	createdBatch batchapi.Batch
}

func (f *fakeBatchService) UploadFile(_ context.Context, _ string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if len(f.uploadErrs) > 0 {
		err := f.uploadErrs[0]
		f.uploadErrs = f.uploadErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "file-1", nil
}

func (f *fakeBatchService) CreateBatch(_ context.Context, inputFileID string) (*batchapi.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	batch := f.createdBatch
	if batch.ID == "" {
		batch = batchapi.Batch{ID: "batch-1", Status: batchapi.BatchStatusValidating}
	}
	batch.InputFileID = inputFileID
	return &batch, nil
}

func (f *fakeBatchService) GetBatch(_ context.Context, batchID string) (*batchapi.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, batch := range f.batches {
		if batch.ID == batchID {
			b := batch
			return &b, nil
		}
	}
	return nil, &batchapi.APIError{StatusCode: 404, Message: "batch not found"}
}

func (f *fakeBatchService) ListBatches(context.Context, int) ([]batchapi.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]batchapi.Batch(nil), f.batches...), nil
}

func (f *fakeBatchService) FileContent(_ context.Context, fileID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.fileContent[fileID]
	if !ok {
		return nil, &batchapi.APIError{StatusCode: 404, Message: "file not found"}
	}
	return io.NopCloser(bytes.NewReader([]byte(content))), nil
}

// fakeTracker records job state transitions in memory.
type fakeTracker struct {
	mu        sync.Mutex
	created   []domain.GenerationJob
	statuses  map[string][]domain.JobStatus
	lastError map[string]string
	createErr error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{statuses: map[string][]domain.JobStatus{}, lastError: map[string]string{}}
}

func (f *fakeTracker) Create(_ context.Context, job *domain.GenerationJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, *job)
	return nil
}

func (f *fakeTracker) UpdateStatus(_ context.Context, jobID string, status domain.JobStatus, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = append(f.statuses[jobID], status)
	if errMsg != nil {
		f.lastError[jobID] = *errMsg
	}
	return nil
}

func (f *fakeTracker) UpdateBatchState(context.Context, string, domain.JobStage, string, string, string) error {
	return nil
}

func (f *fakeTracker) UpdateProgress(context.Context, string, int) error { return nil }

func (f *fakeTracker) GetByID(context.Context, string) (*domain.GenerationJob, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeTracker) ListByStatus(context.Context, domain.JobStatus, int) ([]domain.GenerationJob, error) {
	return nil, nil
}

func (f *fakeTracker) lastStatus(jobID string) domain.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	statuses := f.statuses[jobID]
	if len(statuses) == 0 {
		return ""
	}
	return statuses[len(statuses)-1]
}

func successRecord(customID, content string) jsonl.ResultRecord {
	return jsonl.ResultRecord{
		CustomID: customID,
		Response: &jsonl.Response{
			StatusCode: 200,
			Body: jsonl.ResponseBody{
				Choices: []jsonl.Choice{{Message: jsonl.Message{Role: "assistant", Content: content}}},
			},
		},
	}
}
