package embedding

import (
	"context"
)

const (
	defaultPageSize    = 50
	maxPageSize        = 500
	maxPageConcurrency = 16
)

// PageRequest asks for one page of the global working set to be embedded.
type PageRequest struct {
	BatchSize    int  `json:"batch_size"`
	Offset       int  `json:"offset"`
	Concurrency  int  `json:"concurrency"`
	SkipIndexing bool `json:"skip_indexing"`
}

func (r *PageRequest) clamp() {
	if r.BatchSize <= 0 {
		r.BatchSize = defaultPageSize
	}
	if r.BatchSize > maxPageSize {
		r.BatchSize = maxPageSize
	}
	if r.Offset < 0 {
		r.Offset = 0
	}
	if r.Concurrency <= 0 {
		r.Concurrency = defaultConcurrency
	}
	if r.Concurrency > maxPageConcurrency {
		r.Concurrency = maxPageConcurrency
	}
}

// PageResult reports one page run plus the cursor for the next call.
type PageResult struct {
	Processed      int      `json:"processed"`
	Successful     int      `json:"successful"`
	Failed         int      `json:"failed"`
	Skipped        int      `json:"skipped"`
	IndexSubmitted int      `json:"index_submitted"`
	IndexFailed    int      `json:"index_failed"`
	NextOffset     int      `json:"next_offset"`
	HasMore        bool     `json:"has_more"`
	Errors         []string `json:"errors,omitempty"`
}

// PageProcessor embeds the working set page by page so a caller (or the
// resumable backfill controller) can walk the whole table in bounded slices.
type PageProcessor struct {
	engine  *Engine
	indexer Indexer
}

// NewPageProcessor wires a page processor. indexer may be nil.
func NewPageProcessor(engine *Engine, indexer Indexer) *PageProcessor {
	if indexer == nil {
		indexer = NopIndexer{}
	}
	return &PageProcessor{engine: engine, indexer: indexer}
}

// ProcessPage embeds one page of faults in stable creation order. The page
// boundary comes from the fetch, not the outcome: a page of failures still
// advances the cursor so a stuck row cannot wedge the walk.
func (p *PageProcessor) ProcessPage(ctx context.Context, req PageRequest) (PageResult, error) {
	req.clamp()

	faults, err := p.engine.faults.ListPage(ctx, req.Offset, req.BatchSize)
	if err != nil {
		return PageResult{NextOffset: req.Offset}, err
	}
	if len(faults) == 0 {
		return PageResult{NextOffset: req.Offset}, nil
	}

	ids := make([]string, len(faults))
	for i, fault := range faults {
		ids[i] = fault.ID
	}

	engine := p.engine
	if req.Concurrency != engine.cfg.Concurrency {
		scoped := *p.engine
		scoped.cfg.Concurrency = req.Concurrency
		engine = &scoped
	}
	summary := engine.EmbedFaults(ctx, ids)

	result := PageResult{
		Processed:  summary.Processed,
		Successful: summary.Successful,
		Failed:     summary.Failed,
		Skipped:    summary.Skipped,
		NextOffset: req.Offset + len(faults),
		HasMore:    len(faults) == req.BatchSize,
		Errors:     summary.Errors,
	}

	// Only faults that actually got a vector this run are submitted for
	// indexing; failed and already-indexed rows stay out of the counters.
	if !req.SkipIndexing && len(summary.SuccessfulIDs) > 0 {
		if err := p.indexer.Submit(ctx, summary.SuccessfulIDs); err != nil {
			result.IndexFailed = len(summary.SuccessfulIDs)
			engine.logger.Warn().Err(err).Msg("embedding: index submission failed")
		} else {
			result.IndexSubmitted = len(summary.SuccessfulIDs)
		}
	}
	return result, nil
}
