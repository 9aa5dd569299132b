package embedding

import "context"

// Indexer forwards freshly embedded faults to a downstream search index.
type Indexer interface {
	Submit(ctx context.Context, faultIDs []string) error
}

// NopIndexer drops all submissions.
type NopIndexer struct{}

func (NopIndexer) Submit(context.Context, []string) error { return nil }
