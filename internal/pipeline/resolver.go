package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"faultgen/internal/domain"
)

// resolverPageSize is the fixed page size for group record fetches. Group
// sizes can far exceed a single query's practical result cap, so the
// resolver always paginates.
const resolverPageSize = 100

// GroupOrdinal is one correlation-key identity to resolve: the Nth record
// (1-based) created for a group.
type GroupOrdinal struct {
	GroupID string
	Ordinal int
}

// ResolveKey formats the map key callers use to substitute resolved ids back
// into their working set.
func ResolveKey(groupID string, ordinal int) string {
	return fmt.Sprintf("%s:%d", groupID, ordinal)
}

// Resolver maps (group, ordinal) identities back to fault primary keys. The
// external batch service only echoes correlation keys; real row ids never
// round-trip through it, so identity is rebuilt from persisted ordering.
//
// Resolution is eventually consistent: a group still being written to can
// yield a stale mapping and should be re-resolved once writes settle.
type Resolver struct {
	generations domain.GenerationRepository
	faults      domain.FaultRepository
	logger      zerolog.Logger

	mu     sync.Mutex
	groups []domain.Generation
	loaded bool
}

// NewResolver constructs a resolver over the given repositories.
func NewResolver(generations domain.GenerationRepository, faults domain.FaultRepository, logger zerolog.Logger) *Resolver {
	return &Resolver{generations: generations, faults: faults, logger: logger}
}

// ResolveIDs maps each (group, ordinal) pair to its fault id, keyed by
// "groupID:ordinal" with the caller's original group string. Pairs whose
// group cannot be resolved unambiguously, or whose ordinal exceeds the
// group's record count, are dropped with a diagnostic instead of guessed.
func (r *Resolver) ResolveIDs(ctx context.Context, pairs []GroupOrdinal) (map[string]string, error) {
	byGroup := make(map[string][]int)
	for _, pair := range pairs {
		if pair.Ordinal < 1 {
			r.logger.Warn().Str("group_id", pair.GroupID).Int("ordinal", pair.Ordinal).Msg("resolver: non-positive ordinal dropped")
			continue
		}
		byGroup[pair.GroupID] = append(byGroup[pair.GroupID], pair.Ordinal)
	}

	resolved := make(map[string]string)
	for groupID, ordinals := range byGroup {
		realID, err := r.ResolveGroup(ctx, groupID)
		if err != nil {
			r.logger.Warn().Err(err).Str("group_id", groupID).Msg("resolver: group resolution failed, dropping its pairs")
			continue
		}
		faults, err := r.allGroupFaults(ctx, realID)
		if err != nil {
			return nil, fmt.Errorf("fetch faults for group %s: %w", realID, err)
		}
		for _, ordinal := range ordinals {
			if ordinal > len(faults) {
				r.logger.Warn().
					Str("group_id", groupID).
					Int("ordinal", ordinal).
					Int("available", len(faults)).
					Msg("resolver: ordinal beyond group record count, dropped")
				continue
			}
			resolved[ResolveKey(groupID, ordinal)] = faults[ordinal-1].ID
		}
	}
	return resolved, nil
}

// ResolveGroup turns a possibly-partial group identifier into a real
// generation id. Well-formed ids pass through; partial ones must match
// exactly one generation by normalized prefix.
func (r *Resolver) ResolveGroup(ctx context.Context, candidate string) (string, error) {
	if uuid.Validate(candidate) == nil {
		return candidate, nil
	}

	groups, err := r.groupListing(ctx)
	if err != nil {
		return "", err
	}
	needle := normalizeGroupID(candidate)
	if needle == "" {
		return "", fmt.Errorf("empty group identifier")
	}

	var matches []string
	for _, gen := range groups {
		if strings.HasPrefix(normalizeGroupID(gen.ID), needle) {
			matches = append(matches, gen.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("no generation matches partial id %q", candidate)
	default:
		return "", fmt.Errorf("partial id %q is ambiguous (%d matches)", candidate, len(matches))
	}
}

// allGroupFaults walks the group's records in sequence order, page by page,
// until a short page signals end of data.
func (r *Resolver) allGroupFaults(ctx context.Context, generationID string) ([]domain.Fault, error) {
	var all []domain.Fault
	offset := 0
	for {
		page, err := r.faults.ListByGeneration(ctx, generationID, offset, resolverPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < resolverPageSize {
			return all, nil
		}
		offset += len(page)
	}
}

func (r *Resolver) groupListing(ctx context.Context) ([]domain.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.groups, nil
	}
	groups, err := r.generations.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	r.groups = groups
	r.loaded = true
	return groups, nil
}

func normalizeGroupID(id string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
