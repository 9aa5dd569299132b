package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"faultgen/internal/domain"
)

// FaultRepositoryPG implements domain.FaultRepository.
type FaultRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewFaultRepository creates a new fault repository backed by PostgreSQL.
func NewFaultRepository(pool *pgxpool.Pool) *FaultRepositoryPG {
	return &FaultRepositoryPG{pool: pool}
}

const faultColumns = `id, generation_id, sequence_number, question, answer, title, description, created_at, updated_at`

// InsertBatch creates fault rows with insert-or-ignore semantics: a row
// whose (generation_id, sequence_number) already exists is silently skipped.
// Returns the number of rows actually created; the difference to len(faults)
// is the duplicate count.
func (r *FaultRepositoryPG) InsertBatch(ctx context.Context, faults []domain.Fault) (int, error) {
	if len(faults) == 0 {
		return 0, nil
	}

	placeholders := make([]string, 0, len(faults))
	args := make([]any, 0, len(faults)*7)
	for i, fault := range faults {
		id := fault.ID
		if id == "" {
			id = uuid.NewString()
		}
		base := i * 7
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7))
		args = append(args, id, fault.GenerationID, fault.SequenceNum, fault.Question, fault.Answer, fault.Title, fault.Description)
	}

	query := fmt.Sprintf(`
INSERT INTO faults (id, generation_id, sequence_number, question, answer, title, description)
VALUES %s
ON CONFLICT (generation_id, sequence_number) DO NOTHING;
`, strings.Join(placeholders, ", "))

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// GetByIDs fetches faults by primary key. Missing ids are simply absent from
// the result.
func (r *FaultRepositoryPG) GetByIDs(ctx context.Context, ids []string) ([]domain.Fault, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
SELECT ` + faultColumns + `
FROM faults
WHERE id = ANY($1);
`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFaults(rows)
}

// ListByGeneration returns one page of a generation's faults ordered by
// sequence number ascending, created_at as the tiebreaker. The resolver
// walks these pages to rebuild ordinal identity.
func (r *FaultRepositoryPG) ListByGeneration(ctx context.Context, generationID string, offset, limit int) ([]domain.Fault, error) {
	query := `
SELECT ` + faultColumns + `
FROM faults
WHERE generation_id = $1
ORDER BY sequence_number ASC, created_at ASC
OFFSET $2 LIMIT $3;
`
	rows, err := r.pool.Query(ctx, query, generationID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFaults(rows)
}

// ListPage returns one page of the global working set in stable creation
// order. The id tiebreaker keeps the ordering total even when timestamps
// collide under parallel bulk insert.
func (r *FaultRepositoryPG) ListPage(ctx context.Context, offset, limit int) ([]domain.Fault, error) {
	query := `
SELECT ` + faultColumns + `
FROM faults
ORDER BY created_at ASC, id ASC
OFFSET $1 LIMIT $2;
`
	rows, err := r.pool.Query(ctx, query, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFaults(rows)
}

// UpdateMetadata attaches generated SEO metadata to a fault.
func (r *FaultRepositoryPG) UpdateMetadata(ctx context.Context, faultID, title, description string) error {
	query := `
UPDATE faults
SET title = $2,
    description = $3,
    updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, faultID, title, description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanFaults(rows pgx.Rows) ([]domain.Fault, error) {
	var faults []domain.Fault
	for rows.Next() {
		var fault domain.Fault
		if err := rows.Scan(
			&fault.ID,
			&fault.GenerationID,
			&fault.SequenceNum,
			&fault.Question,
			&fault.Answer,
			&fault.Title,
			&fault.Description,
			&fault.CreatedAt,
			&fault.UpdatedAt,
		); err != nil {
			return nil, err
		}
		faults = append(faults, fault)
	}
	return faults, rows.Err()
}

var _ domain.FaultRepository = (*FaultRepositoryPG)(nil)
