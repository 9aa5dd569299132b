package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"faultgen/internal/domain"
)

// GenerationRepositoryPG implements domain.GenerationRepository.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGenerationRepository creates a new generation repository backed by PostgreSQL.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

// GetByID fetches a vehicle generation by its identifier.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	query := `
SELECT id, brand, model, name, code
FROM generations
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var gen domain.Generation
	if err := row.Scan(&gen.ID, &gen.Brand, &gen.Model, &gen.Name, &gen.Code); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &gen, nil
}

// ListAll returns every generation. The resolver caches the result to match
// partial group identifiers against the full listing.
func (r *GenerationRepositoryPG) ListAll(ctx context.Context) ([]domain.Generation, error) {
	query := `
SELECT id, brand, model, name, code
FROM generations
ORDER BY brand, model, name;
`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var generations []domain.Generation
	for rows.Next() {
		var gen domain.Generation
		if err := rows.Scan(&gen.ID, &gen.Brand, &gen.Model, &gen.Name, &gen.Code); err != nil {
			return nil, err
		}
		generations = append(generations, gen)
	}
	return generations, rows.Err()
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
