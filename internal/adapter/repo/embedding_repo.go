package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"faultgen/internal/domain"
)

// EmbeddingRepositoryPG implements domain.EmbeddingRepository on a pgvector
// column. fault_id carries a uniqueness constraint: racing writers surface
// as unique violations, which callers reclassify as success.
type EmbeddingRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewEmbeddingRepository creates a new embedding repository backed by PostgreSQL.
func NewEmbeddingRepository(pool *pgxpool.Pool) *EmbeddingRepositoryPG {
	return &EmbeddingRepositoryPG{pool: pool}
}

// ExistingFaultIDs returns the subset of faultIDs that already have an
// embedding. One query per engine chunk keeps re-runs cheap.
func (r *EmbeddingRepositoryPG) ExistingFaultIDs(ctx context.Context, faultIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(faultIDs))
	if len(faultIDs) == 0 {
		return existing, nil
	}
	query := `
SELECT fault_id
FROM fault_embeddings
WHERE fault_id = ANY($1);
`
	rows, err := r.pool.Query(ctx, query, faultIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var faultID string
		if err := rows.Scan(&faultID); err != nil {
			return nil, err
		}
		existing[faultID] = struct{}{}
	}
	return existing, rows.Err()
}

// InsertBatch stores embeddings as a single multi-row insert. A uniqueness
// violation fails the whole statement; the engine falls back to per-row
// inserts to isolate the conflicting rows.
func (r *EmbeddingRepositoryPG) InsertBatch(ctx context.Context, embeddings []domain.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(embeddings))
	args := make([]any, 0, len(embeddings)*2)
	for i, embedding := range embeddings {
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d::vector)", i*2+1, i*2+2))
		args = append(args, embedding.FaultID, vectorToString(embedding.Vector))
	}
	query := fmt.Sprintf(`
INSERT INTO fault_embeddings (fault_id, embedding)
VALUES %s;
`, strings.Join(placeholders, ", "))

	_, err := r.pool.Exec(ctx, query, args...)
	return err
}

// Insert stores a single embedding, mapping a unique violation to
// domain.ErrDuplicateOperation.
func (r *EmbeddingRepositoryPG) Insert(ctx context.Context, embedding domain.Embedding) error {
	query := `
INSERT INTO fault_embeddings (fault_id, embedding)
VALUES ($1, $2::vector);
`
	_, err := r.pool.Exec(ctx, query, embedding.FaultID, vectorToString(embedding.Vector))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateOperation
		}
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// vectorToString encodes a float slice as a pgvector literal.
func vectorToString(vector []float64) string {
	if len(vector) == 0 {
		return "[]"
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, val := range vector {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
	}
	sb.WriteByte(']')
	return sb.String()
}

var _ domain.EmbeddingRepository = (*EmbeddingRepositoryPG)(nil)
