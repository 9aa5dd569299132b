package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface handlers and stores depend on, satisfied
// by SQLRunner in production and by stubs in tests.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// SQLRunner executes inline SQL constants. Every statement must open with a
// `--sql <uuid>` marker line; the marker is stripped before execution and
// used as the query tag in logs, so slow or failing statements can be traced
// back to their constant without grepping SQL text.
type SQLRunner struct {
	Pool   *pgxpool.Pool
	Logger zerolog.Logger
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.Pool.Exec(ctx, stmt, args...)
	if err != nil {
		r.Logger.Error().Err(err).Str("sql", marker).Msg("exec failed")
		return tag, err
	}
	r.Logger.Debug().Str("sql", marker).Dur("took", time.Since(start)).Int64("rows", tag.RowsAffected()).Msg("exec")
	return tag, nil
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	r.Logger.Debug().Str("sql", marker).Msg("query_row")
	return taggedRow{row: r.Pool.QueryRow(ctx, stmt, args...), logger: r.Logger, marker: marker}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.Pool.Query(ctx, stmt, args...)
	if err != nil {
		r.Logger.Error().Err(err).Str("sql", marker).Msg("query failed")
		return nil, err
	}
	r.Logger.Debug().Str("sql", marker).Dur("took", time.Since(start)).Msg("query")
	return rows, nil
}

type taggedRow struct {
	row    pgx.Row
	logger zerolog.Logger
	marker string
}

func (t taggedRow) Scan(dest ...any) error {
	err := t.row.Scan(dest...)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		t.logger.Error().Err(err).Str("sql", t.marker).Msg("scan failed")
	}
	return err
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(...any) error { return e.err }

func extractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	head, rest, _ := strings.Cut(trimmed, "\n")
	head = strings.TrimSpace(head)
	if !markerRegexp.MatchString(head) {
		return "", "", errors.New("sql marker missing or invalid")
	}
	return strings.TrimPrefix(head, "--sql "), rest, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
