package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sheetsync/internal/db"
	"github.com/sells-group/sheetsync/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects a PostgresStore.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, for example the warehouse
// pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id          TEXT PRIMARY KEY,
	triggered_by TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	done        INTEGER NOT NULL DEFAULT 0,
	no_data     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS sync_outcomes (
	run_id         TEXT NOT NULL REFERENCES sync_runs(id) ON DELETE CASCADE,
	position       INTEGER NOT NULL,
	group_name     TEXT NOT NULL,
	unit           TEXT NOT NULL,
	table_name     TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	row_count      BIGINT NOT NULL DEFAULT 0,
	sources        INTEGER NOT NULL DEFAULT 0,
	failed_sources JSONB,
	message        TEXT NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_status ON sync_runs(status);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) StartRun(ctx context.Context, trigger string) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, triggered_by, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, trigger, string(RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &Run{ID: id, Trigger: trigger, Status: RunStatusRunning, StartedAt: now}, nil
}

func (s *PostgresStore) RecordOutcome(ctx context.Context, runID string, position int, o model.Outcome) error {
	failed, err := marshalFailures(o.FailedSources)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sync_outcomes (run_id, position, group_name, unit, table_name, state, row_count, sources, failed_sources, message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		runID, position, o.Group, o.Unit, o.Table, string(o.State), o.Rows, o.Sources, failed, o.Message,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert outcome %d for run %s", position, runID)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, result model.RunResult) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, done = $2, no_data = $3, failed = $4, skipped = $5, finished_at = $6 WHERE id = $7`,
		string(StatusOf(result)),
		result.Count(model.UnitDone), result.Count(model.UnitNoData),
		result.Count(model.UnitFailed), result.Count(model.UnitSkipped),
		time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound{Entity: "run", ID: runID}
	}
	return nil
}

const runColumns = `id, triggered_by, status, done, no_data, failed, skipped, started_at, finished_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound{Entity: "run", ID: runID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT group_name, unit, table_name, state, row_count, sources, failed_sources, message
		 FROM sync_outcomes WHERE run_id = $1 ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list outcomes %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}
		r.Outcomes = append(r.Outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate outcomes")
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.StartedAfter.IsZero() {
		query += fmt.Sprintf(` AND started_at > $%d`, argIdx)
		args = append(args, filter.StartedAfter.UTC())
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limitOf(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}
