package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sheetsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id          TEXT PRIMARY KEY,
	triggered_by TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	done        INTEGER NOT NULL DEFAULT 0,
	no_data     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS sync_outcomes (
	run_id         TEXT NOT NULL REFERENCES sync_runs(id) ON DELETE CASCADE,
	position       INTEGER NOT NULL,
	group_name     TEXT NOT NULL,
	unit           TEXT NOT NULL,
	table_name     TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	row_count      INTEGER NOT NULL DEFAULT 0,
	sources        INTEGER NOT NULL DEFAULT 0,
	failed_sources TEXT,
	message        TEXT NOT NULL,
	recorded_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_status ON sync_runs(status);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) StartRun(ctx context.Context, trigger string) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, triggered_by, status, started_at) VALUES (?, ?, ?, ?)`,
		id, trigger, string(RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &Run{ID: id, Trigger: trigger, Status: RunStatusRunning, StartedAt: now}, nil
}

func (s *SQLiteStore) RecordOutcome(ctx context.Context, runID string, position int, o model.Outcome) error {
	failed, err := marshalFailures(o.FailedSources)
	if err != nil {
		return err
	}
	var failedText sql.NullString
	if failed != nil {
		failedText = sql.NullString{String: string(failed), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_outcomes (run_id, position, group_name, unit, table_name, state, row_count, sources, failed_sources, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, position, o.Group, o.Unit, o.Table, string(o.State), o.Rows, o.Sources, failedText, o.Message,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert outcome %d for run %s", position, runID)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, result model.RunResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, done = ?, no_data = ?, failed = ?, skipped = ?, finished_at = ? WHERE id = ?`,
		string(StatusOf(result)),
		result.Count(model.UnitDone), result.Count(model.UnitNoData),
		result.Count(model.UnitFailed), result.Count(model.UnitSkipped),
		time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound{Entity: "run", ID: runID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT group_name, unit, table_name, state, row_count, sources, failed_sources, message
		 FROM sync_outcomes WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list outcomes %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome")
		}
		r.Outcomes = append(r.Outcomes, o)
	}
	return r, eris.Wrap(rows.Err(), "sqlite: iterate outcomes")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.StartedAfter.IsZero() {
		query += ` AND started_at > ?`
		args = append(args, filter.StartedAfter.UTC())
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limitOf(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound{Entity: entity, ID: id}
	}
	return nil
}
