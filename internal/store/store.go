// Package store persists the run log: one row per run plus one row per
// work unit outcome.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sheetsync/internal/model"
)

// RunStatus is the lifecycle state of a logged run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	// RunStatusFailed marks a run with at least one failed unit, or one
	// that could not start.
	RunStatusFailed RunStatus = "failed"
)

// StatusOf derives the final status of a run from its result.
func StatusOf(result model.RunResult) RunStatus {
	if result.Count(model.UnitFailed) > 0 {
		return RunStatusFailed
	}
	return RunStatusComplete
}

// Run is one logged run.
type Run struct {
	ID         string          `json:"id"`
	Trigger    string          `json:"trigger"`
	Status     RunStatus       `json:"status"`
	Done       int             `json:"done"`
	NoData     int             `json:"no_data"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	Outcomes   []model.Outcome `json:"outcomes,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       RunStatus `json:"status,omitempty"`
	StartedAfter time.Time `json:"started_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// Store is the run log.
type Store interface {
	StartRun(ctx context.Context, trigger string) (*Run, error)
	// RecordOutcome appends one unit outcome at position within the run.
	RecordOutcome(ctx context.Context, runID string, position int, o model.Outcome) error
	FinishRun(ctx context.Context, runID string, result model.RunResult) error
	// GetRun returns the run with its outcomes in processing order.
	GetRun(ctx context.Context, runID string) (*Run, error)
	// ListRuns returns runs newest first, without outcomes.
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

func limitOf(f RunFilter) int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// ErrNotFound is returned when a run does not exist.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.ID
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var status string
	if err := row.Scan(&r.ID, &r.Trigger, &status, &r.Done, &r.NoData, &r.Failed, &r.Skipped, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	return &r, nil
}

func scanOutcome(row scannable) (model.Outcome, error) {
	var o model.Outcome
	var state string
	var failed []byte
	if err := row.Scan(&o.Group, &o.Unit, &o.Table, &state, &o.Rows, &o.Sources, &failed, &o.Message); err != nil {
		return o, err
	}
	o.State = model.UnitState(state)
	if len(failed) > 0 {
		if err := json.Unmarshal(failed, &o.FailedSources); err != nil {
			return o, eris.Wrap(err, "unmarshal failed sources")
		}
	}
	return o, nil
}

func marshalFailures(f []model.SourceFailure) ([]byte, error) {
	if len(f) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal failed sources")
	}
	return b, nil
}
