// Package monitoring raises webhook alerts for failed runs and for a high
// run failure rate in the run log.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sheetsync/internal/store"
)

// Snapshot holds run-log health over a lookback window.
type Snapshot struct {
	RunsTotal     int       `json:"runs_total"`
	RunsComplete  int       `json:"runs_complete"`
	RunsFailed    int       `json:"runs_failed"`
	RunsRunning   int       `json:"runs_running"`
	FailRate      float64   `json:"fail_rate"`
	UnitsFailed   int       `json:"units_failed"`
	UnitsNoData   int       `json:"units_no_data"`
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]store.Run, error)
}

// Collector summarizes recent runs from the run log.
type Collector struct {
	runs RunLister
}

// NewCollector creates a new collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := time.Now().UTC()
	snap := &Snapshot{LookbackHours: lookbackHours, CollectedAt: now}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		StartedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case store.RunStatusComplete:
			snap.RunsComplete++
		case store.RunStatusFailed:
			snap.RunsFailed++
		case store.RunStatusRunning:
			snap.RunsRunning++
		}
		snap.UnitsFailed += r.Failed
		snap.UnitsNoData += r.NoData
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	return snap, nil
}
