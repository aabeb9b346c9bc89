package model

import (
	"fmt"
	"strings"
)

// UnitState is the terminal state of a work unit in a run.
type UnitState string

const (
	UnitDone    UnitState = "done"
	UnitNoData  UnitState = "no_data"
	UnitFailed  UnitState = "failed"
	UnitSkipped UnitState = "skipped"
)

// SourceFailure records one source whose contribution was dropped.
type SourceFailure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Outcome is the result of processing one work unit (or one structural error).
type Outcome struct {
	Group         string          `json:"group"`
	Unit          string          `json:"unit"`
	Table         string          `json:"table,omitempty"`
	State         UnitState       `json:"state"`
	Rows          int64           `json:"rows"`
	Sources       int             `json:"sources"`
	FailedSources []SourceFailure `json:"failed_sources,omitempty"`
	Message       string          `json:"message"`
}

// String renders the outcome as a RunResult line.
func (o Outcome) String() string {
	line := o.Message
	if n := len(o.FailedSources); n > 0 {
		names := make([]string, 0, n)
		for _, f := range o.FailedSources {
			names = append(names, f.Source)
		}
		line += fmt.Sprintf(" (%d of %d sources failed: %s)", n, o.Sources, strings.Join(names, ", "))
	}
	return line
}

// RunResult is the ordered, human-readable record of a run.
type RunResult struct {
	Outcomes []Outcome `json:"outcomes"`
}

// Add appends an outcome.
func (r *RunResult) Add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Lines returns one outcome string per entry, in processing order.
func (r RunResult) Lines() []string {
	lines := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		lines = append(lines, o.String())
	}
	return lines
}

// String joins the lines with newlines.
func (r RunResult) String() string {
	return strings.Join(r.Lines(), "\n")
}

// Count returns how many outcomes are in the given state.
func (r RunResult) Count(state UnitState) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

// SetupFailure builds the single-entry result returned when a run cannot start.
func SetupFailure(err error) RunResult {
	return RunResult{Outcomes: []Outcome{{
		Unit:    "run",
		State:   UnitFailed,
		Message: "run aborted: " + err.Error(),
	}}}
}
