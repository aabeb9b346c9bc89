package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcome_String(t *testing.T) {
	o := Outcome{Message: "Loaded 10 rows for Capacity - Paid Media into p.ds.performance_capacity"}
	assert.Equal(t, o.Message, o.String())

	o.Sources = 2
	o.FailedSources = []SourceFailure{{Source: "Team B", Error: "timeout"}}
	assert.Equal(t, o.Message+" (1 of 2 sources failed: Team B)", o.String())
}

func TestRunResult(t *testing.T) {
	var r RunResult
	r.Add(Outcome{State: UnitDone, Message: "one"})
	r.Add(Outcome{State: UnitNoData, Message: "two"})
	r.Add(Outcome{State: UnitDone, Message: "three"})

	assert.Equal(t, []string{"one", "two", "three"}, r.Lines())
	assert.Equal(t, "one\ntwo\nthree", r.String())
	assert.Equal(t, 2, r.Count(UnitDone))
	assert.Equal(t, 0, r.Count(UnitFailed))
}

func TestSetupFailure(t *testing.T) {
	r := SetupFailure(errors.New("config: read file"))
	assert.Len(t, r.Outcomes, 1)
	assert.Equal(t, UnitFailed, r.Outcomes[0].State)
	assert.Equal(t, "run aborted: config: read file", r.String())
}
