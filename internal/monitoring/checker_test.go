package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/sheetsync/internal/config"
	"github.com/sells-group/sheetsync/internal/store"
)

func runsWithFailures(failed, complete int) []store.Run {
	var runs []store.Run
	for range failed {
		runs = append(runs, store.Run{Status: store.RunStatusFailed, Failed: 1})
	}
	for range complete {
		runs = append(runs, store.Run{Status: store.RunStatusComplete})
	}
	return runs
}

func newTestChecker(t *testing.T, runs *fakeRuns, status *atomic.Int32) (*Checker, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(ts.Close)

	cfg := config.AlertConfig{WebhookURL: ts.URL, FailureRateThreshold: 0.5, CheckIntervalSecs: 60}
	return NewChecker(NewCollector(runs), NewAlerter(cfg), cfg), &hits
}

func TestChecker_AlertsOncePerBreach(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	runs := &fakeRuns{runs: runsWithFailures(4, 2)}
	c, hits := newTestChecker(t, runs, &status)

	assert.Equal(t, 1, c.Check(context.Background()))
	assert.Equal(t, 0, c.Check(context.Background()), "still breached, already alerted")
	assert.Equal(t, int32(1), hits.Load())

	runs.runs = runsWithFailures(1, 9)
	assert.Equal(t, 0, c.Check(context.Background()))

	runs.runs = runsWithFailures(6, 1)
	assert.Equal(t, 1, c.Check(context.Background()), "a new breach alerts again")
	assert.Equal(t, int32(2), hits.Load())
}

func TestChecker_UndeliveredAlertIsRetriedNextCheck(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	c, hits := newTestChecker(t, &fakeRuns{runs: runsWithFailures(5, 0)}, &status)

	assert.Equal(t, 0, c.Check(context.Background()))

	status.Store(http.StatusOK)
	assert.Equal(t, 1, c.Check(context.Background()))
	assert.Equal(t, int32(2), hits.Load())
}

func TestChecker_TooFewRunsNeverAlert(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	c, hits := newTestChecker(t, &fakeRuns{runs: runsWithFailures(4, 0)}, &status)

	assert.Equal(t, 0, c.Check(context.Background()))
	assert.Zero(t, hits.Load())
}

func TestChecker_CollectErrorSendsNothing(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	c, hits := newTestChecker(t, &fakeRuns{listErr: assert.AnError}, &status)

	assert.Equal(t, 0, c.Check(context.Background()))
	assert.Zero(t, hits.Load())
}

func TestNewChecker_Defaults(t *testing.T) {
	c := NewChecker(NewCollector(&fakeRuns{}), NewAlerter(config.AlertConfig{}), config.AlertConfig{})
	assert.Equal(t, 5*time.Minute, c.interval)
	assert.Equal(t, 24, c.lookback)
}

func TestChecker_RunChecksAtStartAndStopsOnCancel(t *testing.T) {
	runs := &fakeRuns{}
	c := NewChecker(NewCollector(runs), NewAlerter(config.AlertConfig{}), config.AlertConfig{CheckIntervalSecs: 3600, LookbackWindowHours: 6})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return !runs.lastFilter().StartedAfter.IsZero()
	}, time.Second, 5*time.Millisecond, "first check runs without waiting an interval")
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}
