package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sheetsync/internal/config"
	"github.com/sells-group/sheetsync/internal/model"
)

func TestAlerter_EvaluateRun_NoAlerts(t *testing.T) {
	a := NewAlerter(config.AlertConfig{})

	var r model.RunResult
	r.Add(model.Outcome{Unit: "Hours", State: model.UnitDone, Message: "Loaded 3 rows"})
	r.Add(model.Outcome{Unit: "Leads", State: model.UnitNoData, Message: "No data"})

	assert.Empty(t, a.EvaluateRun("run-1", r))
}

func TestAlerter_EvaluateRun_FailedAndDegraded(t *testing.T) {
	a := NewAlerter(config.AlertConfig{})

	var r model.RunResult
	r.Add(model.Outcome{Unit: "Hours", State: model.UnitFailed, Message: "Failed to load Hours"})
	r.Add(model.Outcome{Unit: "Leads", State: model.UnitDone, Sources: 2,
		FailedSources: []model.SourceFailure{{Source: "team-b", Error: "timeout"}}})

	alerts := a.EvaluateRun("run-1", r)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertUnitsFailed, alerts[0].Type)
	assert.Equal(t, "1 of 2 units failed to load", alerts[0].Message)
	assert.Equal(t, AlertSourcesDegraded, alerts[1].Type)
	assert.Equal(t, []string{"Leads"}, alerts[1].Details["units"])
}

func TestAlerter_EvaluateRun_SetupFailure(t *testing.T) {
	a := NewAlerter(config.AlertConfig{})

	alerts := a.EvaluateRun("run-1", model.SetupFailure(assert.AnError))
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunAborted, alerts[0].Type)
	assert.Equal(t, "critical", alerts[0].Severity)
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.AlertConfig{FailureRateThreshold: 0.10})

	alerts := a.Evaluate(&Snapshot{RunsComplete: 12, RunsFailed: 8, FailRate: 0.4, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(config.AlertConfig{FailureRateThreshold: 0.10})

	// Only 3 finished runs, below the 5-run minimum.
	alerts := a.Evaluate(&Snapshot{RunsComplete: 1, RunsFailed: 2, FailRate: 0.666, LookbackHours: 24})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_Disabled(t *testing.T) {
	a := NewAlerter(config.AlertConfig{})
	assert.Empty(t, a.Evaluate(&Snapshot{RunsFailed: 10, FailRate: 1}))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.AlertConfig{WebhookURL: ts.URL})

	alerts := []Alert{
		{Type: AlertUnitsFailed, Severity: "high", Message: "test alert 1"},
		{Type: AlertSourcesDegraded, Severity: "warning", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_NotifyRun(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	a := NewAlerter(config.AlertConfig{WebhookURL: ts.URL})
	sent := a.NotifyRun(context.Background(), "run-1", model.SetupFailure(assert.AnError))
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())

	var nilAlerter *Alerter
	assert.Equal(t, 0, nilAlerter.NotifyRun(context.Background(), "run-1", model.SetupFailure(assert.AnError)))
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.AlertConfig{WebhookURL: ""})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertUnitsFailed, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	a := NewAlerter(config.AlertConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertUnitsFailed, Message: "test"}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(1), received.Load(), "4xx is not retried")
}

func TestAlerter_SendAlerts_RetriesServerErrors(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if received.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.AlertConfig{WebhookURL: ts.URL})
	a.retry.InitialBackoff = time.Millisecond
	a.retry.MaxBackoff = time.Millisecond

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertUnitsFailed, Message: "test"}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(3), received.Load())
}
