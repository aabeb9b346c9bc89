package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sheetsync/internal/config"
	"github.com/sells-group/sheetsync/internal/model"
	"github.com/sells-group/sheetsync/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertUnitsFailed     AlertType = "units_failed"
	AlertRunAborted      AlertType = "run_aborted"
	AlertRunFailureRate  AlertType = "run_failure_rate"
	AlertSourcesDegraded AlertType = "sources_degraded"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns run results and run-log snapshots into alerts and delivers
// them to a webhook.
type Alerter struct {
	cfg    config.AlertConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given alert config.
func NewAlerter(cfg config.AlertConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			OnRetry:        resilience.RetryLogger("webhook", "send_alert"),
		},
	}
}

// EvaluateRun returns the alerts for one finished run.
func (a *Alerter) EvaluateRun(runID string, result model.RunResult) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	var failed, degraded []string
	for _, o := range result.Outcomes {
		if o.State == model.UnitFailed {
			failed = append(failed, o.String())
		}
		if len(o.FailedSources) > 0 {
			degraded = append(degraded, o.Unit)
		}
	}

	// A setup failure is a single run-level outcome.
	if len(result.Outcomes) == 1 && result.Outcomes[0].Unit == "run" && result.Outcomes[0].State == model.UnitFailed {
		return []Alert{{
			Type:      AlertRunAborted,
			Severity:  "critical",
			Message:   result.Outcomes[0].Message,
			Details:   map[string]any{"run_id": runID},
			Timestamp: now,
		}}
	}

	if len(failed) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertUnitsFailed,
			Severity: "high",
			Message:  fmt.Sprintf("%d of %d units failed to load", len(failed), len(result.Outcomes)),
			Details: map[string]any{
				"run_id":   runID,
				"failures": failed,
			},
			Timestamp: now,
		})
	}

	if len(degraded) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertSourcesDegraded,
			Severity: "warning",
			Message:  fmt.Sprintf("%d units loaded with missing sources", len(degraded)),
			Details: map[string]any{
				"run_id": runID,
				"units":  degraded,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Evaluate checks a run-log snapshot against the failure-rate threshold.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	finished := snap.RunsComplete + snap.RunsFailed
	if finished < 5 || a.cfg.FailureRateThreshold <= 0 || snap.FailRate <= a.cfg.FailureRateThreshold {
		return nil
	}
	return []Alert{{
		Type:     AlertRunFailureRate,
		Severity: "high",
		Message: fmt.Sprintf(
			"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
			snap.FailRate*100, a.cfg.FailureRateThreshold*100,
			snap.RunsFailed, finished, snap.LookbackHours,
		),
		Details: map[string]any{
			"failure_rate": snap.FailRate,
			"threshold":    a.cfg.FailureRateThreshold,
			"failed":       snap.RunsFailed,
			"finished":     finished,
		},
		Timestamp: time.Now().UTC(),
	}}
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a == nil || a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// NotifyRun evaluates and sends the alerts for one finished run.
func (a *Alerter) NotifyRun(ctx context.Context, runID string, result model.RunResult) int {
	if a == nil {
		return 0
	}
	return a.SendAlerts(ctx, a.EvaluateRun(runID, result))
}

// sendWebhook posts a single alert to the webhook URL. 5xx responses and
// network errors are retried.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		return a.post(ctx, payload)
	})
}

func (a *Alerter) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
