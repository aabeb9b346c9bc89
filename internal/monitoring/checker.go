package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/sheetsync/internal/config"
)

// Checker watches the run log for a failure rate above the threshold. It
// alerts once when the rate crosses the threshold and again only after the
// rate has recovered and crossed it anew, so a bad day is one alert rather
// than one per interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int

	mu       sync.Mutex
	breached bool
}

// NewChecker creates a Checker. Interval and lookback default to 5m and 24h.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.AlertConfig) *Checker {
	c := &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  time.Duration(cfg.CheckIntervalSecs) * time.Second,
		lookback:  cfg.LookbackWindowHours,
	}
	if c.interval <= 0 {
		c.interval = 5 * time.Minute
	}
	if c.lookback <= 0 {
		c.lookback = 24
	}
	return c
}

// Run checks once at start and then every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		c.Check(ctx)
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects one snapshot and sends the failure-rate alert on a new
// breach. It returns the number of alerts sent.
func (c *Checker) Check(ctx context.Context) int {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		zap.L().Error("monitoring: collect run stats", zap.Error(err))
		return 0
	}

	alerts := c.alerter.Evaluate(snap)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(alerts) == 0 {
		if c.breached {
			zap.L().Info("monitoring: run failure rate recovered", zap.Float64("fail_rate", snap.FailRate))
		}
		c.breached = false
		return 0
	}
	if c.breached {
		return 0
	}
	// An undelivered alert is tried again on the next check.
	sent := c.alerter.SendAlerts(ctx, alerts)
	c.breached = sent > 0
	return sent
}
