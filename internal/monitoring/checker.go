// Package monitoring watches the run log and posts webhook alerts when
// builds fail, stop happening, or shrink the directory sharply.
package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/config"
)

// renotifyAfter is how long an alert that keeps firing stays quiet before
// it is posted again.
const renotifyAfter = 24 * time.Hour

// Checker evaluates run health on an interval and posts new alerts.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	now       func() time.Time

	mu     sync.Mutex
	sentAt map[AlertType]time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		now:       time.Now,
		sentAt:    make(map[AlertType]time.Time),
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("run health checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)
	if ctx.Err() != nil {
		return
	}
	c.Check(ctx, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("run health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check collects a snapshot and returns every alert it raises. Only alerts
// that are new, or have been quiet for a day, are posted to the webhook.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: collect run health", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	fresh := c.unsent(alerts)
	if len(fresh) == 0 {
		log.Debug("monitoring: nothing new to report", zap.Int("active", len(alerts)))
		return alerts
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alerts raised",
		zap.Int("active", len(alerts)),
		zap.Int("new", len(fresh)),
		zap.Int("sent", sent),
	)
	return alerts
}

// unsent filters alerts down to those not posted within renotifyAfter and
// forgets types that are no longer firing, so a recurrence posts at once.
func (c *Checker) unsent(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	active := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		active[a.Type] = true
		if last, ok := c.sentAt[a.Type]; ok && now.Sub(last) < renotifyAfter {
			continue
		}
		c.sentAt[a.Type] = now
		fresh = append(fresh, a)
	}
	for t := range c.sentAt {
		if !active[t] {
			delete(c.sentAt, t)
		}
	}
	return fresh
}
