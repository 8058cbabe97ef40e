// Package retention prunes old access records on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"appbridge/pkg/config"
	"appbridge/pkg/logger"
	"appbridge/pkg/store"
)

const defaultPeriod = 7 * 24 * time.Hour

// Start launches the retention scheduler when enabled. The returned
// cancel func stops it.
func Start(ctx context.Context, cfg config.AccessConfig) (context.CancelFunc, error) {
	ret := cfg.Retention
	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	// empty cron means daily @02:00
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	period := ret.Period.Duration()
	if period <= 0 {
		period = defaultPeriod
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", period)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, period)
	return cancel, nil
}

// RunOnce prunes everything older than the period immediately.
func RunOnce(period time.Duration) (int, error) {
	if !store.Ready() {
		return 0, fmt.Errorf("access-record store not open")
	}
	return store.PruneBefore(time.Now().UTC().Add(-period))
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then, pruning on each wakeup.
func runScheduler(ctx context.Context, cronExpr string, period time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if n, err := RunOnce(period); err != nil {
				logger.Error("retention_run_error", "error", err)
			} else {
				logger.Info("retention_run_done", "pruned", n)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}
