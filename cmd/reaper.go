package cmd

import (
	"context"
	"sync/atomic"
	"time"

	coreconfig "github.com/AzielCF/az-crm/core/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type idleReaper interface {
	ReapIdle(ctx context.Context, maxIdle time.Duration) (int, error)
}

// startReaper schedules the idle-session sweep. It returns a func that stops
// the scheduler and waits for a running sweep.
func startReaper(ctx context.Context, reaper idleReaper, cfg coreconfig.SessionConfig) (stop func()) {
	if cfg.ReaperSpec == "" || cfg.ReaperMaxIdle <= 0 {
		return func() {}
	}

	sched := cron.New(cron.WithLocation(time.UTC), cron.WithParser(cronParser))

	var running atomic.Bool
	_, err := sched.AddFunc(cfg.ReaperSpec, func() {
		// skip a tick instead of piling up sweeps
		if !running.CompareAndSwap(false, true) {
			return
		}
		defer running.Store(false)

		closed, err := reaper.ReapIdle(ctx, cfg.ReaperMaxIdle)
		if err != nil {
			logrus.WithError(err).Error("[REAPER] Sweep failed")
			return
		}
		if closed > 0 {
			logrus.Infof("[REAPER] Closed %d idle session(s)", closed)
		}
	})
	if err != nil {
		logrus.WithError(err).Errorf("[REAPER] Invalid schedule %q, reaper disabled", cfg.ReaperSpec)
		return func() {}
	}

	sched.Start()
	logrus.Infof("[REAPER] Closing sessions idle for %s (%s)", cfg.ReaperMaxIdle, cfg.ReaperSpec)
	return func() {
		<-sched.Stop().Done()
	}
}
