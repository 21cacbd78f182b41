// Package driver supplies the virtual clock's only tick source. Real
// hardware would raise a timer interrupt; this hosted kernel has none, so
// a goroutine ticks the scheduler on a fixed host-wall-clock interval
// instead, matching the spec's explicit-tick model (the scheduler itself
// never free-runs).
package driver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kacchi-os/kernel/internal/kernel/processmgr"
)

// Driver advances the scheduler's virtual clock once per Interval, and
// applies the aging pass once every agingEveryN ticks. Both are driven
// independently, matching the spec's observation that apply_aging is never
// invoked automatically by update_time.
type Driver struct {
	log       *zap.Logger
	scheduler *processmgr.Scheduler

	interval      time.Duration
	agingEveryN   uint32
}

// New builds a driver over scheduler. interval is the host wall-clock
// period between virtual ticks; agingEveryN is the number of ticks between
// aging passes (0 disables automatic aging — callers still retain the
// shell's manual "age" command either way).
func New(log *zap.Logger, scheduler *processmgr.Scheduler, interval time.Duration, agingEveryN uint32) *Driver {
	return &Driver{
		log:         log.Named("driver"),
		scheduler:   scheduler,
		interval:    interval,
		agingEveryN: agingEveryN,
	}
}

// Run ticks the scheduler until ctx is cancelled. Grounded on the
// teacher's supervisor loop: a single time.Timer reset each iteration,
// raced against ctx.Done() in a select.
func (d *Driver) Run(ctx context.Context) error {
	d.log.Info("tick driver started", zap.Duration("interval", d.interval))

	timer := time.NewTimer(d.interval)
	defer timer.Stop()

	var ticks uint32
	for {
		select {
		case <-ctx.Done():
			d.log.Info("tick driver stopped", zap.String("reason", ctx.Err().Error()))
			return ctx.Err()

		case <-timer.C:
			d.scheduler.UpdateTime()
			ticks++
			if d.agingEveryN > 0 && ticks%d.agingEveryN == 0 {
				d.scheduler.ApplyAging()
			}
			timer.Reset(d.interval)
		}
	}
}
