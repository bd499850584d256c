package robot

import (
	"context"

	"go.uber.org/atomic"

	"github.com/phaser-robotics/xerocore/logging"
	"github.com/phaser-robotics/xerocore/utils"
)

// LoopStats are counters kept by a Loop.
type LoopStats struct {
	Ticks    int64
	Overruns int64
	Errors   int64
}

// Loop drives a scheduler at the robot's period on a background worker.
type Loop struct {
	scheduler *Scheduler
	logger    logging.Logger
	// afterTick runs on the loop goroutine after every tick, for example to step a simulation.
	afterTick func()

	workers  utils.StoppableWorkers
	ticks    atomic.Int64
	overruns atomic.Int64
	errors   atomic.Int64
}

// NewLoop returns a stopped loop. afterTick may be nil.
func NewLoop(s *Scheduler, afterTick func()) *Loop {
	return &Loop{
		scheduler: s,
		logger:    s.Robot().Logger().Sublogger("loop"),
		afterTick: afterTick,
	}
}

// Start begins ticking. The loop stops when ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	l.workers = utils.NewStoppableWorkersWithContext(ctx, l.run)
}

// Stop ends the loop, waits for the current tick and cancels every action.
func (l *Loop) Stop() {
	if l.workers == nil {
		return
	}
	l.workers.Stop()
	l.scheduler.CancelAll()
}

func (l *Loop) run(ctx context.Context) {
	r := l.scheduler.Robot()
	ticker := r.Clock().Ticker(r.Period())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		started := r.Clock().Now()
		if err := l.scheduler.Tick(ctx); err != nil {
			l.errors.Inc()
			l.logger.Warnw("tick failed", "tick", r.Ticks(), "error", err)
		}
		if l.afterTick != nil {
			l.afterTick()
		}
		if r.Clock().Since(started) > r.Period() {
			l.overruns.Inc()
		}
		l.ticks.Inc()
	}
}

// Stats returns the loop counters.
func (l *Loop) Stats() LoopStats {
	return LoopStats{
		Ticks:    l.ticks.Load(),
		Overruns: l.overruns.Load(),
		Errors:   l.errors.Load(),
	}
}
