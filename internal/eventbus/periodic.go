package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Phase selects whether a periodic handler sleeps before its first run
// (SleepFirst) or runs immediately then sleeps (RunFirst), matching the
// original arbiter's @periodic/@periodicx decorators (spec §4.1).
type Phase int

const (
	SleepFirst Phase = iota
	RunFirst
)

// PeriodicFunc is invoked on each tick. It receives a fresh context derived
// from the one passed to Periodic (or Group.Add).
type PeriodicFunc func(ctx context.Context)

// periodicHandle lets the caller stop one periodic loop independently of
// the others (spec §4.1: "periodic handlers are independent").
type periodicHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the loop and waits for its current tick to finish.
func (h *periodicHandle) Stop() {
	h.cancel()
	<-h.done
}

// fixedDelay is a cron.Schedule that fires exactly its duration after t.
// cron.ConstantDelaySchedule rounds to whole seconds, which would fire
// sub-second intervals early.
type fixedDelay time.Duration

// Next implements cron.Schedule.
func (d fixedDelay) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

// Periodic starts fn on a fixed interval under phase semantics. It runs
// until ctx is cancelled or the returned handle's Stop is called. Each tick
// runs in its own goroutine's timeline but the scheduling loop itself never
// overlaps a tick with the next (a long-running tick simply delays its own
// next fire, matching a single worker per periodic handler).
func Periodic(ctx context.Context, interval time.Duration, phase Phase, fn PeriodicFunc) *periodicHandle {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	h := &periodicHandle{cancel: cancel, done: done}

	// robfig/cron's Schedule interface decouples "when is the next fire"
	// from the sleep/wake loop, the same way it decouples cron-expression
	// parsing from its own runner. A fixed-delay schedule is enough for
	// the arbiter's sleep_first/run_first handlers, but going through
	// cron.Schedule keeps the door open for real cron expressions later.
	var schedule cron.Schedule = fixedDelay(interval)

	go func() {
		defer close(done)
		if phase == RunFirst {
			runTick(runCtx, fn)
			if runCtx.Err() != nil {
				return
			}
		}

		next := schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		defer timer.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-timer.C:
				runTick(runCtx, fn)
				next = schedule.Next(time.Now())
				timer.Reset(time.Until(next))
			}
		}
	}()

	return h
}

func runTick(ctx context.Context, fn PeriodicFunc) {
	defer func() {
		_ = recover() // a panicking periodic handler must not kill the loop
	}()
	fn(ctx)
}

// Group manages a set of independent periodic handles so a component can
// start several and stop them all together on shutdown.
type Group struct {
	mu      sync.Mutex
	handles []*periodicHandle
}

// Add starts fn under phase/interval and tracks it in the group.
func (g *Group) Add(ctx context.Context, interval time.Duration, phase Phase, fn PeriodicFunc) {
	h := Periodic(ctx, interval, phase, fn)
	g.mu.Lock()
	g.handles = append(g.handles, h)
	g.mu.Unlock()
}

// StopAll stops every handle in the group and waits for them to finish.
func (g *Group) StopAll() {
	g.mu.Lock()
	handles := g.handles
	g.handles = nil
	g.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
}
