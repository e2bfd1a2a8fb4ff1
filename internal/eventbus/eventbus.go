// Package eventbus is the in-process publish/dispatch layer that routes
// named events to registered handlers (spec §4.1). It is grounded on the
// original arbiter's events.py: EventParallel/EventSerialized become Go
// goroutines and buffered channels instead of gevent spawn/queue, and the
// periodic sleep_first/run_first decorators become the Periodic helper
// built on robfig/cron's interval scheduling primitive.
package eventbus

import (
	"context"
	"sync"

	"github.com/bountyarbiter/arbiterd/internal/platform/logger"
)

// Mode selects how a subscription is dispatched.
type Mode int

const (
	// Parallel spawns a new goroutine per publish; handlers may outlive
	// the publisher.
	Parallel Mode = iota
	// Serialized enqueues onto a private FIFO of the given concurrency;
	// a fixed pool of workers drains it in publish order.
	Serialized
)

// Handler is invoked with the arguments passed to Publish.
type Handler func(ctx context.Context, args ...interface{})

type subscription struct {
	handler  Handler
	mode     Mode
	queue    chan job
	workers  int
	priority int // lower runs first
}

type job struct {
	ctx  context.Context
	args []interface{}
}

// Bus is a named-event dispatcher. Zero value is not usable; use New.
type Bus struct {
	log *logger.Logger

	mu   sync.RWMutex
	subs map[string][]*subscription

	wg       sync.WaitGroup // in-flight parallel tasks
	workerWg sync.WaitGroup // serialized worker goroutines
	queues   []chan job
}

// New constructs an empty Bus.
func New(log *logger.Logger) *Bus {
	return &Bus{log: log, subs: make(map[string][]*subscription)}
}

// Subscribe registers handler for name with the given dispatch mode. For
// Serialized mode, concurrency is the FIFO's worker count (1 = strict
// serial). priority controls ordering among handlers for the same event
// (lower runs first); ties preserve registration order.
func (b *Bus) Subscribe(name string, mode Mode, concurrency int, priority int, handler Handler) {
	sub := &subscription{handler: handler, mode: mode, priority: priority}
	if mode == Serialized {
		if concurrency < 1 {
			concurrency = 1
		}
		sub.workers = concurrency
		sub.queue = make(chan job, 4096)
		b.queues = append(b.queues, sub.queue)
		for i := 0; i < concurrency; i++ {
			b.workerWg.Add(1)
			go b.drain(sub)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	list := append(b.subs[name], sub)
	// stable sort by priority
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].priority < list[j-1].priority; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
	b.subs[name] = list
}

func (b *Bus) drain(sub *subscription) {
	defer b.workerWg.Done()
	for j := range sub.queue {
		b.invoke(sub, j.ctx, j.args)
	}
}

// invoke calls handler, recovering a panic and logging it so one handler's
// failure never crashes the bus or blocks sibling handlers (spec §4.1
// guarantee).
func (b *Bus) invoke(sub *subscription, ctx context.Context, args []interface{}) {
	defer func() {
		if r := recover(); r != nil {
			if b.log != nil {
				b.log.WithField("panic", r).Error("eventbus: handler panicked")
			}
		}
	}()
	sub.handler(ctx, args...)
}

// Publish delivers args to every handler subscribed to name. Parallel
// handlers get their own goroutine; serialized handlers are enqueued in
// call order onto their private FIFO.
func (b *Bus) Publish(ctx context.Context, name string, args ...interface{}) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[name]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		switch sub.mode {
		case Parallel:
			b.wg.Add(1)
			go func(sub *subscription) {
				defer b.wg.Done()
				b.invoke(sub, ctx, args)
			}(sub)
		case Serialized:
			select {
			case sub.queue <- job{ctx: ctx, args: args}:
			default:
				if b.log != nil {
					b.log.WithField("event", name).Warn("eventbus: serialized queue full, dropping")
				}
			}
		}
	}
}

// Wait blocks until every currently in-flight parallel task has returned.
// It does not drain serialized queues; use Close for full shutdown.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Close stops accepting new serialized work by closing every subscription's
// queue and waits for their workers to drain and exit. Call after the
// producers (Ingress, periodic tickers) have stopped.
func (b *Bus) Close() {
	b.mu.Lock()
	queues := b.queues
	b.queues = nil
	b.mu.Unlock()

	for _, q := range queues {
		close(q)
	}
	b.workerWg.Wait()
}
