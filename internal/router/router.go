package router

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Bus routes application events to subscribers keyed by event name.
type Bus interface {
	// Start begins dispatching queued envelopes.
	Start(ctx context.Context) error

	// Stop drains the queue and shuts down dispatch.
	Stop(ctx context.Context) error

	// Publish queues an envelope without blocking. Returns false once stopped.
	Publish(env Envelope) bool

	// Subscribe registers h for one event name. The returned func removes it.
	Subscribe(event string, h Handler) (unsubscribe func())

	// SubscribeAll registers h for every event.
	SubscribeAll(h Handler) (unsubscribe func())

	// Stats returns current bus statistics.
	Stats() BusStats
}

type subscription struct {
	id uint64
	h  Handler
}

// bus is the internal implementation.
type bus struct {
	cfg    BusConfig
	logger *slog.Logger
	queue  *GrowableBuffer[Envelope]

	subsMu sync.RWMutex
	nextID uint64
	byName map[string][]subscription
	all    []subscription

	startOnce sync.Once
	done      chan struct{}

	mu           sync.Mutex
	published    int64
	delivered    int64
	unrouted     int64
	handlerPanic int64
	dropped      int64
}

// NewBus creates a new event bus.
func NewBus(cfg BusConfig, logger *slog.Logger) Bus {
	if logger == nil {
		logger = slog.Default()
	}

	return &bus{
		cfg:    cfg,
		logger: logger,
		queue:  NewGrowableBuffer[Envelope](cfg.BufferSize),
		byName: make(map[string][]subscription),
		done:   make(chan struct{}),
	}
}

// Start begins dispatching.
func (b *bus) Start(ctx context.Context) error {
	b.startOnce.Do(func() {
		go b.dispatchLoop()
		b.logger.Info("event bus started", "buffer", b.cfg.BufferSize)
	})
	return nil
}

// Stop closes the queue and waits for pending envelopes to be delivered.
func (b *bus) Stop(ctx context.Context) error {
	b.logger.Info("stopping event bus")
	b.queue.Close()

	// Never started: nothing will drain the queue.
	b.startOnce.Do(func() { close(b.done) })

	select {
	case <-b.done:
		b.logger.Info("event bus stopped")
	case <-ctx.Done():
		// Drop what is still queued so the dispatch goroutine exits after
		// the envelope it is delivering now.
		dropped := b.queue.DrainTo(0)
		b.mu.Lock()
		b.dropped += int64(len(dropped))
		b.mu.Unlock()
		b.logger.Warn("event bus stop timed out", "dropped", len(dropped))
		return ctx.Err()
	}
	return nil
}

// Publish queues an envelope.
func (b *bus) Publish(env Envelope) bool {
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = time.Now()
	}
	if !b.queue.Send(env) {
		return false
	}
	b.mu.Lock()
	b.published++
	b.mu.Unlock()
	return true
}

// Subscribe registers a handler for a single event name.
func (b *bus) Subscribe(event string, h Handler) func() {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	b.nextID++
	id := b.nextID
	b.byName[event] = append(b.byName[event], subscription{id: id, h: h})

	return func() {
		b.subsMu.Lock()
		defer b.subsMu.Unlock()
		b.byName[event] = removeSub(b.byName[event], id)
		if len(b.byName[event]) == 0 {
			delete(b.byName, event)
		}
	}
}

// SubscribeAll registers a handler for every event.
func (b *bus) SubscribeAll(h Handler) func() {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, h: h})

	return func() {
		b.subsMu.Lock()
		defer b.subsMu.Unlock()
		b.all = removeSub(b.all, id)
	}
}

// Stats returns current statistics.
func (b *bus) Stats() BusStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BusStats{
		Published:    b.published,
		Delivered:    b.delivered,
		Unrouted:     b.unrouted,
		HandlerPanic: b.handlerPanic,
		Dropped:      b.dropped,
		Queue:        b.queue.Stats(),
	}
}

// dispatchLoop is the single delivery goroutine.
func (b *bus) dispatchLoop() {
	defer close(b.done)

	for {
		env, ok := b.queue.Receive()
		if !ok {
			return
		}
		b.dispatch(env)
	}
}

// dispatch delivers one envelope in subscription order.
func (b *bus) dispatch(env Envelope) {
	b.subsMu.RLock()
	targets := make([]subscription, 0, len(b.byName[env.Event])+len(b.all))
	targets = append(targets, b.byName[env.Event]...)
	targets = append(targets, b.all...)
	b.subsMu.RUnlock()

	if len(targets) == 0 {
		b.mu.Lock()
		b.unrouted++
		b.mu.Unlock()
		b.logger.Debug("no subscriber for event", "event", env.Event)
		return
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	for _, sub := range targets {
		b.call(sub.h, env)
	}
}

func (b *bus) call(h Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			b.handlerPanic++
			b.mu.Unlock()
			b.logger.Error("event handler panicked", "event", env.Event, "panic", r)
		}
	}()

	h(env)

	b.mu.Lock()
	b.delivered++
	b.mu.Unlock()
}

func removeSub(subs []subscription, id uint64) []subscription {
	out := subs[:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
