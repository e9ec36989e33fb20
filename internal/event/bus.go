// Package event provides a generic in-process publish/subscribe bus.
package event

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"devwatch/internal/buffer"
	"devwatch/internal/logging"
	"devwatch/internal/metrics"
)

const defaultSubscriberBufferSize = 128

// Typed events report a type label used for metrics.
type Typed interface {
	Type() string
}

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	// BlockOnFull waits up to WriteTimeout for slow subscribers instead of
	// dropping. A subscriber that times out is removed.
	BlockOnFull  bool
	WriteTimeout time.Duration
	HistorySize  int
	Registry     *metrics.Registry
	Logger       *logging.Logger
}

type Bus[T any] struct {
	mu          sync.Mutex
	subscribers map[uint64]subscription[T]
	nextSubID   uint64
	closed      bool
	closeOnce   sync.Once
	options     BusOptions
	published   atomic.Int64
	dropped     atomic.Int64
	history     *buffer.Ring[T]
}

type subscription[T any] struct {
	id     uint64
	ch     chan T
	filter func(T) bool
}

func NewBus[T any](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	bus := &Bus[T]{
		subscribers: make(map[uint64]subscription[T]),
		options:     opts,
	}
	if opts.HistorySize > 0 {
		bus.history = buffer.NewRing[T](opts.HistorySize)
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

// SubscribeFiltered returns a channel receiving events accepted by filter and
// a cancel func that closes it.
func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	if b == nil {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan T, b.options.SubscriberBufferSize)
	id := atomic.AddUint64(&b.nextSubID, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subscribers[id] = subscription[T]{id: id, ch: ch, filter: filter}
	b.mu.Unlock()

	return ch, func() {
		b.removeSubscriber(id)
	}
}

func (b *Bus[T]) Publish(event T) {
	if b == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.appendHistoryLocked(event)
	subscribers := make([]subscription[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	eventType := eventTypeOf(event)
	b.published.Add(1)
	b.options.Registry.IncEventPublished(b.busName(), eventType)

	for _, sub := range subscribers {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		if b.options.BlockOnFull {
			b.blockingSend(sub, event, eventType)
			continue
		}
		b.nonBlockingSend(sub, event, eventType)
	}
}

func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription[T])
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
	})
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Dropped reports how many deliveries were skipped for full subscribers.
func (b *Bus[T]) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// DumpHistory returns a copy of the retained events, oldest first.
func (b *Bus[T]) DumpHistory() []T {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.List()
}

func (b *Bus[T]) nonBlockingSend(sub subscription[T], event T, eventType string) {
	delivered := b.safeSend(sub, func() bool {
		select {
		case sub.ch <- event:
			return true
		default:
			return false
		}
	})
	if !delivered {
		b.incDropped(eventType)
	}
}

func (b *Bus[T]) blockingSend(sub subscription[T], event T, eventType string) {
	delivered := b.safeSend(sub, func() bool {
		if b.options.WriteTimeout <= 0 {
			sub.ch <- event
			return true
		}
		timer := time.NewTimer(b.options.WriteTimeout)
		defer timer.Stop()
		select {
		case sub.ch <- event:
			return true
		case <-timer.C:
			return false
		}
	})
	if !delivered {
		b.incDropped(eventType)
		b.removeSubscriber(sub.id)
	}
}

// safeSend guards against sends racing a concurrent cancel.
func (b *Bus[T]) safeSend(sub subscription[T], send func() bool) (delivered bool) {
	defer func() {
		if recover() != nil {
			delivered = false
		}
	}()
	return send()
}

func (b *Bus[T]) removeSubscriber(id uint64) {
	b.mu.Lock()
	existing, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()

	if ok {
		close(existing.ch)
	}
}

func (b *Bus[T]) incDropped(eventType string) {
	dropped := b.dropped.Add(1)
	b.options.Registry.IncEventDropped(b.busName(), eventType)
	if dropped == 1 || dropped%100 == 0 {
		b.options.Logger.Warn("event bus dropped events", map[string]string{
			"bus":     b.busName(),
			"type":    eventType,
			"dropped": strconv.FormatInt(dropped, 10),
		})
	}
}

func (b *Bus[T]) appendHistoryLocked(event T) {
	b.history.Add(event)
}

func (b *Bus[T]) busName() string {
	if b.options.Name == "" {
		return "event_bus"
	}
	return b.options.Name
}

func eventTypeOf(event any) string {
	typed, ok := event.(Typed)
	if !ok || typed.Type() == "" {
		return "unknown"
	}
	return typed.Type()
}
