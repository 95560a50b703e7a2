package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler receives an event. A returned error is logged and isolated;
// it never propagates to the emitter or to other handlers.
type Handler func(Event) error

// Subscription pairs a handler with its filter
type subscription struct {
	id    string
	typ   string // event type or Wildcard
	fn    Handler
	once  bool
}

// Bus is the in-process publish/subscribe hub. Delivery is in
// registration order per event type, with wildcard subscribers after
// exact-type subscribers. Emit returns only after every handler has
// settled; EmitNoWait schedules the same ordered dispatch without
// waiting for it.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]*subscription // type -> subscriptions, registration order
	paused bool
	queue  []Event // events held while paused, FIFO

	// async dispatch: a single drainer goroutine preserves emit order
	pending  []Event
	draining bool

	logger *zap.Logger
}

// NewBus creates an event bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[string][]*subscription),
		logger: logger.Named("events"),
	}
}

var (
	defaultBus  *Bus
	defaultOnce sync.Mutex
)

// Default returns the process-wide bus, creating it on first use.
// Hosts that construct their own bus never touch it.
func Default() *Bus {
	defaultOnce.Lock()
	defer defaultOnce.Unlock()
	if defaultBus == nil {
		defaultBus = NewBus(nil)
	}
	return defaultBus
}

// ResetDefault discards the process-wide bus; tests use this to start
// from a clean subscription table
func ResetDefault() {
	defaultOnce.Lock()
	defer defaultOnce.Unlock()
	defaultBus = nil
}

// Subscribe registers a handler for an event type or the wildcard "*".
// It returns the subscription id.
func (b *Bus) Subscribe(eventType string, fn Handler) string {
	return b.subscribe(eventType, fn, false)
}

// SubscribeOnce registers a handler that receives at most one event
func (b *Bus) SubscribeOnce(eventType string, fn Handler) string {
	return b.subscribe(eventType, fn, true)
}

func (b *Bus) subscribe(eventType string, fn Handler, once bool) string {
	sub := &subscription{
		id:   uuid.New().String(),
		typ:  eventType,
		fn:   fn,
		once: once,
	}
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], sub)
	b.mu.Unlock()
	return sub.id
}

// Unsubscribe removes a subscription by id
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for typ, subs := range b.subs {
		for i, sub := range subs {
			if sub.id == id {
				b.subs[typ] = append(subs[:i], subs[i+1:]...)
				if len(b.subs[typ]) == 0 {
					delete(b.subs, typ)
				}
				return true
			}
		}
	}
	return false
}

// Emit delivers an event to all matching handlers in order and returns
// after every handler has settled. While paused, the event is queued
// instead and delivered on Resume.
func (b *Bus) Emit(event Event) {
	b.mu.Lock()
	if b.paused {
		b.queue = append(b.queue, event)
		b.mu.Unlock()
		return
	}
	handlers := b.snapshotLocked(event.Type)
	b.mu.Unlock()
	b.deliver(event, handlers)
}

// EmitNoWait schedules ordered delivery of the event and returns
// immediately. Relative order between EmitNoWait calls is preserved;
// handler errors are logged when they eventually surface.
func (b *Bus) EmitNoWait(event Event) {
	b.mu.Lock()
	if b.paused {
		b.queue = append(b.queue, event)
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, event)
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.mu.Unlock()

	go func() {
		for {
			b.mu.Lock()
			if len(b.pending) == 0 {
				b.draining = false
				b.mu.Unlock()
				return
			}
			next := b.pending[0]
			b.pending = b.pending[1:]
			handlers := b.snapshotLocked(next.Type)
			b.mu.Unlock()
			b.deliver(next, handlers)
		}
	}()
}

// snapshotLocked collects matching subscriptions (exact first, then
// wildcard) and removes once-handlers so they fire at most once
func (b *Bus) snapshotLocked(t EventType) []*subscription {
	var out []*subscription
	for _, key := range []string{string(t), Wildcard} {
		subs := b.subs[key]
		kept := subs[:0]
		for _, sub := range subs {
			out = append(out, sub)
			if !sub.once {
				kept = append(kept, sub)
			}
		}
		if len(kept) != len(subs) {
			if len(kept) == 0 {
				delete(b.subs, key)
			} else {
				b.subs[key] = append([]*subscription{}, kept...)
			}
		}
	}
	return out
}

// deliver runs handlers sequentially, isolating errors and panics
func (b *Bus) deliver(event Event, handlers []*subscription) {
	for _, sub := range handlers {
		b.safeCall(sub, event)
	}
}

func (b *Bus) safeCall(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panic",
				zap.String("event_type", string(event.Type)),
				zap.String("subscription", sub.id),
				zap.Any("panic", r))
		}
	}()
	if err := sub.fn(event); err != nil {
		b.logger.Warn("handler error",
			zap.String("event_type", string(event.Type)),
			zap.String("subscription", sub.id),
			zap.Error(err))
	}
}

// Pause holds emitted events in an in-memory queue
func (b *Bus) Pause() {
	b.mu.Lock()
	b.paused = true
	b.mu.Unlock()
}

// Resume drains the paused queue in FIFO order through full delivery
func (b *Bus) Resume() {
	b.mu.Lock()
	if !b.paused {
		b.mu.Unlock()
		return
	}
	b.paused = false
	queued := b.queue
	b.queue = nil
	b.mu.Unlock()

	for _, event := range queued {
		b.Emit(event)
	}
}

// SubscriptionCount returns the number of live subscriptions for a
// type, or across all types when typ is empty
func (b *Bus) SubscriptionCount(typ string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if typ != "" {
		return len(b.subs[typ])
	}
	total := 0
	for _, subs := range b.subs {
		total += len(subs)
	}
	return total
}

// HasSubscribers reports whether any handler would receive an event of
// the given type (wildcards included); empty typ asks about any type
func (b *Bus) HasSubscribers(typ string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if typ == "" {
		return len(b.subs) > 0
	}
	return len(b.subs[typ]) > 0 || len(b.subs[Wildcard]) > 0
}

// Clear removes every subscription and drops any paused queue
func (b *Bus) Clear() {
	b.mu.Lock()
	b.subs = make(map[string][]*subscription)
	b.queue = nil
	b.mu.Unlock()
}
