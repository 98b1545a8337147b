package bus

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/beads/pkg/types"
)

// defaultSubscriberBufferSize bounds each subscription's queue when New is
// called without an override, matching the teacher's per-subscriber buffer
// in pkg/events.
const defaultSubscriberBufferSize = 50

// Pattern selects which events a subscription receives.
type Pattern struct {
	all         bool
	aggregateID string
	kinds       map[types.EventKind]bool
}

// All matches every event.
func All() Pattern { return Pattern{all: true} }

// ByAggregate matches events for one aggregate (bead) id.
func ByAggregate(aggregateID string) Pattern {
	return Pattern{aggregateID: aggregateID}
}

// ByKind matches events whose Kind is one of kinds.
func ByKind(kinds ...types.EventKind) Pattern {
	set := make(map[types.EventKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return Pattern{kinds: set}
}

func (p Pattern) matches(e types.Event) bool {
	if p.all {
		return true
	}
	if p.aggregateID != "" {
		return e.AggregateID == p.aggregateID
	}
	if p.kinds != nil {
		return p.kinds[e.Kind]
	}
	return false
}

// Subscription is a live registration on the Bus. Receive events from C;
// call Unsubscribe (or Bus.Unsubscribe) when done.
type Subscription struct {
	C       <-chan types.Event
	ch      chan types.Event
	pattern Pattern
	dropped int64
}

// Dropped returns the number of events evicted from this subscription's
// buffer due to overflow (drop-oldest policy).
func (s *Subscription) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

// Bus is the single-process event fan-out described in spec §4.2.
type Bus struct {
	mu         sync.RWMutex
	subs       map[*Subscription]bool
	bufferSize int
}

// New creates an empty Bus whose subscriptions use the default buffer size.
func New() *Bus {
	return NewWithBufferSize(defaultSubscriberBufferSize)
}

// NewWithBufferSize creates an empty Bus whose subscriptions each buffer up
// to bufferSize events before the drop-oldest policy kicks in.
func NewWithBufferSize(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBufferSize
	}
	return &Bus{subs: make(map[*Subscription]bool), bufferSize: bufferSize}
}

// Subscribe registers a new subscription matching pattern. Events published
// after Subscribe returns are guaranteed delivery consideration (subject to
// the bounded buffer and drop-oldest policy); events published concurrently
// with a Subscribe call may or may not be delivered.
func (b *Bus) Subscribe(pattern Pattern) *Subscription {
	ch := make(chan types.Event, b.bufferSize)
	sub := &Subscription{C: ch, ch: ch, pattern: pattern}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = true
	return sub
}

// Unsubscribe cancels sub. It runs to completion (holding the same lock
// Publish's broadcast takes) before the next Publish call proceeds, so a
// cancelling subscriber is guaranteed not to receive any event published
// after Unsubscribe returns.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[sub] {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish fans event out to every matching subscription. It never blocks:
// a subscription whose buffer is full has its oldest buffered event evicted
// to make room (drop-oldest), and the eviction is counted.
func (b *Bus) Publish(event types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !sub.pattern.matches(event) {
			continue
		}
		deliver(sub, event)
	}
}

func deliver(sub *Subscription, event types.Event) {
	select {
	case sub.ch <- event:
		return
	default:
	}

	// Buffer full: evict the oldest entry, then try again. If a concurrent
	// receiver drains the channel between these two steps, the second send
	// may still fail; count that as a drop too rather than spin.
	select {
	case <-sub.ch:
		atomic.AddInt64(&sub.dropped, 1)
	default:
	}

	select {
	case sub.ch <- event:
	default:
		atomic.AddInt64(&sub.dropped, 1)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
