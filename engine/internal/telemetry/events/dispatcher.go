package events

// Dispatcher is the callback-based half of the event bus: the engine
// façade's on/once/off/onWithReplay surface (spec'd event types:
// crawl.started, page.fetched, page.parsed, error.occurred,
// checkpoint.saved, crawl.heartbeat, crawl.backpressure, crawl.shutdown,
// crawl.finished). It is a thin sibling of the channel-based Bus in events.go,
// grounded on the same buffered-subscriber shape but replacing channels
// with direct callback invocation and a per-type replay ring, since
// on/once/off is a synchronous registration API rather than a streaming
// one.
//
// One Dispatcher belongs to one crawl (constructed by the engine façade per
// Scheduler instance) rather than a process-wide singleton, per the
// dependency-injection redesign: handlers registered before Start still see
// every event because Emit is the Scheduler's only entry point and nothing
// is published before Start calls it.

import (
	"reflect"
	"sync"
	"time"
)

const replayCapacity = 32

// Handler receives one event. Payload is the same map the scheduler (or any
// other emitter) passed to Emit; handlers must not mutate it.
type Handler func(Event)

type subscription struct {
	id   uint64
	fn   Handler
	once bool
}

// Dispatcher implements scheduler.EventSink (Emit) and a handler-registration
// surface (On/Once/Off/OnWithReplay) for the engine façade.
type Dispatcher struct {
	crawlID string

	mu        sync.Mutex
	listeners map[string][]*subscription
	replay    map[string][]Event
	nextSub   uint64
	seq       uint64
}

func NewDispatcher(crawlID string) *Dispatcher {
	return &Dispatcher{
		crawlID:   crawlID,
		listeners: make(map[string][]*subscription),
		replay:    make(map[string][]Event),
	}
}

// Emit satisfies scheduler.EventSink: it stamps the event with the next
// sequence number and timestamp, records it in that type's replay ring, and
// invokes every registered handler for the type in registration order.
// Handler panics are recovered per-handler so one bad subscriber can never
// abort the emitter or starve the rest.
func (d *Dispatcher) Emit(eventType string, payload map[string]any) {
	d.mu.Lock()
	d.seq++
	ev := Event{Type: eventType, CrawlID: d.crawlID, Seq: d.seq, Time: time.Now(), Payload: payload}

	buf := append(d.replay[eventType], ev)
	if len(buf) > replayCapacity {
		buf = buf[len(buf)-replayCapacity:]
	}
	d.replay[eventType] = buf

	subs := append([]*subscription(nil), d.listeners[eventType]...)
	d.mu.Unlock()

	var fired []uint64
	for _, s := range subs {
		invokeHandler(s.fn, ev)
		if s.once {
			fired = append(fired, s.id)
		}
	}
	if len(fired) > 0 {
		d.mu.Lock()
		for _, id := range fired {
			d.removeLocked(eventType, id)
		}
		d.mu.Unlock()
	}
}

func invokeHandler(fn Handler, ev Event) {
	defer func() { _ = recover() }()
	fn(ev)
}

// On registers fn for every future eventType event, returning an unsubscribe
// function.
func (d *Dispatcher) On(eventType string, fn Handler) func() {
	return d.subscribe(eventType, fn, false, false)
}

// Once registers fn for exactly the next eventType event.
func (d *Dispatcher) Once(eventType string, fn Handler) func() {
	return d.subscribe(eventType, fn, true, false)
}

// OnWithReplay registers fn for future events and immediately (synchronously,
// before returning) replays up to the last 32 events of that type already
// emitted.
func (d *Dispatcher) OnWithReplay(eventType string, fn Handler) func() {
	return d.subscribe(eventType, fn, false, true)
}

func (d *Dispatcher) subscribe(eventType string, fn Handler, once, replay bool) func() {
	d.mu.Lock()
	d.nextSub++
	id := d.nextSub
	sub := &subscription{id: id, fn: fn, once: once}
	d.listeners[eventType] = append(d.listeners[eventType], sub)
	var backlog []Event
	if replay {
		backlog = append(backlog, d.replay[eventType]...)
	}
	d.mu.Unlock()

	for _, ev := range backlog {
		invokeHandler(fn, ev)
	}

	return func() {
		d.mu.Lock()
		d.removeLocked(eventType, id)
		d.mu.Unlock()
	}
}

// Off removes the first registered handler for eventType matching fn by
// function identity (reflect.Value.Pointer, as a closure's own address
// can't be compared with ==). Prefer the unsubscribe function On/Once/
// OnWithReplay return when the caller already has it.
func (d *Dispatcher) Off(eventType string, fn Handler) {
	target := reflect.ValueOf(fn).Pointer()
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.listeners[eventType]
	for i, s := range subs {
		if reflect.ValueOf(s.fn).Pointer() == target {
			d.listeners[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) removeLocked(eventType string, id uint64) {
	subs := d.listeners[eventType]
	for i, s := range subs {
		if s.id == id {
			d.listeners[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}
