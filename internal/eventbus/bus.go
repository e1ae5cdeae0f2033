// Package eventbus is the in-process pub/sub backbone connecting the
// camera pipelines to the alert dispatcher, the journal and the broker
// bridges. Routing is by event type with trailing-wildcard patterns.
package eventbus

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/sentry.report/internal/monitoring"
	"github.com/banshee-data/sentry.report/internal/timeutil"
)

// ErrStopped is returned by Publish when the bus is not running.
var ErrStopped = errors.New("eventbus: bus is not running")

// Event is the unit of traffic on the bus. Priority runs 1 (highest) to 5.
type Event struct {
	Type      string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Priority  int                    `json:"priority"`
	ID        string                 `json:"id"`
}

// NewEvent builds an event with a fresh uuid. The timestamp is stamped by
// the bus at publish time if left zero.
func NewEvent(eventType, source string, priority int, data map[string]interface{}) Event {
	return Event{
		Type:     eventType,
		Data:     data,
		Source:   source,
		Priority: priority,
		ID:       uuid.NewString(),
	}
}

// Handler consumes events for one subscription. Handlers for a given
// subscription run sequentially in publish order; a panic is recovered
// and logged without affecting other subscribers.
type Handler func(Event)

// BusConfig tunes bus capacities.
type BusConfig struct {
	// HistorySize bounds the ring of recent events, default 1000.
	HistorySize int
	// QueueSize is the per-subscriber buffer; when a subscriber falls
	// this far behind, further events for it are dropped and logged.
	QueueSize int
}

// DefaultBusConfig returns the standard capacities.
func DefaultBusConfig() BusConfig {
	return BusConfig{HistorySize: 1000, QueueSize: 256}
}

type subscription struct {
	id      uint64
	pattern string
	ch      chan Event
	done    chan struct{}
	handler Handler
}

// Bus routes events to pattern subscribers. Create with NewBus, then
// Start before publishing; Stop drains the subscriber goroutines.
type Bus struct {
	mu      sync.RWMutex
	cfg     BusConfig
	clock   timeutil.Clock
	subs    map[uint64]*subscription
	nextSub uint64
	running bool
	wg      sync.WaitGroup

	histMu  sync.Mutex
	history []Event
	histIdx int
	histLen int
}

// NewBus creates a bus, filling zero config fields with defaults.
func NewBus(cfg BusConfig, clock timeutil.Clock) *Bus {
	def := DefaultBusConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Bus{
		cfg:     cfg,
		clock:   clock,
		subs:    make(map[uint64]*subscription),
		history: make([]Event, cfg.HistorySize),
	}
}

// Start enables publishing.
func (b *Bus) Start() {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
}

// Stop disables publishing, cancels every subscription and waits for the
// subscriber goroutines to finish.
func (b *Bus) Stop() {
	b.mu.Lock()
	b.running = false
	subs := b.subs
	b.subs = make(map[uint64]*subscription)
	b.mu.Unlock()

	for _, s := range subs {
		close(s.done)
	}
	b.wg.Wait()
}

// Subscribe registers a handler for event types matching the pattern: an
// exact type, "*" for everything, or a trailing-wildcard prefix such as
// "behavior_*". It returns the subscription id for Unsubscribe.
func (b *Bus) Subscribe(pattern string, h Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	s := &subscription{
		id:      b.nextSub,
		pattern: pattern,
		ch:      make(chan Event, b.cfg.QueueSize),
		done:    make(chan struct{}),
		handler: h,
	}
	b.subs[s.id] = s

	b.wg.Add(1)
	go b.drain(s)
	return s.id
}

// Unsubscribe cancels a subscription. Events already queued for it may
// still be delivered.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(s.done)
	}
}

// Publish stamps the event and fans it out to every matching subscriber.
// Delivery is best-effort per subscriber: a full subscriber queue drops
// the event for that subscriber only.
func (b *Bus) Publish(e Event) error {
	b.mu.RLock()
	if !b.running {
		b.mu.RUnlock()
		return ErrStopped
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.clock.Now()
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	// Snapshot matching subscribers so handlers never run under the lock.
	var targets []*subscription
	for _, s := range b.subs {
		if matchTopic(s.pattern, e.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	b.record(e)

	for _, s := range targets {
		select {
		case s.ch <- e:
		default:
			monitoring.Logf("eventbus: subscriber %d (%s) queue full, dropping %s event %s",
				s.id, s.pattern, e.Type, e.ID)
		}
	}
	return nil
}

// Recent returns up to limit events from the history ring, newest first.
// An empty eventType matches everything.
func (b *Bus) Recent(eventType string, limit int) []Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var out []Event
	for i := 0; i < b.histLen && len(out) < limit; i++ {
		idx := (b.histIdx - 1 - i + len(b.history)) % len(b.history)
		e := b.history[idx]
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (b *Bus) record(e Event) {
	b.histMu.Lock()
	b.history[b.histIdx] = e
	b.histIdx = (b.histIdx + 1) % len(b.history)
	if b.histLen < len(b.history) {
		b.histLen++
	}
	b.histMu.Unlock()
}

func (b *Bus) drain(s *subscription) {
	defer b.wg.Done()
	for {
		select {
		case e := <-s.ch:
			b.invoke(s, e)
		case <-s.done:
			// Flush what is already queued, then exit.
			for {
				select {
				case e := <-s.ch:
					b.invoke(s, e)
				default:
					return
				}
			}
		}
	}
}

// invoke runs the handler with panic isolation.
func (b *Bus) invoke(s *subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("eventbus: subscriber %d (%s) panicked on %s event %s: %v",
				s.id, s.pattern, e.Type, e.ID, r)
		}
	}()
	s.handler(e)
}

// matchTopic implements exact, universal and trailing-wildcard patterns.
func matchTopic(pattern, topic string) bool {
	if pattern == "*" || pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(topic, pattern[:len(pattern)-1])
	}
	return false
}
