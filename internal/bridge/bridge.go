package bridge

import (
	"encoding/json"

	"github.com/banshee-data/sentry.report/internal/eventbus"
	"github.com/banshee-data/sentry.report/internal/monitoring"
)

// Bridge mirrors bus events to one or more external publishers. Broker
// failures are logged and never propagate back into the pipeline.
type Bridge struct {
	bus        *eventbus.Bus
	publishers []Publisher
	subID      uint64
	pattern    string
}

// New builds a bridge over the given publishers. pattern selects which
// events are mirrored; empty means everything.
func New(bus *eventbus.Bus, pattern string, publishers ...Publisher) *Bridge {
	if pattern == "" {
		pattern = "*"
	}
	return &Bridge{bus: bus, publishers: publishers, pattern: pattern}
}

// Start subscribes the bridge to the bus.
func (b *Bridge) Start() {
	b.subID = b.bus.Subscribe(b.pattern, b.forward)
}

// Stop unsubscribes from the bus and closes every publisher.
func (b *Bridge) Stop() {
	b.bus.Unsubscribe(b.subID)
	for _, p := range b.publishers {
		p.Close()
	}
}

func (b *Bridge) forward(e eventbus.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		monitoring.Logf("bridge: encode event %s: %v", e.ID, err)
		return
	}
	for _, p := range b.publishers {
		if err := p.Publish(e.Type, data); err != nil {
			monitoring.Logf("bridge: forward event %s: %v", e.ID, err)
		}
	}
}
