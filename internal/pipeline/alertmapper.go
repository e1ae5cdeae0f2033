package pipeline

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/sentry.report/internal/alerts"
	"github.com/banshee-data/sentry.report/internal/eventbus"
	"github.com/banshee-data/sentry.report/internal/monitoring"
)

// TopicAlert is the bus topic for alerts accepted by the dispatcher.
const TopicAlert = "alert_triggered"

// AlertMapper turns behavior events into alerts. Accepted alerts are
// announced back on the bus so the journal and bridges see them;
// rate-limited ones disappear quietly.
type AlertMapper struct {
	bus        *eventbus.Bus
	dispatcher *alerts.Dispatcher
	subID      uint64
}

// NewAlertMapper wires a mapper between the bus and the dispatcher.
func NewAlertMapper(bus *eventbus.Bus, dispatcher *alerts.Dispatcher) *AlertMapper {
	return &AlertMapper{bus: bus, dispatcher: dispatcher}
}

// Start subscribes the mapper to behavior events.
func (m *AlertMapper) Start() {
	m.subID = m.bus.Subscribe("behavior_*", m.handle)
}

// Stop unsubscribes the mapper.
func (m *AlertMapper) Stop() {
	m.bus.Unsubscribe(m.subID)
}

func (m *AlertMapper) handle(e eventbus.Event) {
	alert, ok := alertFromEvent(e)
	if !ok {
		monitoring.Logf("pipeline: ignoring malformed behavior event %s", e.ID)
		return
	}
	if !m.dispatcher.Dispatch(alert) {
		return
	}

	out := eventbus.NewEvent(TopicAlert, "dispatcher", e.Priority, map[string]interface{}{
		"alert_id": alert.ID,
		"type":     alert.Type,
		"location": alert.Location,
		"priority": string(alert.Priority),
		"message":  alert.Message,
	})
	if err := m.bus.Publish(out); err != nil {
		monitoring.Logf("pipeline: announce alert %s: %v", alert.ID, err)
	}
}

// alertFromEvent extracts the alert fields from a behavior event.
func alertFromEvent(e eventbus.Event) (alerts.Alert, bool) {
	pattern, ok := e.Data["pattern"].(string)
	if !ok || pattern == "" {
		return alerts.Alert{}, false
	}
	location, _ := e.Data["zone"].(string)
	if location == "" {
		location, _ = e.Data["camera"].(string)
	}
	if location == "" {
		location = e.Source
	}

	confidence, _ := e.Data["confidence"].(float64)
	priority := alerts.PriorityFor(pattern)

	return alerts.Alert{
		ID:       uuid.NewString(),
		Type:     pattern,
		Location: location,
		Priority: priority,
		Message: fmt.Sprintf("%s detected at %s (confidence %.2f)",
			pattern, location, confidence),
		Data:      e.Data,
		Timestamp: e.Timestamp,
	}, true
}
