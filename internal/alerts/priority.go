// Package alerts turns behavior events into prioritized, rate-limited
// notifications delivered over the configured channels.
package alerts

// Priority classifies how urgently an alert must reach people.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for the dispatch queue; lower is served first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// Channel names understood by the dispatcher.
const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelPush    = "push"
	ChannelWebhook = "webhook"
)

var priorityForType = map[string]Priority{
	"intrusion":        PriorityHigh,
	"tailgating":       PriorityHigh,
	"perimeter_breach": PriorityHigh,
	"loitering":        PriorityMedium,
	"erratic_movement": PriorityMedium,
	"group_formation":  PriorityLow,
}

// PriorityFor maps an alert type to its priority. Unknown types are low.
func PriorityFor(alertType string) Priority {
	if p, ok := priorityForType[alertType]; ok {
		return p
	}
	return PriorityLow
}

var channelsForPriority = map[Priority][]string{
	PriorityHigh:   {ChannelSMS, ChannelPush, ChannelWebhook, ChannelEmail},
	PriorityMedium: {ChannelPush, ChannelWebhook, ChannelEmail},
	PriorityLow:    {ChannelWebhook, ChannelEmail},
}

// ChannelsFor returns the channel names used for a priority, most
// urgent first.
func ChannelsFor(p Priority) []string {
	out := make([]string, len(channelsForPriority[p]))
	copy(out, channelsForPriority[p])
	return out
}
