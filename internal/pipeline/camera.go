// Package pipeline runs the per-camera analysis loop: detections in,
// tracks maintained, behavior patterns published on the event bus.
package pipeline

import (
	"time"

	"github.com/banshee-data/sentry.report/internal/behavior"
	"github.com/banshee-data/sentry.report/internal/eventbus"
	"github.com/banshee-data/sentry.report/internal/monitoring"
	"github.com/banshee-data/sentry.report/internal/timeutil"
	"github.com/banshee-data/sentry.report/internal/track"
)

// TopicBehavior is the bus topic for detected behavior patterns.
const TopicBehavior = "behavior_detected"

// Frame is one batch of detections from a camera.
type Frame struct {
	ID         uint64            `json:"frame_id"`
	Time       time.Time         `json:"time,omitempty"`
	Detections []track.Detection `json:"detections"`
}

// CameraConfig wires one camera worker.
type CameraConfig struct {
	ID       string
	Tracker  track.TrackerConfig
	Behavior behavior.AnalyzerConfig
	// QueueSize bounds the frame backlog, default 64. When full, Submit
	// drops the frame and logs.
	QueueSize int
}

// Camera owns the tracker and analyzer for one video source. Frames are
// processed by a single worker goroutine so track identity stays
// consistent without locking across stages.
type Camera struct {
	id       string
	tracker  *track.Tracker
	analyzer *behavior.Analyzer
	bus      *eventbus.Bus
	clock    timeutil.Clock

	frames chan Frame
	stop   chan struct{}
	donec  chan struct{}
}

// NewCamera builds a camera worker over the shared zone set and bus.
func NewCamera(cfg CameraConfig, zones *behavior.ZoneSet, bus *eventbus.Bus, clock timeutil.Clock) *Camera {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Camera{
		id:       cfg.ID,
		tracker:  track.NewTracker(cfg.Tracker),
		analyzer: behavior.NewAnalyzer(cfg.Behavior, zones, clock),
		bus:      bus,
		clock:    clock,
		frames:   make(chan Frame, cfg.QueueSize),
		stop:     make(chan struct{}),
		donec:    make(chan struct{}),
	}
}

// ID returns the camera identifier.
func (c *Camera) ID() string { return c.id }

// Start launches the frame worker.
func (c *Camera) Start() {
	go c.run()
}

// Stop halts the worker after the current frame.
func (c *Camera) Stop() {
	close(c.stop)
	<-c.donec
}

// Submit queues a frame for processing. A full backlog drops the frame;
// stale frames are worth less than current ones.
func (c *Camera) Submit(f Frame) {
	select {
	case c.frames <- f:
	default:
		monitoring.Logf("pipeline: camera %s backlog full, dropping frame %d", c.id, f.ID)
	}
}

// SetAuthorized marks a track as authorized for tailgating checks.
func (c *Camera) SetAuthorized(trackID uint64, ok bool) {
	c.analyzer.SetAuthorized(trackID, ok)
}

// ZoneCounts returns the current per-zone occupancy.
func (c *Camera) ZoneCounts() map[string]int {
	return c.analyzer.ZoneCounts()
}

// Process runs one frame through the tracker and analyzer synchronously
// and returns the detected patterns. Patterns are also published on the
// bus when one is attached.
func (c *Camera) Process(f Frame) []behavior.Pattern {
	confirmed := c.tracker.Update(f.Detections)
	patterns := c.analyzer.Analyze(confirmed)

	if c.bus != nil {
		for _, p := range patterns {
			if err := c.bus.Publish(patternEvent(c.id, p)); err != nil {
				monitoring.Logf("pipeline: camera %s publish %s: %v", c.id, p.Type, err)
			}
		}
	}
	return patterns
}

func (c *Camera) run() {
	defer close(c.donec)
	for {
		select {
		case f := <-c.frames:
			c.Process(f)
		case <-c.stop:
			return
		}
	}
}

// patternEvent converts a behavior pattern into a bus event.
func patternEvent(cameraID string, p behavior.Pattern) eventbus.Event {
	e := eventbus.NewEvent(TopicBehavior, cameraID, patternPriority(p.Type), map[string]interface{}{
		"pattern":    p.Type,
		"confidence": p.Confidence,
		"track_ids":  p.TrackIDs,
		"zone":       p.Zone,
		"details":    p.Details,
		"camera":     cameraID,
	})
	e.Timestamp = p.Timestamp
	return e
}

// patternPriority maps pattern severity onto the bus 1 (highest) to 5
// scale.
func patternPriority(patternType string) int {
	switch patternType {
	case behavior.PatternIntrusion, behavior.PatternTailgating:
		return 1
	case behavior.PatternLoitering, behavior.PatternErratic:
		return 2
	default:
		return 3
	}
}
