package behavior

import (
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/sentry.report/internal/geom"
)

// RuleType identifies a per-zone behavior rule.
type RuleType string

const (
	RuleIntrusion  RuleType = "intrusion"
	RuleLoitering  RuleType = "loitering"
	RuleTailgating RuleType = "tailgating"
)

// Rule configures one behavior check inside a zone. Classes empty means
// every class; MinConfidence zero falls back to defaultMinConfidence.
type Rule struct {
	Type              RuleType `json:"type"`
	Classes           []string `json:"classes,omitempty"`
	MinConfidence     float64  `json:"min_confidence,omitempty"`
	TimeThresholdSec  float64  `json:"time_threshold,omitempty"`
	DistanceThreshold float64  `json:"distance_threshold,omitempty"`
	// Schedule restricts intrusion rules to a daily "HH:MM-HH:MM" window;
	// an end before the start wraps past midnight.
	Schedule string `json:"schedule,omitempty"`
}

// Zone is a named polygonal region of the camera scene.
type Zone struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Polygon []geom.Point `json:"points"`
	Rules   []Rule       `json:"rules,omitempty"`
	Active  bool         `json:"active"`
}

// Contains reports whether the point lies inside the zone polygon.
func (z Zone) Contains(p geom.Point) bool {
	return geom.PointInPolygon(p, z.Polygon)
}

// Validate checks the zone is usable for containment tests.
func (z Zone) Validate() error {
	if z.ID == "" {
		return fmt.Errorf("zone has empty id")
	}
	if len(z.Polygon) < 3 {
		return fmt.Errorf("zone %q has %d vertices, need at least 3", z.ID, len(z.Polygon))
	}
	return nil
}

// ZoneSet holds the zone definitions shared between the configuration
// surface and the analyzer. Reads take a snapshot so an evaluation cycle
// sees one consistent zone table; mutations are expected between cycles.
type ZoneSet struct {
	mu    sync.RWMutex
	zones map[string]Zone
}

// NewZoneSet creates an empty zone set.
func NewZoneSet() *ZoneSet {
	return &ZoneSet{zones: make(map[string]Zone)}
}

// Set adds or replaces a zone after validating it.
func (s *ZoneSet) Set(z Zone) error {
	if err := z.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[z.ID] = z
	return nil
}

// Remove deletes a zone by id.
func (s *ZoneSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.zones, id)
}

// Get returns the zone with the given id.
func (s *ZoneSet) Get(id string) (Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[id]
	return z, ok
}

// Snapshot returns all zones sorted by id.
func (s *ZoneSet) Snapshot() []Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Zone, 0, len(s.zones))
	for _, z := range s.zones {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
