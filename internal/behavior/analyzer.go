// Package behavior evaluates confirmed tracks against scene zones and
// emits behavior patterns: loitering, intrusion, tailgating, group
// formation and erratic movement.
package behavior

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/sentry.report/internal/geom"
	"github.com/banshee-data/sentry.report/internal/monitoring"
	"github.com/banshee-data/sentry.report/internal/timeutil"
	"github.com/banshee-data/sentry.report/internal/track"
)

// Pattern types emitted by the analyzer.
const (
	PatternLoitering      = "loitering"
	PatternIntrusion      = "intrusion"
	PatternTailgating     = "tailgating"
	PatternGroupFormation = "group_formation"
	PatternErratic        = "erratic_movement"
)

// defaultMinConfidence applies when a rule leaves MinConfidence unset.
const defaultMinConfidence = 0.5

// Pattern is one detected behavior instance.
type Pattern struct {
	Type       string                 `json:"type"`
	Confidence float64                `json:"confidence"`
	TrackIDs   []uint64               `json:"track_ids"`
	Zone       string                 `json:"zone,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// AnalyzerConfig tunes the scene-wide detectors. Zero fields fall back to
// the defaults below.
type AnalyzerConfig struct {
	// GroupDistanceThreshold is the centroid distance in pixels under
	// which two tracks belong to the same group.
	GroupDistanceThreshold float64
	// GroupCooldown spaces out repeated group_formation patterns.
	GroupCooldown time.Duration
	// DirectionChangesThreshold is the number of >45° heading changes
	// inside ErraticWindow that counts as erratic movement.
	DirectionChangesThreshold int
	ErraticWindow             time.Duration
	// StateMaxAge bounds the per-track position history and the lifetime
	// of state for tracks that stopped appearing.
	StateMaxAge time.Duration
	// TailgateWindow and TailgateDistance apply when a tailgating rule
	// leaves its own thresholds unset.
	TailgateWindow   time.Duration
	TailgateDistance float64
}

// DefaultAnalyzerConfig returns the standard thresholds.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		GroupDistanceThreshold:    100,
		GroupCooldown:             30 * time.Second,
		DirectionChangesThreshold: 6,
		ErraticWindow:             30 * time.Second,
		StateMaxAge:               2 * time.Minute,
		TailgateWindow:            5 * time.Second,
		TailgateDistance:          150,
	}
}

type sample struct {
	at  time.Time
	pos geom.Point
}

type zoneDwell struct {
	inside    bool
	enteredAt time.Time
	alerted   map[RuleType]bool
}

type zoneEntry struct {
	trackID    uint64
	at         time.Time
	pos        geom.Point
	authorized bool
}

type trackState struct {
	samples     []sample
	lastSeen    time.Time
	lastErratic time.Time
	zones       map[string]*zoneDwell
}

// Analyzer evaluates tracks against the shared zone set. Analyze is
// driven from a single camera goroutine; the mutex guards the detector
// state against concurrent ZoneCounts and SetAuthorized callers.
type Analyzer struct {
	cfg   AnalyzerConfig
	zones *ZoneSet
	clock timeutil.Clock

	mu         sync.Mutex
	state      map[uint64]*trackState
	authorized map[uint64]bool
	entries    map[string][]zoneEntry
	warned     map[string]bool

	lastGroupAlert time.Time
}

// NewAnalyzer creates an analyzer over the given zone set, filling zero
// config fields with defaults.
func NewAnalyzer(cfg AnalyzerConfig, zones *ZoneSet, clock timeutil.Clock) *Analyzer {
	def := DefaultAnalyzerConfig()
	if cfg.GroupDistanceThreshold <= 0 {
		cfg.GroupDistanceThreshold = def.GroupDistanceThreshold
	}
	if cfg.GroupCooldown <= 0 {
		cfg.GroupCooldown = def.GroupCooldown
	}
	if cfg.DirectionChangesThreshold <= 0 {
		cfg.DirectionChangesThreshold = def.DirectionChangesThreshold
	}
	if cfg.ErraticWindow <= 0 {
		cfg.ErraticWindow = def.ErraticWindow
	}
	if cfg.StateMaxAge <= 0 {
		cfg.StateMaxAge = def.StateMaxAge
	}
	if cfg.TailgateWindow <= 0 {
		cfg.TailgateWindow = def.TailgateWindow
	}
	if cfg.TailgateDistance <= 0 {
		cfg.TailgateDistance = def.TailgateDistance
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Analyzer{
		cfg:        cfg,
		zones:      zones,
		clock:      clock,
		state:      make(map[uint64]*trackState),
		authorized: make(map[uint64]bool),
		entries:    make(map[string][]zoneEntry),
		warned:     make(map[string]bool),
	}
}

// SetAuthorized marks a track as authorized for tailgating checks, fed by
// an external access-control collaborator.
func (a *Analyzer) SetAuthorized(trackID uint64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ok {
		a.authorized[trackID] = true
	} else {
		delete(a.authorized, trackID)
	}
}

// Analyze runs all detectors over the current confirmed tracks and
// returns the patterns detected this cycle.
func (a *Analyzer) Analyze(tracks []*track.Track) []Pattern {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	zones := a.zones.Snapshot()

	live := make(map[uint64]bool, len(tracks))
	for _, t := range tracks {
		live[t.ID] = true
	}
	a.prune(now, live)

	var patterns []Pattern
	for _, t := range tracks {
		st := a.observe(t, now)
		patterns = append(patterns, a.evalZones(t, st, zones, now)...)
		if p := a.detectErratic(t, st, now); p != nil {
			patterns = append(patterns, *p)
		}
	}

	if p := a.detectGrouping(tracks, now); p != nil {
		patterns = append(patterns, *p)
	}
	return patterns
}

// ZoneCounts returns the number of tracked objects currently inside each
// zone, keyed by zone id.
func (a *Analyzer) ZoneCounts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := make(map[string]int)
	for _, st := range a.state {
		for zoneID, dw := range st.zones {
			if dw.inside {
				counts[zoneID]++
			}
		}
	}
	return counts
}

// prune drops state for tracks that disappeared or went stale, and trims
// old zone entries.
func (a *Analyzer) prune(now time.Time, live map[uint64]bool) {
	for id, st := range a.state {
		if !live[id] && now.Sub(st.lastSeen) > a.cfg.StateMaxAge {
			delete(a.state, id)
			delete(a.authorized, id)
		}
	}
	for zoneID, ents := range a.entries {
		kept := ents[:0]
		for _, e := range ents {
			if now.Sub(e.at) <= a.cfg.StateMaxAge {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(a.entries, zoneID)
		} else {
			a.entries[zoneID] = kept
		}
	}
}

// observe records the track's current position and trims its history to
// the state window.
func (a *Analyzer) observe(t *track.Track, now time.Time) *trackState {
	st := a.state[t.ID]
	if st == nil {
		st = &trackState{zones: make(map[string]*zoneDwell)}
		a.state[t.ID] = st
	}
	st.lastSeen = now
	st.samples = append(st.samples, sample{at: now, pos: t.Centroid()})

	cutoff := now.Add(-a.cfg.StateMaxAge)
	trim := 0
	for trim < len(st.samples) && st.samples[trim].at.Before(cutoff) {
		trim++
	}
	st.samples = st.samples[trim:]
	return st
}

func (a *Analyzer) evalZones(t *track.Track, st *trackState, zones []Zone, now time.Time) []Pattern {
	var patterns []Pattern
	c := t.Centroid()

	for _, zone := range zones {
		if !zone.Active {
			continue
		}
		dw := st.zones[zone.ID]
		if dw == nil {
			dw = &zoneDwell{alerted: make(map[RuleType]bool)}
			st.zones[zone.ID] = dw
		}

		in := zone.Contains(c)
		entered := in && !dw.inside
		if entered {
			dw.inside = true
			dw.enteredAt = now
			dw.alerted = make(map[RuleType]bool)
		} else if !in && dw.inside {
			dw.inside = false
		}

		for _, rule := range zone.Rules {
			if !a.ruleApplies(rule, t) {
				continue
			}
			switch rule.Type {
			case RuleLoitering:
				if p := a.checkLoitering(zone, rule, t, dw, now); p != nil {
					patterns = append(patterns, *p)
				}
			case RuleIntrusion:
				if p := a.checkIntrusion(zone, rule, t, dw, now); p != nil {
					patterns = append(patterns, *p)
				}
			case RuleTailgating:
				if entered {
					if p := a.checkTailgating(zone, rule, t, c, now); p != nil {
						patterns = append(patterns, *p)
					}
				}
			default:
				a.warnOnce(zone.ID+"/"+string(rule.Type), "behavior: zone %q has unknown rule type %q, skipping", zone.ID, rule.Type)
			}
		}

		if entered && zoneHasRule(zone, RuleTailgating) {
			a.entries[zone.ID] = append(a.entries[zone.ID], zoneEntry{
				trackID:    t.ID,
				at:         now,
				pos:        c,
				authorized: a.authorized[t.ID],
			})
		}
	}
	return patterns
}

func zoneHasRule(z Zone, rt RuleType) bool {
	for _, r := range z.Rules {
		if r.Type == rt {
			return true
		}
	}
	return false
}

// ruleApplies filters by object class and detection confidence.
func (a *Analyzer) ruleApplies(rule Rule, t *track.Track) bool {
	if len(rule.Classes) > 0 {
		found := false
		for _, c := range rule.Classes {
			if c == t.Detection.ClassName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	min := rule.MinConfidence
	if min <= 0 {
		min = defaultMinConfidence
	}
	return t.Detection.Confidence >= min
}

// checkLoitering fires once per contiguous dwell when the stay exceeds the
// rule's time threshold. Confidence grows with overstay, capped at 1.
func (a *Analyzer) checkLoitering(zone Zone, rule Rule, t *track.Track, dw *zoneDwell, now time.Time) *Pattern {
	if rule.TimeThresholdSec <= 0 {
		a.warnOnce(zone.ID+"/loiter-thresh", "behavior: loitering rule in zone %q has no time_threshold, skipping", zone.ID)
		return nil
	}
	if !dw.inside || dw.alerted[RuleLoitering] {
		return nil
	}
	duration := now.Sub(dw.enteredAt).Seconds()
	if duration < rule.TimeThresholdSec {
		return nil
	}
	dw.alerted[RuleLoitering] = true
	return &Pattern{
		Type:       PatternLoitering,
		Confidence: math.Min(1, duration/(rule.TimeThresholdSec*2)),
		TrackIDs:   []uint64{t.ID},
		Zone:       zone.ID,
		Details: map[string]interface{}{
			"duration_seconds": duration,
			"zone_name":        zone.Name,
			"object_class":     t.Detection.ClassName,
		},
		Timestamp: now,
	}
}

// checkIntrusion fires once per dwell while the rule's daily schedule is
// active. An empty schedule keeps the zone armed around the clock.
func (a *Analyzer) checkIntrusion(zone Zone, rule Rule, t *track.Track, dw *zoneDwell, now time.Time) *Pattern {
	if !dw.inside || dw.alerted[RuleIntrusion] {
		return nil
	}
	if rule.Schedule != "" {
		ok, err := inSchedule(now, rule.Schedule)
		if err != nil {
			a.warnOnce(zone.ID+"/schedule", "behavior: intrusion rule in zone %q: %v, skipping", zone.ID, err)
			return nil
		}
		if !ok {
			return nil
		}
	}
	dw.alerted[RuleIntrusion] = true
	return &Pattern{
		Type:       PatternIntrusion,
		Confidence: t.Detection.Confidence,
		TrackIDs:   []uint64{t.ID},
		Zone:       zone.ID,
		Details: map[string]interface{}{
			"zone_name":    zone.Name,
			"object_class": t.Detection.ClassName,
			"schedule":     rule.Schedule,
		},
		Timestamp: now,
	}
}

// checkTailgating fires when an unauthorized track enters an access zone
// close behind an authorized one.
func (a *Analyzer) checkTailgating(zone Zone, rule Rule, t *track.Track, pos geom.Point, now time.Time) *Pattern {
	if a.authorized[t.ID] {
		return nil
	}
	window := a.cfg.TailgateWindow
	if rule.TimeThresholdSec > 0 {
		window = time.Duration(rule.TimeThresholdSec * float64(time.Second))
	}
	maxDist := a.cfg.TailgateDistance
	if rule.DistanceThreshold > 0 {
		maxDist = rule.DistanceThreshold
	}

	for i := len(a.entries[zone.ID]) - 1; i >= 0; i-- {
		e := a.entries[zone.ID][i]
		if now.Sub(e.at) > window {
			break
		}
		if e.trackID == t.ID || !e.authorized {
			continue
		}
		if geom.Dist(pos, e.pos) > maxDist {
			continue
		}
		gap := now.Sub(e.at).Seconds()
		// Tighter gaps are stronger evidence: 1.0 at zero gap, 0.5 at
		// the window boundary.
		return &Pattern{
			Type:       PatternTailgating,
			Confidence: 0.5 + 0.5*(1-gap/window.Seconds()),
			TrackIDs:   []uint64{e.trackID, t.ID},
			Zone:       zone.ID,
			Details: map[string]interface{}{
				"zone_name":    zone.Name,
				"gap_seconds":  gap,
				"leader_track": e.trackID,
			},
			Timestamp: now,
		}
	}
	return nil
}

// detectErratic counts heading changes above 45° inside the window.
func (a *Analyzer) detectErratic(t *track.Track, st *trackState, now time.Time) *Pattern {
	if now.Sub(st.lastErratic) < a.cfg.ErraticWindow && !st.lastErratic.IsZero() {
		return nil
	}
	cutoff := now.Add(-a.cfg.ErraticWindow)
	var recent []sample
	for _, s := range st.samples {
		if !s.at.Before(cutoff) {
			recent = append(recent, s)
		}
	}
	if len(recent) < 4 {
		return nil
	}

	var headings []float64
	var speeds []float64
	for i := 1; i < len(recent); i++ {
		dx := recent[i].pos.X - recent[i-1].pos.X
		dy := recent[i].pos.Y - recent[i-1].pos.Y
		headings = append(headings, math.Atan2(dy, dx))
		if dt := recent[i].at.Sub(recent[i-1].at).Seconds(); dt > 0 {
			speeds = append(speeds, math.Hypot(dx, dy)/dt)
		}
	}

	changes := 0
	for i := 1; i < len(headings); i++ {
		diff := math.Abs(headings[i] - headings[i-1])
		if diff > math.Pi {
			diff = 2*math.Pi - diff
		}
		if diff > math.Pi/4 {
			changes++
		}
	}

	threshold := a.cfg.DirectionChangesThreshold
	if changes < threshold {
		return nil
	}
	st.lastErratic = now

	details := map[string]interface{}{
		"direction_changes": changes,
		"window_seconds":    a.cfg.ErraticWindow.Seconds(),
	}
	if len(speeds) > 0 {
		details["speed_mean"] = stat.Mean(speeds, nil)
		details["speed_stddev"] = stat.StdDev(speeds, nil)
	}
	return &Pattern{
		Type:       PatternErratic,
		Confidence: math.Min(1, float64(changes)/(float64(threshold)*1.5)),
		TrackIDs:   []uint64{t.ID},
		Details:    details,
		Timestamp:  now,
	}
}

// detectGrouping clusters track centroids single-link and reports the
// largest cluster of two or more tracks.
func (a *Analyzer) detectGrouping(tracks []*track.Track, now time.Time) *Pattern {
	if len(tracks) < 2 {
		return nil
	}
	if !a.lastGroupAlert.IsZero() && now.Sub(a.lastGroupAlert) < a.cfg.GroupCooldown {
		return nil
	}

	parent := make([]int, len(tracks))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	for i := 0; i < len(tracks); i++ {
		for j := i + 1; j < len(tracks); j++ {
			if geom.Dist(tracks[i].Centroid(), tracks[j].Centroid()) < a.cfg.GroupDistanceThreshold {
				parent[find(i)] = find(j)
			}
		}
	}

	clusters := make(map[int][]uint64)
	for i, t := range tracks {
		root := find(i)
		clusters[root] = append(clusters[root], t.ID)
	}

	var largest []uint64
	for _, ids := range clusters {
		if len(ids) > len(largest) {
			largest = ids
		}
	}
	if len(largest) < 2 {
		return nil
	}

	a.lastGroupAlert = now
	return &Pattern{
		Type:       PatternGroupFormation,
		Confidence: 0.8,
		TrackIDs:   largest,
		Details: map[string]interface{}{
			"group_size":         len(largest),
			"distance_threshold": a.cfg.GroupDistanceThreshold,
		},
		Timestamp: now,
	}
}

func (a *Analyzer) warnOnce(key, format string, args ...interface{}) {
	if a.warned[key] {
		return
	}
	a.warned[key] = true
	monitoring.Logf(format, args...)
}
